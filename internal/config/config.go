// Package config provides the configuration schema, loader, provider
// registry, and file watcher for the SayText dictation client.
package config

import "time"

// LogLevel controls log verbosity for the client.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// RoutingMode selects how recognition requests reach the vendors.
type RoutingMode string

const (
	// RoutingDirect calls vendor APIs with locally configured credentials.
	RoutingDirect RoutingMode = "direct"

	// RoutingProxy routes all recognition through the SayText backend using
	// an access token; no vendor credentials are needed locally.
	RoutingProxy RoutingMode = "proxy"
)

// IsValid reports whether m is a recognised routing mode.
func (m RoutingMode) IsValid() bool {
	return m == RoutingDirect || m == RoutingProxy
}

// Config is the root configuration structure for the client.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Client     ClientConfig     `yaml:"client"`
	Routing    RoutingConfig    `yaml:"routing"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Stream     StreamConfig     `yaml:"stream"`
	Merge      MergeConfig      `yaml:"merge"`
	Correction CorrectionConfig `yaml:"correction"`
}

// ClientConfig holds logging and observability settings.
type ClientConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address the Prometheus metrics endpoint listens
	// on (e.g., "127.0.0.1:9464"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// RoutingConfig selects the recognition path and the provider order.
type RoutingConfig struct {
	// Mode selects direct vendor access or the backend proxy.
	Mode RoutingMode `yaml:"mode"`

	// DefaultProvider is the provider tried first (e.g., "volc", "deepgram").
	DefaultProvider string `yaml:"default_provider"`

	// FallbackProviders are tried in order when the default cannot serve a
	// request.
	FallbackProviders []string `yaml:"fallback_providers"`
}

// ProvidersConfig holds one entry per known backend. An entry with no
// credentials is treated as unconfigured.
type ProvidersConfig struct {
	Volc     ProviderEntry `yaml:"volc"`
	Deepgram ProviderEntry `yaml:"deepgram"`
	OpenAI   ProviderEntry `yaml:"openai"`
	Proxy    ProviderEntry `yaml:"proxy"`
}

// ProviderEntry is the common configuration block shared by all providers.
type ProviderEntry struct {
	// APIKey is the provider's API key or access token. Empty values are
	// filled from the environment by the credential store.
	APIKey string `yaml:"api_key"`

	// AppKey is the application identifier for vendors with two-part
	// credentials (Volcengine).
	AppKey string `yaml:"app_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Models is the ordered list of model candidates (first preferred).
	Models []string `yaml:"models"`

	// Languages is the ordered list of language-hint candidates.
	Languages []string `yaml:"languages"`
}

// StreamConfig tunes streaming session resilience.
type StreamConfig struct {
	// MaxRetries caps reconnect attempts per (model, language) candidate.
	MaxRetries int `yaml:"max_retries"`

	// BackoffBase is the first reconnect delay; it doubles per retry up to
	// MaxBackoff.
	BackoffBase time.Duration `yaml:"backoff_base"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`

	// QueueCapacity bounds audio frames buffered while disconnected.
	QueueCapacity int `yaml:"queue_capacity"`

	// IdleTimeout forces a reconnect when no data arrives for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// StopMaxWait bounds how long Stop waits for the provider's final.
	StopMaxWait time.Duration `yaml:"stop_max_wait"`
}

// MergeConfig tunes transcript reconciliation. Zero fields take the merger's
// built-in defaults.
type MergeConfig struct {
	// MinPartialForGap is the accumulated length above which an empty final
	// is treated as suspicious rather than authoritative.
	MinPartialForGap int `yaml:"min_partial_for_gap"`

	// FinalRatio is the minimum len(final)/len(accumulated) ratio below
	// which a short final does not replace the accumulated partial.
	FinalRatio float64 `yaml:"final_ratio"`

	// PrefixDominance is the similarity threshold for treating one text as
	// an extension of the other.
	PrefixDominance float64 `yaml:"prefix_dominance"`
}

// CorrectionConfig enables LLM post-correction of final transcripts.
type CorrectionConfig struct {
	// Enabled turns correction on. Requires an OpenAI-compatible provider.
	Enabled bool `yaml:"enabled"`

	// Model is the chat model used for correction.
	Model string `yaml:"model"`

	// APIKey authenticates against the correction endpoint. Falls back to
	// the providers.openai entry when empty.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the correction endpoint.
	BaseURL string `yaml:"base_url"`

	// MaxDivergence is the Jaro-Winkler distance above which a corrected
	// text is rejected as having drifted from the original.
	MaxDivergence float64 `yaml:"max_divergence"`
}

// KnownProviderNames lists the provider names accepted in routing config.
var KnownProviderNames = []string{"volc", "deepgram", "openai", "proxy"}
