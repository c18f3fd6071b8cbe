package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, Validate(cfg)
		}
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Client.LogLevel != "" && !cfg.Client.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("client.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Client.LogLevel))
	}

	if cfg.Routing.Mode != "" && !cfg.Routing.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("routing.mode %q is invalid; valid values: direct, proxy", cfg.Routing.Mode))
	}
	validateProviderName("routing.default_provider", cfg.Routing.DefaultProvider, &errs)
	for i, name := range cfg.Routing.FallbackProviders {
		validateProviderName(fmt.Sprintf("routing.fallback_providers[%d]", i), name, &errs)
	}

	if cfg.Routing.Mode == RoutingProxy && cfg.Providers.Proxy.APIKey == "" {
		slog.Warn("routing.mode is proxy but providers.proxy.api_key is empty; expecting SAYTEXT_ACCESS_TOKEN from the environment")
	}
	if cfg.Routing.Mode == RoutingProxy && cfg.Providers.Proxy.BaseURL == "" {
		errs = append(errs, errors.New("providers.proxy.base_url is required when routing.mode is proxy"))
	}

	if cfg.Stream.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("stream.max_retries %d must not be negative", cfg.Stream.MaxRetries))
	}
	if cfg.Stream.BackoffBase < 0 || cfg.Stream.MaxBackoff < 0 {
		errs = append(errs, errors.New("stream backoff durations must not be negative"))
	}
	if cfg.Stream.MaxBackoff != 0 && cfg.Stream.BackoffBase > cfg.Stream.MaxBackoff {
		errs = append(errs, fmt.Errorf("stream.backoff_base %v exceeds stream.max_backoff %v", cfg.Stream.BackoffBase, cfg.Stream.MaxBackoff))
	}

	if r := cfg.Merge.FinalRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("merge.final_ratio %.2f is out of range [0, 1]", r))
	}
	if d := cfg.Merge.PrefixDominance; d < 0 || d > 1 {
		errs = append(errs, fmt.Errorf("merge.prefix_dominance %.2f is out of range [0, 1]", d))
	}

	if cfg.Correction.Enabled {
		if cfg.Correction.Model == "" {
			errs = append(errs, errors.New("correction.model is required when correction.enabled is true"))
		}
		if d := cfg.Correction.MaxDivergence; d < 0 || d > 1 {
			errs = append(errs, fmt.Errorf("correction.max_divergence %.2f is out of range [0, 1]", d))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName appends an error if name is non-empty and unknown.
func validateProviderName(field, name string, errs *[]error) {
	if name == "" {
		return
	}
	if slices.Contains(KnownProviderNames, name) {
		return
	}
	*errs = append(*errs, fmt.Errorf("%s %q is unknown; valid values: volc, deepgram, openai, proxy", field, name))
}
