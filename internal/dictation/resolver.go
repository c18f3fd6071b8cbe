// Package dictation is the application core of SayText: it resolves which
// recognition provider serves a request, walks the batch model-retry ladder,
// and exposes the session facade (StartStreaming / FeedAudio / StopStreaming /
// Transcribe) that the CLI and any embedding client talk to.
package dictation

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/saytext/saytext/internal/config"
	"github.com/saytext/saytext/internal/keystore"
	"github.com/saytext/saytext/internal/resilience"
	"github.com/saytext/saytext/pkg/asr"
)

// proxyName is the provider identifier of the backend proxy.
const proxyName = "proxy"

// fallbackProviderName is the final safety net when neither the selected
// provider nor the cross-mode alternative has usable credentials.
const fallbackProviderName = "deepgram"

// Resolver decides which provider serves a request. Availability is a pure
// function of credential presence — no network I/O happens here; a provider
// with bad-but-present keys fails later at request time and is then handled
// by the fallback group.
type Resolver struct {
	routing   config.RoutingConfig
	providers config.ProvidersConfig
	registry  *config.Registry
	keys      keystore.Store
	logger    *slog.Logger
}

// NewResolver builds a resolver over the given configuration. The registry
// supplies provider factories; keys fills credentials the config leaves empty.
func NewResolver(cfg *config.Config, registry *config.Registry, keys keystore.Store, logger *slog.Logger) *Resolver {
	if keys == nil {
		keys = keystore.EnvStore{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		routing:   cfg.Routing,
		providers: cfg.Providers,
		registry:  registry,
		keys:      keys,
		logger:    logger,
	}
}

// entryFor merges the static config entry for a provider with credentials
// from the key store. Config values win; the store only fills blanks.
func (r *Resolver) entryFor(name string) config.ProviderEntry {
	entry, _ := r.providers.Entry(name)
	if cred, ok := r.keys.Get(name); ok {
		if entry.APIKey == "" {
			entry.APIKey = cred.APIKey
		}
		if entry.AppKey == "" {
			entry.AppKey = cred.AppKey
		}
	}
	return entry
}

// Available reports whether a provider has the credentials it needs. Volc
// needs a two-part credential; the proxy additionally needs a base URL.
func (r *Resolver) Available(name string) bool {
	entry := r.entryFor(name)
	cred := keystore.Credential{APIKey: entry.APIKey, AppKey: entry.AppKey}
	switch name {
	case "volc":
		return cred.Complete(true)
	case proxyName:
		return cred.Complete(false) && entry.BaseURL != ""
	default:
		return cred.Complete(false)
	}
}

// candidates returns the ordered provider names to try for a selection,
// deduplicated. In direct mode the ladder is selected → proxy → default; in
// proxy mode it is proxy → selected → default.
func (r *Resolver) candidates(selected string) []string {
	if selected == "" {
		selected = r.routing.DefaultProvider
	}

	var order []string
	switch r.routing.Mode {
	case config.RoutingProxy:
		order = []string{proxyName, selected}
	default:
		order = []string{selected, proxyName}
	}
	order = append(order, fallbackProviderName)

	var out []string
	for _, name := range order {
		if name == "" || slices.Contains(out, name) {
			continue
		}
		out = append(out, name)
	}
	return out
}

// Resolve returns a provider instance for the selected name, walking the
// mode ladder past entries without credentials. It returns
// [asr.ErrCredentialsMissing] (wrapped) when no candidate is available.
func (r *Resolver) Resolve(selected string) (asr.Provider, error) {
	for _, name := range r.candidates(selected) {
		if !r.Available(name) {
			r.logger.Debug("provider unavailable, trying next", "provider", name)
			continue
		}
		p, err := r.registry.Create(name, r.entryFor(name))
		if err != nil {
			r.logger.Warn("provider construction failed", "provider", name, "err", err)
			continue
		}
		if name != selected && selected != "" {
			r.logger.Info("routed to fallback provider", "selected", selected, "provider", name)
		}
		return p, nil
	}
	return nil, fmt.Errorf("dictation: no provider available for %q: %w", selected, asr.ErrCredentialsMissing)
}

// ResolveGroup resolves the selected provider and wraps it together with the
// configured fallback providers in a circuit-breaker-guarded group. With no
// usable fallbacks the bare provider is returned.
func (r *Resolver) ResolveGroup(selected string) (asr.Provider, error) {
	primary, err := r.Resolve(selected)
	if err != nil {
		return nil, err
	}

	var fallbacks []asr.Provider
	for _, name := range r.routing.FallbackProviders {
		if name == primary.Name() || !r.Available(name) {
			continue
		}
		p, err := r.registry.Create(name, r.entryFor(name))
		if err != nil {
			r.logger.Warn("fallback provider construction failed", "provider", name, "err", err)
			continue
		}
		fallbacks = append(fallbacks, p)
	}
	if len(fallbacks) == 0 {
		return primary, nil
	}

	group := resilience.NewASRFallback(primary, resilience.FallbackConfig{})
	for _, p := range fallbacks {
		group.AddFallback(p)
	}
	return group, nil
}
