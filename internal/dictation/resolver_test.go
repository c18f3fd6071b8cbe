package dictation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/saytext/saytext/internal/config"
	"github.com/saytext/saytext/internal/keystore"
	"github.com/saytext/saytext/pkg/asr"
	"github.com/saytext/saytext/pkg/types"
)

// stubProvider is a minimal asr.Provider for resolver tests.
type stubProvider struct {
	name string
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Transcribe(_ context.Context, _ types.AudioChunk) (types.TranscriptionResult, error) {
	return types.TranscriptionResult{Text: "from " + p.name, IsFinal: true}, nil
}

func (p *stubProvider) StartStream(_ context.Context, _ asr.StreamConfig) (asr.Session, error) {
	return nil, asr.ErrStreamingNotSupported
}

// testRegistry registers a stub factory for every known provider name.
func testRegistry() *config.Registry {
	reg := config.NewRegistry()
	for _, name := range config.KnownProviderNames {
		reg.Register(name, func(_ config.ProviderEntry) (asr.Provider, error) {
			return &stubProvider{name: name}, nil
		})
	}
	return reg
}

func TestResolve_DirectModeUsesSelected(t *testing.T) {
	cfg := &config.Config{
		Routing: config.RoutingConfig{Mode: config.RoutingDirect},
	}
	keys := keystore.StaticStore{
		"volc": {APIKey: "ak", AppKey: "app"},
	}

	r := NewResolver(cfg, testRegistry(), keys, nil)
	p, err := r.Resolve("volc")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if p.Name() != "volc" {
		t.Fatalf("Resolve picked %q, want volc", p.Name())
	}
}

func TestResolve_FallsBackToProxyWithoutVendorKeys(t *testing.T) {
	cfg := &config.Config{
		Routing: config.RoutingConfig{Mode: config.RoutingDirect},
	}
	cfg.Providers.Proxy.BaseURL = "https://api.saytext.example"
	keys := keystore.StaticStore{
		"proxy": {APIKey: "token"},
	}

	r := NewResolver(cfg, testRegistry(), keys, nil)
	p, err := r.Resolve("volc")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if p.Name() != "proxy" {
		t.Fatalf("Resolve picked %q, want proxy", p.Name())
	}
}

func TestResolve_ProxyModePrefersProxy(t *testing.T) {
	cfg := &config.Config{
		Routing: config.RoutingConfig{Mode: config.RoutingProxy},
	}
	cfg.Providers.Proxy.BaseURL = "https://api.saytext.example"
	keys := keystore.StaticStore{
		"proxy":    {APIKey: "token"},
		"deepgram": {APIKey: "dg"},
	}

	r := NewResolver(cfg, testRegistry(), keys, nil)
	p, err := r.Resolve("deepgram")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if p.Name() != "proxy" {
		t.Fatalf("Resolve picked %q, want proxy", p.Name())
	}
}

func TestResolve_DefaultProviderAsLastResort(t *testing.T) {
	cfg := &config.Config{
		Routing: config.RoutingConfig{Mode: config.RoutingDirect},
	}
	keys := keystore.StaticStore{
		"deepgram": {APIKey: "dg"},
	}

	r := NewResolver(cfg, testRegistry(), keys, nil)
	p, err := r.Resolve("openai")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if p.Name() != "deepgram" {
		t.Fatalf("Resolve picked %q, want deepgram", p.Name())
	}
}

func TestResolve_NoCredentialsAnywhere(t *testing.T) {
	cfg := &config.Config{
		Routing: config.RoutingConfig{Mode: config.RoutingDirect},
	}
	r := NewResolver(cfg, testRegistry(), keystore.StaticStore{}, nil)

	if _, err := r.Resolve("volc"); !errors.Is(err, asr.ErrCredentialsMissing) {
		t.Fatalf("Resolve error = %v, want ErrCredentialsMissing", err)
	}
}

func TestAvailable_NoNetworkRequirements(t *testing.T) {
	cfg := &config.Config{}
	cfg.Providers.Proxy.BaseURL = "https://api.saytext.example"
	keys := keystore.StaticStore{
		"volc":     {APIKey: "ak"}, // app key missing
		"deepgram": {APIKey: "dg"},
		"proxy":    {APIKey: "token"},
	}
	r := NewResolver(cfg, testRegistry(), keys, nil)

	if r.Available("volc") {
		t.Error("volc must be unavailable without an app key")
	}
	if !r.Available("deepgram") {
		t.Error("deepgram must be available with an api key")
	}
	if !r.Available("proxy") {
		t.Error("proxy must be available with token and base url")
	}
	if r.Available("openai") {
		t.Error("openai must be unavailable without credentials")
	}
}

func TestResolveGroup_WrapsFallbacks(t *testing.T) {
	cfg := &config.Config{
		Routing: config.RoutingConfig{
			Mode:              config.RoutingDirect,
			FallbackProviders: []string{"deepgram", "openai"},
		},
	}
	keys := keystore.StaticStore{
		"volc":     {APIKey: "ak", AppKey: "app"},
		"deepgram": {APIKey: "dg"},
	}

	r := NewResolver(cfg, testRegistry(), keys, nil)
	p, err := r.ResolveGroup("volc")
	if err != nil {
		t.Fatalf("ResolveGroup returned error: %v", err)
	}
	if !strings.Contains(p.Name(), "volc") || !strings.Contains(p.Name(), "deepgram") {
		t.Fatalf("group name %q should include primary and fallback", p.Name())
	}
	if strings.Contains(p.Name(), "openai") {
		t.Fatalf("group name %q must not include unavailable fallbacks", p.Name())
	}
}

func TestResolveGroup_BareProviderWithoutFallbacks(t *testing.T) {
	cfg := &config.Config{
		Routing: config.RoutingConfig{Mode: config.RoutingDirect},
	}
	keys := keystore.StaticStore{
		"deepgram": {APIKey: "dg"},
	}

	r := NewResolver(cfg, testRegistry(), keys, nil)
	p, err := r.ResolveGroup("deepgram")
	if err != nil {
		t.Fatalf("ResolveGroup returned error: %v", err)
	}
	if p.Name() != "deepgram" {
		t.Fatalf("ResolveGroup = %q, want bare deepgram", p.Name())
	}
}
