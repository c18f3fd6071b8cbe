// Package keystore resolves provider credentials from configuration and the
// environment. Availability checks during provider selection consult only
// this in-memory view; no network calls are made to validate keys.
package keystore

import "os"

// Credential holds the secrets needed to authenticate against one provider.
// Vendors with single-part credentials use APIKey only.
type Credential struct {
	// APIKey is the provider's API key or access token.
	APIKey string

	// AppKey is the application identifier for vendors with two-part
	// credentials.
	AppKey string
}

// Complete reports whether the credential has every required part. requireApp
// is true for vendors with two-part credentials.
func (c Credential) Complete(requireApp bool) bool {
	if c.APIKey == "" {
		return false
	}
	if requireApp && c.AppKey == "" {
		return false
	}
	return true
}

// Store looks up credentials by provider name.
type Store interface {
	// Get returns the credential for a provider, and whether any part of it
	// was found.
	Get(provider string) (Credential, bool)
}

// envVars maps provider names to the environment variables holding their
// credentials.
var envVars = map[string]struct{ apiKey, appKey string }{
	"volc":     {apiKey: "VOLC_ACCESS_KEY", appKey: "VOLC_APP_KEY"},
	"deepgram": {apiKey: "DEEPGRAM_API_KEY"},
	"openai":   {apiKey: "OPENAI_API_KEY"},
	"proxy":    {apiKey: "SAYTEXT_ACCESS_TOKEN"},
}

// EnvStore resolves credentials from process environment variables.
type EnvStore struct{}

// Get implements Store.
func (EnvStore) Get(provider string) (Credential, bool) {
	vars, ok := envVars[provider]
	if !ok {
		return Credential{}, false
	}
	cred := Credential{
		APIKey: os.Getenv(vars.apiKey),
		AppKey: os.Getenv(vars.appKey),
	}
	return cred, cred.APIKey != "" || cred.AppKey != ""
}

// StaticStore serves a fixed credential map. Used in tests and for
// config-file credentials.
type StaticStore map[string]Credential

// Get implements Store.
func (s StaticStore) Get(provider string) (Credential, bool) {
	cred, ok := s[provider]
	return cred, ok
}

// Chain consults stores in order and merges: the first store to supply each
// credential part wins. Lookup succeeds if any store knows the provider.
type Chain []Store

// Get implements Store.
func (c Chain) Get(provider string) (Credential, bool) {
	var merged Credential
	found := false
	for _, s := range c {
		cred, ok := s.Get(provider)
		if !ok {
			continue
		}
		found = true
		if merged.APIKey == "" {
			merged.APIKey = cred.APIKey
		}
		if merged.AppKey == "" {
			merged.AppKey = cred.AppKey
		}
	}
	return merged, found
}
