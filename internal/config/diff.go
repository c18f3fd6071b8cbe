package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider
// credential changes require a restart and are deliberately ignored here.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RoutingChanged is true when the mode or provider order changed.
	// Existing sessions keep their provider; new sessions pick up the change.
	RoutingChanged bool

	// MergeChanged is true when any reconciliation threshold changed.
	MergeChanged bool

	// CorrectionChanged is true when the correction block changed.
	CorrectionChanged bool
}

// Any reports whether the diff contains any tracked change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.RoutingChanged || d.MergeChanged || d.CorrectionChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Client.LogLevel != new.Client.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Client.LogLevel
	}

	if old.Routing.Mode != new.Routing.Mode ||
		old.Routing.DefaultProvider != new.Routing.DefaultProvider ||
		!slices.Equal(old.Routing.FallbackProviders, new.Routing.FallbackProviders) {
		d.RoutingChanged = true
	}

	if old.Merge != new.Merge {
		d.MergeChanged = true
	}

	if old.Correction != new.Correction {
		d.CorrectionChanged = true
	}

	return d
}
