// Package observe provides application-wide observability primitives for
// SayText: OpenTelemetry metrics, tracing, and structured logging around the
// recognition pipeline.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all SayText metrics.
const meterName = "github.com/saytext/saytext"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TranscriptionDuration tracks batch transcription latency. Use with
	// attribute.String("provider", ...).
	TranscriptionDuration metric.Float64Histogram

	// SessionDuration tracks the total lifetime of streaming sessions.
	SessionDuration metric.Float64Histogram

	// FirstResultLatency tracks the delay between session start and the
	// first partial result.
	FirstResultLatency metric.Float64Histogram

	// CorrectionDuration tracks LLM post-correction latency.
	CorrectionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("path", "stream"|"batch"),
	//   attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Reconnects counts streaming reconnect attempts. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("reason", ...)
	Reconnects metric.Int64Counter

	// FramesDropped counts audio frames discarded because the reconnect
	// queue was full.
	FramesDropped metric.Int64Counter

	// ResultsEmitted counts transcription results delivered to consumers.
	// Use with attribute.Bool("final", ...).
	ResultsEmitted metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live streaming sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for realtime recognition latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("saytext.transcription.duration",
		metric.WithDescription("Latency of batch transcription requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("saytext.session.duration",
		metric.WithDescription("Total lifetime of streaming sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	); err != nil {
		return nil, err
	}
	if met.FirstResultLatency, err = m.Float64Histogram("saytext.session.first_result_latency",
		metric.WithDescription("Delay between session start and the first partial result."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CorrectionDuration, err = m.Float64Histogram("saytext.correction.duration",
		metric.WithDescription("Latency of LLM transcript correction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("saytext.provider.requests",
		metric.WithDescription("Total provider API requests by provider, path, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("saytext.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("saytext.session.reconnects",
		metric.WithDescription("Streaming reconnect attempts by provider and reason."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("saytext.session.frames_dropped",
		metric.WithDescription("Audio frames discarded because the reconnect queue was full."),
	); err != nil {
		return nil, err
	}
	if met.ResultsEmitted, err = m.Int64Counter("saytext.results.emitted",
		metric.WithDescription("Transcription results delivered to consumers."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("saytext.active_sessions",
		metric.WithDescription("Number of live streaming sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, path, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("path", path),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error with the standard attribute
// set.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordReconnect records a streaming reconnect attempt.
func (m *Metrics) RecordReconnect(ctx context.Context, provider, reason string) {
	m.Reconnects.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("reason", reason),
		),
	)
}

// RecordResult records one emitted transcription result.
func (m *Metrics) RecordResult(ctx context.Context, provider string, final bool) {
	m.ResultsEmitted.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.Bool("final", final),
		),
	)
}

// RecordTranscription records a completed batch transcription.
func (m *Metrics) RecordTranscription(ctx context.Context, provider string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.TranscriptionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("provider", provider)),
	)
	m.RecordProviderRequest(ctx, provider, "batch", status)
}
