package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/saytext/saytext/pkg/types"
)

// StageSink returns a [types.StageFunc] that logs stage events through slog
// and feeds the relevant metric instruments. It is the standard wiring
// between the recognition pipeline's event side channel and observability.
func StageSink(logger *slog.Logger, metrics *Metrics) types.StageFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ev types.StageEvent) {
		ctx := context.Background()

		attrs := []any{
			slog.String("stage", ev.Stage),
			slog.String("event", ev.Event),
		}
		if ev.Provider != "" {
			attrs = append(attrs, slog.String("provider", ev.Provider))
		}
		if ev.Latency > 0 {
			attrs = append(attrs, slog.Duration("latency", ev.Latency))
		}
		if ev.Message != "" {
			attrs = append(attrs, slog.String("detail", ev.Message))
		}
		if ev.Count > 0 {
			attrs = append(attrs, slog.Int("count", ev.Count))
		}

		switch ev.Event {
		case "reconnect", "watchdog_timeout":
			logger.Warn("stage event", attrs...)
			if metrics != nil {
				metrics.RecordReconnect(ctx, ev.Provider, ev.Event)
			}
		case "candidate_advance":
			logger.Warn("stage event", attrs...)
			if metrics != nil {
				metrics.RecordProviderError(ctx, ev.Provider, "candidate_rejected")
			}
		case "exhausted":
			logger.Error("stage event", attrs...)
			if metrics != nil {
				metrics.RecordProviderError(ctx, ev.Provider, "exhausted")
			}
		case "frames_dropped":
			logger.Debug("stage event", attrs...)
			if metrics != nil && ev.Count > 0 {
				metrics.FramesDropped.Add(ctx, int64(ev.Count),
					metric.WithAttributes(Attr("provider", ev.Provider)))
			}
		default:
			logger.Debug("stage event", attrs...)
		}
	}
}
