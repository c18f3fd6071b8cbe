package observe

import (
	"bytes"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/saytext/saytext/pkg/types"
)

func TestStageSink_ReconnectFeedsMetricsAndLogs(t *testing.T) {
	m, reader := newTestMetrics(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	sink := StageSink(logger, m)
	sink(types.StageEvent{
		Stage:    "streaming",
		Event:    "reconnect",
		Provider: "volc",
		Message:  "connection reset",
	})

	rm := collect(t, reader)
	met := findMetric(rm, "saytext.session.reconnects")
	if met == nil {
		t.Fatal("reconnect event did not record a metric")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Fatalf("unexpected reconnect data: %+v", sum.DataPoints)
	}

	out := buf.String()
	if !bytes.Contains([]byte(out), []byte("reconnect")) || !bytes.Contains([]byte(out), []byte("volc")) {
		t.Errorf("log output missing event detail: %s", out)
	}
}

func TestStageSink_ConnectedIsDebugOnly(t *testing.T) {
	m, reader := newTestMetrics(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	sink := StageSink(logger, m)
	sink(types.StageEvent{Stage: "streaming", Event: "connected", Provider: "deepgram"})

	rm := collect(t, reader)
	if met := findMetric(rm, "saytext.session.reconnects"); met != nil {
		t.Fatalf("connected event must not count as a reconnect")
	}
	if buf.Len() == 0 {
		t.Error("connected event should still log at debug level")
	}
}

func TestStageSink_FramesDroppedRecordsCount(t *testing.T) {
	m, reader := newTestMetrics(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	sink := StageSink(logger, m)
	sink(types.StageEvent{Stage: "streaming", Event: "frames_dropped", Provider: "volc", Count: 2})
	sink(types.StageEvent{Stage: "streaming", Event: "frames_dropped", Provider: "volc", Count: 3})

	rm := collect(t, reader)
	met := findMetric(rm, "saytext.session.frames_dropped")
	if met == nil {
		t.Fatal("frames_dropped event did not record a metric")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 5 {
		t.Fatalf("unexpected frames_dropped data: %+v", sum.DataPoints)
	}

	out := buf.String()
	if !bytes.Contains([]byte(out), []byte("frames_dropped")) || !bytes.Contains([]byte(out), []byte("count=2")) {
		t.Errorf("log output missing drop detail: %s", out)
	}
}

func TestStageSink_FramesDroppedZeroCountSkipsMetric(t *testing.T) {
	m, reader := newTestMetrics(t)

	sink := StageSink(slog.Default(), m)
	sink(types.StageEvent{Stage: "streaming", Event: "frames_dropped", Provider: "volc"})

	rm := collect(t, reader)
	if met := findMetric(rm, "saytext.session.frames_dropped"); met != nil {
		t.Fatal("a zero-count event must not feed the counter")
	}
}

func TestStageSink_NilLoggerAndMetrics(t *testing.T) {
	sink := StageSink(nil, nil)
	// Must not panic.
	sink(types.StageEvent{Stage: "streaming", Event: "exhausted", Provider: "volc"})
}
