package dictation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/saytext/saytext/internal/observe"
	"github.com/saytext/saytext/pkg/asr"
	"github.com/saytext/saytext/pkg/types"
)

// Corrector cleans up a final transcript. Implemented by correct.Corrector;
// abstracted here so tests can substitute a stub.
type Corrector interface {
	Correct(ctx context.Context, text string) (string, error)
}

// Service is the dictation facade: one streaming session at a time plus a
// batch path, over a resolved (possibly fallback-wrapped) provider.
//
// All methods are safe for concurrent use. Streaming state is guarded by a
// single mutex so feed, stop, and the forwarding goroutine never race.
type Service struct {
	provider  asr.Provider
	streamCfg asr.StreamConfig
	corrector Corrector
	metrics   *observe.Metrics
	logger    *slog.Logger

	mu           sync.Mutex
	session      asr.Session
	sessionStart time.Time
	firstResult  bool
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCorrector enables LLM post-correction of final transcripts.
func WithCorrector(c Corrector) ServiceOption {
	return func(s *Service) { s.corrector = c }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithServiceStreamConfig sets the stream configuration passed to the
// provider when a session starts.
func WithServiceStreamConfig(cfg asr.StreamConfig) ServiceOption {
	return func(s *Service) { s.streamCfg = cfg }
}

// NewService creates the facade over an already-resolved provider.
func NewService(provider asr.Provider, opts ...ServiceOption) (*Service, error) {
	if provider == nil {
		return nil, fmt.Errorf("dictation: provider is required")
	}
	s := &Service{provider: provider}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// StartStreaming opens a streaming session and returns the result stream.
// The channel delivers sanitised partials and at most one final, and is
// closed when the session ends. Only one session may be active at a time.
func (s *Service) StartStreaming(ctx context.Context) (<-chan types.TranscriptionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return nil, fmt.Errorf("dictation: a streaming session is already active")
	}

	session, err := s.provider.StartStream(ctx, s.streamCfg)
	if err != nil {
		return nil, fmt.Errorf("dictation: start stream: %w", err)
	}

	s.session = session
	s.sessionStart = time.Now()
	s.firstResult = false
	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(ctx, 1)
	}

	out := make(chan types.TranscriptionResult)
	go s.forward(session, out)
	return out, nil
}

// forward relays session results to the caller's channel, recording
// first-result latency and emission counts along the way.
func (s *Service) forward(session asr.Session, out chan<- types.TranscriptionResult) {
	defer close(out)
	ctx := context.Background()
	for res := range session.Results() {
		s.mu.Lock()
		if !s.firstResult {
			s.firstResult = true
			if s.metrics != nil {
				s.metrics.FirstResultLatency.Record(ctx, time.Since(s.sessionStart).Seconds())
			}
		}
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordResult(ctx, s.provider.Name(), res.IsFinal)
		}
		out <- res
	}
}

// FeedAudio delivers a chunk of raw PCM to the active session. Returns
// [asr.ErrStreamingNotSupported] when no session is active.
func (s *Service) FeedAudio(chunk []byte) error {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session == nil {
		return asr.ErrStreamingNotSupported
	}
	return session.FeedAudio(chunk)
}

// StopStreaming ends the active session and returns the reconciled final
// result, post-corrected when a corrector is configured, or nil if nothing
// usable was produced. Calling it with no active session is a no-op.
func (s *Service) StopStreaming(ctx context.Context) (*types.TranscriptionResult, error) {
	s.mu.Lock()
	session := s.session
	s.session = nil
	start := s.sessionStart
	s.mu.Unlock()
	if session == nil {
		return nil, nil
	}

	ctx, span := observe.StartSpan(ctx, "dictation.stop_streaming",
		trace.WithAttributes(attribute.String("provider", s.provider.Name())))
	defer span.End()

	final, err := session.Stop(ctx)
	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(ctx, -1)
		s.metrics.SessionDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return final, fmt.Errorf("dictation: stop stream: %w", err)
	}
	if final != nil {
		s.applyCorrection(ctx, final)
	}
	return final, nil
}

// Transcribe performs batch recognition of a complete audio buffer. When the
// provider offers multiple models the retry ladder is walked; the surfaced
// error after exhaustion is the last specific one, never a generic wrapper.
func (s *Service) Transcribe(ctx context.Context, audio types.AudioChunk) (types.TranscriptionResult, error) {
	if len(audio.Data) == 0 {
		return types.TranscriptionResult{}, asr.ErrNoAudioData
	}

	ctx, span := observe.StartSpan(ctx, "dictation.transcribe",
		trace.WithAttributes(attribute.String("provider", s.provider.Name())))
	defer span.End()

	start := time.Now()
	var (
		res types.TranscriptionResult
		err error
	)
	if mt, ok := s.provider.(asr.ModelTranscriber); ok {
		res, err = transcribeLadder(ctx, mt, audio)
	} else {
		res, err = s.provider.Transcribe(ctx, audio)
	}
	if s.metrics != nil {
		s.metrics.RecordTranscription(ctx, s.provider.Name(), time.Since(start), err)
	}
	if err != nil {
		return types.TranscriptionResult{}, err
	}
	observe.Logger(ctx).Debug("transcription completed",
		"provider", s.provider.Name(),
		"duration", time.Since(start))

	s.applyCorrection(ctx, &res)
	return res, nil
}

// applyCorrection runs the corrector over a final transcript in place.
// Correction failures are logged and swallowed: dictation must keep flowing
// with the uncorrected text.
func (s *Service) applyCorrection(ctx context.Context, res *types.TranscriptionResult) {
	if s.corrector == nil || res.Text == "" {
		return
	}
	start := time.Now()
	corrected, err := s.corrector.Correct(ctx, res.Text)
	if s.metrics != nil {
		s.metrics.CorrectionDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		s.logger.Warn("transcript correction failed, keeping original", "err", err)
		return
	}
	res.Text = corrected
}
