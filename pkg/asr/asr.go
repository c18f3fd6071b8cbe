// Package asr defines the Provider interface for speech-recognition backends.
//
// An ASR provider wraps a third-party transcription service (e.g., Deepgram,
// the OpenAI audio API, a Volcengine-style binary-framed endpoint, or the
// SayText backend proxy) and exposes a uniform interface with two paths: a
// single-request batch path (Transcribe) and a realtime streaming path
// (StartStream). The central streaming abstraction is Session: once opened, a
// session accepts raw PCM audio frames and emits TranscriptionResult values —
// low-latency partials for responsiveness and exactly one authoritative final
// per session.
//
// Implementations must be safe for concurrent use.
package asr

import (
	"context"

	"github.com/saytext/saytext/pkg/types"
)

// StreamConfig describes the audio format and recognition hints for a new
// streaming session.
type StreamConfig struct {
	// Format is the PCM layout of audio delivered via FeedAudio. The zero
	// value means types.DefaultFormat.
	Format types.AudioFormat

	// Models is the ordered list of model candidates to try. The first entry
	// is preferred; later entries are fallbacks used when a classified
	// model/authorization error occurs. Empty means the provider default.
	Models []string

	// Languages is the ordered list of language-hint candidates, exhausted
	// before the next model candidate is tried. An empty string entry means
	// "no language hint". Empty means the provider default.
	Languages []string
}

// Session represents an open streaming recognition session.
//
// Callers must call Stop (or Cancel) when the session is no longer needed;
// failing to do so leaks goroutines and network connections inside the
// provider implementation. All methods are safe for concurrent use.
type Session interface {
	// FeedAudio delivers a chunk of raw PCM audio bytes for transcription.
	// Audio fed while the underlying connection is down is queued (bounded,
	// oldest dropped) and replayed after reconnect. Feeding after Stop
	// returns ErrStreamingNotSupported.
	FeedAudio(chunk []byte) error

	// Results returns a read-only channel of reconciled transcription
	// results, partials as they stabilise followed by at most one final.
	// The channel is closed when the session ends.
	Results() <-chan types.TranscriptionResult

	// Stop requests end-of-stream, waits a bounded interval for the
	// provider's final result, tears the connection down, and returns the
	// reconciled final — or nil if nothing usable was produced. Stop is
	// idempotent.
	Stop(ctx context.Context) (*types.TranscriptionResult, error)
}

// ModelTranscriber is implemented by batch providers that accept an explicit
// model override, enabling callers to walk a model fallback ladder.
type ModelTranscriber interface {
	// Models returns the provider's ordered model candidates.
	Models() []string

	// TranscribeModel performs batch recognition with a specific model.
	TranscribeModel(ctx context.Context, model string, audio types.AudioChunk) (types.TranscriptionResult, error)
}

// Provider is the abstraction over any ASR backend.
//
// Implementations must be safe for concurrent use; multiple sessions may be
// open simultaneously.
type Provider interface {
	// Name returns the stable provider identifier used in config, logs, and
	// metrics (e.g., "deepgram", "volc", "openai", "proxy").
	Name() string

	// Transcribe performs batch recognition of a complete audio buffer.
	Transcribe(ctx context.Context, audio types.AudioChunk) (types.TranscriptionResult, error)

	// StartStream opens a realtime streaming session, or returns
	// ErrStreamingNotSupported for batch-only backends.
	StartStream(ctx context.Context, cfg StreamConfig) (Session, error)
}
