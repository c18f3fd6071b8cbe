package resilience

import (
	"context"
	"strings"

	"github.com/saytext/saytext/pkg/asr"
	"github.com/saytext/saytext/pkg/types"
)

// ASRFallback implements [asr.Provider] with automatic failover across
// multiple recognition backends. Each backend has its own circuit breaker, so
// a provider that keeps failing is bypassed until its reset timeout elapses.
type ASRFallback struct {
	group *FallbackGroup[asr.Provider]
	names []string
}

// Compile-time interface assertion.
var _ asr.Provider = (*ASRFallback)(nil)

// NewASRFallback creates an [ASRFallback] with primary as the preferred
// backend.
func NewASRFallback(primary asr.Provider, cfg FallbackConfig) *ASRFallback {
	return &ASRFallback{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
		names: []string{primary.Name()},
	}
}

// AddFallback registers an additional recognition provider as a fallback.
func (f *ASRFallback) AddFallback(provider asr.Provider) {
	f.group.AddFallback(provider.Name(), provider)
	f.names = append(f.names, provider.Name())
}

// Name returns the chained provider names, e.g. "volc+deepgram".
func (f *ASRFallback) Name() string {
	return strings.Join(f.names, "+")
}

// Transcribe performs batch recognition against the first healthy provider.
func (f *ASRFallback) Transcribe(ctx context.Context, audio types.AudioChunk) (types.TranscriptionResult, error) {
	return ExecuteWithResult(f.group, func(p asr.Provider) (types.TranscriptionResult, error) {
		return p.Transcribe(ctx, audio)
	})
}

// StartStream opens a streaming session against the first healthy provider.
// If the primary fails to start the stream, subsequent fallbacks are tried.
// Once a session is established, reconnection within that provider is the
// session's own responsibility; the group is only consulted at session start.
func (f *ASRFallback) StartStream(ctx context.Context, cfg asr.StreamConfig) (asr.Session, error) {
	return ExecuteWithResult(f.group, func(p asr.Provider) (asr.Session, error) {
		return p.StartStream(ctx, cfg)
	})
}
