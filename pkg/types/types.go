// Package types defines the shared value types used across all SayText
// packages.
//
// These types form the lingua franca between audio capture, the ASR
// providers, the reconciliation layer, and the correction/insertion
// collaborators. They are intentionally minimal — each package defines its
// own domain types, but cross-cutting data structures live here to avoid
// circular imports.
package types

import "time"

// AudioFormat describes the sample layout of a PCM buffer.
type AudioFormat struct {
	// SampleRate in Hz (16000 by convention for ASR input).
	SampleRate int

	// Channels: 1 for mono (required by most ASR providers).
	Channels int

	// BitDepth is the bits per sample (16 for signed little-endian PCM).
	BitDepth int
}

// Duration returns the play time of a buffer of n bytes in this format.
func (f AudioFormat) Duration(n int) time.Duration {
	bytesPerSecond := f.SampleRate * f.Channels * f.BitDepth / 8
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bytesPerSecond)
}

// DefaultFormat is 16 kHz mono 16-bit PCM, the convention used by the audio
// capture collaborator.
var DefaultFormat = AudioFormat{SampleRate: 16000, Channels: 1, BitDepth: 16}

// AudioChunk is an opaque PCM (or WAV-containered) byte buffer produced by
// the audio capture collaborator. Chunks are immutable once created; the
// core never inspects samples beyond their byte length.
type AudioChunk struct {
	// Data is the raw audio payload.
	Data []byte

	// Format describes the sample layout of Data.
	Format AudioFormat
}

// Duration returns the play time of the chunk.
func (c AudioChunk) Duration() time.Duration {
	return c.Format.Duration(len(c.Data))
}

// Language classifies the dominant script of a transcript.
type Language string

const (
	LanguageUnknown Language = "unknown"
	LanguageChinese Language = "chinese"
	LanguageEnglish Language = "english"
	LanguageMixed   Language = "mixed"
)

// WordConfidence holds a per-word confidence score from providers that
// report word-level detail.
type WordConfidence struct {
	Word       string
	Confidence float64

	// Start and End are word timings in seconds, when reported.
	Start float64
	End   float64
}

// TranscriptionResult is a single recognition result. Streaming sessions
// emit a sequence of these over time; batch transcription emits exactly one.
//
// Once IsFinal is true no further results are expected from the session.
// Some providers violate this — consumers must tolerate a later empty or
// duplicate final.
type TranscriptionResult struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the detected dominant language of Text.
	Language Language

	// IsFinal marks an authoritative (settled) result rather than an
	// in-progress partial.
	IsFinal bool

	// WordConfidences contains per-word detail when the provider supplies
	// it. Nil otherwise.
	WordConfidences []WordConfidence
}

// DetectLanguage classifies text by the scripts it contains: Han characters
// only → chinese, neither → english-by-default for Latin text, both → mixed.
func DetectLanguage(text string) Language {
	var han, latin bool
	for _, r := range text {
		switch {
		case r >= 0x4E00 && r <= 0x9FFF:
			han = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			latin = true
		}
	}
	switch {
	case han && latin:
		return LanguageMixed
	case han:
		return LanguageChinese
	case latin:
		return LanguageEnglish
	default:
		return LanguageUnknown
	}
}
