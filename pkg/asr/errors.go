package asr

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the provider error taxonomy. Callers classify with
// errors.Is; providers wrap these with vendor detail via fmt.Errorf("...: %w").
var (
	// ErrCredentialsMissing indicates the provider's API key (or other
	// required credential) is absent or empty.
	ErrCredentialsMissing = errors.New("asr: credentials missing")

	// ErrNoAudioData indicates a batch request carried an empty audio buffer.
	ErrNoAudioData = errors.New("asr: no audio data")

	// ErrProviderUnavailable indicates the selected provider cannot be used
	// (unconfigured, or credentials invalid).
	ErrProviderUnavailable = errors.New("asr: provider unavailable")

	// ErrStreamingNotSupported is returned by batch-only providers from
	// StartStream, and by sessions fed after Stop.
	ErrStreamingNotSupported = errors.New("asr: streaming not supported")

	// ErrConnectionLost is an internal signal that the streaming transport
	// dropped. It triggers reconnection and is not surfaced to callers
	// unless retries are exhausted.
	ErrConnectionLost = errors.New("asr: connection lost")
)

// TranscriptionError indicates the provider responded but the response was
// empty or could not be interpreted as a transcript.
type TranscriptionError struct {
	Reason string
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("asr: transcription failed: %s", e.Reason)
}

// APIError is a structured vendor error: a non-2xx HTTP status or an error
// payload carried in-band on a streaming connection. Status may be zero when
// the vendor reports errors without an HTTP-like code.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("asr: api error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("asr: api error: %s", e.Message)
}
