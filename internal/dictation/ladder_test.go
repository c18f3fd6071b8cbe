package dictation

import (
	"context"
	"errors"
	"testing"

	"github.com/saytext/saytext/pkg/asr"
	"github.com/saytext/saytext/pkg/types"
)

// modelStub scripts one outcome per model name.
type modelStub struct {
	models   []string
	results  map[string]types.TranscriptionResult
	errors   map[string]error
	attempts []string
}

func (m *modelStub) Models() []string { return m.models }

func (m *modelStub) TranscribeModel(_ context.Context, model string, _ types.AudioChunk) (types.TranscriptionResult, error) {
	m.attempts = append(m.attempts, model)
	if err, ok := m.errors[model]; ok {
		return types.TranscriptionResult{}, err
	}
	return m.results[model], nil
}

func chunk() types.AudioChunk {
	return types.AudioChunk{Data: []byte{1, 2, 3, 4}, Format: types.DefaultFormat}
}

func TestLadder_FirstModelWins(t *testing.T) {
	stub := &modelStub{
		models: []string{"nova-3", "nova-2"},
		results: map[string]types.TranscriptionResult{
			"nova-3": {Text: "hello", IsFinal: true},
		},
	}

	res, err := transcribeLadder(context.Background(), stub, chunk())
	if err != nil {
		t.Fatalf("transcribeLadder returned error: %v", err)
	}
	if res.Text != "hello" {
		t.Fatalf("Text = %q, want hello", res.Text)
	}
	if len(stub.attempts) != 1 {
		t.Fatalf("attempts = %v, want a single attempt", stub.attempts)
	}
}

func TestLadder_EmptyTranscriptAdvances(t *testing.T) {
	stub := &modelStub{
		models: []string{"nova-3", "nova-2"},
		results: map[string]types.TranscriptionResult{
			"nova-3": {},
			"nova-2": {Text: "hello", IsFinal: true},
		},
	}

	res, err := transcribeLadder(context.Background(), stub, chunk())
	if err != nil {
		t.Fatalf("transcribeLadder returned error: %v", err)
	}
	if res.Text != "hello" {
		t.Fatalf("Text = %q, want hello", res.Text)
	}
	if len(stub.attempts) != 2 {
		t.Fatalf("attempts = %v, want both models tried", stub.attempts)
	}
}

func TestLadder_PermissionErrorAdvances(t *testing.T) {
	stub := &modelStub{
		models: []string{"nova-3", "nova-2"},
		errors: map[string]error{
			"nova-3": &asr.APIError{Status: 403, Message: "insufficient_permissions: project cannot use nova-3"},
		},
		results: map[string]types.TranscriptionResult{
			"nova-2": {Text: "hello", IsFinal: true},
		},
	}

	res, err := transcribeLadder(context.Background(), stub, chunk())
	if err != nil {
		t.Fatalf("transcribeLadder returned error: %v", err)
	}
	if res.Text != "hello" {
		t.Fatalf("Text = %q, want hello", res.Text)
	}
}

func TestLadder_UnauthorizedStopsImmediately(t *testing.T) {
	stub := &modelStub{
		models: []string{"nova-3", "nova-2"},
		errors: map[string]error{
			"nova-3": &asr.APIError{Status: 401, Message: "invalid credentials"},
		},
	}

	_, err := transcribeLadder(context.Background(), stub, chunk())
	var aerr *asr.APIError
	if !errors.As(err, &aerr) || aerr.Status != 401 {
		t.Fatalf("error = %v, want the 401 APIError", err)
	}
	if len(stub.attempts) != 1 {
		t.Fatalf("attempts = %v, account-level errors must not advance", stub.attempts)
	}
}

func TestLadder_SurfacesLastSpecificError(t *testing.T) {
	stub := &modelStub{
		models: []string{"nova-3", "nova-2"},
		errors: map[string]error{
			"nova-3": &asr.APIError{Status: 403, Message: "insufficient_permissions"},
			"nova-2": &asr.APIError{Status: 422, Message: "unsupported audio format"},
		},
	}

	_, err := transcribeLadder(context.Background(), stub, chunk())
	var aerr *asr.APIError
	if !errors.As(err, &aerr) {
		t.Fatalf("error = %v, want an APIError", err)
	}
	if aerr.Status != 422 {
		t.Fatalf("Status = %d, want the last attempt's 422", aerr.Status)
	}
}

func TestLadder_NoModelsUsesDefault(t *testing.T) {
	stub := &modelStub{
		results: map[string]types.TranscriptionResult{
			"": {Text: "hello", IsFinal: true},
		},
	}

	res, err := transcribeLadder(context.Background(), stub, chunk())
	if err != nil {
		t.Fatalf("transcribeLadder returned error: %v", err)
	}
	if res.Text != "hello" {
		t.Fatalf("Text = %q, want hello", res.Text)
	}
}

func TestRecoverable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"transcription error", &asr.TranscriptionError{Reason: "empty response"}, true},
		{"403 permissions", &asr.APIError{Status: 403, Message: "insufficient_permissions"}, true},
		{"model signature", &asr.APIError{Status: 500, Message: "unknown model nova-9"}, true},
		{"language signature", &asr.APIError{Status: 500, Message: "language not supported"}, true},
		{"401", &asr.APIError{Status: 401, Message: "bad key"}, false},
		{"429", &asr.APIError{Status: 429, Message: "rate limited"}, false},
		{"plain error", errors.New("dial tcp: connection refused"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := recoverable(tc.err); got != tc.want {
				t.Errorf("recoverable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
