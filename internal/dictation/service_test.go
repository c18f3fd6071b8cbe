package dictation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/saytext/saytext/pkg/asr"
	"github.com/saytext/saytext/pkg/types"
)

// fakeSession scripts a streaming session: pre-loaded results, a canned
// final, and a record of the audio it received.
type fakeSession struct {
	results chan types.TranscriptionResult
	final   *types.TranscriptionResult
	fed     [][]byte
	stopped bool
}

func newFakeSession(results []types.TranscriptionResult, final *types.TranscriptionResult) *fakeSession {
	ch := make(chan types.TranscriptionResult, len(results))
	for _, r := range results {
		ch <- r
	}
	return &fakeSession{results: ch, final: final}
}

func (f *fakeSession) FeedAudio(chunk []byte) error {
	f.fed = append(f.fed, chunk)
	return nil
}

func (f *fakeSession) Results() <-chan types.TranscriptionResult { return f.results }

func (f *fakeSession) Stop(_ context.Context) (*types.TranscriptionResult, error) {
	if !f.stopped {
		f.stopped = true
		close(f.results)
	}
	return f.final, nil
}

// streamProvider is an asr.Provider returning a scripted session.
type streamProvider struct {
	session *fakeSession
}

func (p *streamProvider) Name() string { return "fake" }

func (p *streamProvider) Transcribe(_ context.Context, _ types.AudioChunk) (types.TranscriptionResult, error) {
	return types.TranscriptionResult{Text: "batch text", IsFinal: true}, nil
}

func (p *streamProvider) StartStream(_ context.Context, _ asr.StreamConfig) (asr.Session, error) {
	return p.session, nil
}

// upperCorrector uppercases everything it is given.
type upperCorrector struct{}

func (upperCorrector) Correct(_ context.Context, text string) (string, error) {
	return strings.ToUpper(text), nil
}

// failingCorrector always errors.
type failingCorrector struct{}

func (failingCorrector) Correct(_ context.Context, text string) (string, error) {
	return text, errors.New("llm unavailable")
}

func TestStreaming_Lifecycle(t *testing.T) {
	final := &types.TranscriptionResult{Text: "hello world", IsFinal: true}
	session := newFakeSession([]types.TranscriptionResult{
		{Text: "he"},
		{Text: "hello"},
	}, final)
	svc, err := NewService(&streamProvider{session: session})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	results, err := svc.StartStreaming(context.Background())
	if err != nil {
		t.Fatalf("StartStreaming returned error: %v", err)
	}

	if err := svc.FeedAudio([]byte{1, 2}); err != nil {
		t.Fatalf("FeedAudio returned error: %v", err)
	}
	if len(session.fed) != 1 {
		t.Fatalf("session received %d chunks, want 1", len(session.fed))
	}

	got, err := svc.StopStreaming(context.Background())
	if err != nil {
		t.Fatalf("StopStreaming returned error: %v", err)
	}
	if got == nil || got.Text != "hello world" {
		t.Fatalf("StopStreaming = %+v, want final hello world", got)
	}

	var seen []string
	for res := range results {
		seen = append(seen, res.Text)
	}
	if len(seen) != 2 || seen[0] != "he" || seen[1] != "hello" {
		t.Fatalf("forwarded results = %v", seen)
	}
}

func TestStreaming_OnlyOneActiveSession(t *testing.T) {
	session := newFakeSession(nil, nil)
	svc, err := NewService(&streamProvider{session: session})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	if _, err := svc.StartStreaming(context.Background()); err != nil {
		t.Fatalf("first StartStreaming returned error: %v", err)
	}
	if _, err := svc.StartStreaming(context.Background()); err == nil {
		t.Fatal("second StartStreaming must fail while a session is active")
	}
	if _, err := svc.StopStreaming(context.Background()); err != nil {
		t.Fatalf("StopStreaming returned error: %v", err)
	}
}

func TestStreaming_StopIsIdempotent(t *testing.T) {
	session := newFakeSession(nil, &types.TranscriptionResult{Text: "done", IsFinal: true})
	svc, err := NewService(&streamProvider{session: session})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	if _, err := svc.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming returned error: %v", err)
	}
	if _, err := svc.StopStreaming(context.Background()); err != nil {
		t.Fatalf("StopStreaming returned error: %v", err)
	}
	got, err := svc.StopStreaming(context.Background())
	if err != nil || got != nil {
		t.Fatalf("second StopStreaming = %+v, %v, want nil, nil", got, err)
	}
}

func TestFeedAudio_WithoutSession(t *testing.T) {
	svc, err := NewService(&streamProvider{})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	if err := svc.FeedAudio([]byte{1}); !errors.Is(err, asr.ErrStreamingNotSupported) {
		t.Fatalf("FeedAudio error = %v, want ErrStreamingNotSupported", err)
	}
}

func TestStopStreaming_AppliesCorrection(t *testing.T) {
	session := newFakeSession(nil, &types.TranscriptionResult{Text: "hello world", IsFinal: true})
	svc, err := NewService(&streamProvider{session: session}, WithCorrector(upperCorrector{}))
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	if _, err := svc.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming returned error: %v", err)
	}
	got, err := svc.StopStreaming(context.Background())
	if err != nil {
		t.Fatalf("StopStreaming returned error: %v", err)
	}
	if got.Text != "HELLO WORLD" {
		t.Fatalf("Text = %q, want corrected HELLO WORLD", got.Text)
	}
}

func TestTranscribe_KeepsOriginalOnCorrectionFailure(t *testing.T) {
	svc, err := NewService(&streamProvider{}, WithCorrector(failingCorrector{}))
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	res, err := svc.Transcribe(context.Background(), chunk())
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if res.Text != "batch text" {
		t.Fatalf("Text = %q, correction failure must keep the original", res.Text)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	svc, err := NewService(&streamProvider{})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	if _, err := svc.Transcribe(context.Background(), types.AudioChunk{}); !errors.Is(err, asr.ErrNoAudioData) {
		t.Fatalf("Transcribe error = %v, want ErrNoAudioData", err)
	}
}

// ladderProvider implements both Provider and ModelTranscriber so Transcribe
// exercises the model ladder.
type ladderProvider struct {
	streamProvider
	stub *modelStub
}

func (p *ladderProvider) Models() []string { return p.stub.models }

func (p *ladderProvider) TranscribeModel(ctx context.Context, model string, audio types.AudioChunk) (types.TranscriptionResult, error) {
	return p.stub.TranscribeModel(ctx, model, audio)
}

func TestTranscribe_WalksModelLadder(t *testing.T) {
	stub := &modelStub{
		models: []string{"nova-3", "nova-2"},
		errors: map[string]error{
			"nova-3": &asr.APIError{Status: 403, Message: "insufficient_permissions"},
		},
		results: map[string]types.TranscriptionResult{
			"nova-2": {Text: "hello", IsFinal: true},
		},
	}
	svc, err := NewService(&ladderProvider{stub: stub})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	res, err := svc.Transcribe(context.Background(), chunk())
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if res.Text != "hello" {
		t.Fatalf("Text = %q, want hello", res.Text)
	}
	if len(stub.attempts) != 2 {
		t.Fatalf("attempts = %v, want the ladder walked", stub.attempts)
	}
}

func TestStreaming_ForwardClosesAfterStop(t *testing.T) {
	session := newFakeSession([]types.TranscriptionResult{{Text: "hi"}}, nil)
	svc, err := NewService(&streamProvider{session: session})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	results, err := svc.StartStreaming(context.Background())
	if err != nil {
		t.Fatalf("StartStreaming returned error: %v", err)
	}
	if _, err := svc.StopStreaming(context.Background()); err != nil {
		t.Fatalf("StopStreaming returned error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-results:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("results channel did not close after stop")
		}
	}
}
