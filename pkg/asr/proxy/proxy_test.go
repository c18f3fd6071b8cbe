package proxy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/saytext/saytext/pkg/asr"
	"github.com/saytext/saytext/pkg/asr/stream"
	"github.com/saytext/saytext/pkg/types"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New("http://localhost", ""); !errors.Is(err, asr.ErrCredentialsMissing) {
		t.Fatalf("expected ErrCredentialsMissing, got %v", err)
	}
	if _, err := New("", "token"); err == nil {
		t.Fatalf("expected error for empty base URL")
	}
}

func TestTranscribe_Batch(t *testing.T) {
	audioData := []byte{0x01, 0x02, 0x03, 0x04}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != batchPath {
			t.Errorf("path = %q, want %q", r.URL.Path, batchPath)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		decoded, err := base64.StdEncoding.DecodeString(req.Audio)
		if err != nil || len(decoded) != len(audioData) {
			t.Errorf("audio payload mismatch: %v", err)
		}
		if req.SampleRate != 16000 || req.Channels != 1 {
			t.Errorf("format = %d/%d, want 16000/1", req.SampleRate, req.Channels)
		}
		fmt.Fprint(w, `{"text":"hello world"}`)
	}))
	defer srv.Close()

	p, err := New(srv.URL, "tok")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	res, err := p.Transcribe(context.Background(), types.AudioChunk{Data: audioData})
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if res.Text != "hello world" || !res.IsFinal {
		t.Fatalf("result = %+v", res)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := New(srv.URL, "tok")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	_, err = p.Transcribe(context.Background(), types.AudioChunk{Data: []byte{0x01, 0x02}})
	var apierr *asr.APIError
	if !errors.As(err, &apierr) {
		t.Fatalf("error type = %T, want *asr.APIError", err)
	}
	if apierr.Status != http.StatusTooManyRequests {
		t.Fatalf("Status = %d, want 429", apierr.Status)
	}
}

func TestTranscribe_RejectsEmptyAudio(t *testing.T) {
	p, err := New("http://localhost", "tok")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), types.AudioChunk{}); !errors.Is(err, asr.ErrNoAudioData) {
		t.Fatalf("expected ErrNoAudioData, got %v", err)
	}
}

func TestStreaming_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != streamPath {
			t.Errorf("path = %q, want %q", r.URL.Path, streamPath)
		}
		if got := r.URL.Query().Get("model"); got != "fast" {
			t.Errorf("model = %q, want fast", got)
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Errorf("response writer is not a flusher")
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"transcript":"hel","is_final":false}`)
		flusher.Flush()
		fmt.Fprintln(w, `{"transcript":"hello world","is_final":true}`)
		flusher.Flush()

		// Hold the response open until the client signals end-of-stream by
		// closing the request body.
		_, _ = io.Copy(io.Discard, r.Body)
	}))
	defer srv.Close()

	p, err := New(srv.URL, "tok",
		WithModels([]string{"fast"}),
		WithStreamConfig(stream.Config{
			StopPollInterval: 5 * time.Millisecond,
			StopMaxWait:      2 * time.Second,
			StopMinIdle:      5 * time.Millisecond,
		}),
	)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := p.StartStream(ctx, asr.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream returned error: %v", err)
	}
	if err := sess.FeedAudio([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("FeedAudio returned error: %v", err)
	}

	var sawFinal bool
	for res := range sess.Results() {
		if res.IsFinal {
			sawFinal = true
			if res.Text != "hello world" {
				t.Fatalf("final text = %q, want %q", res.Text, "hello world")
			}
			break
		}
	}
	if !sawFinal {
		t.Fatalf("no final result received")
	}

	final, err := sess.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if final == nil || final.Text != "hello world" {
		t.Fatalf("Stop final = %+v, want hello world", final)
	}
}
