// Package proxy provides an ASR provider that routes recognition through the
// SayText backend instead of calling vendors directly. Authentication is a
// bearer access token; no vendor credentials are needed on the client.
//
// The streaming path is newline-delimited JSON over a single chunked HTTP
// POST: raw PCM frames flow up the request body while transcript events come
// back one JSON object per line on the response body. The batch path is a
// plain JSON request with base64-encoded audio.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/saytext/saytext/pkg/asr"
	"github.com/saytext/saytext/pkg/asr/extract"
	"github.com/saytext/saytext/pkg/asr/stream"
	"github.com/saytext/saytext/pkg/types"
)

const (
	batchPath  = "/api/v1/transcribe"
	streamPath = "/api/v1/transcribe/stream"

	// maxEventLine bounds one NDJSON event line.
	maxEventLine = 1 << 20
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithHTTPClient overrides the HTTP client used for both paths.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// WithModels sets the ordered model candidates forwarded to the backend.
func WithModels(models []string) Option {
	return func(p *Provider) {
		p.models = models
	}
}

// WithLanguages sets the ordered language-hint candidates.
func WithLanguages(languages []string) Option {
	return func(p *Provider) {
		p.languages = languages
	}
}

// WithStreamConfig overrides the streaming session tuning.
func WithStreamConfig(cfg stream.Config) Option {
	return func(p *Provider) {
		p.streamCfg = cfg
	}
}

// Provider implements asr.Provider against the SayText backend.
type Provider struct {
	baseURL    string
	token      string
	models     []string
	languages  []string
	httpClient *http.Client
	streamCfg  stream.Config
}

// New creates a backend-proxy Provider. baseURL and token must be non-empty.
func New(baseURL, token string, opts ...Option) (*Provider, error) {
	if token == "" {
		return nil, fmt.Errorf("proxy: %w", asr.ErrCredentialsMissing)
	}
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("proxy: invalid base URL %q", baseURL)
	}
	p := &Provider{
		baseURL: baseURL,
		token:   token,
		// The streaming response stays open for the whole session, so no
		// client-level timeout here; per-request contexts bound batch calls.
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements asr.Provider.
func (p *Provider) Name() string { return "proxy" }

// StartStream implements asr.Provider.
func (p *Provider) StartStream(ctx context.Context, cfg asr.StreamConfig) (asr.Session, error) {
	format := cfg.Format
	if format == (types.AudioFormat{}) {
		format = types.DefaultFormat
	}

	sc := p.streamCfg
	sc.Provider = p.Name()
	sc.Models = cfg.Models
	if len(sc.Models) == 0 {
		sc.Models = p.models
	}
	sc.Languages = cfg.Languages
	if len(sc.Languages) == 0 {
		sc.Languages = p.languages
	}

	return stream.Start(ctx, &transport{provider: p, format: format}, sc)
}

// batchRequest is the JSON body of a batch transcription request.
type batchRequest struct {
	Audio      string `json:"audio"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Model      string `json:"model,omitempty"`
	Language   string `json:"language,omitempty"`
}

// Transcribe implements asr.Provider.
func (p *Provider) Transcribe(ctx context.Context, chunk types.AudioChunk) (types.TranscriptionResult, error) {
	if len(chunk.Data) == 0 {
		return types.TranscriptionResult{}, fmt.Errorf("proxy: %w", asr.ErrNoAudioData)
	}

	format := chunk.Format
	if format == (types.AudioFormat{}) {
		format = types.DefaultFormat
	}
	body := batchRequest{
		Audio:      base64.StdEncoding.EncodeToString(chunk.Data),
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
	}
	if len(p.models) > 0 {
		body.Model = p.models[0]
	}
	if len(p.languages) > 0 {
		body.Language = p.languages[0]
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return types.TranscriptionResult{}, fmt.Errorf("proxy: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+batchPath, bytes.NewReader(payload))
	if err != nil {
		return types.TranscriptionResult{}, fmt.Errorf("proxy: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return types.TranscriptionResult{}, fmt.Errorf("proxy: request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return types.TranscriptionResult{}, fmt.Errorf("proxy: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return types.TranscriptionResult{}, &asr.APIError{Status: resp.StatusCode, Message: string(data)}
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return types.TranscriptionResult{}, fmt.Errorf("proxy: decode response: %w", err)
	}
	res, ok := extract.Extract(v)
	if !ok || res.Text == "" {
		return types.TranscriptionResult{}, &asr.TranscriptionError{Reason: "empty response"}
	}
	return types.TranscriptionResult{
		Text:     res.Text,
		IsFinal:  true,
		Language: types.DetectLanguage(res.Text),
	}, nil
}

// ---- streaming transport ----

type transport struct {
	provider *Provider
	format   types.AudioFormat
}

// Dial implements stream.Transport. It opens the chunked POST that carries
// the whole session: audio up the request pipe, NDJSON events down the
// response body.
func (t *transport) Dial(ctx context.Context, model, language string) (stream.Conn, error) {
	p := t.provider

	u, err := url.Parse(p.baseURL + streamPath)
	if err != nil {
		return nil, fmt.Errorf("proxy: parse URL: %w", err)
	}
	q := u.Query()
	if model != "" {
		q.Set("model", model)
	}
	if language != "" {
		q.Set("language", language)
	}
	q.Set("sample_rate", strconv.Itoa(t.format.SampleRate))
	q.Set("channels", strconv.Itoa(t.format.Channels))
	u.RawQuery = q.Encode()

	pr, pw := io.Pipe()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), pr)
	if err != nil {
		pw.Close()
		return nil, fmt.Errorf("proxy: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		pw.Close()
		return nil, fmt.Errorf("proxy: dial: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		pw.Close()
		return nil, &asr.APIError{Status: resp.StatusCode, Message: string(body)}
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64<<10), maxEventLine)
	return &conn{writer: pw, body: resp.Body, scanner: sc}, nil
}

// conn is one live NDJSON streaming connection.
type conn struct {
	writer  *io.PipeWriter
	body    io.ReadCloser
	scanner *bufio.Scanner

	mu        sync.Mutex
	eofSeen   bool
	closeOnce sync.Once
}

// SendStart implements stream.Conn. Session config travels in the URL.
func (c *conn) SendStart(ctx context.Context) error { return nil }

// SendAudio implements stream.Conn.
func (c *conn) SendAudio(ctx context.Context, frame []byte) error {
	if _, err := c.writer.Write(frame); err != nil {
		return fmt.Errorf("proxy: %w: %w", asr.ErrConnectionLost, err)
	}
	return nil
}

// SendStop implements stream.Conn. Closing the request body signals
// end-of-stream; the backend flushes remaining events and ends the response.
func (c *conn) SendStop(ctx context.Context) error {
	if err := c.writer.Close(); err != nil {
		return fmt.Errorf("proxy: close request body: %w", err)
	}
	return nil
}

// streamEvent is the routing subset of one NDJSON event.
type streamEvent struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// Receive implements stream.Conn. A clean end of the response body is
// reported once as a terminal message.
func (c *conn) Receive(ctx context.Context) (stream.Message, error) {
	for {
		if !c.scanner.Scan() {
			if err := c.scanner.Err(); err != nil {
				return stream.Message{}, fmt.Errorf("proxy: %w: %w", asr.ErrConnectionLost, err)
			}
			c.mu.Lock()
			seen := c.eofSeen
			c.eofSeen = true
			c.mu.Unlock()
			if seen {
				return stream.Message{}, fmt.Errorf("proxy: %w: response ended", asr.ErrConnectionLost)
			}
			return stream.Message{Terminal: true}, nil
		}

		line := bytes.TrimSpace(c.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal(line, &ev); err == nil && ev.Error != "" {
			return stream.Message{}, &asr.APIError{Status: ev.Code, Message: ev.Error}
		}

		var v any
		if err := json.Unmarshal(line, &v); err != nil {
			continue
		}
		res, ok := extract.Extract(v)
		if !ok {
			continue
		}
		return stream.Message{
			Text:     res.Text,
			IsFinal:  res.IsFinal,
			Terminal: res.Terminal,
		}, nil
	}
}

// Close implements stream.Conn.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.writer.Close()
		_ = c.body.Close()
	})
	return nil
}

var (
	_ asr.Provider = (*Provider)(nil)
	_ stream.Conn  = (*conn)(nil)
)
