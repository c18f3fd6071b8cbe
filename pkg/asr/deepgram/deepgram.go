// Package deepgram provides a Deepgram-backed ASR provider with both the
// streaming WebSocket API and the prerecorded REST API.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/saytext/saytext/pkg/asr"
	"github.com/saytext/saytext/pkg/asr/extract"
	"github.com/saytext/saytext/pkg/asr/stream"
	"github.com/saytext/saytext/pkg/audio"
	"github.com/saytext/saytext/pkg/types"
)

const (
	streamEndpoint = "wss://api.deepgram.com/v1/listen"
	batchEndpoint  = "https://api.deepgram.com/v1/listen"
	defaultModel   = "nova-3"
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModels sets the ordered model candidates (e.g., "nova-3", "nova-2").
func WithModels(models []string) Option {
	return func(p *Provider) {
		p.models = models
	}
}

// WithLanguages sets the ordered BCP-47 language-hint candidates.
func WithLanguages(languages []string) Option {
	return func(p *Provider) {
		p.languages = languages
	}
}

// WithEndpoints overrides the streaming and batch endpoint URLs. Used for
// tests and self-hosted Deepgram deployments.
func WithEndpoints(streamURL, batchURL string) Option {
	return func(p *Provider) {
		if streamURL != "" {
			p.streamURL = streamURL
		}
		if batchURL != "" {
			p.batchURL = batchURL
		}
	}
}

// WithHTTPClient overrides the HTTP client used by the batch path.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// WithStreamConfig overrides the streaming session tuning.
func WithStreamConfig(cfg stream.Config) Option {
	return func(p *Provider) {
		p.streamCfg = cfg
	}
}

// Provider implements asr.Provider backed by the Deepgram API.
type Provider struct {
	apiKey     string
	models     []string
	languages  []string
	streamURL  string
	batchURL   string
	httpClient *http.Client
	streamCfg  stream.Config
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram: %w", asr.ErrCredentialsMissing)
	}
	p := &Provider{
		apiKey:     apiKey,
		models:     []string{defaultModel},
		streamURL:  streamEndpoint,
		batchURL:   batchEndpoint,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements asr.Provider.
func (p *Provider) Name() string { return "deepgram" }

// Models implements asr.ModelTranscriber.
func (p *Provider) Models() []string { return p.models }

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

// Transcribe implements asr.Provider using the prerecorded REST API with the
// provider's preferred model.
func (p *Provider) Transcribe(ctx context.Context, chunk types.AudioChunk) (types.TranscriptionResult, error) {
	model := ""
	if len(p.models) > 0 {
		model = p.models[0]
	}
	return p.TranscribeModel(ctx, model, chunk)
}

// TranscribeModel implements asr.ModelTranscriber.
func (p *Provider) TranscribeModel(ctx context.Context, model string, chunk types.AudioChunk) (types.TranscriptionResult, error) {
	if len(chunk.Data) == 0 {
		return types.TranscriptionResult{}, fmt.Errorf("deepgram: %w", asr.ErrNoAudioData)
	}

	wavData, err := audio.BuildWAV(chunk.Data, chunk.Format)
	if err != nil {
		return types.TranscriptionResult{}, fmt.Errorf("deepgram: %w", err)
	}

	reqURL, err := p.buildBatchURL(model)
	if err != nil {
		return types.TranscriptionResult{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(wavData))
	if err != nil {
		return types.TranscriptionResult{}, fmt.Errorf("deepgram: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return types.TranscriptionResult{}, fmt.Errorf("deepgram: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return types.TranscriptionResult{}, fmt.Errorf("deepgram: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return types.TranscriptionResult{}, &asr.APIError{Status: resp.StatusCode, Message: string(body)}
	}

	return parseBatchResponse(body)
}

// buildBatchURL constructs the prerecorded endpoint URL.
func (p *Provider) buildBatchURL(model string) (string, error) {
	u, err := url.Parse(p.batchURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if model != "" {
		q.Set("model", model)
	}
	if len(p.languages) > 0 && p.languages[0] != "" {
		q.Set("language", p.languages[0])
	}
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// batchResponse is the JSON shape of a prerecorded transcription response.
type batchResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Word       string  `json:"word"`
					Start      float64 `json:"start"`
					End        float64 `json:"end"`
					Confidence float64 `json:"confidence"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func parseBatchResponse(body []byte) (types.TranscriptionResult, error) {
	var parsed batchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return types.TranscriptionResult{}, fmt.Errorf("deepgram: decode response: %w", err)
	}
	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return types.TranscriptionResult{}, &asr.TranscriptionError{Reason: "empty response"}
	}

	alt := parsed.Results.Channels[0].Alternatives[0]
	result := types.TranscriptionResult{
		Text:     alt.Transcript,
		IsFinal:  true,
		Language: types.DetectLanguage(alt.Transcript),
	}
	for _, w := range alt.Words {
		result.WordConfidences = append(result.WordConfidences, types.WordConfidence{
			Word:       w.Word,
			Start:      w.Start,
			End:        w.End,
			Confidence: w.Confidence,
		})
	}
	return result, nil
}

// ---- streaming transport ----

// transport dials streaming connections; session config is carried in the
// URL's query parameters, so SendStart is a no-op.
type transport struct {
	provider *Provider
	format   types.AudioFormat
}

// Dial implements stream.Transport.
func (t *transport) Dial(ctx context.Context, model, language string) (stream.Conn, error) {
	wsURL, err := t.buildStreamURL(model, language)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.provider.apiKey)

	ws, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, &asr.APIError{Status: resp.StatusCode, Message: resp.Status}
		}
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	return &conn{ws: ws}, nil
}

// buildStreamURL constructs the streaming endpoint URL for one candidate.
func (t *transport) buildStreamURL(model, language string) (string, error) {
	u, err := url.Parse(t.provider.streamURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	if model == "" {
		model = defaultModel
	}
	q.Set("model", model)
	if language != "" {
		q.Set("language", language)
	}
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(t.format.SampleRate))
	if t.format.Channels > 0 {
		q.Set("channels", strconv.Itoa(t.format.Channels))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// streamEvent is the subset of streaming message fields needed for routing;
// transcript text is pulled out by the generic extractor.
type streamEvent struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

// conn is one live streaming connection.
type conn struct {
	ws        *websocket.Conn
	closeOnce sync.Once
}

// SendStart implements stream.Conn. Session config travels in the URL.
func (c *conn) SendStart(ctx context.Context) error { return nil }

// SendAudio implements stream.Conn.
func (c *conn) SendAudio(ctx context.Context, frame []byte) error {
	if err := c.ws.Write(ctx, websocket.MessageBinary, frame); err != nil {
		return fmt.Errorf("deepgram: %w: %w", asr.ErrConnectionLost, err)
	}
	return nil
}

// SendStop implements stream.Conn. CloseStream flushes any buffered audio
// and makes the server emit the remaining finals followed by Metadata.
func (c *conn) SendStop(ctx context.Context) error {
	if err := c.ws.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: %w: %w", asr.ErrConnectionLost, err)
	}
	return nil
}

// Receive implements stream.Conn.
func (c *conn) Receive(ctx context.Context) (stream.Message, error) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return stream.Message{}, fmt.Errorf("deepgram: %w: %w", asr.ErrConnectionLost, err)
		}

		var ev streamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "Metadata":
			// Sent after CloseStream once all results are flushed.
			return stream.Message{Terminal: true}, nil
		case "Error":
			msg := ev.Description
			if msg == "" {
				msg = ev.Message
			}
			return stream.Message{}, &asr.APIError{Message: msg}
		}

		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			continue
		}
		res, ok := extract.Extract(v)
		if !ok {
			continue
		}
		return stream.Message{
			Text:     res.Text,
			IsFinal:  ev.IsFinal || res.IsFinal,
			Terminal: res.Terminal,
		}, nil
	}
}

// Close implements stream.Conn.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.ws.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

var (
	_ asr.Provider         = (*Provider)(nil)
	_ asr.ModelTranscriber = (*Provider)(nil)
	_ stream.Conn          = (*conn)(nil)
)
