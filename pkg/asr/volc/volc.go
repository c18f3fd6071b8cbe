// Package volc provides an ASR provider for Volcengine-style realtime
// endpoints speaking the binary-framed WebSocket protocol implemented in
// protocol.go. Responses are gzip-compressed JSON payloads wrapped in binary
// frames; request audio is sent as gzip-compressed audio-only frames with a
// running sequence number.
package volc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/saytext/saytext/pkg/asr"
	"github.com/saytext/saytext/pkg/asr/extract"
	"github.com/saytext/saytext/pkg/asr/stream"
	"github.com/saytext/saytext/pkg/types"
)

const (
	defaultEndpoint = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel"
	defaultModel    = "bigmodel"

	// batchFrameBytes is the slice size used when replaying a batch buffer
	// through a streaming session (100ms of 16kHz mono 16-bit PCM).
	batchFrameBytes = 3200
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithEndpoint overrides the WebSocket endpoint URL. Used for tests and
// self-hosted gateways.
func WithEndpoint(url string) Option {
	return func(p *Provider) {
		p.endpoint = url
	}
}

// WithModels sets the ordered model candidates tried by streaming sessions.
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

// WithResourceID sets the X-Api-Resource-Id header value.
func WithResourceID(id string) Option {
	return func(p *Provider) {
		p.resourceID = id
	}
}

// WithStreamConfig overrides the session tuning (retries, backoff, stop
// polling). Provider, Models, and Languages are filled in per session.
func WithStreamConfig(cfg stream.Config) Option {
	return func(p *Provider) {
		p.streamCfg = cfg
	}
}

// Provider implements asr.Provider against a Volcengine-style endpoint.
type Provider struct {
	appKey     string
	accessKey  string
	endpoint   string
	resourceID string
	models     []string
	languages  []string
	streamCfg  stream.Config
}

// New creates a Volcengine Provider. Both appKey and accessKey must be
// non-empty.
func New(appKey, accessKey string, opts ...Option) (*Provider, error) {
	if appKey == "" || accessKey == "" {
		return nil, fmt.Errorf("volc: %w", asr.ErrCredentialsMissing)
	}
	p := &Provider{
		appKey:     appKey,
		accessKey:  accessKey,
		endpoint:   defaultEndpoint,
		resourceID: "volc.bigasr.sauc.duration",
		models:     []string{defaultModel},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements asr.Provider.
func (p *Provider) Name() string { return "volc" }

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

// Transcribe implements asr.Provider. The realtime endpoint has no separate
// batch API, so the buffer is replayed through a short streaming session.
func (p *Provider) Transcribe(ctx context.Context, audio types.AudioChunk) (types.TranscriptionResult, error) {
	if len(audio.Data) == 0 {
		return types.TranscriptionResult{}, fmt.Errorf("volc: %w", asr.ErrNoAudioData)
	}

	sess, err := p.StartStream(ctx, asr.StreamConfig{Format: audio.Format})
	if err != nil {
		return types.TranscriptionResult{}, err
	}

	for off := 0; off < len(audio.Data); off += batchFrameBytes {
		end := off + batchFrameBytes
		if end > len(audio.Data) {
			end = len(audio.Data)
		}
		if err := sess.FeedAudio(audio.Data[off:end]); err != nil {
			_, _ = sess.Stop(ctx)
			return types.TranscriptionResult{}, fmt.Errorf("volc: feed audio: %w", err)
		}
	}

	final, err := sess.Stop(ctx)
	if err != nil {
		return types.TranscriptionResult{}, err
	}
	if final == nil {
		return types.TranscriptionResult{}, &asr.TranscriptionError{Reason: "no transcript produced"}
	}
	return *final, nil
}

// transport dials binary-protocol connections for one streaming session.
type transport struct {
	provider *Provider
	format   types.AudioFormat
}

// Dial implements stream.Transport.
func (t *transport) Dial(ctx context.Context, model, language string) (stream.Conn, error) {
	p := t.provider

	headers := http.Header{}
	headers.Set("X-Api-App-Key", p.appKey)
	headers.Set("X-Api-Access-Key", p.accessKey)
	headers.Set("X-Api-Resource-Id", p.resourceID)
	headers.Set("X-Api-Connect-Id", uuid.NewString())

	ws, resp, err := websocket.Dial(ctx, p.endpoint, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, &asr.APIError{Status: resp.StatusCode, Message: resp.Status}
		}
		return nil, fmt.Errorf("volc: dial: %w", err)
	}
	// Server responses can exceed the 32KiB default.
	ws.SetReadLimit(1 << 20)

	if model == "" {
		model = defaultModel
	}
	return &conn{
		ws:       ws,
		model:    model,
		language: language,
		format:   t.format,
	}, nil
}

// startRequest is the JSON payload of the full-client-request frame.
type startRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	Audio struct {
		Format   string `json:"format"`
		Rate     int    `json:"rate"`
		Bits     int    `json:"bits"`
		Channel  int    `json:"channel"`
		Language string `json:"language,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName  string `json:"model_name"`
		EnablePunc bool   `json:"enable_punc"`
	} `json:"request"`
}

// conn is one live binary-protocol connection. Sequence numbering starts at 1
// with the start frame and increments per audio frame.
type conn struct {
	ws       *websocket.Conn
	model    string
	language string
	format   types.AudioFormat

	mu  sync.Mutex
	seq uint32

	closeOnce sync.Once
}

// SendStart implements stream.Conn.
func (c *conn) SendStart(ctx context.Context) error {
	var req startRequest
	req.User.UID = uuid.NewString()
	req.Audio.Format = "pcm"
	req.Audio.Rate = c.format.SampleRate
	req.Audio.Bits = c.format.BitDepth
	req.Audio.Channel = c.format.Channels
	req.Audio.Language = c.language
	req.Request.ModelName = c.model
	req.Request.EnablePunc = true

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("volc: marshal start request: %w", err)
	}
	return c.writeFrame(ctx, MsgTypeFullClient, FlagHasSequence, payload)
}

// SendAudio implements stream.Conn.
func (c *conn) SendAudio(ctx context.Context, frame []byte) error {
	return c.writeFrame(ctx, MsgTypeAudioOnly, FlagHasSequence, frame)
}

// SendStop implements stream.Conn. End-of-stream is an empty audio frame
// carrying the last-packet flag.
func (c *conn) SendStop(ctx context.Context) error {
	return c.writeFrame(ctx, MsgTypeAudioOnly, FlagHasSequence|FlagLastPacket, nil)
}

func (c *conn) writeFrame(ctx context.Context, messageType, flags byte, payload []byte) error {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	data, err := EncodeFrame(messageType, flags, SerializationJSON, CompressionGzip, seq, payload)
	if err != nil {
		return fmt.Errorf("volc: encode frame: %w", err)
	}
	if err := c.ws.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("volc: %w: %w", asr.ErrConnectionLost, err)
	}
	return nil
}

// Receive implements stream.Conn. Frames whose payload candidates yield no
// recognizable transcript shape are skipped.
func (c *conn) Receive(ctx context.Context) (stream.Message, error) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return stream.Message{}, fmt.Errorf("volc: %w: %w", asr.ErrConnectionLost, err)
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			return stream.Message{}, fmt.Errorf("volc: decode frame: %w", err)
		}

		if frame.MessageType == MsgTypeError {
			return stream.Message{}, &asr.APIError{
				Status:  statusFromCode(frame.ErrorCode),
				Message: frame.ErrorMessage,
			}
		}

		msg, ok := decodeResponse(frame)
		if !ok {
			continue
		}
		return msg, nil
	}
}

// decodeResponse walks the frame's payload candidates in order and returns
// the first one that parses as JSON with a recognizable transcript shape.
func decodeResponse(frame Frame) (stream.Message, bool) {
	terminal := frame.Flags&FlagLastPacket != 0
	for _, payload := range frame.PayloadCandidates {
		var v any
		if err := json.Unmarshal(payload, &v); err != nil {
			continue
		}
		res, ok := extract.Extract(v)
		if !ok {
			continue
		}
		return stream.Message{
			Text:     res.Text,
			IsFinal:  res.IsFinal,
			Terminal: res.Terminal || terminal,
		}, true
	}
	if terminal {
		return stream.Message{Terminal: true}, true
	}
	return stream.Message{}, false
}

// statusFromCode maps the vendor's error code space onto HTTP-like statuses
// so the session's candidate-error classifier applies.
func statusFromCode(code uint32) int {
	switch {
	case code >= 45000000 && code < 46000000: // client request errors
		return 400
	case code == 45000001 || code == 45000002:
		return 401
	default:
		return 0
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
	_ asr.Provider = (*Provider)(nil)
	_ stream.Conn  = (*conn)(nil)
)
