// Package openai provides a batch-only ASR provider backed by the OpenAI
// audio transcription API. The API has no realtime PCM streaming endpoint, so
// StartStream reports asr.ErrStreamingNotSupported.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/saytext/saytext/pkg/asr"
	"github.com/saytext/saytext/pkg/audio"
	"github.com/saytext/saytext/pkg/types"
)

const defaultModel = "gpt-4o-mini-transcribe"

// Option is a functional option for configuring the Provider.
type Option func(*config)

// config holds optional configuration for the provider.
type config struct {
	baseURL  string
	models   []string
	language string
	timeout  time.Duration
}

// WithBaseURL overrides the default OpenAI API base URL. Used for tests and
// OpenAI-compatible gateways.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModels sets the ordered model candidates (e.g., "gpt-4o-transcribe",
// "whisper-1").
func WithModels(models []string) Option {
	return func(c *config) {
		c.models = models
	}
}

// WithLanguage sets the ISO-639-1 language hint sent with each request.
func WithLanguage(language string) Option {
	return func(c *config) {
		c.language = language
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Provider implements asr.Provider using the OpenAI transcription API.
type Provider struct {
	client   oai.Client
	models   []string
	language string
}

// New constructs a new OpenAI transcription Provider. apiKey must be
// non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: %w", asr.ErrCredentialsMissing)
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	models := cfg.models
	if len(models) == 0 {
		models = []string{defaultModel}
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		models:   models,
		language: cfg.language,
	}, nil
}

// Name implements asr.Provider.
func (p *Provider) Name() string { return "openai" }

// Models implements asr.ModelTranscriber.
func (p *Provider) Models() []string { return p.models }

// StartStream implements asr.Provider.
func (p *Provider) StartStream(ctx context.Context, cfg asr.StreamConfig) (asr.Session, error) {
	return nil, fmt.Errorf("openai: %w", asr.ErrStreamingNotSupported)
}

// Transcribe implements asr.Provider with the provider's preferred model.
func (p *Provider) Transcribe(ctx context.Context, chunk types.AudioChunk) (types.TranscriptionResult, error) {
	return p.TranscribeModel(ctx, p.models[0], chunk)
}

// TranscribeModel implements asr.ModelTranscriber.
func (p *Provider) TranscribeModel(ctx context.Context, model string, chunk types.AudioChunk) (types.TranscriptionResult, error) {
	if len(chunk.Data) == 0 {
		return types.TranscriptionResult{}, fmt.Errorf("openai: %w", asr.ErrNoAudioData)
	}

	wavData, err := audio.BuildWAV(chunk.Data, chunk.Format)
	if err != nil {
		return types.TranscriptionResult{}, fmt.Errorf("openai: %w", err)
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wavData), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(model),
	}
	if p.language != "" {
		params.Language = oai.String(p.language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		var apierr *oai.Error
		if errors.As(err, &apierr) {
			return types.TranscriptionResult{}, &asr.APIError{
				Status:  apierr.StatusCode,
				Message: apierr.Error(),
			}
		}
		return types.TranscriptionResult{}, fmt.Errorf("openai: transcription: %w", err)
	}
	if resp.Text == "" {
		return types.TranscriptionResult{}, &asr.TranscriptionError{Reason: "empty transcript"}
	}

	return types.TranscriptionResult{
		Text:     resp.Text,
		IsFinal:  true,
		Language: types.DetectLanguage(resp.Text),
	}, nil
}

var (
	_ asr.Provider         = (*Provider)(nil)
	_ asr.ModelTranscriber = (*Provider)(nil)
)
