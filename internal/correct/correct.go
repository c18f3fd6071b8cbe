// Package correct implements a language-model post-correction stage for
// final dictation transcripts: punctuation repair, obvious homophone fixes,
// and removal of recognizer stutter, while leaving the content alone.
//
// This stage runs exclusively after a final transcript is settled — never on
// the realtime partial path — so the added latency is acceptable. When the
// LLM response cannot be parsed, or the corrected text diverges too far from
// the original, the corrector returns the original text unchanged rather than
// surfacing an error.
package correct

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/antzucaro/matchr"
	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/saytext/saytext/pkg/types"
)

const (
	defaultTemperature   = 0.1
	defaultMaxDivergence = 0.3
)

// systemPrompt instructs the model to repair without rewriting.
const systemPrompt = `You are a dictation transcript cleanup assistant.

Your task: minimally clean up the transcript of dictated speech.

Rules:
- Fix punctuation and capitalisation.
- Fix obvious homophone errors only when the surrounding words make the intended word unambiguous.
- Remove recognizer stutter (immediately repeated words or phrases).
- Do NOT rephrase, summarise, translate, or add content.
- Preserve the language of the input, including mixed Chinese/English text.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"corrected_text": "<full corrected transcript>"}

If no cleanup is needed, return corrected_text equal to the input.`

// llmResponse is the expected JSON structure returned by the model.
type llmResponse struct {
	CorrectedText string `json:"corrected_text"`
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithTemperature sets the sampling temperature. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(c *Corrector) {
		c.temperature = temp
	}
}

// WithMaxDivergence sets the rejection threshold: a corrected text whose
// Jaro-Winkler distance from the original exceeds this value is discarded.
// Default: 0.3.
func WithMaxDivergence(d float64) Option {
	return func(c *Corrector) {
		if d > 0 {
			c.maxDivergence = d
		}
	}
}

// WithBaseURL overrides the API base URL for OpenAI-compatible gateways.
func WithBaseURL(url string) Option {
	return func(c *Corrector) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Corrector) {
		c.timeout = d
	}
}

// WithStageFunc registers a stage-event callback invoked after each
// correction attempt.
func WithStageFunc(fn types.StageFunc) Option {
	return func(c *Corrector) {
		c.onStage = fn
	}
}

// Corrector cleans up final transcripts via a chat model. It is safe for
// concurrent use.
type Corrector struct {
	client        oai.Client
	model         string
	temperature   float64
	maxDivergence float64
	baseURL       string
	timeout       time.Duration
	onStage       types.StageFunc
}

// New returns a [Corrector]. apiKey and model must be non-empty.
func New(apiKey, model string, opts ...Option) (*Corrector, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("correct: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("correct: model must not be empty")
	}

	c := &Corrector{
		model:         model,
		temperature:   defaultTemperature,
		maxDivergence: defaultMaxDivergence,
	}
	for _, o := range opts {
		o(c)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if c.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(c.baseURL))
	}
	if c.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: c.timeout,
		}))
	}
	c.client = oai.NewClient(reqOpts...)
	return c, nil
}

// Correct sends text to the model and returns the cleaned transcript.
//
// When the response is unparseable or diverges too far from the input, the
// original text is returned with a nil error (graceful degradation — the
// dictation flow must continue). Context cancellation and network errors are
// returned as non-nil errors.
func (c *Corrector) Correct(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: oai.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(text),
		},
		Temperature: oai.Float(c.temperature),
	})
	if err != nil {
		c.emitStage(text, text, time.Since(start), err.Error())
		return text, fmt.Errorf("correct: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		c.emitStage(text, text, time.Since(start), "empty choices")
		return text, nil
	}

	corrected, parseErr := parseResponse(resp.Choices[0].Message.Content, text)
	if parseErr != nil {
		// Unparseable response: keep the original.
		c.emitStage(text, text, time.Since(start), "unparseable response")
		return text, nil
	}

	if rejected, why := c.rejectDivergent(text, corrected); rejected {
		c.emitStage(text, text, time.Since(start), why)
		return text, nil
	}

	c.emitStage(text, corrected, time.Since(start), "")
	return corrected, nil
}

// rejectDivergent guards against the model rewriting instead of cleaning:
// the corrected text must stay within maxDivergence Jaro-Winkler distance of
// the original.
func (c *Corrector) rejectDivergent(original, corrected string) (bool, string) {
	if corrected == "" {
		return true, "empty corrected text"
	}
	similarity := matchr.JaroWinkler(original, corrected, false)
	if 1-similarity > c.maxDivergence {
		return true, fmt.Sprintf("divergence %.2f exceeds limit %.2f", 1-similarity, c.maxDivergence)
	}
	return false, ""
}

func (c *Corrector) emitStage(original, final string, latency time.Duration, message string) {
	if c.onStage == nil {
		return
	}
	c.onStage(types.StageEvent{
		Stage:   "correction",
		Event:   "corrected",
		Latency: latency,
		Changed: original != final,
		Message: message,
	})
}

// parseResponse attempts to unmarshal the model output into an [llmResponse].
// It strips markdown code fences before parsing.
func parseResponse(content, originalText string) (string, error) {
	cleaned := stripMarkdown(content)

	var r llmResponse
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return "", fmt.Errorf("correct: parse response: %w", err)
	}
	if r.CorrectedText == "" {
		return originalText, nil
	}
	return r.CorrectedText, nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
