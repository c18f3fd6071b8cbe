package dictation

import (
	"context"
	"errors"
	"strings"

	"github.com/saytext/saytext/pkg/asr"
	"github.com/saytext/saytext/pkg/types"
)

// recoverableSignatures are substrings in vendor error bodies that indicate
// the request might succeed with a different model, so the ladder should
// advance instead of surfacing the error.
var recoverableSignatures = []string{
	"insufficient_permissions",
	"model",
	"language",
	"format",
	"unsupported",
}

// recoverableStatuses are HTTP statuses worth retrying with another model.
// Auth-level failures (401) and rate limits (429) apply to the whole account
// and are surfaced immediately.
var recoverableStatuses = map[int]bool{
	400: true,
	403: true,
	404: true,
	415: true,
	422: true,
}

// recoverable classifies a batch error: true means the next model candidate
// should be tried, false means the failure is model-independent.
func recoverable(err error) bool {
	var terr *asr.TranscriptionError
	if errors.As(err, &terr) {
		// Empty or unparseable responses are often model-specific.
		return true
	}
	var aerr *asr.APIError
	if errors.As(err, &aerr) {
		if recoverableStatuses[aerr.Status] {
			return true
		}
		msg := strings.ToLower(aerr.Message)
		for _, sig := range recoverableSignatures {
			if strings.Contains(msg, sig) {
				return true
			}
		}
	}
	return false
}

// transcribeLadder walks the provider's model candidates in order, advancing
// on recoverable failures and empty transcripts. The error surfaced after
// exhaustion is the last underlying one, so the caller keeps the diagnostic
// detail of the final attempt.
func transcribeLadder(ctx context.Context, p asr.ModelTranscriber, audio types.AudioChunk) (types.TranscriptionResult, error) {
	models := p.Models()
	if len(models) == 0 {
		models = []string{""}
	}

	var lastErr error
	for _, model := range models {
		res, err := p.TranscribeModel(ctx, model, audio)
		if err == nil {
			if res.Text != "" {
				return res, nil
			}
			lastErr = &asr.TranscriptionError{Reason: "empty transcript from model " + model}
			continue
		}
		if ctx.Err() != nil {
			return types.TranscriptionResult{}, err
		}
		lastErr = err
		if !recoverable(err) {
			break
		}
	}
	return types.TranscriptionResult{}, lastErr
}
