package stream

import (
	"errors"
	"strings"

	"github.com/saytext/saytext/pkg/asr"
)

// Candidate is one (model, language) configuration to try. Empty fields mean
// "provider default".
type Candidate struct {
	Model    string
	Language string
}

// Candidates expands ordered model and language lists into the ordered,
// deduplicated ladder of (model, language) pairs tried by a session.
// Language candidates are exhausted before the next model is tried. Empty
// input lists contribute a single default ("") entry.
func Candidates(models, languages []string) []Candidate {
	if len(models) == 0 {
		models = []string{""}
	}
	if len(languages) == 0 {
		languages = []string{""}
	}
	seen := make(map[Candidate]struct{}, len(models)*len(languages))
	out := make([]Candidate, 0, len(models)*len(languages))
	for _, m := range models {
		for _, l := range languages {
			c := Candidate{Model: m, Language: l}
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// candidateErrorCodes are HTTP-like status codes that signal the current
// (model, language) pair is rejected rather than the connection being flaky.
var candidateErrorCodes = []int{400, 401, 403, 404, 422}

// candidateErrorSignals are error-text fragments with the same meaning,
// matched case-insensitively.
var candidateErrorSignals = []string{
	"insufficient_permissions",
	"not available",
	"access denied",
	"not authorized",
	"unauthorized",
	"unsupported language",
	"unsupported model",
	"model not found",
	"invalid model",
}

// IsCandidateError classifies an error as "recoverable via an alternate
// model/language candidate": authorization and compatibility rejections for
// which reconnecting with the same configuration would fail identically.
func IsCandidateError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *asr.APIError
	if errors.As(err, &apiErr) {
		for _, code := range candidateErrorCodes {
			if apiErr.Status == code {
				return true
			}
		}
	}
	msg := strings.ToLower(err.Error())
	for _, code := range []string{"400", "401", "403", "404", "422"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	for _, signal := range candidateErrorSignals {
		if strings.Contains(msg, signal) {
			return true
		}
	}
	return false
}
