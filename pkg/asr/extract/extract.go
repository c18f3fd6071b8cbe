// Package extract locates transcript text and stream-control signals inside
// loosely-structured ASR provider payloads.
//
// Realtime ASR vendors disagree on where the transcript lives: some nest it
// under result/alternatives, some under channel, some under utterances, and
// field names have drifted across API generations. Rather than hardcoding a
// struct per vendor (and breaking on the next schema revision), extraction is
// a depth-bounded walk over the decoded JSON value that tries a prioritized
// list of container keys and text fields. A single malformed payload yields
// "no result", never an error.
package extract

import "strings"

// maxDepth bounds the recursive walk so a pathological or adversarial payload
// cannot drive unbounded traversal.
const maxDepth = 5

// containerKeys are the nesting keys descended into, in priority order.
// The list covers current and historical field conventions of the supported
// vendors plus common generic envelopes.
var containerKeys = []string{
	"result", "results",
	"channel", "channels",
	"alternatives", "utterances",
	"data", "payload", "response",
	"paragraphs", "output", "sentence",
	"metadata",
}

// finalStatusValues are string status/event values that mark a result as
// final, compared case-insensitively.
var finalStatusValues = []string{"final", "finalized", "completed", "ended"}

// terminalEventValues are event values that mark end-of-stream, independent
// of whether the message carries text.
var terminalEventValues = []string{"end", "final", "complete"}

// Result is the outcome of extracting one provider message.
type Result struct {
	// Text is the transcript fragment, trimmed. May be empty when the
	// message is a terminal signal without text.
	Text string

	// IsFinal reports whether the message marks its text as settled.
	IsFinal bool

	// Terminal reports an end-of-stream signal.
	Terminal bool
}

// Extract interprets one decoded JSON message. The boolean is false when the
// message carries neither text nor a terminal signal and should be skipped.
//
// A terminal message without text is returned as an explicit empty-but-final
// Result (ok == true) so the caller can decide whether to promote the last
// partial instead of treating the session as empty.
func Extract(payload any) (Result, bool) {
	text := Text(payload)
	terminal := Terminal(payload)
	if text == "" && !terminal {
		return Result{}, false
	}
	return Result{
		Text:     text,
		IsFinal:  IsFinal(payload) || (terminal && text != ""),
		Terminal: terminal,
	}, true
}

// Text finds the first non-empty transcript string anywhere in payload,
// trying direct text fields before descending into container keys.
// Returns "" when nothing usable is found.
func Text(payload any) string {
	return findText(payload, 0)
}

func findText(v any, depth int) string {
	if depth > maxDepth {
		return ""
	}
	switch val := v.(type) {
	case map[string]any:
		if s := directText(val); s != "" {
			return s
		}
		for _, key := range containerKeys {
			child, ok := val[key]
			if !ok {
				continue
			}
			if s := findText(child, depth+1); s != "" {
				return s
			}
		}
	case []any:
		for _, item := range val {
			if s := findText(item, depth+1); s != "" {
				return s
			}
		}
	}
	return ""
}

// directText reads the text fields of a single object in priority order:
// text, transcript, alternatives[0].transcript, joined words[].word, joined
// utterances[].text.
func directText(m map[string]any) string {
	if s := stringField(m, "text"); s != "" {
		return s
	}
	if s := stringField(m, "transcript"); s != "" {
		return s
	}
	if alts, ok := m["alternatives"].([]any); ok && len(alts) > 0 {
		if alt, ok := alts[0].(map[string]any); ok {
			if s := stringField(alt, "transcript"); s != "" {
				return s
			}
		}
	}
	if s := joinedField(m, "words", "word"); s != "" {
		return s
	}
	if s := joinedField(m, "utterances", "text"); s != "" {
		return s
	}
	return ""
}

// IsFinal resolves the "is this final" flag, checking boolean fields first
// and string status/event values second.
func IsFinal(payload any) bool {
	m, ok := payload.(map[string]any)
	if !ok {
		return false
	}
	if v, ok := boolField(m, "is_final"); ok {
		return v
	}
	for _, container := range []string{"channel", "metadata", "results", "result"} {
		if child, ok := m[container].(map[string]any); ok {
			if v, ok := boolField(child, "is_final"); ok {
				return v
			}
		}
	}
	if v, ok := boolField(m, "speech_final"); ok {
		return v
	}
	for _, key := range []string{"status", "event"} {
		if s := stringField(m, key); s != "" {
			for _, want := range finalStatusValues {
				if strings.EqualFold(s, want) {
					return true
				}
			}
		}
	}
	return false
}

// Terminal resolves an end-of-stream signal: an is_end flag or a terminal
// event/type value. Terminal is independent of whether text is present.
func Terminal(payload any) bool {
	m, ok := payload.(map[string]any)
	if !ok {
		return false
	}
	if v, ok := boolField(m, "is_end"); ok && v {
		return true
	}
	for _, key := range []string{"event", "type"} {
		if s := stringField(m, key); s != "" {
			for _, want := range terminalEventValues {
				if strings.EqualFold(s, want) {
					return true
				}
			}
		}
	}
	return false
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func boolField(m map[string]any, key string) (bool, bool) {
	v, ok := m[key].(bool)
	return v, ok
}

// joinedField joins child[field] strings of the list at m[key] with spaces.
func joinedField(m map[string]any, key, field string) string {
	items, ok := m[key].([]any)
	if !ok || len(items) == 0 {
		return ""
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		child, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if s := stringField(child, field); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
