package extract

import (
	"encoding/json"
	"testing"
)

// decode is a test helper turning a JSON literal into the untyped form the
// providers hand to Extract.
func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", raw, err)
	}
	return v
}

func TestText_VendorShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "flat text",
			raw:  `{"text": "hello world"}`,
			want: "hello world",
		},
		{
			name: "flat transcript",
			raw:  `{"transcript": "hello world"}`,
			want: "hello world",
		},
		{
			name: "deepgram channel alternatives",
			raw:  `{"type":"Results","channel":{"alternatives":[{"transcript":"the quick fox"}]}}`,
			want: "the quick fox",
		},
		{
			name: "nested result output sentence",
			raw:  `{"result":{"output":{"sentence":{"text":"你好世界"}}}}`,
			want: "你好世界",
		},
		{
			name: "joined words",
			raw:  `{"result":{"words":[{"word":"jumps"},{"word":"over"}]}}`,
			want: "jumps over",
		},
		{
			name: "joined utterances",
			raw:  `{"data":{"utterances":[{"text":"first part"},{"text":"second part"}]}}`,
			want: "first part second part",
		},
		{
			name: "first match wins over deeper container",
			raw:  `{"text":"outer","result":{"text":"inner"}}`,
			want: "outer",
		},
		{
			name: "whitespace trimmed",
			raw:  `{"text":"  padded  "}`,
			want: "padded",
		},
		{
			name: "empty payload",
			raw:  `{}`,
			want: "",
		},
		{
			name: "non-object payload",
			raw:  `[1, 2, 3]`,
			want: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Text(decode(t, tc.raw)); got != tc.want {
				t.Fatalf("Text = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestText_DepthBound(t *testing.T) {
	// Text nested deeper than maxDepth levels of containers must not be found.
	raw := `{"result":{"data":{"payload":{"response":{"output":{"result":{"text":"too deep"}}}}}}}`
	if got := Text(decode(t, raw)); got != "" {
		t.Fatalf("Text = %q, want empty for over-deep nesting", got)
	}
}

func TestIsFinal(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"direct flag", `{"is_final": true, "text": "x"}`, true},
		{"direct flag false", `{"is_final": false, "text": "x"}`, false},
		{"channel nested", `{"channel":{"is_final":true}}`, true},
		{"metadata nested", `{"metadata":{"is_final":true}}`, true},
		{"speech_final", `{"speech_final":true}`, true},
		{"status string", `{"status":"FINALIZED"}`, true},
		{"event string", `{"event":"completed"}`, true},
		{"unrelated status", `{"status":"partial"}`, false},
		{"absent", `{"text":"x"}`, false},
		// A false direct flag wins over a status string further down the list.
		{"false flag beats status", `{"is_final":false,"status":"final"}`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsFinal(decode(t, tc.raw)); got != tc.want {
				t.Fatalf("IsFinal = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"is_end", `{"is_end":true}`, true},
		{"event end", `{"event":"end"}`, true},
		{"event final", `{"event":"final"}`, true},
		{"type complete", `{"type":"complete"}`, true},
		{"case insensitive", `{"event":"END"}`, true},
		{"ordinary result", `{"text":"hello"}`, false},
		{"is_end false", `{"is_end":false}`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Terminal(decode(t, tc.raw)); got != tc.want {
				t.Fatalf("Terminal = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestExtract_TerminalWithoutText(t *testing.T) {
	res, ok := Extract(decode(t, `{"event":"end"}`))
	if !ok {
		t.Fatal("Extract ok = false, want explicit empty-but-terminal result")
	}
	if res.Text != "" {
		t.Fatalf("Text = %q, want empty", res.Text)
	}
	if !res.Terminal {
		t.Fatal("Terminal = false, want true")
	}
}

func TestExtract_SkipsTextlessNonTerminal(t *testing.T) {
	if _, ok := Extract(decode(t, `{"metadata":{"request_id":"abc"}}`)); ok {
		t.Fatal("Extract ok = true for message with neither text nor terminal signal")
	}
}

func TestExtract_TerminalWithTextIsFinal(t *testing.T) {
	res, ok := Extract(decode(t, `{"event":"end","text":"hello world"}`))
	if !ok {
		t.Fatal("Extract ok = false")
	}
	if !res.IsFinal {
		t.Fatal("IsFinal = false, want true for terminal message carrying text")
	}
	if res.Text != "hello world" {
		t.Fatalf("Text = %q, want %q", res.Text, "hello world")
	}
}
