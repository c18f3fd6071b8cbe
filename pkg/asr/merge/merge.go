// Package merge implements the streaming transcript sanitizer and merger.
//
// Realtime ASR backends emit partial and final results that are noisy in
// every direction: fragments repeat whole runs, restart from the beginning of
// the utterance, regress to shorter text after a network hiccup, or arrive as
// a truncated "final" long after a much richer partial was seen. The Merger
// consumes these events in arrival order and maintains a single accumulated
// transcript that only improves: repeated runs are collapsed, overlapping
// fragments are stitched together, and a final that looks suspiciously short
// next to the best partial is overridden by that partial.
//
// A Merger is not safe for concurrent use; the owning session serialises all
// calls (see pkg/asr/stream).
package merge

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Thresholds holds the tunable constants of the reconciliation heuristics.
// The defaults were tuned empirically against misbehaving providers; they are
// configurable because they are not known to be optimal.
type Thresholds struct {
	// MinPartialForGap and MaxFinalDeficit: a final is suspicious when the
	// best partial has at least MinPartialForGap runes and the final is at
	// least MaxFinalDeficit runes shorter.
	MinPartialForGap int
	MaxFinalDeficit  int

	// MinPartialForTiny and TinyFinalMax: a final is suspicious when the
	// best partial has at least MinPartialForTiny runes and the final has at
	// most TinyFinalMax.
	MinPartialForTiny int
	TinyFinalMax      int

	// FinalRatio: a final is suspicious when it is shorter than FinalRatio
	// of the best partial's length.
	FinalRatio float64

	// PrefixDominance and MinPrefixLen control the normalized fast path of
	// MergeText: when the shared normalized prefix of two strings covers at
	// least PrefixDominance of the shorter one and both have at least
	// MinPrefixLen runes, the longer raw string wins outright.
	PrefixDominance float64
	MinPrefixLen    int
}

// DefaultThresholds are the empirically tuned defaults.
var DefaultThresholds = Thresholds{
	MinPartialForGap:  12,
	MaxFinalDeficit:   6,
	MinPartialForTiny: 10,
	TinyFinalMax:      3,
	FinalRatio:        0.55,
	PrefixDominance:   0.82,
	MinPrefixLen:      8,
}

// Event is one reconciled result ready for downstream emission.
type Event struct {
	Text    string
	IsFinal bool
}

// Merger folds a stream of (text, isFinal) events into a monotonically
// improving accumulated transcript. The zero value is not usable; call New.
type Merger struct {
	thresholds Thresholds

	accumulated string
	bestPartial string // longest partial ever seen this session

	lastEmitted string // normalized text of the previous emission
	lastFinal   string // normalized text of the emitted final, if any
	finalized   bool
	stopping    bool
}

// New returns a Merger using the given thresholds. Zero-value threshold
// fields are replaced with the defaults.
func New(t Thresholds) *Merger {
	d := DefaultThresholds
	if t.MinPartialForGap <= 0 {
		t.MinPartialForGap = d.MinPartialForGap
	}
	if t.MaxFinalDeficit <= 0 {
		t.MaxFinalDeficit = d.MaxFinalDeficit
	}
	if t.MinPartialForTiny <= 0 {
		t.MinPartialForTiny = d.MinPartialForTiny
	}
	if t.TinyFinalMax <= 0 {
		t.TinyFinalMax = d.TinyFinalMax
	}
	if t.FinalRatio <= 0 {
		t.FinalRatio = d.FinalRatio
	}
	if t.PrefixDominance <= 0 {
		t.PrefixDominance = d.PrefixDominance
	}
	if t.MinPrefixLen <= 0 {
		t.MinPrefixLen = d.MinPrefixLen
	}
	return &Merger{thresholds: t}
}

// Accumulated returns the current best-known full-session text.
func (m *Merger) Accumulated() string { return m.accumulated }

// Finalized reports whether an authoritative final has been emitted.
func (m *Merger) Finalized() bool { return m.finalized }

// MarkStopping tells the merger the session is terminating: from now on an
// empty final is allowed to finalize instead of being held for more data.
func (m *Merger) MarkStopping() { m.stopping = true }

// Feed folds one incoming fragment into the transcript. The returned Event
// should be emitted downstream when ok is true; ok is false for no-ops
// (duplicates, stale subsets, empty partials, and empty finals while the
// session is still streaming).
func (m *Merger) Feed(text string, isFinal bool) (Event, bool) {
	frag := strings.TrimSpace(text)
	frag = CollapseRepeats(frag)
	frag = collapseAccumulatedRepeat(frag, m.accumulated)

	if !isFinal {
		if frag == "" {
			return Event{}, false
		}
		m.accumulated = MergeText(m.accumulated, frag, m.thresholds)
		if runeLen(m.accumulated) > runeLen(m.bestPartial) {
			m.bestPartial = m.accumulated
		}
		return m.emit(m.accumulated, false)
	}

	best := m.bestKnown()
	if frag == "" && best != "" && !m.stopping {
		// An empty final after real partials usually means the provider
		// reset between sentences; keep streaming rather than finalizing.
		return Event{}, false
	}

	final := frag
	if m.finalSuspicious(frag, best) {
		final = best
	} else if frag != "" {
		final = MergeText(m.accumulated, frag, m.thresholds)
	}
	if final == "" {
		return Event{}, false
	}

	m.accumulated = final
	if runeLen(final) > runeLen(m.bestPartial) {
		m.bestPartial = final
	}
	return m.emitFinal(final)
}

// Finalize produces the authoritative final at session teardown when the
// provider never sent one (or sent only an untrustworthy one). Returns false
// when nothing usable was produced, or a final was already emitted.
func (m *Merger) Finalize() (Event, bool) {
	m.stopping = true
	if m.finalized {
		return Event{}, false
	}
	best := m.bestKnown()
	if best == "" {
		return Event{}, false
	}
	m.accumulated = best
	return m.emitFinal(best)
}

// bestKnown is the richer of the accumulated text and the best-partial
// high-water mark. Providers that reset partials between sentences can leave
// bestPartial ahead of accumulated.
func (m *Merger) bestKnown() string {
	if runeLen(m.bestPartial) > runeLen(m.accumulated) {
		return m.bestPartial
	}
	return m.accumulated
}

// finalSuspicious reports whether a proposed final is too poor to trust next
// to the best partial observed this session.
func (m *Merger) finalSuspicious(final, partial string) bool {
	fl, pl := runeLen(final), runeLen(partial)
	if pl == 0 {
		return false
	}
	if fl <= 0 {
		return true
	}
	if pl >= m.thresholds.MinPartialForGap && fl <= pl-m.thresholds.MaxFinalDeficit {
		return true
	}
	if pl >= m.thresholds.MinPartialForTiny && fl <= m.thresholds.TinyFinalMax {
		return true
	}
	return float64(fl) <= m.thresholds.FinalRatio*float64(pl)
}

func (m *Merger) emit(text string, isFinal bool) (Event, bool) {
	norm := Normalize(text)
	if norm == "" || norm == m.lastEmitted {
		return Event{}, false
	}
	m.lastEmitted = norm
	return Event{Text: text, IsFinal: isFinal}, true
}

func (m *Merger) emitFinal(text string) (Event, bool) {
	norm := Normalize(text)
	if norm == "" || (m.finalized && norm == m.lastFinal) {
		return Event{}, false
	}
	m.finalized = true
	m.lastFinal = norm
	m.lastEmitted = norm
	return Event{Text: text, IsFinal: true}, true
}

// CollapseRepeats removes back-to-back duplication from a fragment: when the
// fragment starts with a unit repeated two or more times, it is collapsed to
// one copy of the unit followed by the remaining tail. Units are whitespace
// tokens when the text has any, individual runes otherwise (scripts without
// whitespace segmentation). The largest unit is tried first so the coarsest
// duplication wins.
func CollapseRepeats(s string) string {
	tokens := strings.Fields(s)
	if len(tokens) > 1 {
		if collapsed, ok := collapseUnits(tokens); ok {
			return strings.Join(collapsed, " ")
		}
		return strings.Join(tokens, " ")
	}
	runes := []rune(s)
	if collapsed, ok := collapseUnits(stringsOf(runes)); ok {
		return strings.Join(collapsed, "")
	}
	return s
}

// collapseUnits collapses a leading repeated run in a unit slice. Returns
// false when no repetition was found.
func collapseUnits(units []string) ([]string, bool) {
	n := len(units)
	for size := n / 2; size >= 1; size-- {
		k := 1
		for (k+1)*size <= n && equalUnits(units[:size], units[k*size:(k+1)*size]) {
			k++
		}
		if k >= 2 {
			out := make([]string, 0, size+n-k*size)
			out = append(out, units[:size]...)
			out = append(out, units[k*size:]...)
			return out, true
		}
	}
	return nil, false
}

func equalUnits(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func stringsOf(runes []rune) []string {
	out := make([]string, len(runes))
	for i, r := range runes {
		out[i] = string(r)
	}
	return out
}

// collapseAccumulatedRepeat collapses a fragment that begins with the
// accumulated text repeated two or more times down to one copy plus tail.
func collapseAccumulatedRepeat(frag, accumulated string) string {
	if accumulated == "" || frag == "" {
		return frag
	}
	k := 0
	rest := frag
	for strings.HasPrefix(rest, accumulated) {
		k++
		rest = rest[len(accumulated):]
		rest = strings.TrimLeft(rest, " ")
	}
	if k >= 2 {
		return joinWithSpace(accumulated, rest)
	}
	return frag
}

// MergeText folds fragment into accumulated and returns the merged text.
// Exact prefix/suffix relationships are handled first, then a normalized
// prefix-dominance fast path for cosmetically different variants of the same
// text, then longest suffix/prefix overlap stitching. A fragment with no
// detectable relationship is appended — losing ordering information is
// preferred over dropping new content.
func MergeText(accumulated, fragment string, t Thresholds) string {
	if fragment == "" {
		return accumulated
	}
	if accumulated == "" {
		return fragment
	}
	if fragment == accumulated {
		return accumulated
	}
	if strings.HasPrefix(fragment, accumulated) {
		return fragment
	}
	if strings.HasSuffix(accumulated, fragment) {
		return accumulated
	}

	if prefixDominant(accumulated, fragment, t) {
		if runeLen(fragment) > runeLen(accumulated) {
			return fragment
		}
		return accumulated
	}

	overlap := overlapLen(accumulated, fragment)
	return joinWithSpace(accumulated, fragment[overlap:])
}

// prefixDominant reports whether the two strings are cosmetic variants of
// the same text: after stripping case, whitespace, and punctuation, one is a
// prefix of the other, or their shared prefix covers at least
// t.PrefixDominance of the shorter string (both at least t.MinPrefixLen
// runes long).
func prefixDominant(a, b string, t Thresholds) bool {
	na, nb := []rune(Normalize(a)), []rune(Normalize(b))
	if len(na) == 0 || len(nb) == 0 {
		return false
	}
	shorter := len(na)
	if len(nb) < shorter {
		shorter = len(nb)
	}
	shared := 0
	for shared < shorter && na[shared] == nb[shared] {
		shared++
	}
	if shared == shorter {
		return true
	}
	if shorter < t.MinPrefixLen {
		return false
	}
	return float64(shared) >= t.PrefixDominance*float64(shorter)
}

// overlapLen returns the byte length of the longest suffix of a that is also
// a prefix of b.
func overlapLen(a, b string) int {
	max := len(a)
	if len(b) < max {
		max = len(b)
	}
	for k := max; k > 0; k-- {
		if a[len(a)-k:] == b[:k] {
			return k
		}
	}
	return 0
}

// joinWithSpace appends tail to head, inserting a space when the boundary
// characters are both ASCII alphanumerics and no separator exists. CJK text
// is joined without a space.
func joinWithSpace(head, tail string) string {
	if tail == "" {
		return head
	}
	if head == "" {
		return tail
	}
	last, _ := utf8.DecodeLastRuneInString(head)
	first, _ := utf8.DecodeRuneInString(tail)
	if isASCIIWordChar(last) && isASCIIWordChar(first) {
		return head + " " + tail
	}
	return head + tail
}

func isASCIIWordChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// Normalize lowercases text and strips whitespace and punctuation, keeping
// only letters and digits. Used for duplicate detection and the
// prefix-dominance comparison.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
