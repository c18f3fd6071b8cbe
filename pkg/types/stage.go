package types

import "time"

// StageEvent is a structured record of one pipeline stage transition
// (connect, reconnect, candidate advance, finalize, correction, …). The core
// emits these as a side channel; persistence and display are collaborator
// concerns.
type StageEvent struct {
	// Stage is the pipeline stage name ("streaming", "batch", "correction").
	Stage string

	// Event is what happened within the stage ("connected", "reconnect",
	// "candidate_advance", "finalized", ...).
	Event string

	// Provider is the ASR provider identifier, when applicable.
	Provider string

	// Latency is how long the stage step took, when measured.
	Latency time.Duration

	// Changed reports whether the step altered the transcript text
	// (used by the correction stage).
	Changed bool

	// Count carries an event-specific quantity, such as the number of
	// audio frames discarded on a queue overflow.
	Count int

	// Message carries best-effort human-readable detail.
	Message string
}

// StageFunc receives stage events. Implementations must be fast and
// non-blocking; they are called from session goroutines.
type StageFunc func(StageEvent)
