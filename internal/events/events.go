package events

import "time"

// Stream names.
const (
	StreamTurns  = "MEGHX_TURNS"
	StreamMemory = "MEGHX_MEMORY"
)

// Subject constants.
const (
	SubjectTurnCompleted   = "meghx.turns.completed"
	SubjectInterruptRaised = "meghx.turns.interrupt"
	SubjectMemoryExtracted = "meghx.memory.extracted"
)

// TurnCompleted is published after a turn finishes, interrupted or not.
type TurnCompleted struct {
	UserID      int64     `json:"user_id"`
	ThreadID    string    `json:"thread_id"`
	Intent      string    `json:"intent"`
	Interrupted bool      `json:"interrupted"`
	LatencyMS   float64   `json:"latency_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// InterruptRaised is published when a workflow pauses for user input.
type InterruptRaised struct {
	UserID    int64     `json:"user_id"`
	ThreadID  string    `json:"thread_id"`
	Type      string    `json:"type"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// MemoryExtracted is published after a background extraction pass saves
// at least one item.
type MemoryExtracted struct {
	UserID    int64     `json:"user_id"`
	ThreadID  string    `json:"thread_id"`
	Episodic  int       `json:"episodic"`
	Semantic  int       `json:"semantic"`
	Timestamp time.Time `json:"timestamp"`
}
