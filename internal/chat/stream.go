package chat

import (
	"context"
	"strings"

	"github.com/meghx-ai/meghx/internal/expense"
)

// EventType tags a streamed turn event.
type EventType string

const (
	EventToken     EventType = "token"
	EventInterrupt EventType = "interrupt"
	EventTelemetry EventType = "telemetry"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// Event is one streamed increment of a turn. Done carries the finalized
// content, which is what gets persisted as the assistant message.
type Event struct {
	Type      EventType          `json:"type"`
	Token     string             `json:"token,omitempty"`
	Interrupt *expense.Interrupt `json:"interrupt,omitempty"`
	Stage     *Stage             `json:"stage,omitempty"`
	Content   string             `json:"content,omitempty"`
	Err       error              `json:"-"`
}

const defaultChunkSize = 24

// Streamer drives turn delivery as an event sequence: content tokens, then
// the interrupt if the turn paused, then per-stage telemetry, then the
// terminal done event with the finalized content.
type Streamer struct {
	engine    *Engine
	chunkSize int
}

// NewStreamer creates a streamer over the engine.
func NewStreamer(engine *Engine) *Streamer {
	return &Streamer{engine: engine, chunkSize: defaultChunkSize}
}

// Stream runs the turn and emits its events. The channel closes after the
// done (or error) event.
func (s *Streamer) Stream(ctx context.Context, req TurnRequest) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		result, err := s.engine.Turn(ctx, req)
		if err != nil {
			s.send(ctx, out, Event{Type: EventError, Err: err})
			return
		}

		for _, token := range chunkContent(result.Content, s.chunkSize) {
			if !s.send(ctx, out, Event{Type: EventToken, Token: token}) {
				return
			}
		}
		if result.Interrupt != nil {
			if !s.send(ctx, out, Event{Type: EventInterrupt, Interrupt: result.Interrupt}) {
				return
			}
		}
		for i := range result.Trace {
			if !s.send(ctx, out, Event{Type: EventTelemetry, Stage: &result.Trace[i]}) {
				return
			}
		}
		s.send(ctx, out, Event{Type: EventDone, Content: result.Content})
	}()

	return out
}

func (s *Streamer) send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// chunkContent splits text into token-sized pieces on word boundaries.
// Joining the chunks reproduces the input exactly.
func chunkContent(content string, size int) []string {
	if content == "" {
		return nil
	}

	var chunks []string
	var b strings.Builder
	for _, word := range strings.SplitAfter(content, " ") {
		if b.Len() > 0 && b.Len()+len(word) > size {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		b.WriteString(word)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}
