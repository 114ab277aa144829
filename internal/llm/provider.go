package llm

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a model call exceeds its deadline. Callers
// substitute a fixed degraded reply instead of failing the turn.
var ErrTimeout = errors.New("model call timed out")

// DegradedReply is the fixed user-visible message emitted when the model
// times out. The turn still completes; no state transition happens.
const DegradedReply = "Sorry, I'm taking longer than usual to respond. Please try again in a moment."

// StreamEventType defines the type of streaming event.
type StreamEventType string

const (
	EventText  StreamEventType = "text"
	EventDone  StreamEventType = "done"
	EventError StreamEventType = "error"
)

// StreamEvent is an incremental token or terminal signal from a streaming
// model call. Done events carry the fully accumulated message.
type StreamEvent struct {
	Type    StreamEventType
	Text    string
	Message *Message
	Err     error
}

// Request is a single model invocation.
type Request struct {
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
}

// Provider is the model collaborator. Invoke blocks until the full message
// is available; Stream emits incremental tokens plus a terminal event.
type Provider interface {
	Invoke(ctx context.Context, req Request) (Message, error)
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// TimeoutProvider wraps a Provider with a hard per-call deadline, mapping
// deadline expiry to ErrTimeout.
type TimeoutProvider struct {
	inner   Provider
	timeout time.Duration
}

// WithTimeout wraps p so every Invoke is bounded by timeout.
func WithTimeout(p Provider, timeout time.Duration) *TimeoutProvider {
	return &TimeoutProvider{inner: p, timeout: timeout}
}

func (t *TimeoutProvider) Invoke(ctx context.Context, req Request) (Message, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	msg, err := t.inner.Invoke(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return Message{}, ErrTimeout
		}
		return Message{}, err
	}
	return msg, nil
}

// Stream is not deadline-bounded as a whole: token delivery resets liveness
// at the transport layer, and the terminal event carries any error.
func (t *TimeoutProvider) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	return t.inner.Stream(ctx, req)
}
