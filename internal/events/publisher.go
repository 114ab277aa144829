package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher provides typed methods for publishing turn lifecycle events.
// A nil Publisher is a no-op, so the engine runs unchanged without NATS.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishTurnCompleted publishes a turn completion event.
func (p *Publisher) PublishTurnCompleted(ctx context.Context, event TurnCompleted) error {
	return p.publish(ctx, SubjectTurnCompleted, event)
}

// PublishInterruptRaised publishes a workflow pause event.
func (p *Publisher) PublishInterruptRaised(ctx context.Context, event InterruptRaised) error {
	return p.publish(ctx, SubjectInterruptRaised, event)
}

// PublishMemoryExtracted publishes a background extraction result event.
func (p *Publisher) PublishMemoryExtracted(ctx context.Context, event MemoryExtracted) error {
	return p.publish(ctx, SubjectMemoryExtracted, event)
}

func (p *Publisher) publish(ctx context.Context, subject string, data any) error {
	if p == nil {
		return nil
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}
