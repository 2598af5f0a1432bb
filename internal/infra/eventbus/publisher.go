// Package eventbus adapts domain-level event publishing to a concrete
// events.EventBus transport.
package eventbus

import (
	"context"

	"github.com/markflow/markflow/internal/domain/events"
)

var _ events.DomainEventPublisher = (*DomainEventPublisher)(nil)

// DomainEventPublisher implements the events.DomainEventPublisher interface
// on top of an event bus. It adapts domain-level events to the bus
// abstraction so publishing code stays decoupled from the transport, whether
// that is Kafka or the in-memory broker.
type DomainEventPublisher struct {
	eventBus events.EventBus
}

// NewDomainEventPublisher creates a publisher that distributes domain events
// through the provided event bus.
func NewDomainEventPublisher(eventBus events.EventBus) *DomainEventPublisher {
	return &DomainEventPublisher{eventBus: eventBus}
}

// PublishDomainEvent wraps a domain event in a transport envelope and sends
// it through the bus, preserving routing options like partition keys.
func (pub *DomainEventPublisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	envelope := events.EventEnvelope{
		Type:      event.EventType(),
		Timestamp: event.OccurredAt(),
		Payload:   event,
	}
	return pub.eventBus.Publish(ctx, envelope, opts...)
}
