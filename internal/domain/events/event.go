package events

import "time"

// EventType represents a domain event category, enabling type-safe event
// routing and handling.
type EventType string

// DomainEvent is implemented by every domain event in the system. Events
// describe something that already happened; they are published after the
// owning transactional scope commits.
type DomainEvent interface {
	// EventType identifies the category of the event for routing.
	EventType() EventType

	// OccurredAt records when the event was created.
	OccurredAt() time.Time
}

// EventEnvelope wraps a domain event with the transport-level metadata a bus
// needs to route and order it.
type EventEnvelope struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key enables consistent event routing, typically a business identifier
	// like a paper number that events can be partitioned by.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when this envelope was created.
	Timestamp time.Time

	// Payload contains the actual domain event.
	Payload any
}
