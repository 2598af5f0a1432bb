// Package memory provides an in-memory implementation of the event bus.
// It offers a lightweight, non-persistent broker suitable for testing and
// single-process deployments where durability is not required.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/markflow/markflow/internal/domain/events"
)

var _ events.EventBus = (*Broker)(nil)

// Broker provides an in-memory implementation of the events.EventBus
// interface. It enables decoupled communication between components through
// message passing without any external infrastructure.
type Broker struct {
	mu       sync.RWMutex
	handlers map[events.EventType][]events.HandlerFunc
	closed   bool
}

// NewBroker creates and initializes a new in-memory event broker.
func NewBroker() *Broker {
	return &Broker{handlers: make(map[events.EventType][]events.HandlerFunc)}
}

// Publish delivers an envelope to every handler subscribed to its event type,
// stopping at the first error. Handlers are copied before iteration to avoid
// holding the lock while executing them.
func (b *Broker) Publish(ctx context.Context, envelope events.EventEnvelope, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var params events.PublishParams
	for _, opt := range opts {
		opt(&params)
	}
	if params.Key != "" {
		envelope.Key = params.Key
	}
	if len(params.Headers) > 0 {
		envelope.Headers = params.Headers
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.New("broker is closed")
	}
	handlersCopy := make([]events.HandlerFunc, len(b.handlers[envelope.Type]))
	copy(handlersCopy, b.handlers[envelope.Type])
	b.mu.RUnlock()

	for _, handler := range handlersCopy {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handler(ctx, envelope); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a handler for the given event types. The subscription
// lasts until the provided context is cancelled.
func (b *Broker) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("broker is closed")
	}
	indices := make(map[events.EventType]int, len(eventTypes))
	for _, et := range eventTypes {
		indices[et] = len(b.handlers[et])
		b.handlers[et] = append(b.handlers[et], handler)
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		// Remove the handler at each stored index if it's still valid.
		for et, idx := range indices {
			if idx < len(b.handlers[et]) {
				b.handlers[et] = append(b.handlers[et][:idx], b.handlers[et][idx+1:]...)
			}
		}
	}()

	return nil
}

// Close shuts the broker down; subsequent publishes and subscribes fail.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[events.EventType][]events.HandlerFunc)
	return nil
}
