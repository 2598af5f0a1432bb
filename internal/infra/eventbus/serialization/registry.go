// Package serialization provides a registry-based system for serializing and
// deserializing domain events in the event bus infrastructure. It acts as a
// translation layer between domain objects and their JSON wire format.
//
// The package implements a registry pattern where serialization and
// deserialization functions are registered per event type. This keeps the
// domain layer clean of serialization concerns and allows new event types to
// be added without modifying existing code.
package serialization

import (
	"encoding/json"
	"fmt"

	"github.com/markflow/markflow/internal/domain/chores"
	"github.com/markflow/markflow/internal/domain/events"
	"github.com/markflow/markflow/internal/domain/papers"
	"github.com/markflow/markflow/internal/domain/work"
)

// SerializeFunc converts a domain object into a serialized byte slice.
type SerializeFunc func(payload any) ([]byte, error)

// DeserializeFunc converts a serialized byte slice back into a domain object.
type DeserializeFunc func(data []byte) (any, error)

// Global registries map event types to their serialization functions.
// This allows for dynamic dispatch based on event type at runtime.
var (
	serializerRegistry   = map[events.EventType]SerializeFunc{}
	deserializerRegistry = map[events.EventType]DeserializeFunc{}
)

// RegisterSerializeFunc registers a serialization function for a given event type.
func RegisterSerializeFunc(eventType events.EventType, fn SerializeFunc) {
	serializerRegistry[eventType] = fn
}

// RegisterDeserializeFunc registers a deserialization function for a given event type.
func RegisterDeserializeFunc(eventType events.EventType, fn DeserializeFunc) {
	deserializerRegistry[eventType] = fn
}

// SerializePayload converts a domain object into bytes using the registered
// serializer for its event type.
func SerializePayload(eventType events.EventType, payload any) ([]byte, error) {
	fn, ok := serializerRegistry[eventType]
	if !ok {
		return nil, fmt.Errorf("no serializer registered for eventType=%s", eventType)
	}
	return fn(payload)
}

// DeserializePayload converts bytes back into a domain object using the
// registered deserializer for its event type.
func DeserializePayload(eventType events.EventType, data []byte) (any, error) {
	fn, ok := deserializerRegistry[eventType]
	if !ok {
		return nil, fmt.Errorf("no deserializer registered for eventType=%s", eventType)
	}
	return fn(data)
}

// universalEnvelope is the wire frame around every serialized event. The
// event type travels with the payload so consumers can route without any
// out-of-band knowledge.
type universalEnvelope struct {
	EventType events.EventType `json:"event_type"`
	Payload   json.RawMessage  `json:"payload"`
}

// SerializeEventEnvelope frames a payload with its event type for transport.
func SerializeEventEnvelope(eventType events.EventType, payload any) ([]byte, error) {
	payloadBytes, err := SerializePayload(eventType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(universalEnvelope{EventType: eventType, Payload: payloadBytes})
}

// UnmarshalUniversalEnvelope splits a wire frame back into its event type and
// raw payload bytes.
func UnmarshalUniversalEnvelope(data []byte) (events.EventType, []byte, error) {
	var envelope universalEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", nil, fmt.Errorf("unmarshal universal envelope: %w", err)
	}
	if envelope.EventType == "" {
		return "", nil, fmt.Errorf("universal envelope missing event type")
	}
	return envelope.EventType, envelope.Payload, nil
}

func serializeAs[T any](payload any) ([]byte, error) {
	evt, ok := payload.(T)
	if !ok {
		return nil, fmt.Errorf("serialize: payload is not %T", *new(T))
	}
	return json.Marshal(evt)
}

func deserializeAs[T any](data []byte) (any, error) {
	var evt T
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("unmarshal %T: %w", evt, err)
	}
	return evt, nil
}

func init() { RegisterEventSerializers() }

// RegisterEventSerializers registers handlers for all supported event types.
// It must run before any event processing occurs.
func RegisterEventSerializers() {
	RegisterSerializeFunc(papers.EventTypeBundlePushed, serializeAs[papers.BundlePushedEvent])
	RegisterDeserializeFunc(papers.EventTypeBundlePushed, deserializeAs[papers.BundlePushedEvent])

	RegisterSerializeFunc(papers.EventTypePageDiscarded, serializeAs[papers.PageDiscardedEvent])
	RegisterDeserializeFunc(papers.EventTypePageDiscarded, deserializeAs[papers.PageDiscardedEvent])

	RegisterSerializeFunc(papers.EventTypePageReassigned, serializeAs[papers.PageReassignedEvent])
	RegisterDeserializeFunc(papers.EventTypePageReassigned, deserializeAs[papers.PageReassignedEvent])

	RegisterSerializeFunc(work.EventTypeTasksCreated, serializeAs[work.TasksCreatedEvent])
	RegisterDeserializeFunc(work.EventTypeTasksCreated, deserializeAs[work.TasksCreatedEvent])

	RegisterSerializeFunc(work.EventTypeTaskCompleted, serializeAs[work.TaskCompletedEvent])
	RegisterDeserializeFunc(work.EventTypeTaskCompleted, deserializeAs[work.TaskCompletedEvent])

	RegisterSerializeFunc(work.EventTypeTaskOutdated, serializeAs[work.TaskOutdatedEvent])
	RegisterDeserializeFunc(work.EventTypeTaskOutdated, deserializeAs[work.TaskOutdatedEvent])

	RegisterSerializeFunc(chores.EventTypeChoreCompleted, serializeAs[chores.ChoreCompletedEvent])
	RegisterDeserializeFunc(chores.EventTypeChoreCompleted, deserializeAs[chores.ChoreCompletedEvent])

	RegisterSerializeFunc(chores.EventTypeChoreFailed, serializeAs[chores.ChoreFailedEvent])
	RegisterDeserializeFunc(chores.EventTypeChoreFailed, deserializeAs[chores.ChoreFailedEvent])
}
