// Package eventlog implements the event model and the per-aggregate,
// version-ordered event store (spec §3, §4.2, §4.3): an immutable event
// record, a validating builder, and an append-only log that enforces strict
// version monotonicity and event-id uniqueness.
package eventlog

import (
	"fmt"
	"strings"
	"time"

	"go.jetify.com/typeid"
)

// Payload is the opaque structured value carried by an Event: a tree of
// scalars, sequences, and string-keyed mappings, exactly as it arrives over
// JSON.
type Payload map[string]any

// Event is an immutable, versioned record of something that happened to an
// aggregate. Once built by Builder.Build, an Event is never mutated.
type Event struct {
	ID          string  `json:"id"`
	Kind        string  `json:"event_type"`
	AggregateID string  `json:"aggregate_id"`
	Payload     Payload `json:"payload"`
	Timestamp   int64   `json:"timestamp"`
	Version     int64   `json:"version"`
}

// Builder collects an event's kind, aggregate id, and payload, then Build
// assigns a fresh id and the current timestamp.
type Builder struct {
	kind        string
	aggregateID string
	payload     Payload
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Kind sets the event's kind (e.g. "DocumentCreated").
func (b *Builder) Kind(kind string) *Builder {
	b.kind = kind
	return b
}

// AggregateID sets the id of the aggregate/store this event belongs to.
func (b *Builder) AggregateID(id string) *Builder {
	b.aggregateID = id
	return b
}

// WithPayload sets the event's payload.
func (b *Builder) WithPayload(p Payload) *Builder {
	b.payload = p
	return b
}

// Build validates the collected fields and constructs an Event bound to the
// given version. kind and aggregateID must be non-empty after trimming;
// version must be >= 1.
func (b *Builder) Build(version int64) (Event, error) {
	kind := strings.TrimSpace(b.kind)
	if kind == "" {
		return Event{}, &ValidationError{
			EventStoreError: EventStoreError{Op: "Builder.Build", Err: fmt.Errorf("event kind is required")},
			Field:           "kind",
			Value:           b.kind,
		}
	}

	aggregateID := strings.TrimSpace(b.aggregateID)
	if aggregateID == "" {
		return Event{}, &ValidationError{
			EventStoreError: EventStoreError{Op: "Builder.Build", Err: fmt.Errorf("aggregate id is required")},
			Field:           "aggregate_id",
			Value:           b.aggregateID,
		}
	}

	if version < 1 {
		return Event{}, &ValidationError{
			EventStoreError: EventStoreError{Op: "Builder.Build", Err: fmt.Errorf("version must be >= 1")},
			Field:           "version",
			Value:           fmt.Sprintf("%d", version),
		}
	}

	payload := b.payload
	if payload == nil {
		payload = Payload{}
	}

	return Event{
		ID:          newEventID(),
		Kind:        kind,
		AggregateID: aggregateID,
		Payload:     payload,
		Timestamp:   time.Now().Unix(),
		Version:     version,
	}, nil
}

// newEventID mints a collision-resistant id: a TypeID (UUIDv7 under an
// "evt" prefix), sortable by creation time and safe to generate from
// multiple processes without coordination (spec §4.2, §9).
func newEventID() string {
	tid, err := typeid.WithPrefix("evt")
	if err != nil {
		// typeid.WithPrefix only fails on an invalid prefix literal; "evt"
		// is always valid, so this is unreachable in practice.
		return fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}
	return tid.String()
}
