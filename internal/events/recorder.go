package events

import (
	"context"
	"time"
)

// DomainEvent is the envelope every aggregate emits. Payload is
// event-specific, as supplied by the emitting aggregate method; Name is one
// of the constants declared in bus.go.
type DomainEvent struct {
	Name        string
	AggregateID string
	OccurredAt  time.Time
	Payload     any
}

// EventRecorder accumulates domain events raised by an aggregate's methods
// during a single unit of work. Aggregates hold no event list of their own
// (no per-instance mutable event queue); callers pass an EventRecorder into
// mutating methods and flush it to a Bus after the mutation is durably
// committed.
type EventRecorder struct {
	events []DomainEvent
}

// NewEventRecorder returns an empty recorder.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// Record appends an event to the recorder.
func (r *EventRecorder) Record(name, aggregateID string, occurredAt time.Time, payload any) {
	if r == nil {
		return
	}
	r.events = append(r.events, DomainEvent{
		Name:        name,
		AggregateID: aggregateID,
		OccurredAt:  occurredAt,
		Payload:     payload,
	})
}

// Events returns the events recorded so far, in recording order.
func (r *EventRecorder) Events() []DomainEvent {
	if r == nil {
		return nil
	}
	return append([]DomainEvent{}, r.events...)
}

// Flush publishes every recorded event to bus in order and clears the
// recorder. Intended to be called once the unit of work has committed.
func (r *EventRecorder) Flush(ctx context.Context, bus *Bus) error {
	if r == nil || len(r.events) == 0 {
		return nil
	}
	var firstErr error
	for _, evt := range r.events {
		if err := bus.Publish(ctx, evt.Name, evt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.events = nil
	return firstErr
}
