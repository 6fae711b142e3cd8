package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/jensholdgaard/bidengine/internal/event"
)

// EventStore implements event.Store in memory.
type EventStore struct {
	s *Store
}

func (e *EventStore) Append(_ context.Context, events ...event.Event) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()

	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = e.s.clock.Now().UTC()
		}
		e.s.events = append(e.s.events, ev)
	}
	return nil
}

func (e *EventStore) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	return e.filter(func(ev event.Event) bool { return ev.AggregateID == aggregateID }), nil
}

func (e *EventStore) LoadByType(_ context.Context, eventType event.Type) ([]event.Event, error) {
	return e.filter(func(ev event.Event) bool { return ev.Type == eventType }), nil
}

func (e *EventStore) filter(keep func(event.Event) bool) []event.Event {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()

	var out []event.Event
	for _, ev := range e.s.events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	return out
}
