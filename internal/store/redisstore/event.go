package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jensholdgaard/bidengine/internal/event"
)

// EventStore implements event.Store with two append-only lists per event:
// one keyed by aggregate and one keyed by type.
type EventStore struct {
	s *Store
}

func (e *EventStore) aggregateKey(id string) string { return e.s.key("events", "aggregate", id) }
func (e *EventStore) typeKey(t event.Type) string   { return e.s.key("events", "type", string(t)) }

func (e *EventStore) Append(ctx context.Context, events ...event.Event) error {
	_, err := e.s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, ev := range events {
			if ev.ID == "" {
				ev.ID = uuid.NewString()
			}
			if ev.CreatedAt.IsZero() {
				ev.CreatedAt = e.s.now()
			}
			if len(ev.Data) == 0 {
				ev.Data = json.RawMessage(`{}`)
			}
			raw, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("encoding event %s: %w", ev.Type, err)
			}
			pipe.RPush(ctx, e.aggregateKey(ev.AggregateID), raw)
			pipe.RPush(ctx, e.typeKey(ev.Type), raw)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("appending events: %w", err)
	}
	return nil
}

func (e *EventStore) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	events, err := e.read(ctx, e.aggregateKey(aggregateID))
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	return events, nil
}

func (e *EventStore) LoadByType(ctx context.Context, eventType event.Type) ([]event.Event, error) {
	events, err := e.read(ctx, e.typeKey(eventType))
	if err != nil {
		return nil, fmt.Errorf("loading events by type: %w", err)
	}
	return events, nil
}

func (e *EventStore) read(ctx context.Context, key string) ([]event.Event, error) {
	raws, err := e.s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	events := make([]event.Event, 0, len(raws))
	for _, raw := range raws {
		var ev event.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("decoding event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}
