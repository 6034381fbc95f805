package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"survival-quiz-service/internal/domain"
)

const subscriberBuffer = 16

// EventBus fans session events out over Redis pub/sub, one channel per
// session PIN (`session-{pin}`), so every instance of the service sees every
// event regardless of which instance handled the originating request.
// Delivery is at-most-once; the authoritative pull query covers any gap.
type EventBus struct {
	client *redis.Client
}

func NewEventBus(client *redis.Client) *EventBus {
	return &EventBus{client: client}
}

func (b *EventBus) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.topic(event.PIN), data).Err()
}

func (b *EventBus) Subscribe(ctx context.Context, pin string) (<-chan domain.Event, func(), error) {
	sub := b.client.Subscribe(ctx, b.topic(pin))
	// Force the subscription onto the wire before the caller relies on it.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	ch := make(chan domain.Event, subscriberBuffer)
	go func() {
		defer close(ch)
		for msg := range sub.Channel() {
			var event domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			select {
			case ch <- event:
			default:
				// Slow subscriber: drop its oldest event, keep the stream moving.
				select {
				case <-ch:
				default:
				}
				ch <- event
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return ch, cancel, nil
}

func (b *EventBus) topic(pin string) string {
	return "session-" + pin
}
