package memory

import (
	"context"
	"sync"

	"survival-quiz-service/internal/domain"
)

const subscriberBuffer = 16

// EventBus is an in-process implementation of app.EventBus: one topic per
// session PIN, a subscriber set per topic. Delivery is at-most-once; a slow
// subscriber loses its oldest buffered event rather than blocking publish.
type EventBus struct {
	mu     sync.Mutex
	topics map[string]map[chan domain.Event]struct{}
}

func NewEventBus() *EventBus {
	return &EventBus{
		topics: make(map[string]map[chan domain.Event]struct{}),
	}
}

func (b *EventBus) Publish(_ context.Context, event domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.topics[event.PIN] {
		select {
		case ch <- event:
		default:
			// Drop the oldest event so the subscriber always converges on
			// recent state; the pull query covers whatever was missed.
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
	return nil
}

func (b *EventBus) Subscribe(_ context.Context, pin string) (<-chan domain.Event, func(), error) {
	ch := make(chan domain.Event, subscriberBuffer)

	b.mu.Lock()
	if b.topics[pin] == nil {
		b.topics[pin] = make(map[chan domain.Event]struct{})
	}
	b.topics[pin][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.topics[pin]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(b.topics, pin)
			}
		}
	}
	return ch, cancel, nil
}
