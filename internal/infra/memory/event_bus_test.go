package memory

import (
	"context"
	"testing"
	"time"

	"survival-quiz-service/internal/domain"
)

func TestEventBusFanOut(t *testing.T) {
	ctx := context.Background()
	bus := NewEventBus()

	ch1, cancel1, err := bus.Subscribe(ctx, "123456")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel1()
	ch2, cancel2, err := bus.Subscribe(ctx, "123456")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel2()

	// A subscriber on another topic must not see this session's events.
	other, cancelOther, err := bus.Subscribe(ctx, "654321")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancelOther()

	event := domain.Event{Type: domain.EventPlayerJoined, PIN: "123456"}
	if err := bus.Publish(ctx, event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, ch := range []<-chan domain.Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Type != domain.EventPlayerJoined {
				t.Fatalf("unexpected event %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}

	select {
	case got := <-other:
		t.Fatalf("unexpected cross-topic event %+v", got)
	default:
	}
}

func TestEventBusDropsOldestForSlowSubscriber(t *testing.T) {
	ctx := context.Background()
	bus := NewEventBus()

	ch, cancel, err := bus.Subscribe(ctx, "123456")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	// Overflow the buffer without reading; publish must never block.
	for i := 0; i < subscriberBuffer+8; i++ {
		if err := bus.Publish(ctx, domain.Event{Type: domain.EventAnswerSubmitted, PIN: "123456", Payload: i}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	// The newest event survives at the tail of the buffer.
	var last domain.Event
	for len(ch) > 0 {
		last = <-ch
	}
	if last.Payload != subscriberBuffer+7 {
		t.Fatalf("expected newest event retained, got %+v", last.Payload)
	}
}

func TestEventBusCancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	bus := NewEventBus()

	_, cancel, err := bus.Subscribe(ctx, "123456")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	cancel() // second cancel must not panic

	// Publishing to a topic with no subscribers is a no-op.
	if err := bus.Publish(ctx, domain.Event{Type: domain.EventPlayerJoined, PIN: "123456"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
}
