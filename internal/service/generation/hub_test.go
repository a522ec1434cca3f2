package generation

import (
	"testing"
	"time"
)

func TestHubDeliversToChatSubscribers(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("chat-1")
	defer cancel()

	other, cancelOther := hub.Subscribe("chat-2")
	defer cancelOther()

	hub.Publish(Event{Type: EventStart, ChatID: "chat-1", RequestID: "r1"})

	select {
	case ev := <-ch:
		if ev.Type != EventStart || ev.RequestID != "r1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case ev := <-other:
		t.Fatalf("chat-2 subscriber received chat-1 event: %+v", ev)
	default:
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("chat-1")

	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after cancel")
	}

	// Double cancel and publishing to a drained chat must not panic.
	cancel()
	hub.Publish(Event{Type: EventEnd, ChatID: "chat-1"})
}

func TestHubDropsWhenSubscriberIsFull(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("chat-1")
	defer cancel()

	// Fill the buffer and keep publishing; Publish must never block.
	for i := 0; i < 100; i++ {
		hub.Publish(Event{Type: EventDelta, ChatID: "chat-1", Content: "x"})
	}

	if got := len(ch); got != cap(ch) {
		t.Fatalf("expected a full buffer of %d, got %d", cap(ch), got)
	}
}
