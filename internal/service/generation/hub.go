package generation

import "sync"

// EventType labels a generation lifecycle event.
type EventType string

const (
	EventStart     EventType = "start"
	EventDelta     EventType = "delta"
	EventMessage   EventType = "message"
	EventEnd       EventType = "end"
	EventError     EventType = "error"
	EventCancelled EventType = "cancelled"
)

// Event is one generation lifecycle notification. Delta events carry a
// chunk; message events carry the final assembled text.
type Event struct {
	Type      EventType `json:"type"`
	ChatID    string    `json:"chatId"`
	RequestID string    `json:"requestId,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	Content   string    `json:"content,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Hub fans generation events out to per-chat subscribers (the websocket
// event feed). Slow subscribers drop events rather than stalling the
// generation goroutine.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a listener for one chat's events. The returned
// cancel func must be called exactly once; it closes the channel.
func (h *Hub) Subscribe(chatID string) (<-chan Event, func()) {
	ch := make(chan Event, 32)

	h.mu.Lock()
	if h.subs[chatID] == nil {
		h.subs[chatID] = make(map[chan Event]struct{})
	}
	h.subs[chatID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[chatID]; ok {
			if _, live := set[ch]; live {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, chatID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber of its chat.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.ChatID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
