// Package events exposes the per-chat generation event feed over a
// websocket, for UI surfaces (window chrome, tray badge) that are not
// the SSE stream driving the turn.
package events

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mizulab/hearth/backend/internal/service/generation"
	"github.com/mizulab/hearth/backend/internal/service/session"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Handler upgrades connections and pumps hub events to them.
type Handler struct {
	sessions *session.Service
	hub      *generation.Hub
	upgrader websocket.Upgrader
}

// New creates the events handler.
func New(sessions *session.Service, hub *generation.Hub) *Handler {
	return &Handler{
		sessions: sessions,
		hub:      hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the websocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chats/{chatID}/events", h.handleEvents)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if _, err := h.sessions.GetChat(r.Context(), chatID); err != nil {
		http.Error(w, "chat not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[events] upgrade failed for chat=%s: %v", chatID, err)
		return
	}

	events, unsubscribe := h.hub.Subscribe(chatID)
	defer unsubscribe()
	defer conn.Close()

	// Reader only consumes control frames; its exit means the peer
	// went away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("[events] write failed for chat=%s: %v", chatID, err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
