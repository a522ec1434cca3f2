package stream

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mizulab/hearth/backend/internal/service/generation"
	"github.com/mizulab/hearth/backend/pkg/utils"
)

// Handler drives generations over Server-Sent Events. The UI opens one
// of these endpoints per turn and renders delta frames as the "typing"
// effect; the persisted result is always the single final message.
type Handler struct {
	coordinator *generation.Coordinator
}

// New creates the stream handler.
func New(coordinator *generation.Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

// RegisterRoutes mounts the generation endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chats/{chatID}/generate", h.handleSend)
	r.Get("/chats/{chatID}/generate/opening", h.handleOpening)
	r.Get("/chats/{chatID}/messages/{messageID}/regenerate", h.handleRegenerate)
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	message := r.URL.Query().Get("message")
	if message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}
	h.run(w, r, generation.Request{
		ChatID:      chi.URLParam(r, "chatID"),
		Kind:        generation.KindSend,
		UserContent: message,
	})
}

func (h *Handler) handleOpening(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, generation.Request{
		ChatID: chi.URLParam(r, "chatID"),
		Kind:   generation.KindOpening,
	})
}

func (h *Handler) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, generation.Request{
		ChatID:          chi.URLParam(r, "chatID"),
		Kind:            generation.KindRegenerate,
		TargetMessageID: chi.URLParam(r, "messageID"),
	})
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request, req generation.Request) {
	// Reject before committing to the SSE response so the client gets a
	// real status code instead of an error frame.
	if h.coordinator.State(req.ChatID).Status != "idle" {
		utils.RespondError(w, http.StatusConflict, generation.ErrAlreadyInFlight.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	utils.SetupSSEHeaders(w)

	sink := func(ev generation.Event) {
		utils.SendSSEChunk(w, flusher, ev)
	}

	if _, err := h.coordinator.Generate(r.Context(), req, sink); err != nil {
		// Early validation failures never reach the event stream; the
		// rest already produced an error frame, and one more is
		// harmless for an EventSource client.
		utils.SendSSEChunk(w, flusher, generation.Event{
			Type:   generation.EventError,
			ChatID: req.ChatID,
			Error:  err.Error(),
		})
	}
}
