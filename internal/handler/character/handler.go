package character

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mizulab/hearth/backend/internal/model/character"
	"github.com/mizulab/hearth/backend/pkg/utils"
)

// Handler serves the character cards.
type Handler struct {
	characters character.Store
}

// New creates the character handler.
func New(characters character.Store) *Handler {
	return &Handler{characters: characters}
}

// RegisterRoutes mounts the character routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/characters", h.handleList)
	r.Get("/characters/{characterID}", h.handleGet)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.characters.List())
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	card, ok := h.characters.FindByID(chi.URLParam(r, "characterID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "character not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, card)
}
