package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mizulab/hearth/backend/internal/model/character"
	chatModel "github.com/mizulab/hearth/backend/internal/model/chat"
	"github.com/mizulab/hearth/backend/internal/service/generation"
	"github.com/mizulab/hearth/backend/internal/service/session"
	"github.com/mizulab/hearth/backend/pkg/utils"
)

// Translator renders text in the configured display language. Nil when
// no summary model is configured.
type Translator interface {
	Translate(ctx context.Context, text, language string) (string, error)
}

// Handler exposes the conversation commands and read accessors.
type Handler struct {
	sessions    *session.Service
	characters  character.Store
	coordinator *generation.Coordinator
	translator  Translator
	language    string
}

// New creates the chat handler. coordinator and translator may be nil
// when the AI stack is not configured; the affected routes then report
// service unavailable.
func New(sessions *session.Service, characters character.Store, coordinator *generation.Coordinator, translator Translator, language string) *Handler {
	return &Handler{
		sessions:    sessions,
		characters:  characters,
		coordinator: coordinator,
		translator:  translator,
		language:    language,
	}
}

// RegisterRoutes mounts the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chats", h.handleCreateChat)
	r.Get("/chats", h.handleListChats)
	r.Get("/chats/{chatID}", h.handleGetChat)
	r.Delete("/chats/{chatID}", h.handleDeleteChat)
	r.Get("/chats/{chatID}/messages", h.handleListMessages)
	r.Get("/chats/{chatID}/memories", h.handleListMemories)
	r.Get("/chats/{chatID}/state", h.handleGetState)
	r.Post("/chats/{chatID}/cancel", h.handleCancel)
	r.Post("/chats/{chatID}/messages/{messageID}/branch", h.handleSelectBranch)
	r.Post("/chats/{chatID}/messages/{messageID}/edit", h.handleEditMessage)
	r.Post("/chats/{chatID}/messages/{messageID}/translate", h.handleTranslate)
	r.Put("/persona", h.handleSetPersona)
}

// messageView is the UI-facing message shape: the raw slot data plus
// the resolved active-branch content.
type messageView struct {
	ID                 string             `json:"id"`
	SenderID           string             `json:"senderId"`
	ActiveContent      string             `json:"activeContent"`
	Content            string             `json:"content"`
	TranslatedContent  string             `json:"translatedContent,omitempty"`
	Branches           []chatModel.Branch `json:"branches,omitempty"`
	CurrentBranchIndex int                `json:"currentBranchIndex"`
	Error              bool               `json:"error,omitempty"`
	Timestamp          string             `json:"timestamp"`
}

func viewOf(m *chatModel.Message) messageView {
	return messageView{
		ID:                 m.ID,
		SenderID:           m.SenderID,
		ActiveContent:      m.ActiveContent(),
		Content:            m.Content,
		TranslatedContent:  m.TranslatedContent,
		Branches:           m.Branches,
		CurrentBranchIndex: m.CurrentBranchIndex,
		Error:              m.Error,
		Timestamp:          m.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func (h *Handler) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CharacterID string         `json:"characterId"`
		Mode        chatModel.Mode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.CharacterID == "" {
		utils.RespondError(w, http.StatusBadRequest, "characterId is required")
		return
	}
	if _, ok := h.characters.FindByID(payload.CharacterID); !ok {
		utils.RespondError(w, http.StatusBadRequest, "character not found")
		return
	}
	if payload.Mode != "" && payload.Mode != chatModel.ModeDirect && payload.Mode != chatModel.ModeAutopilot {
		utils.RespondError(w, http.StatusBadRequest, "mode must be direct or autopilot")
		return
	}

	created, err := h.sessions.CreateChat(r.Context(), payload.CharacterID, payload.Mode)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.sessions.ListChats(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type chatSummary struct {
		ID           string         `json:"id"`
		CharacterID  string         `json:"characterId"`
		Mode         chatModel.Mode `json:"mode"`
		MessageCount int            `json:"messageCount"`
		UpdatedAt    string         `json:"updatedAt"`
	}
	out := make([]chatSummary, 0, len(chats))
	for i := range chats {
		c := &chats[i]
		out = append(out, chatSummary{
			ID:           c.ID,
			CharacterID:  c.CharacterID,
			Mode:         c.Mode,
			MessageCount: len(c.Messages),
			UpdatedAt:    c.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetChat(w http.ResponseWriter, r *http.Request) {
	c, err := h.sessions.GetChat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, c)
}

func (h *Handler) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.DeleteChat(r.Context(), chi.URLParam(r, "chatID")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	c, err := h.sessions.GetChat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	out := make([]messageView, 0, len(c.Messages))
	for i := range c.Messages {
		out = append(out, viewOf(&c.Messages[i]))
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleListMemories(w http.ResponseWriter, r *http.Request) {
	c, err := h.sessions.GetChat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	memories := c.Memories
	if memories == nil {
		memories = []chatModel.MemorySummary{}
	}
	utils.RespondJSON(w, http.StatusOK, memories)
}

func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	if h.coordinator == nil {
		utils.RespondJSON(w, http.StatusOK, generation.State{Status: "idle"})
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.coordinator.State(chi.URLParam(r, "chatID")))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	if h.coordinator == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "generation unavailable")
		return
	}
	h.coordinator.Cancel(chi.URLParam(r, "chatID"))
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// handleSelectBranch switches the active branch, synthesizing filler
// branches when the UI jumps past the end of the list.
func (h *Handler) handleSelectBranch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Index int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	chatID := chi.URLParam(r, "chatID")
	err := h.sessions.SelectBranch(r.Context(), chatID, chi.URLParam(r, "messageID"), payload.Index)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondMessages(w, r, chatID)
}

// handleEditMessage records an edit as a new branch and makes it
// active; the original content is never lost.
func (h *Handler) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Content == "" {
		utils.RespondError(w, http.StatusBadRequest, "content is required")
		return
	}

	chatID := chi.URLParam(r, "chatID")
	messageID := chi.URLParam(r, "messageID")

	index, err := h.sessions.AddBranch(r.Context(), chatID, messageID, payload.Content)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if err := h.sessions.SetBranchIndex(r.Context(), chatID, messageID, index); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondMessages(w, r, chatID)
}

func (h *Handler) handleTranslate(w http.ResponseWriter, r *http.Request) {
	if h.translator == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "translation unavailable")
		return
	}

	chatID := chi.URLParam(r, "chatID")
	messageID := chi.URLParam(r, "messageID")

	c, err := h.sessions.GetChat(r.Context(), chatID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	i := c.MessageIndex(messageID)
	if i < 0 {
		h.respondServiceError(w, session.ErrMessageNotFound)
		return
	}

	translated, err := h.translator.Translate(r.Context(), c.Messages[i].ActiveContent(), h.language)
	if err != nil {
		utils.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}

	patch := session.UpdatePatch{TranslatedContent: &translated}
	if err := h.sessions.UpdateMessage(r.Context(), chatID, messageID, patch); err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"translatedContent": translated})
}

func (h *Handler) handleSetPersona(w http.ResponseWriter, r *http.Request) {
	if h.coordinator == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "generation unavailable")
		return
	}
	var payload character.Persona
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.coordinator.SetPersona(payload)
	utils.RespondJSON(w, http.StatusOK, payload)
}

func (h *Handler) respondMessages(w http.ResponseWriter, r *http.Request, chatID string) {
	c, err := h.sessions.GetChat(r.Context(), chatID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	out := make([]messageView, 0, len(c.Messages))
	for i := range c.Messages {
		out = append(out, viewOf(&c.Messages[i]))
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrChatNotFound), errors.Is(err, session.ErrMessageNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrBranchOutOfRange):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, generation.ErrAlreadyInFlight):
		utils.RespondError(w, http.StatusConflict, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
