package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	characterHandler "github.com/mizulab/hearth/backend/internal/handler/character"
	chatHandler "github.com/mizulab/hearth/backend/internal/handler/chat"
	"github.com/mizulab/hearth/backend/internal/handler/events"
	streamHandler "github.com/mizulab/hearth/backend/internal/handler/stream"
	middlewarePkg "github.com/mizulab/hearth/backend/internal/middleware"
	characterModel "github.com/mizulab/hearth/backend/internal/model/character"
	"github.com/mizulab/hearth/backend/internal/service/generation"
	"github.com/mizulab/hearth/backend/internal/service/session"
	"github.com/mizulab/hearth/backend/pkg/utils"
)

// Deps carries everything the router wires together. Coordinator, hub,
// and translator are nil when the AI stack is not configured; the
// affected routes degrade instead of the server refusing to start.
type Deps struct {
	Sessions      *session.Service
	Characters    characterModel.Store
	Coordinator   *generation.Coordinator
	Hub           *generation.Hub
	Translator    chatHandler.Translator
	ReplyLanguage string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		characterHandler.New(deps.Characters).RegisterRoutes(api)
		chatHandler.New(deps.Sessions, deps.Characters, deps.Coordinator, deps.Translator, deps.ReplyLanguage).RegisterRoutes(api)

		if deps.Coordinator != nil {
			streamHandler.New(deps.Coordinator).RegisterRoutes(api)
		} else {
			api.Get("/chats/{chatID}/generate", func(w http.ResponseWriter, r *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "ai generation unavailable")
			})
		}

		if deps.Hub != nil {
			events.New(deps.Sessions, deps.Hub).RegisterRoutes(api)
		}
	})

	return r
}
