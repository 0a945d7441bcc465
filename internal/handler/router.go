package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/atlas-erp/advisor/backend/internal/auth"
	"github.com/atlas-erp/advisor/backend/internal/config"
	"github.com/atlas-erp/advisor/backend/internal/handler/account"
	chatHandler "github.com/atlas-erp/advisor/backend/internal/handler/chat"
	personaHandler "github.com/atlas-erp/advisor/backend/internal/handler/persona"
	"github.com/atlas-erp/advisor/backend/internal/handler/stream"
	"github.com/atlas-erp/advisor/backend/internal/middleware"
	personaModel "github.com/atlas-erp/advisor/backend/internal/model/persona"
	"github.com/atlas-erp/advisor/backend/internal/ratelimit"
	chatService "github.com/atlas-erp/advisor/backend/internal/service/chat"
	"github.com/atlas-erp/advisor/backend/internal/store"
	"github.com/atlas-erp/advisor/backend/pkg/utils"
)

// Deps carries everything the router needs.
type Deps struct {
	Config   *config.Config
	Store    store.Store
	Personas personaModel.Store
	ChatSvc  *chatService.Service
	Codec    *auth.TokenCodec
	Limiter  *ratelimit.Limiter
	Origins  []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(deps.Origins))

	limit := func(class string) func(http.Handler) http.Handler {
		return middleware.RateLimit(deps.Limiter, class)
	}

	// Protected routes check admission first, then CSRF, then the token.
	protect := middleware.Protect(deps.Codec)
	secured := func(class string) func(http.Handler) http.Handler {
		admit := limit(class)
		return func(next http.Handler) http.Handler {
			return admit(protect(next))
		}
	}

	accountH := account.New(deps.Store, deps.Codec, deps.Config.Auth, deps.Config.Features.RegistrationEnabled)
	chatH := chatHandler.New(deps.ChatSvc, deps.Config.Features.GuestEnabled)
	personaH := personaHandler.New(deps.Personas)
	streamH := stream.New(deps.ChatSvc)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		api.Get("/config", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"guest_enabled":        deps.Config.Features.GuestEnabled,
				"registration_enabled": deps.Config.Features.RegistrationEnabled,
				"streaming_enabled":    deps.ChatSvc.Streaming(),
			})
		})

		personaH.RegisterRoutes(api)
		accountH.RegisterRoutes(api, limit)
		chatH.RegisterPublicRoutes(api, limit)

		accountH.RegisterAuthenticatedRoutes(api, secured)
		chatH.RegisterAuthenticatedRoutes(api, secured)
		api.With(secured("query")).Get("/query/stream", streamH.HandleStream)
	})

	return r
}
