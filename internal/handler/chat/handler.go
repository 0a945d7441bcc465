package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atlas-erp/advisor/backend/internal/middleware"
	"github.com/atlas-erp/advisor/backend/internal/model/chat"
	chatService "github.com/atlas-erp/advisor/backend/internal/service/chat"
	"github.com/atlas-erp/advisor/backend/internal/store"
	"github.com/atlas-erp/advisor/backend/pkg/utils"
)

// Handler serves the query and session-management endpoints.
type Handler struct {
	chatSvc      *chatService.Service
	guestEnabled bool
}

// New creates the chat handler.
func New(chatSvc *chatService.Service, guestEnabled bool) *Handler {
	return &Handler{chatSvc: chatSvc, guestEnabled: guestEnabled}
}

// RegisterPublicRoutes mounts the endpoints that work without a session.
func (h *Handler) RegisterPublicRoutes(r chi.Router, limit func(class string) func(http.Handler) http.Handler) {
	r.With(limit("public_query")).Post("/public/query", h.handlePublicQuery)
}

// RegisterAuthenticatedRoutes mounts the endpoints that require a verified
// session. secured wraps a route with the admission budget of the named
// class plus the authentication and CSRF checks.
func (h *Handler) RegisterAuthenticatedRoutes(r chi.Router, secured func(class string) func(http.Handler) http.Handler) {
	r.With(secured("query")).Post("/query", h.handleQuery)
	r.With(secured("feedback")).Post("/feedback", h.handleFeedback)

	r.Route("/chat/sessions", func(sr chi.Router) {
		sr.With(secured("session_list")).Get("/", h.handleListSessions)
		sr.With(secured("session_create")).Post("/", h.handleCreateSession)
		sr.With(secured("session_read")).Get("/{sessionID}", h.handleGetSession)
		sr.With(secured("session_update")).Put("/{sessionID}", h.handleRenameSession)
		sr.With(secured("session_delete")).Delete("/{sessionID}", h.handleDeleteSession)
	})
}

type queryPayload struct {
	Query     string             `json:"query"`
	Persona   string             `json:"persona"`
	SessionID string             `json:"session_id"`
	History   []chat.HistoryTurn `json:"history"`
}

// queryResponse mirrors the OpenAI-style completion envelope the frontend
// consumes.
type queryResponse struct {
	Choices     []choice `json:"choices"`
	SessionID   string   `json:"session_id,omitempty"`
	Persona     string   `json:"persona"`
	Disclaimers []string `json:"disclaimers"`
}

type choice struct {
	Message choiceMessage `json:"message"`
}

type choiceMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "auth_invalid", "authentication required")
		return
	}

	var payload queryPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	result, err := h.chatSvc.ProcessQuery(r.Context(), identity.Subject, payload.Persona, payload.SessionID, payload.Query)
	if err != nil {
		respondQueryError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, queryResponse{
		Choices:     []choice{{Message: choiceMessage{Role: chat.RoleAssistant, Content: result.Answer}}},
		SessionID:   result.SessionID,
		Persona:     result.PersonaID,
		Disclaimers: result.Disclaimers,
	})
}

// handlePublicQuery answers guests. The caller carries its own history, so
// nothing is stored server side.
func (h *Handler) handlePublicQuery(w http.ResponseWriter, r *http.Request) {
	if !h.guestEnabled {
		utils.RespondError(w, http.StatusForbidden, "guest_disabled", "guest access is disabled")
		return
	}

	var payload queryPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	result, err := h.chatSvc.ProcessGuestQuery(r.Context(), payload.Persona, payload.History, payload.Query)
	if err != nil {
		respondQueryError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, queryResponse{
		Choices:     []choice{{Message: choiceMessage{Role: chat.RoleAssistant, Content: result.Answer}}},
		Persona:     result.PersonaID,
		Disclaimers: result.Disclaimers,
	})
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "auth_invalid", "authentication required")
		return
	}

	var payload struct {
		SessionID string `json:"session_id"`
		MessageID string `json:"message_id"`
		Helpful   *bool  `json:"helpful"`
		Comment   string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if payload.Helpful == nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid_request", "helpful is required")
		return
	}

	h.chatSvc.RecordFeedback(r.Context(), identity.Subject, payload.SessionID, payload.MessageID, *payload.Helpful, payload.Comment)
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFrom(r.Context())

	sessions, err := h.chatSvc.ListSessions(r.Context(), identity.Subject)
	if err != nil {
		respondQueryError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFrom(r.Context())

	var payload struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), identity.Subject, payload.Title)
	if err != nil {
		respondQueryError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFrom(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	session, messages, err := h.chatSvc.GetTranscript(r.Context(), identity.Subject, sessionID)
	if err != nil {
		respondQueryError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"session":  session,
		"messages": messages,
	})
}

func (h *Handler) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFrom(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	var payload struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if payload.Title == "" {
		utils.RespondError(w, http.StatusBadRequest, "invalid_request", "title is required")
		return
	}

	session, err := h.chatSvc.RenameSession(r.Context(), identity.Subject, sessionID, payload.Title)
	if err != nil {
		respondQueryError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFrom(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.chatSvc.DeleteSession(r.Context(), identity.Subject, sessionID); err != nil {
		respondQueryError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// respondQueryError maps service errors to the wire.
func respondQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrQueryEmpty):
		utils.RespondError(w, http.StatusBadRequest, "invalid_request", "query text is required")
	case errors.Is(err, chatService.ErrPersonaUnknown):
		utils.RespondError(w, http.StatusBadRequest, "invalid_request", "unknown persona")
	case errors.Is(err, store.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, "not_found", "session not found")
	case errors.Is(err, chatService.ErrAIUnavailable):
		utils.RespondError(w, http.StatusServiceUnavailable, "ai_unavailable", "ai backend is not configured")
	default:
		utils.RespondError(w, http.StatusInternalServerError, "internal_error", "request failed")
	}
}
