package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/cloudwego/eino/schema"

	"github.com/atlas-erp/advisor/backend/internal/auth"
	"github.com/atlas-erp/advisor/backend/internal/middleware"
	chatService "github.com/atlas-erp/advisor/backend/internal/service/chat"
	"github.com/atlas-erp/advisor/backend/internal/store"
	"github.com/atlas-erp/advisor/backend/pkg/utils"
)

// Handler delivers answers incrementally over Server-Sent Events.
type Handler struct {
	chatSvc *chatService.Service
}

// New creates the stream handler.
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// Event is one streamed chunk on the wire.
type Event struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HandleStream runs one authenticated exchange, pushing deltas as they
// arrive from the model and persisting the full pair at the end.
//
// The exchange writes to the session even though the transport is a GET, so
// the CSRF nonce is required here as well. EventSource clients cannot set
// headers; the nonce may travel as the csrf_token query parameter instead.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "auth_invalid", "authentication required")
		return
	}

	creds := auth.CredentialsFromRequest(r)
	if v := r.URL.Query().Get("csrf_token"); v != "" {
		creds.CSRFHeader = v
	}
	if err := creds.CheckCSRF(identity); err != nil {
		utils.RespondError(w, http.StatusForbidden, "csrf_mismatch", "csrf token missing or mismatched")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	query := r.URL.Query().Get("query")
	personaID := r.URL.Query().Get("persona")
	sessionID := r.URL.Query().Get("session_id")

	ctx := r.Context()
	ex, err := h.chatSvc.Prepare(ctx, identity.Subject, personaID, sessionID, query)
	if err != nil {
		respondPrepareError(w, err)
		return
	}

	utils.SetupSSEHeaders(w)

	h.send(w, flusher, Event{Event: "start", SessionID: ex.Session.ID})

	answer, err := h.generate(ctx, w, flusher, ex)
	if err != nil {
		h.send(w, flusher, Event{Event: "error", SessionID: ex.Session.ID, Error: "generation failed"})
		log.Printf("[stream] generation failed session=%s: %v", ex.Session.ID, err)
		return
	}

	if err := h.chatSvc.Commit(ctx, identity.Subject, ex, answer); err != nil {
		log.Printf("[stream] failed to persist exchange session=%s: %v", ex.Session.ID, err)
	}

	h.send(w, flusher, Event{Event: "end", SessionID: ex.Session.ID, Finished: true})
	log.Printf("[stream] completed response session=%s persona=%s", ex.Session.ID, ex.Persona.ID)
}

// generate prefers the streaming path and falls back to a single message
// event when the model does not stream.
func (h *Handler) generate(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, ex chatService.Exchange) (string, error) {
	streamer, ok := h.chatSvc.StreamCompleter()
	if !ok {
		return "", chatService.ErrAIUnavailable
	}

	if !streamer.StreamingEnabled() {
		answer, err := streamer.Complete(ctx, ex.Persona, ex.History, ex.Query)
		if err != nil {
			return "", err
		}
		h.send(w, flusher, Event{Event: "message", SessionID: ex.Session.ID, Content: answer})
		return answer, nil
	}

	reader, err := streamer.StreamComplete(ctx, ex.Persona, ex.History, ex.Query)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := reader.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			h.send(w, flusher, Event{Event: "delta", SessionID: ex.Session.ID, Content: chunk.Content})
		}
	}

	full, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", err
	}

	h.send(w, flusher, Event{Event: "message", SessionID: ex.Session.ID, Content: full.Content})
	return full.Content, nil
}

func (h *Handler) send(w http.ResponseWriter, flusher http.Flusher, event Event) {
	utils.SendSSEEvent(w, flusher, event.Event, event)
}

func respondPrepareError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrQueryEmpty):
		utils.RespondError(w, http.StatusBadRequest, "invalid_request", "query parameter is required")
	case errors.Is(err, chatService.ErrPersonaUnknown):
		utils.RespondError(w, http.StatusBadRequest, "invalid_request", "unknown persona")
	case errors.Is(err, store.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, "not_found", "session not found")
	default:
		utils.RespondError(w, http.StatusInternalServerError, "internal_error", fmt.Sprintf("stream setup failed: %v", err))
	}
}
