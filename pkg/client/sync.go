package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSendInFlight is returned when a second Send targets a session whose
// previous Send has not finished.
var ErrSendInFlight = errors.New("a send for this session is already in flight")

const (
	guestHistoryWindow = 10
	titleWordLimit     = 5
)

// SyncController keeps a local view of conversations consistent with the
// server under the optimistic-send protocol: the user turn appears locally
// before the server confirms it, rolls back on failure, and the session is
// re-fetched after every completed send so local and server state converge.
//
// At most one mutation per session is outstanding at a time; sends to
// different sessions proceed independently.
type SyncController struct {
	api           *Client
	authenticated bool

	mu       sync.Mutex
	sessions map[string]*sessionState
}

type sessionState struct {
	sending  bool
	messages []Message
}

// NewSyncController creates a controller over an API client. authenticated
// selects between the persisted flow (/api/query) and the stateless guest
// flow (/api/public/query with caller-carried history).
func NewSyncController(api *Client, authenticated bool) *SyncController {
	return &SyncController{
		api:           api,
		authenticated: authenticated,
		sessions:      make(map[string]*sessionState),
	}
}

// Messages returns a snapshot of the local view for a session.
func (sc *SyncController) Messages(sessionID string) []Message {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	state, ok := sc.sessions[sessionID]
	if !ok {
		return nil
	}
	return append([]Message(nil), state.messages...)
}

// LoadHistory replaces the local view with the server transcript. While a
// send for the session is in flight the call is a no-op, so a background
// refresh can never clobber an optimistic message.
func (sc *SyncController) LoadHistory(ctx context.Context, sessionID string) error {
	if !sc.authenticated {
		return nil
	}

	sc.mu.Lock()
	if state, ok := sc.sessions[sessionID]; ok && state.sending {
		sc.mu.Unlock()
		return nil
	}
	sc.mu.Unlock()

	return sc.refetch(ctx, sessionID)
}

// Send runs one exchange against the server. The user turn is appended to
// the local view immediately; on failure it is removed again and the error
// returned. The returned session ID differs from the argument only when the
// send started a fresh authenticated conversation.
func (sc *SyncController) Send(ctx context.Context, sessionID, content, personaID string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return sessionID, errors.New("content is required")
	}

	// A fresh authenticated conversation gets its session up front so the
	// optimistic message and the lock have a definite key.
	if sessionID == "" && sc.authenticated {
		session, err := sc.api.CreateSession(ctx, deriveTitle(content))
		if err != nil {
			return "", err
		}
		sessionID = session.ID
	}

	local, priorTurns, err := sc.begin(sessionID, content, personaID)
	if err != nil {
		return sessionID, err
	}

	var resp *QueryResponse
	if sc.authenticated {
		resp, err = sc.api.Query(ctx, QueryRequest{Query: content, Persona: personaID, SessionID: sessionID})
	} else {
		resp, err = sc.api.PublicQuery(ctx, content, personaID, priorTurns)
	}

	if err != nil {
		sc.rollback(sessionID, local.ID)
		return sessionID, err
	}

	sc.confirm(sessionID, local.ID, resp)

	// Forced reconciliation: whatever the server now holds wins.
	if sc.authenticated {
		if err := sc.refetch(ctx, sessionID); err != nil {
			return sessionID, err
		}
	}

	return sessionID, nil
}

// begin acquires the per-session send slot and appends the optimistic user
// message. It returns the prior turns for the guest flow, computed before
// the optimistic append.
func (sc *SyncController) begin(sessionID, content, personaID string) (Message, []HistoryTurn, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	state, ok := sc.sessions[sessionID]
	if !ok {
		state = &sessionState{}
		sc.sessions[sessionID] = state
	}
	if state.sending {
		return Message{}, nil, ErrSendInFlight
	}
	state.sending = true

	var prior []HistoryTurn
	if !sc.authenticated {
		start := 0
		if len(state.messages) > guestHistoryWindow {
			start = len(state.messages) - guestHistoryWindow
		}
		for _, msg := range state.messages[start:] {
			prior = append(prior, HistoryTurn{Role: msg.Role, Content: msg.Content})
		}
	}

	local := Message{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Role:       "user",
		Content:    content,
		PersonaTag: personaID,
		CreatedAt:  time.Now().UTC(),
		pending:    true,
	}
	state.messages = append(state.messages, local)

	return local, prior, nil
}

// rollback removes the optimistic message and releases the send slot.
func (sc *SyncController) rollback(sessionID, localID string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	state := sc.sessions[sessionID]
	state.sending = false

	for i, msg := range state.messages {
		if msg.ID == localID {
			state.messages = append(state.messages[:i], state.messages[i+1:]...)
			break
		}
	}
}

// confirm marks the optimistic message acknowledged, appends the assistant
// reply and releases the send slot.
func (sc *SyncController) confirm(sessionID, localID string, resp *QueryResponse) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	state := sc.sessions[sessionID]
	state.sending = false

	for i := range state.messages {
		if state.messages[i].ID == localID {
			state.messages[i].pending = false
			break
		}
	}

	state.messages = append(state.messages, Message{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Role:       "assistant",
		Content:    resp.Answer(),
		PersonaTag: resp.Persona,
		CreatedAt:  time.Now().UTC(),
	})
}

// refetch replaces the local view with the server transcript. If another
// send acquired the slot while the fetch was on the wire, the replace is
// skipped: overwriting now would drop that send's optimistic message, and
// its own reconciliation pass will land after it completes anyway.
func (sc *SyncController) refetch(ctx context.Context, sessionID string) error {
	_, messages, err := sc.api.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	state, ok := sc.sessions[sessionID]
	if !ok {
		state = &sessionState{}
		sc.sessions[sessionID] = state
	}
	if state.sending {
		return nil
	}
	state.messages = messages
	return nil
}

func deriveTitle(content string) string {
	words := strings.Fields(content)
	if len(words) <= titleWordLimit {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:titleWordLimit], " ") + "..."
}
