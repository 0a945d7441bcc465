package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/atlas-erp/advisor/backend/internal/model/chat"
	"github.com/atlas-erp/advisor/backend/internal/model/persona"
	"github.com/atlas-erp/advisor/backend/internal/service/ai"
	"github.com/atlas-erp/advisor/backend/internal/store"
)

var (
	ErrQueryEmpty     = errors.New("query text is required")
	ErrPersonaUnknown = errors.New("unknown persona")
	ErrAIUnavailable  = errors.New("ai backend is not configured")
)

const (
	// historyWindow bounds how many prior messages accompany each model call.
	historyWindow = 10

	titleWordLimit = 5
	maxQueryRunes  = 4000
)

// Disclaimers accompany every generated answer.
var Disclaimers = []string{
	"Responses are generated by an AI model and may contain inaccuracies.",
	"Validate configuration and customization advice in a test system before applying it to production.",
}

// Service orchestrates persona resolution, history assembly, model calls
// and transcript persistence.
type Service struct {
	store     store.Store
	personas  persona.Store
	completer ai.Completer
}

// NewService wires the conversation pipeline. completer may be nil when no
// model backend is configured; query processing then fails with
// ErrAIUnavailable while session management keeps working.
func NewService(st store.Store, personas persona.Store, completer ai.Completer) *Service {
	return &Service{store: st, personas: personas, completer: completer}
}

// QueryResult is the outcome of one authenticated exchange.
type QueryResult struct {
	Answer      string
	SessionID   string
	PersonaID   string
	Disclaimers []string
}

// Exchange captures everything needed to run one model call against an
// owner's session. It is produced by Prepare and consumed either by
// ProcessQuery or by the streaming transport.
type Exchange struct {
	Persona persona.Persona
	Session chat.Session
	History []chat.HistoryTurn
	Query   string
}

// Prepare validates the request, resolves the persona, creates or loads the
// session and assembles the trailing history window.
func (s *Service) Prepare(ctx context.Context, owner, personaID, sessionID, query string) (Exchange, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Exchange{}, ErrQueryEmpty
	}
	if utf8.RuneCountInString(query) > maxQueryRunes {
		return Exchange{}, ErrQueryEmpty
	}

	p, err := s.resolvePersona(personaID)
	if err != nil {
		return Exchange{}, err
	}

	var session *chat.Session
	if sessionID == "" {
		session, err = s.store.CreateSession(ctx, owner, deriveTitle(query))
		if err != nil {
			return Exchange{}, err
		}
	} else {
		session, err = s.store.GetSession(ctx, sessionID, owner)
		if err != nil {
			return Exchange{}, err
		}
	}

	recent, err := s.store.LastMessages(ctx, session.ID, owner, historyWindow)
	if err != nil {
		return Exchange{}, err
	}

	history := make([]chat.HistoryTurn, 0, len(recent))
	for _, msg := range recent {
		history = append(history, chat.HistoryTurn{Role: msg.Role, Content: msg.Content})
	}

	return Exchange{Persona: p, Session: *session, History: history, Query: query}, nil
}

// Commit stores the user query and the generated answer as one appended pair.
func (s *Service) Commit(ctx context.Context, owner string, ex Exchange, answer string) error {
	if _, err := s.store.AppendMessage(ctx, owner, chat.Message{
		SessionID:  ex.Session.ID,
		Role:       chat.RoleUser,
		Content:    ex.Query,
		PersonaTag: ex.Persona.ID,
	}); err != nil {
		return err
	}

	_, err := s.store.AppendMessage(ctx, owner, chat.Message{
		SessionID:  ex.Session.ID,
		Role:       chat.RoleAssistant,
		Content:    answer,
		PersonaTag: ex.Persona.ID,
	})
	return err
}

// ProcessQuery runs one full authenticated exchange: prepare, generate,
// persist.
func (s *Service) ProcessQuery(ctx context.Context, owner, personaID, sessionID, query string) (QueryResult, error) {
	if s.completer == nil {
		return QueryResult{}, ErrAIUnavailable
	}

	ex, err := s.Prepare(ctx, owner, personaID, sessionID, query)
	if err != nil {
		return QueryResult{}, err
	}

	answer, err := s.completer.Complete(ctx, ex.Persona, ex.History, ex.Query)
	if err != nil {
		return QueryResult{}, err
	}

	if err := s.Commit(ctx, owner, ex, answer); err != nil {
		return QueryResult{}, err
	}

	return QueryResult{
		Answer:      answer,
		SessionID:   ex.Session.ID,
		PersonaID:   ex.Persona.ID,
		Disclaimers: Disclaimers,
	}, nil
}

// ProcessGuestQuery answers a stateless exchange. The caller supplies its own
// history, which is truncated to the same trailing window used for
// authenticated sessions. Nothing is persisted.
func (s *Service) ProcessGuestQuery(ctx context.Context, personaID string, history []chat.HistoryTurn, query string) (QueryResult, error) {
	if s.completer == nil {
		return QueryResult{}, ErrAIUnavailable
	}

	query = strings.TrimSpace(query)
	if query == "" || utf8.RuneCountInString(query) > maxQueryRunes {
		return QueryResult{}, ErrQueryEmpty
	}

	p, err := s.resolvePersona(personaID)
	if err != nil {
		return QueryResult{}, err
	}

	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	answer, err := s.completer.Complete(ctx, p, history, query)
	if err != nil {
		return QueryResult{}, err
	}

	return QueryResult{
		Answer:      answer,
		PersonaID:   p.ID,
		Disclaimers: Disclaimers,
	}, nil
}

// CreateSession provisions an empty named session for the owner.
func (s *Service) CreateSession(ctx context.Context, owner, title string) (chat.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New conversation"
	}
	session, err := s.store.CreateSession(ctx, owner, title)
	if err != nil {
		return chat.Session{}, err
	}
	return *session, nil
}

// ListSessions returns the owner's sessions, most recently active first.
func (s *Service) ListSessions(ctx context.Context, owner string) ([]chat.Session, error) {
	return s.store.ListSessions(ctx, owner)
}

// GetTranscript loads a session together with its full ordered history.
func (s *Service) GetTranscript(ctx context.Context, owner, sessionID string) (chat.Session, []chat.Message, error) {
	session, err := s.store.GetSession(ctx, sessionID, owner)
	if err != nil {
		return chat.Session{}, nil, err
	}

	messages, err := s.store.ListMessages(ctx, sessionID, owner)
	if err != nil {
		return chat.Session{}, nil, err
	}

	return *session, messages, nil
}

// RenameSession updates a session title.
func (s *Service) RenameSession(ctx context.Context, owner, sessionID, title string) (chat.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return chat.Session{}, errors.New("title is required")
	}
	session, err := s.store.UpdateSessionTitle(ctx, sessionID, owner, title)
	if err != nil {
		return chat.Session{}, err
	}
	return *session, nil
}

// DeleteSession removes a session and its transcript.
func (s *Service) DeleteSession(ctx context.Context, owner, sessionID string) error {
	return s.store.DeleteSession(ctx, sessionID, owner)
}

// RecordFeedback notes a rating for a previously generated answer. Feedback
// is operational signal rather than user data, so it goes to the log stream.
func (s *Service) RecordFeedback(ctx context.Context, owner, sessionID, messageID string, helpful bool, comment string) {
	comment = strings.TrimSpace(comment)
	if len(comment) > 500 {
		comment = comment[:500]
	}
	log.Printf("[chat] feedback owner=%s session=%s message=%s helpful=%t comment=%q",
		owner, sessionID, messageID, helpful, comment)
}

// Streaming reports whether the underlying model supports streamed delivery.
func (s *Service) Streaming() bool {
	streamer, ok := s.completer.(ai.StreamCompleter)
	return ok && streamer.StreamingEnabled()
}

// StreamCompleter exposes the streaming side of the completer when available.
func (s *Service) StreamCompleter() (ai.StreamCompleter, bool) {
	streamer, ok := s.completer.(ai.StreamCompleter)
	return streamer, ok
}

func (s *Service) resolvePersona(personaID string) (persona.Persona, error) {
	if personaID == "" {
		personaID = persona.DefaultID
	}

	p, ok := s.personas.FindByID(personaID)
	if !ok {
		return persona.Persona{}, ErrPersonaUnknown
	}
	return p, nil
}

// deriveTitle names a fresh session after the opening query: the first five
// words, with an ellipsis when the query runs longer.
func deriveTitle(query string) string {
	words := strings.Fields(query)
	if len(words) <= titleWordLimit {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:titleWordLimit], " ") + "..."
}
