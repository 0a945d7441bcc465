package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-erp/advisor/backend/internal/model/chat"
	"github.com/atlas-erp/advisor/backend/internal/model/persona"
	"github.com/atlas-erp/advisor/backend/internal/store"
)

type stubCompleter struct {
	lastPersona persona.Persona
	lastHistory []chat.HistoryTurn
	lastQuery   string
	answer      string
	err         error
}

func (s *stubCompleter) Complete(_ context.Context, p persona.Persona, history []chat.HistoryTurn, query string) (string, error) {
	s.lastPersona = p
	s.lastHistory = history
	s.lastQuery = query
	if s.err != nil {
		return "", s.err
	}
	if s.answer != "" {
		return s.answer, nil
	}
	return "answer to: " + query, nil
}

func newTestService(t *testing.T) (*Service, *stubCompleter, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	completer := &stubCompleter{}
	return NewService(st, persona.NewMemoryStore(persona.Seed()), completer), completer, st
}

func TestProcessQueryCreatesSessionAndPersistsPair(t *testing.T) {
	svc, _, st := newTestService(t)
	ctx := context.Background()

	result, err := svc.ProcessQuery(ctx, "alice", "technical", "", "How do I call the projection API")
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, "technical", result.PersonaID)
	assert.Equal(t, "answer to: How do I call the projection API", result.Answer)
	assert.Equal(t, Disclaimers, result.Disclaimers)

	session, err := st.GetSession(ctx, result.SessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "How do I call the...", session.Title)

	messages, err := st.ListMessages(ctx, result.SessionID, "alice")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, chat.RoleUser, messages[0].Role)
	assert.Equal(t, "How do I call the projection API", messages[0].Content)
	assert.Equal(t, chat.RoleAssistant, messages[1].Role)
	assert.Equal(t, "technical", messages[1].PersonaTag)
}

func TestProcessQueryTitleUsesWholeShortQuery(t *testing.T) {
	svc, _, st := newTestService(t)
	ctx := context.Background()

	result, err := svc.ProcessQuery(ctx, "alice", "", "", "Purchase order stuck")
	require.NoError(t, err)

	session, err := st.GetSession(ctx, result.SessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Purchase order stuck", session.Title)
}

func TestProcessQueryDefaultsPersona(t *testing.T) {
	svc, completer, _ := newTestService(t)

	result, err := svc.ProcessQuery(context.Background(), "alice", "", "", "hello")
	require.NoError(t, err)
	assert.Equal(t, persona.DefaultID, result.PersonaID)
	assert.Equal(t, persona.DefaultID, completer.lastPersona.ID)
}

func TestProcessQueryUnknownPersona(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.ProcessQuery(context.Background(), "alice", "astronaut", "", "hello")
	assert.ErrorIs(t, err, ErrPersonaUnknown)
}

func TestProcessQueryEmptyQuery(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.ProcessQuery(context.Background(), "alice", "", "", "   ")
	assert.ErrorIs(t, err, ErrQueryEmpty)
}

func TestProcessQueryExistingSessionSendsTrailingHistory(t *testing.T) {
	svc, completer, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.ProcessQuery(ctx, "alice", "", "", "turn 0")
	require.NoError(t, err)

	// Each exchange appends two messages; after seven the window holds the
	// last ten of fourteen messages.
	for i := 1; i < 7; i++ {
		_, err := svc.ProcessQuery(ctx, "alice", "", first.SessionID, fmt.Sprintf("turn %d", i))
		require.NoError(t, err)
	}

	_, err = svc.ProcessQuery(ctx, "alice", "", first.SessionID, "turn 7")
	require.NoError(t, err)

	require.Len(t, completer.lastHistory, 10)
	assert.Equal(t, chat.RoleUser, completer.lastHistory[0].Role)
	assert.Equal(t, "turn 2", completer.lastHistory[0].Content)
	assert.Equal(t, "answer to: turn 6", completer.lastHistory[9].Content)
}

func TestProcessQueryForeignSessionRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.ProcessQuery(ctx, "alice", "", "", "private question")
	require.NoError(t, err)

	_, err = svc.ProcessQuery(ctx, "mallory", "", result.SessionID, "snooping")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessQueryCompleterFailureLeavesNoPartialWrite(t *testing.T) {
	svc, completer, st := newTestService(t)
	completer.err = errors.New("upstream timeout")
	ctx := context.Background()

	session, err := st.CreateSession(ctx, "alice", "existing")
	require.NoError(t, err)

	_, err = svc.ProcessQuery(ctx, "alice", "", session.ID, "hello")
	require.Error(t, err)

	messages, err := st.ListMessages(ctx, session.ID, "alice")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestProcessQueryWithoutCompleter(t *testing.T) {
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	svc := NewService(st, persona.NewMemoryStore(persona.Seed()), nil)

	_, err := svc.ProcessQuery(context.Background(), "alice", "", "", "hello")
	assert.ErrorIs(t, err, ErrAIUnavailable)

	// Session management stays available.
	_, err = svc.CreateSession(context.Background(), "alice", "notes")
	assert.NoError(t, err)
}

func TestProcessGuestQueryTruncatesHistory(t *testing.T) {
	svc, completer, _ := newTestService(t)

	history := make([]chat.HistoryTurn, 0, 14)
	for i := 0; i < 14; i++ {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		history = append(history, chat.HistoryTurn{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}

	result, err := svc.ProcessGuestQuery(context.Background(), "end_user", history, "latest question")
	require.NoError(t, err)
	assert.Empty(t, result.SessionID)
	assert.Equal(t, "end_user", result.PersonaID)

	require.Len(t, completer.lastHistory, 10)
	assert.Equal(t, "turn 4", completer.lastHistory[0].Content)
	assert.Equal(t, "turn 13", completer.lastHistory[9].Content)
}

func TestProcessGuestQueryShortHistoryUntouched(t *testing.T) {
	svc, completer, _ := newTestService(t)

	history := []chat.HistoryTurn{{Role: chat.RoleUser, Content: "only turn"}}
	_, err := svc.ProcessGuestQuery(context.Background(), "", history, "question")
	require.NoError(t, err)
	require.Len(t, completer.lastHistory, 1)
}

func TestSessionLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateSession(ctx, "alice", "  Inventory setup  ")
	require.NoError(t, err)
	assert.Equal(t, "Inventory setup", created.Title)

	blank, err := svc.CreateSession(ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "New conversation", blank.Title)

	sessions, err := svc.ListSessions(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	renamed, err := svc.RenameSession(ctx, "alice", created.ID, "Warehouse setup")
	require.NoError(t, err)
	assert.Equal(t, "Warehouse setup", renamed.Title)

	_, err = svc.RenameSession(ctx, "alice", created.ID, "   ")
	assert.Error(t, err)

	session, messages, err := svc.GetTranscript(ctx, "alice", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Warehouse setup", session.Title)
	assert.Empty(t, messages)

	require.NoError(t, svc.DeleteSession(ctx, "alice", created.ID))
	_, _, err = svc.GetTranscript(ctx, "alice", created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		query string
		want  string
	}{
		{"hello", "hello"},
		{"one two three four five", "one two three four five"},
		{"one two three four five six", "one two three four five..."},
		{"  spaced   out   words  here  ", "spaced out words here"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, deriveTitle(tc.query), "query %q", tc.query)
	}
}

func TestProcessQueryOverlongQueryRejected(t *testing.T) {
	svc, _, _ := newTestService(t)

	long := strings.Repeat("x", maxQueryRunes+1)
	_, err := svc.ProcessQuery(context.Background(), "alice", "", "", long)
	assert.ErrorIs(t, err, ErrQueryEmpty)
}
