package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/atlas-erp/advisor/backend/internal/auth"
	"github.com/atlas-erp/advisor/backend/internal/middleware"
	"github.com/atlas-erp/advisor/backend/internal/model/chat"
	"github.com/atlas-erp/advisor/backend/internal/model/persona"
	chatservice "github.com/atlas-erp/advisor/backend/internal/service/chat"
	"github.com/atlas-erp/advisor/backend/internal/store"
)

// chunkedCompleter streams its reply in fixed pieces. With no pieces set it
// reports streaming disabled and answers through Complete instead.
type chunkedCompleter struct {
	pieces []string
}

func (c *chunkedCompleter) Complete(_ context.Context, _ persona.Persona, _ []chat.HistoryTurn, query string) (string, error) {
	return "full: " + query, nil
}

func (c *chunkedCompleter) StreamingEnabled() bool {
	return len(c.pieces) > 0
}

func (c *chunkedCompleter) StreamComplete(_ context.Context, _ persona.Persona, _ []chat.HistoryTurn, _ string) (*schema.StreamReader[*schema.Message], error) {
	chunks := make([]*schema.Message, 0, len(c.pieces))
	for _, piece := range c.pieces {
		chunks = append(chunks, schema.AssistantMessage(piece, nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}

type fixture struct {
	router *chi.Mux
	store  *store.MemoryStore
	token  string
	csrf   string
}

func setup(t *testing.T, completer *chunkedCompleter) *fixture {
	t.Helper()

	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })

	codec, err := auth.NewTokenCodec("stream-test-secret")
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	token, csrf, err := codec.Issue("alice", "user", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	svc := chatservice.NewService(st, persona.NewMemoryStore(persona.Seed()), completer)
	h := New(svc)

	r := chi.NewRouter()
	r.With(middleware.Protect(codec)).Get("/query/stream", h.HandleStream)

	return &fixture{router: r, store: st, token: token, csrf: csrf}
}

func (f *fixture) get(t *testing.T, query url.Values, withNonce bool) *httptest.ResponseRecorder {
	t.Helper()
	if withNonce {
		query.Set("csrf_token", f.csrf)
	}

	req := httptest.NewRequest(http.MethodGet, "/query/stream?"+query.Encode(), nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: f.token})
	req.AddCookie(&http.Cookie{Name: auth.CSRFCookieName, Value: f.csrf})

	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func TestStreamDeliversDeltasAndPersists(t *testing.T) {
	f := setup(t, &chunkedCompleter{pieces: []string{"first ", "second"}})

	resp := f.get(t, url.Values{"query": {"explain order flow"}, "persona": {"end_user"}}, true)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}

	body := resp.Body.String()
	for _, want := range []string{"event: start", "event: delta", `"first "`, `"second"`, `"first second"`, "event: end"} {
		if !strings.Contains(body, want) {
			t.Fatalf("stream body missing %q:\n%s", want, body)
		}
	}

	sessions, err := f.store.ListSessions(context.Background(), "alice")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected one persisted session, got %d", len(sessions))
	}
	messages, err := f.store.ListMessages(context.Background(), sessions[0].ID, "alice")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 2 || messages[1].Content != "first second" {
		t.Fatalf("expected the concatenated reply persisted, got %+v", messages)
	}
}

func TestStreamFallsBackWithoutStreaming(t *testing.T) {
	f := setup(t, &chunkedCompleter{})

	resp := f.get(t, url.Values{"query": {"explain order flow"}}, true)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}

	body := resp.Body.String()
	if !strings.Contains(body, "event: message") || !strings.Contains(body, "full: explain order flow") {
		t.Fatalf("expected a single message event with the full answer:\n%s", body)
	}
	if strings.Contains(body, "event: delta") {
		t.Fatalf("fallback path must not emit deltas:\n%s", body)
	}
}

func TestStreamRequiresNonce(t *testing.T) {
	f := setup(t, &chunkedCompleter{})

	resp := f.get(t, url.Values{"query": {"explain order flow"}}, false)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without the nonce, got %d", resp.Code)
	}

	sessions, err := f.store.ListSessions(context.Background(), "alice")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("rejected request must not persist anything, got %d sessions", len(sessions))
	}
}

func TestStreamRejectsForeignNonce(t *testing.T) {
	f := setup(t, &chunkedCompleter{})

	q := url.Values{"query": {"explain order flow"}}
	q.Set("csrf_token", "not-the-issued-nonce")
	resp := f.get(t, q, false)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a foreign nonce, got %d", resp.Code)
	}
}
