package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newSyncFixture(t *testing.T) (*SyncController, *scriptedCompleter) {
	t.Helper()
	srv, completer := newBackend(t)
	api := loggedInClient(t, srv)
	return NewSyncController(api, true), completer
}

func TestSyncSendConvergesWithServer(t *testing.T) {
	sc, _ := newSyncFixture(t)
	ctx := context.Background()

	sessionID, err := sc.Send(ctx, "", "How do I register an arrival", "end_user")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sessionID == "" {
		t.Fatal("expected a session id for a fresh conversation")
	}

	local := sc.Messages(sessionID)
	if len(local) != 2 {
		t.Fatalf("expected user+assistant locally, got %d messages", len(local))
	}
	if local[0].Role != "user" || local[0].Content != "How do I register an arrival" {
		t.Fatalf("unexpected first message: %+v", local[0])
	}
	if local[1].Role != "assistant" || local[1].Content != "reply: How do I register an arrival" {
		t.Fatalf("unexpected second message: %+v", local[1])
	}
	for i, msg := range local {
		if msg.Pending() {
			t.Fatalf("message %d still pending after reconciliation", i)
		}
	}

	// After the forced refetch the local view is the server transcript, so
	// the IDs are server-issued, not the optimistic local ones.
	_, server, err := sc.api.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(server) != len(local) {
		t.Fatalf("local and server diverge: %d vs %d", len(local), len(server))
	}
	for i := range server {
		if server[i].ID != local[i].ID {
			t.Fatalf("message %d: local id %s is not the server id %s", i, local[i].ID, server[i].ID)
		}
	}
}

func TestSyncSendFailureRollsBack(t *testing.T) {
	sc, completer := newSyncFixture(t)
	ctx := context.Background()

	session, err := sc.api.CreateSession(ctx, "Costing questions")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	completer.mu.Lock()
	completer.failNext = true
	completer.mu.Unlock()

	_, err = sc.Send(ctx, session.ID, "this one fails", "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}

	if msgs := sc.Messages(session.ID); len(msgs) != 0 {
		t.Fatalf("optimistic message not rolled back, %d messages remain", len(msgs))
	}

	// The next send over the same session works again.
	if _, err := sc.Send(ctx, session.ID, "this one succeeds", ""); err != nil {
		t.Fatalf("send after rollback: %v", err)
	}
	if msgs := sc.Messages(session.ID); len(msgs) != 2 {
		t.Fatalf("expected 2 messages after recovery, got %d", len(msgs))
	}
}

func TestSyncSecondSendRejectedWhileInFlight(t *testing.T) {
	sc, completer := newSyncFixture(t)
	ctx := context.Background()

	session, err := sc.api.CreateSession(ctx, "Planning questions")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	block := make(chan struct{})
	started := make(chan struct{})
	completer.mu.Lock()
	completer.block = block
	completer.started = started
	completer.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := sc.Send(ctx, session.ID, "slow question", "")
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first send never reached the model")
	}

	if _, err := sc.Send(ctx, session.ID, "impatient question", ""); !errors.Is(err, ErrSendInFlight) {
		t.Fatalf("expected ErrSendInFlight, got %v", err)
	}

	// LoadHistory must not clobber the optimistic message mid-send.
	if err := sc.LoadHistory(ctx, session.ID); err != nil {
		t.Fatalf("load history: %v", err)
	}
	msgs := sc.Messages(session.ID)
	if len(msgs) != 1 || !msgs[0].Pending() {
		t.Fatalf("expected the pending optimistic message to survive, got %+v", msgs)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if msgs := sc.Messages(session.ID); len(msgs) != 2 {
		t.Fatalf("expected 2 messages after the slow send, got %d", len(msgs))
	}
}

func TestSyncLateReconciliationDoesNotWipeNewSend(t *testing.T) {
	sc, completer := newSyncFixture(t)
	ctx := context.Background()

	sessionID, err := sc.Send(ctx, "", "first question", "")
	if err != nil {
		t.Fatalf("first send: %v", err)
	}

	block := make(chan struct{})
	started := make(chan struct{})
	completer.mu.Lock()
	completer.block = block
	completer.started = started
	completer.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := sc.Send(ctx, sessionID, "second question", "")
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("second send never reached the model")
	}

	// A reconciliation fetch from the first send can land on the wire after
	// the second send has already acquired the slot. Its server snapshot is
	// stale and must not replace the view holding the optimistic message.
	if err := sc.refetch(ctx, sessionID); err != nil {
		t.Fatalf("refetch: %v", err)
	}

	msgs := sc.Messages(sessionID)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages while second send is in flight, got %d", len(msgs))
	}
	if !msgs[2].Pending() || msgs[2].Content != "second question" {
		t.Fatalf("optimistic message was wiped by the stale refetch, got %+v", msgs[2])
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("second send failed: %v", err)
	}
	if msgs := sc.Messages(sessionID); len(msgs) != 4 {
		t.Fatalf("expected 4 messages after the second send reconciles, got %d", len(msgs))
	}
}

func TestSyncSendsToDifferentSessionsAreIndependent(t *testing.T) {
	sc, completer := newSyncFixture(t)
	ctx := context.Background()

	first, err := sc.api.CreateSession(ctx, "First")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	second, err := sc.api.CreateSession(ctx, "Second")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	block := make(chan struct{})
	started := make(chan struct{})
	completer.mu.Lock()
	completer.block = block
	completer.started = started
	completer.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := sc.Send(ctx, first.ID, "slow question", "")
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first send never reached the model")
	}

	// Unblock future calls so the second session's send completes.
	completer.mu.Lock()
	completer.block = nil
	completer.mu.Unlock()

	if _, err := sc.Send(ctx, second.ID, "parallel question", ""); err != nil {
		t.Fatalf("send to other session blocked: %v", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first send failed: %v", err)
	}
}

func TestSyncLoadHistoryReplacesLocalView(t *testing.T) {
	sc, _ := newSyncFixture(t)
	ctx := context.Background()

	sessionID, err := sc.Send(ctx, "", "seed question", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// Another client appends to the same session behind this controller's
	// back; LoadHistory picks the new turns up.
	other := NewSyncController(sc.api, true)
	if _, err := other.Send(ctx, sessionID, "question from elsewhere", ""); err != nil {
		t.Fatalf("other send: %v", err)
	}

	if err := sc.LoadHistory(ctx, sessionID); err != nil {
		t.Fatalf("load history: %v", err)
	}
	if msgs := sc.Messages(sessionID); len(msgs) != 4 {
		t.Fatalf("expected 4 messages after reload, got %d", len(msgs))
	}
}

func TestSyncGuestCarriesTrailingWindow(t *testing.T) {
	srv, completer := newBackend(t)
	api, err := New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	sc := NewSyncController(api, false)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if _, err := sc.Send(ctx, "", "guest question", ""); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	// By the seventh send twelve turns exist locally; only the last ten may
	// travel with the request.
	seventh := completer.history(6)
	if len(seventh) != 10 {
		t.Fatalf("expected 10 prior turns, got %d", len(seventh))
	}
	// Twelve prior turns minus the window of ten drops the first exchange,
	// so the window starts at the second user turn.
	if seventh[0].Role != "user" {
		t.Fatalf("window should start at the second user turn, got role %q", seventh[0].Role)
	}

	if calls := completer.calls(); calls != 7 {
		t.Fatalf("expected 7 model calls, got %d", calls)
	}

	if msgs := sc.Messages(""); len(msgs) != 14 {
		t.Fatalf("expected 14 local messages, got %d", len(msgs))
	}
}
