// Package client is a Go consumer of the advisor HTTP API. It manages the
// cookie pair the server issues and keeps a locally consistent view of
// conversations through SyncController.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

const csrfCookieName = "csrf_token"

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
}

// Client wraps the HTTP surface of the advisor backend. The zero value is
// not usable; construct with New.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the given base URL, e.g. "http://localhost:8080".
// The client carries its own cookie jar, so a Login call makes subsequent
// requests authenticated.
func New(baseURL string) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Jar: jar, Timeout: 60 * time.Second},
	}, nil
}

// Session is a conversation summary.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one stored conversation turn.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	PersonaTag string    `json:"persona_tag,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	// pending marks an optimistic local message not yet acknowledged by
	// the server.
	pending bool
}

// Pending reports whether the message is still awaiting server confirmation.
func (m Message) Pending() bool { return m.pending }

// HistoryTurn is one prior turn a guest request carries along.
type HistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Persona is an answering profile offered by the server.
type Persona struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Title    string   `json:"title"`
	Sections []string `json:"sections,omitempty"`
}

// QueryResponse is the completion envelope for /api/query and
// /api/public/query.
type QueryResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	SessionID   string   `json:"session_id"`
	Persona     string   `json:"persona"`
	Disclaimers []string `json:"disclaimers"`
}

// Answer returns the first choice content, or "" when the response carried
// none.
func (r *QueryResponse) Answer() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// ServerConfig is the feature summary from GET /api/config.
type ServerConfig struct {
	GuestEnabled        bool `json:"guest_enabled"`
	RegistrationEnabled bool `json:"registration_enabled"`
	StreamingEnabled    bool `json:"streaming_enabled"`
}

// UserSummary identifies the logged-in account.
type UserSummary struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, username, password string) (*UserSummary, error) {
	var out UserSummary
	err := c.do(ctx, http.MethodPost, "/api/register", map[string]string{
		"username": username, "password": password,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Login establishes the cookie session.
func (c *Client) Login(ctx context.Context, username, password string) (*UserSummary, error) {
	var out UserSummary
	err := c.do(ctx, http.MethodPost, "/api/token", map[string]string{
		"username": username, "password": password,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout drops the server-side cookies. Safe to call repeatedly.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/logout", nil, nil)
}

// Me returns the current identity.
func (c *Client) Me(ctx context.Context) (*UserSummary, error) {
	var out UserSummary
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Config fetches the server feature flags.
func (c *Client) Config(ctx context.Context) (*ServerConfig, error) {
	var out ServerConfig
	if err := c.do(ctx, http.MethodGet, "/api/config", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Personas lists the answering profiles.
func (c *Client) Personas(ctx context.Context) ([]Persona, error) {
	var out struct {
		Personas []Persona `json:"personas"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/personas", nil, &out); err != nil {
		return nil, err
	}
	return out.Personas, nil
}

// QueryRequest is the payload for an authenticated query.
type QueryRequest struct {
	Query     string `json:"query"`
	Persona   string `json:"persona,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Query runs one authenticated exchange.
func (c *Client) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	var out QueryResponse
	if err := c.do(ctx, http.MethodPost, "/api/query", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PublicQuery runs one guest exchange; the caller supplies its own history.
func (c *Client) PublicQuery(ctx context.Context, query, personaID string, history []HistoryTurn) (*QueryResponse, error) {
	var out QueryResponse
	payload := map[string]any{"query": query}
	if personaID != "" {
		payload["persona"] = personaID
	}
	if len(history) > 0 {
		payload["history"] = history
	}
	if err := c.do(ctx, http.MethodPost, "/api/public/query", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Feedback records a rating for a generated answer.
func (c *Client) Feedback(ctx context.Context, sessionID, messageID string, helpful bool, comment string) error {
	return c.do(ctx, http.MethodPost, "/api/feedback", map[string]any{
		"session_id": sessionID,
		"message_id": messageID,
		"helpful":    helpful,
		"comment":    comment,
	}, nil)
}

// ListSessions returns the account's sessions, most recently active first.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var out struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/chat/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// CreateSession provisions a named empty session.
func (c *Client) CreateSession(ctx context.Context, title string) (*Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/api/chat/sessions", map[string]string{"title": title}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSession fetches a session and its full transcript.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, []Message, error) {
	var out struct {
		Session  Session   `json:"session"`
		Messages []Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/chat/sessions/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, nil, err
	}
	return &out.Session, out.Messages, nil
}

// RenameSession updates a session title.
func (c *Client) RenameSession(ctx context.Context, sessionID, title string) (*Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPut, "/api/chat/sessions/"+url.PathEscape(sessionID), map[string]string{"title": title}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSession removes a session and its transcript.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/chat/sessions/"+url.PathEscape(sessionID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Double-submit: echo the csrf cookie value in the header on mutating
	// requests so the server can correlate it with the session token.
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
	default:
		if csrf := c.csrfToken(req.URL); csrf != "" {
			req.Header.Set("X-CSRF-Token", csrf)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) csrfToken(u *url.URL) string {
	for _, cookie := range c.http.Jar.Cookies(u) {
		if cookie.Name == csrfCookieName {
			return cookie.Value
		}
	}
	return ""
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Code: "unknown"}

	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil {
		if envelope.Error != "" {
			apiErr.Code = envelope.Error
		}
		apiErr.Message = envelope.Message
	}
	return apiErr
}
