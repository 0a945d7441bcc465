package chat

import "time"

// Message roles. Messages are append-only: edits never happen, only new turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in a session transcript, ordered by CreatedAt with
// ties broken by insertion order.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	PersonaTag string    `json:"personaTag,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// HistoryTurn is the compact prior-turn form guest clients submit in lieu of a
// server-side session.
type HistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
