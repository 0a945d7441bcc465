// Package store holds the durable CRUD contract for users, sessions, and
// messages. The rest of the system depends only on the Store interface; the
// SQLite implementation is the default backend and the memory implementation
// backs tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/atlas-erp/advisor/backend/internal/model/chat"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrUserExists = errors.New("username already exists")
)

// User is an account row. PasswordHash never leaves the store layer in JSON.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the conversation persistence contract. Session and message reads
// and writes are always scoped to an owner so one identity can never touch
// another's data.
type Store interface {
	CreateUser(ctx context.Context, username, passwordHash, role string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	CreateSession(ctx context.Context, owner, title string) (*chat.Session, error)
	ListSessions(ctx context.Context, owner string) ([]chat.Session, error)
	GetSession(ctx context.Context, id, owner string) (*chat.Session, error)
	UpdateSessionTitle(ctx context.Context, id, owner, title string) (*chat.Session, error)
	DeleteSession(ctx context.Context, id, owner string) error

	// AppendMessage assigns the message ID and timestamp, bumps the session's
	// updated_at, and preserves insertion order for equal timestamps.
	AppendMessage(ctx context.Context, owner string, msg chat.Message) (chat.Message, error)
	ListMessages(ctx context.Context, id, owner string) ([]chat.Message, error)
	LastMessages(ctx context.Context, id, owner string, n int) ([]chat.Message, error)

	Close() error
}
