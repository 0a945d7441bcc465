package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/atlas-erp/advisor/backend/internal/model/chat"
)

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database and ensures the schema.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err = s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        username TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        role TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS sessions (
        id TEXT PRIMARY KEY, -- UUID
        owner TEXT NOT NULL,
        title TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        session_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        persona_tag TEXT,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (session_id) REFERENCES sessions (id) ON DELETE CASCADE
    );

    CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions (owner, updated_at);
    CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, created_at);
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods

func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash, role string) (*User, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, role) VALUES (?, ?, ?)",
		username, passwordHash, role)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()

	var user User
	err = s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, role, created_at FROM users WHERE id = ?", id).
		Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read back user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, role, created_at FROM users WHERE username = ?", username).
		Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// Session methods

func (s *SQLiteStore) CreateSession(ctx context.Context, owner, title string) (*chat.Session, error) {
	session := &chat.Session{
		ID:        uuid.NewString(),
		Owner:     owner,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	session.UpdatedAt = session.CreatedAt

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, owner, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		session.ID, session.Owner, session.Title, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}
	return session, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, owner string) ([]chat.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, owner, title, created_at, updated_at FROM sessions WHERE owner = ? ORDER BY updated_at DESC",
		owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]chat.Session, 0)
	for rows.Next() {
		var sess chat.Session
		if err := rows.Scan(&sess.ID, &sess.Owner, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) GetSession(ctx context.Context, id, owner string) (*chat.Session, error) {
	var sess chat.Session
	err := s.db.QueryRowContext(ctx,
		"SELECT id, owner, title, created_at, updated_at FROM sessions WHERE id = ? AND owner = ?",
		id, owner).
		Scan(&sess.ID, &sess.Owner, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &sess, nil
}

func (s *SQLiteStore) UpdateSessionTitle(ctx context.Context, id, owner, title string) (*chat.Session, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET title = ?, updated_at = ? WHERE id = ? AND owner = ?",
		title, time.Now().UTC(), id, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to update session title: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return nil, ErrNotFound
	}
	return s.GetSession(ctx, id, owner)
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id, owner string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ? AND owner = ?", id, owner)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	// Foreign keys may be off for this connection, so cascade explicitly.
	if _, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete session messages: %w", err)
	}
	return nil
}

// Message methods

func (s *SQLiteStore) AppendMessage(ctx context.Context, owner string, msg chat.Message) (chat.Message, error) {
	if _, err := s.GetSession(ctx, msg.SessionID, owner); err != nil {
		return chat.Message{}, err
	}

	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, session_id, role, content, persona_tag, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.PersonaTag, msg.CreatedAt)
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE sessions SET updated_at = ? WHERE id = ?", msg.CreatedAt, msg.SessionID)
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to touch session: %w", err)
	}
	return msg, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, id, owner string) ([]chat.Message, error) {
	if _, err := s.GetSession(ctx, id, owner); err != nil {
		return nil, err
	}

	// rowid breaks created_at ties in insertion order.
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, role, content, persona_tag, created_at FROM messages WHERE session_id = ? ORDER BY created_at ASC, rowid ASC",
		id)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (s *SQLiteStore) LastMessages(ctx context.Context, id, owner string, n int) ([]chat.Message, error) {
	if _, err := s.GetSession(ctx, id, owner); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, session_id, role, content, persona_tag, created_at
        FROM (
            SELECT rowid AS rid, id, session_id, role, content, persona_tag, created_at
            FROM messages
            WHERE session_id = ?
            ORDER BY created_at DESC, rid DESC
            LIMIT ?
        )
        ORDER BY created_at ASC, rid ASC`,
		id, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]chat.Message, error) {
	messages := make([]chat.Message, 0)
	for rows.Next() {
		var msg chat.Message
		var personaTag sql.NullString
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &personaTag, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if personaTag.Valid {
			msg.PersonaTag = personaTag.String
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
