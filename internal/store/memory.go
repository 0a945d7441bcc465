package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-erp/advisor/backend/internal/model/chat"
)

// MemoryStore implements Store with in-process maps. It backs tests and
// disposable deployments where durability is not needed.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*User
	sessions map[string]chat.Session
	messages map[string][]chat.Message
	nextUID  int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*User),
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateUser(_ context.Context, username, passwordHash, role string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; ok {
		return nil, ErrUserExists
	}
	s.nextUID++
	user := &User{
		ID:           s.nextUID,
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	s.users[username] = user
	copied := *user
	return &copied, nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *MemoryStore) CreateSession(_ context.Context, owner, title string) (*chat.Session, error) {
	now := time.Now().UTC()
	session := chat.Session{
		ID:        uuid.NewString(),
		Owner:     owner,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.messages[session.ID] = make([]chat.Message, 0, 16)
	s.mu.Unlock()

	copied := session
	return &copied, nil
}

func (s *MemoryStore) ListSessions(_ context.Context, owner string) ([]chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]chat.Session, 0)
	for _, sess := range s.sessions {
		if sess.Owner == owner {
			sessions = append(sessions, sess)
		}
	}
	// Most recently touched first, matching the SQLite ordering.
	for i := 1; i < len(sessions); i++ {
		for j := i; j > 0 && sessions[j].UpdatedAt.After(sessions[j-1].UpdatedAt); j-- {
			sessions[j], sessions[j-1] = sessions[j-1], sessions[j]
		}
	}
	return sessions, nil
}

func (s *MemoryStore) GetSession(_ context.Context, id, owner string) (*chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSessionLocked(id, owner)
}

func (s *MemoryStore) getSessionLocked(id, owner string) (*chat.Session, error) {
	sess, ok := s.sessions[id]
	if !ok || sess.Owner != owner {
		return nil, ErrNotFound
	}
	copied := sess
	return &copied, nil
}

func (s *MemoryStore) UpdateSessionTitle(_ context.Context, id, owner, title string) (*chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Owner != owner {
		return nil, ErrNotFound
	}
	sess.Title = title
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[id] = sess
	copied := sess
	return &copied, nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Owner != owner {
		return ErrNotFound
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, owner string, msg chat.Message) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[msg.SessionID]
	if !ok || sess.Owner != owner {
		return chat.Message{}, ErrNotFound
	}

	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)

	sess.UpdatedAt = msg.CreatedAt
	s.sessions[msg.SessionID] = sess
	return msg, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, id, owner string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.getSessionLocked(id, owner); err != nil {
		return nil, err
	}
	messages := s.messages[id]
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

func (s *MemoryStore) LastMessages(ctx context.Context, id, owner string, n int) ([]chat.Message, error) {
	messages, err := s.ListMessages(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	if len(messages) > n {
		messages = messages[len(messages)-n:]
	}
	return messages, nil
}
