package chat

import "time"

// Session is a persisted conversation owned by a single authenticated user.
// Only the owner may read, rename, or delete it.
type Session struct {
	ID        string    `json:"id"`
	Owner     string    `json:"-"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
