package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore provides an in-memory notification store for tests and local
// runs.
type MemoryStore struct {
	mu    sync.RWMutex
	rows  map[string]*Notification
	order []string // insertion order, oldest first
}

// NewMemoryStore creates an in-memory notification store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Notification)}
}

func (s *MemoryStore) Insert(ctx context.Context, n *Notification) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *n
	copied.ID = uuid.NewString()
	copied.CreatedAt = time.Now()
	s.rows[copied.ID] = &copied
	s.order = append(s.order, copied.ID)
	return copied.ID, nil
}

func (s *MemoryStore) GetUnread(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var unread []*Notification
	for i := len(s.order) - 1; i >= 0 && len(unread) < limit; i-- {
		n := s.rows[s.order[i]]
		if n.UserID != userID || n.ReadAt != nil {
			continue
		}
		copied := *n
		unread = append(unread, &copied)
	}
	return unread, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	count := 0
	for _, id := range ids {
		n, ok := s.rows[id]
		if !ok || n.ReadAt != nil {
			continue
		}
		readAt := now
		n.ReadAt = &readAt
		count++
	}
	return count, nil
}
