package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/steward/internal/storage"
)

// MemoryStore provides an in-memory schedule store for tests and local
// runs.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]*Entry
}

// NewMemoryStore creates an in-memory schedule store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Entry)}
}

func copyEntry(e *Entry) *Entry {
	copied := *e
	if e.LastRun != nil {
		t := *e.LastRun
		copied.LastRun = &t
	}
	if e.Config != nil {
		copied.Config = make(map[string]any, len(e.Config))
		for k, v := range e.Config {
			copied.Config[k] = v
		}
	}
	return &copied
}

func (s *MemoryStore) Insert(ctx context.Context, e *Entry) (string, error) {
	if e.UserID == "" || e.AgentName == "" {
		return "", fmt.Errorf("schedule user and agent are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rows {
		if existing.IsActive && existing.UserID == e.UserID && existing.AgentName == e.AgentName {
			return "", storage.ErrAlreadyExists
		}
	}
	copied := copyEntry(e)
	copied.ID = uuid.NewString()
	copied.IsActive = true
	copied.CreatedAt = time.Now()
	copied.UpdatedAt = copied.CreatedAt
	s.rows[copied.ID] = copied
	return copied.ID, nil
}

func (s *MemoryStore) GetDue(ctx context.Context, now time.Time) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []*Entry
	for _, e := range s.rows {
		if e.IsActive && !e.NextRun.After(now) {
			due = append(due, copyEntry(e))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRun.Before(due[j].NextRun) })
	return due, nil
}

func (s *MemoryStore) Advance(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok || !e.IsActive {
		return storage.ErrNotFound
	}
	t := lastRun
	e.LastRun = &t
	e.NextRun = nextRun
	e.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) GetActive(ctx context.Context, userID, agentName string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.rows {
		if e.IsActive && e.UserID == userID && e.AgentName == agentName {
			return copyEntry(e), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *MemoryStore) UpdateCron(ctx context.Context, id, cronExpr string, nextRun time.Time, config map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok || !e.IsActive {
		return storage.ErrNotFound
	}
	e.Cron = cronExpr
	e.NextRun = nextRun
	e.Config = config
	e.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Deactivate(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok || !e.IsActive {
		return false, nil
	}
	e.IsActive = false
	e.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []*Entry
	for _, e := range s.rows {
		if e.IsActive && e.UserID == userID {
			entries = append(entries, copyEntry(e))
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].AgentName < entries[j].AgentName })
	return entries, nil
}
