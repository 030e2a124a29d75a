package threads

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore provides an in-memory thread store for tests and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	rows  map[string]*Thread // keyed by threadID + "\x00" + userID
	dead  map[string]bool
	order []string
}

// NewMemoryStore creates an in-memory thread store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[string]*Thread),
		dead: make(map[string]bool),
	}
}

func threadKey(threadID, userID string) string {
	return threadID + "\x00" + userID
}

func (s *MemoryStore) Create(ctx context.Context, userID, title, provider, model string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("thread user is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	t := &Thread{
		ThreadID:  uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Provider:  provider,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	key := threadKey(t.ThreadID, userID)
	s.rows[key] = t
	s.order = append(s.order, key)
	return t.ThreadID, nil
}

func (s *MemoryStore) Get(ctx context.Context, threadID, userID string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := threadKey(threadID, userID)
	t, ok := s.rows[key]
	if !ok || s.dead[key] {
		return nil, nil
	}
	copied := *t
	return &copied, nil
}

func (s *MemoryStore) List(ctx context.Context, userID string, limit int) ([]*Thread, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []*Thread
	for i := len(s.order) - 1; i >= 0 && len(list) < limit; i-- {
		key := s.order[i]
		t := s.rows[key]
		if s.dead[key] || t.UserID != userID {
			continue
		}
		copied := *t
		list = append(list, &copied)
	}
	return list, nil
}

func (s *MemoryStore) Touch(ctx context.Context, threadID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := threadKey(threadID, userID)
	t, ok := s.rows[key]
	if !ok || s.dead[key] {
		return nil
	}
	t.MessageCount++
	t.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, threadID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := threadKey(threadID, userID)
	if _, ok := s.rows[key]; !ok || s.dead[key] {
		return false, nil
	}
	s.dead[key] = true
	return true, nil
}
