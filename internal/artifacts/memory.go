package artifacts

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore provides an in-memory artifact store for tests and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	rows  map[string]*Artifact
	dead  map[string]bool
	order []string // insertion order, oldest first
}

// NewMemoryStore creates an in-memory artifact store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[string]*Artifact),
		dead: make(map[string]bool),
	}
}

func (s *MemoryStore) Write(ctx context.Context, userID, agentID, artifactType, content string, metadata map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	a := &Artifact{
		ID:        uuid.NewString(),
		UserID:    userID,
		AgentID:   agentID,
		Type:      artifactType,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.rows[a.ID] = a
	s.order = append(s.order, a.ID)
	return a.ID, nil
}

func (s *MemoryStore) Get(ctx context.Context, artifactID string) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.rows[artifactID]
	if !ok || s.dead[artifactID] {
		return nil, nil
	}
	copied := *a
	return &copied, nil
}

func (s *MemoryStore) List(ctx context.Context, userID, artifactType string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Insertion order stands in for created_at; walk newest-first.
	var matched []*Artifact
	for i := len(s.order) - 1; i >= 0 && len(matched) < limit; i-- {
		id := s.order[i]
		a := s.rows[id]
		if s.dead[id] || a.UserID != userID {
			continue
		}
		if artifactType != "" && a.Type != artifactType {
			continue
		}
		matched = append(matched, a)
	}

	summaries := make([]Summary, len(matched))
	for i, a := range matched {
		summaries[i] = Summary{
			ID:        a.ID,
			AgentID:   a.AgentID,
			Type:      a.Type,
			Preview:   preview(a.Content),
			CreatedAt: a.CreatedAt,
		}
	}
	return summaries, nil
}

func (s *MemoryStore) Delete(ctx context.Context, artifactID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[artifactID]; !ok || s.dead[artifactID] {
		return false, nil
	}
	s.dead[artifactID] = true
	return true, nil
}
