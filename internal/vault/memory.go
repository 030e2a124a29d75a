package vault

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/steward/internal/storage"
)

// MemoryStore provides an in-memory credential store for tests and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*Credential // keyed by userID + "\x00" + service
}

// NewMemoryStore creates an in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]*Credential)}
}

func credKey(userID, service string) string {
	return userID + "\x00" + service
}

func (s *MemoryStore) Get(ctx context.Context, userID, service string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[credKey(userID, service)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *cred
	copied.TokenData = append([]byte(nil), cred.TokenData...)
	return &copied, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	key := credKey(cred.UserID, cred.Service)
	copied := *cred
	copied.TokenData = append([]byte(nil), cred.TokenData...)
	copied.UpdatedAt = now
	if existing, ok := s.creds[key]; ok {
		copied.ID = existing.ID
		copied.CreatedAt = existing.CreatedAt
	} else {
		copied.ID = uuid.NewString()
		copied.CreatedAt = now
	}
	s.creds[key] = &copied
	return nil
}

func (s *MemoryStore) Reseal(ctx context.Context, userID, service string, tokenData []byte, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[credKey(userID, service)]
	if !ok {
		return storage.ErrNotFound
	}
	cred.TokenData = append([]byte(nil), tokenData...)
	cred.EncryptionKeyID = keyID
	cred.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID, service string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := credKey(userID, service)
	if _, ok := s.creds[key]; !ok {
		return false, nil
	}
	delete(s.creds, key)
	return true, nil
}

func (s *MemoryStore) ListServices(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var services []string
	for _, cred := range s.creds {
		if cred.UserID == userID {
			services = append(services, cred.Service)
		}
	}
	sort.Strings(services)
	return services, nil
}
