package vault

import (
	"context"
	"time"
)

// Credential is a stored row. TokenData holds ciphertext (or raw bytes in
// plaintext mode); EncryptionKeyID names the key that sealed it.
type Credential struct {
	ID              string
	UserID          string
	Service         string
	TokenData       []byte
	EncryptionKeyID string
	Scopes          []string
	ExpiresAt       *time.Time
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Store persists credential rows keyed by (user_id, service).
type Store interface {
	Get(ctx context.Context, userID, service string) (*Credential, error)
	Upsert(ctx context.Context, cred *Credential) error
	// Reseal rewrites token data and key id in place; used by lazy rotation.
	Reseal(ctx context.Context, userID, service string, tokenData []byte, keyID string) error
	Delete(ctx context.Context, userID, service string) (bool, error)
	ListServices(ctx context.Context, userID string) ([]string, error)
}
