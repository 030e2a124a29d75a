// Package vault stores per-user service credentials encrypted at rest with
// key-versioned rows, enabling lazy key rotation on read.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/steward/internal/storage"
)

// Secret is a decrypted credential handed to the bridge builder.
type Secret struct {
	Service   string
	Data      []byte
	Scopes    []string
	ExpiresAt *time.Time
	Metadata  map[string]any
}

// PutOptions carries the optional fields of a credential write.
type PutOptions struct {
	Scopes    []string
	ExpiresAt *time.Time
	Metadata  map[string]any
}

// Vault mediates between callers and the encrypted store.
type Vault struct {
	store  Store
	ring   *Keyring
	logger *slog.Logger
}

// New creates a vault. A nil keyring means plaintext mode, permitted only in
// development; it is called out at warning level once here.
func New(store Store, ring *Keyring, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "vault")
	if ring == nil {
		logger.Warn("no encryption key configured, storing credentials in plaintext")
	}
	return &Vault{store: store, ring: ring, logger: logger}
}

// Get returns the decrypted credential for (user, service), or nil when the
// row is absent or cannot be decrypted. Rows sealed under a prior key are
// transparently resealed under the current key; a reseal failure never fails
// the read.
func (v *Vault) Get(ctx context.Context, userID, service string) (*Secret, error) {
	cred, err := v.store.Get(ctx, userID, service)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	data := cred.TokenData
	if v.ring != nil {
		data, err = v.ring.Decrypt(cred.TokenData, cred.EncryptionKeyID)
		if err != nil {
			v.logger.Warn("credential decrypt failed, treating as absent",
				"user_id", userID,
				"service", service,
				"key_id", cred.EncryptionKeyID,
				"error", err)
			return nil, nil
		}

		if cred.EncryptionKeyID != v.ring.CurrentID() {
			v.reseal(ctx, userID, service, data)
		}
	}

	return &Secret{
		Service:   cred.Service,
		Data:      data,
		Scopes:    cred.Scopes,
		ExpiresAt: cred.ExpiresAt,
		Metadata:  cred.Metadata,
	}, nil
}

func (v *Vault) reseal(ctx context.Context, userID, service string, plaintext []byte) {
	blob, keyID, err := v.ring.Encrypt(plaintext)
	if err == nil {
		err = v.store.Reseal(ctx, userID, service, blob, keyID)
	}
	if err != nil {
		v.logger.Warn("credential reseal failed, row keeps prior key",
			"user_id", userID,
			"service", service,
			"error", err)
		return
	}
	v.logger.Info("credential rotated to current key",
		"user_id", userID,
		"service", service,
		"key_id", keyID)
}

// Put encrypts and upserts a credential for (user, service).
func (v *Vault) Put(ctx context.Context, userID, service string, tokenData []byte, opts PutOptions) error {
	if userID == "" || service == "" {
		return fmt.Errorf("user id and service are required")
	}

	blob := tokenData
	keyID := ""
	if v.ring != nil {
		var err error
		blob, keyID, err = v.ring.Encrypt(tokenData)
		if err != nil {
			return fmt.Errorf("encrypt credential: %w", err)
		}
	}

	return v.store.Upsert(ctx, &Credential{
		UserID:          userID,
		Service:         service,
		TokenData:       blob,
		EncryptionKeyID: keyID,
		Scopes:          opts.Scopes,
		ExpiresAt:       opts.ExpiresAt,
		Metadata:        opts.Metadata,
	})
}

// Delete removes the credential, reporting whether a row existed.
func (v *Vault) Delete(ctx context.Context, userID, service string) (bool, error) {
	return v.store.Delete(ctx, userID, service)
}

// ListServices returns the services the user holds credentials for.
func (v *Vault) ListServices(ctx context.Context, userID string) ([]string, error) {
	return v.store.ListServices(ctx, userID)
}
