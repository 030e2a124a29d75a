package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/haasonsaas/steward/internal/storage"
)

// PostgresStore persists credentials in the user_credentials table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed credential store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, userID, service string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, service, token_data, encryption_key_id, scopes, expires_at, metadata, created_at, updated_at
		 FROM user_credentials WHERE user_id = $1 AND service = $2`,
		userID, service)

	var cred Credential
	var scopes pq.StringArray
	var expiresAt sql.NullTime
	var metadataBytes []byte
	if err := row.Scan(
		&cred.ID,
		&cred.UserID,
		&cred.Service,
		&cred.TokenData,
		&cred.EncryptionKeyID,
		&scopes,
		&expiresAt,
		&metadataBytes,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	cred.Scopes = scopes
	if expiresAt.Valid {
		t := expiresAt.Time
		cred.ExpiresAt = &t
	}
	if len(metadataBytes) > 0 {
		if err := json.Unmarshal(metadataBytes, &cred.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal credential metadata: %w", err)
		}
	}
	return &cred, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, cred *Credential) error {
	if cred == nil || cred.UserID == "" || cred.Service == "" {
		return fmt.Errorf("credential user and service are required")
	}
	metadata, err := json.Marshal(cred.Metadata)
	if err != nil {
		return fmt.Errorf("marshal credential metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_credentials (user_id, service, token_data, encryption_key_id, scopes, expires_at, metadata, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
		 ON CONFLICT (user_id, service) DO UPDATE SET
			token_data = EXCLUDED.token_data,
			encryption_key_id = EXCLUDED.encryption_key_id,
			scopes = EXCLUDED.scopes,
			expires_at = EXCLUDED.expires_at,
			metadata = EXCLUDED.metadata,
			updated_at = now()`,
		cred.UserID,
		cred.Service,
		cred.TokenData,
		cred.EncryptionKeyID,
		pq.Array(cred.Scopes),
		nullableTime(cred.ExpiresAt),
		metadata,
	)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) Reseal(ctx context.Context, userID, service string, tokenData []byte, keyID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_credentials SET token_data = $1, encryption_key_id = $2, updated_at = now()
		 WHERE user_id = $3 AND service = $4`,
		tokenData, keyID, userID, service)
	if err != nil {
		return fmt.Errorf("reseal credential: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reseal credential rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID, service string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM user_credentials WHERE user_id = $1 AND service = $2`,
		userID, service)
	if err != nil {
		return false, fmt.Errorf("delete credential: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete credential rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *PostgresStore) ListServices(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT service FROM user_credentials WHERE user_id = $1 ORDER BY service`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list credential services: %w", err)
	}
	defer rows.Close()

	var services []string
	for rows.Next() {
		var service string
		if err := rows.Scan(&service); err != nil {
			return nil, fmt.Errorf("scan credential service: %w", err)
		}
		services = append(services, service)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credential services: %w", err)
	}
	return services, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
