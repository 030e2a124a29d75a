package threads

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// PostgresStore persists thread handles in the threads table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed thread store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, userID, title, provider, model string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("thread user is required")
	}
	threadID := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (thread_id, user_id, title, provider, model, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,now(),now())`,
		threadID, userID, title, provider, model)
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return threadID, nil
}

func (s *PostgresStore) Get(ctx context.Context, threadID, userID string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT thread_id, user_id, title, provider, model, message_count, created_at, updated_at
		 FROM threads WHERE thread_id = $1 AND user_id = $2 AND NOT is_deleted`,
		threadID, userID)

	var t Thread
	if err := row.Scan(
		&t.ThreadID,
		&t.UserID,
		&t.Title,
		&t.Provider,
		&t.Model,
		&t.MessageCount,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) List(ctx context.Context, userID string, limit int) ([]*Thread, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id, user_id, title, provider, model, message_count, created_at, updated_at
		 FROM threads WHERE user_id = $1 AND NOT is_deleted
		 ORDER BY updated_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var list []*Thread
	for rows.Next() {
		var t Thread
		if err := rows.Scan(
			&t.ThreadID,
			&t.UserID,
			&t.Title,
			&t.Provider,
			&t.Model,
			&t.MessageCount,
			&t.CreatedAt,
			&t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		list = append(list, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return list, nil
}

func (s *PostgresStore) Touch(ctx context.Context, threadID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE threads SET message_count = message_count + 1, updated_at = now()
		 WHERE thread_id = $1 AND user_id = $2 AND NOT is_deleted`,
		threadID, userID)
	if err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, threadID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET is_deleted = TRUE, updated_at = now()
		 WHERE thread_id = $1 AND user_id = $2 AND NOT is_deleted`,
		threadID, userID)
	if err != nil {
		return false, fmt.Errorf("delete thread: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete thread rows affected: %w", err)
	}
	return rows > 0, nil
}
