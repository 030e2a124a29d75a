package notify

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists notifications in the notifications table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed notification store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, n *Notification) (string, error) {
	if n.UserID == "" || n.Message == "" {
		return "", fmt.Errorf("notification user and message are required")
	}
	var id string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO notifications (user_id, from_agent, to_thread_id, message, priority, artifact_id, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,now())
		 RETURNING id`,
		n.UserID,
		n.FromAgent,
		nullableString(n.ToThreadID),
		n.Message,
		n.Priority,
		nullableString(n.ArtifactID),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert notification: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetUnread(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, from_agent, to_thread_id, message, priority, artifact_id, created_at, read_at
		 FROM notifications
		 WHERE user_id = $1 AND read_at IS NULL
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("get unread: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		var n Notification
		var toThread, artifactID sql.NullString
		var readAt sql.NullTime
		if err := rows.Scan(
			&n.ID,
			&n.UserID,
			&n.FromAgent,
			&toThread,
			&n.Message,
			&n.Priority,
			&artifactID,
			&n.CreatedAt,
			&readAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.ToThreadID = toThread.String
		n.ArtifactID = artifactID.String
		if readAt.Valid {
			t := readAt.Time
			n.ReadAt = &t
		}
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get unread: %w", err)
	}
	return notifications, nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, ids []string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read_at = now()
		 WHERE id = ANY($1) AND read_at IS NULL`,
		pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark read rows affected: %w", err)
	}
	return int(rows), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
