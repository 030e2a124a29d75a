package artifacts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists artifacts in the artifacts table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed artifact store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Write(ctx context.Context, userID, agentID, artifactType, content string, metadata map[string]any) (string, error) {
	if userID == "" || artifactType == "" {
		return "", fmt.Errorf("artifact user and type are required")
	}
	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal artifact metadata: %w", err)
	}

	var id string
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO artifacts (user_id, agent_id, type, content, metadata, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,now(),now())
		 RETURNING id`,
		userID, agentID, artifactType, content, metadataBytes).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Get(ctx context.Context, artifactID string) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, agent_id, type, content, metadata, created_at, updated_at
		 FROM artifacts WHERE id = $1 AND NOT is_deleted`,
		artifactID)

	var a Artifact
	var metadataBytes []byte
	if err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.AgentID,
		&a.Type,
		&a.Content,
		&metadataBytes,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	if len(metadataBytes) > 0 {
		if err := json.Unmarshal(metadataBytes, &a.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal artifact metadata: %w", err)
		}
	}
	return &a, nil
}

func (s *PostgresStore) List(ctx context.Context, userID, artifactType string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, agent_id, type, content, created_at
		 FROM artifacts WHERE user_id = $1 AND NOT is_deleted`
	args := []any{userID}
	if artifactType != "" {
		query += ` AND type = $2`
		args = append(args, artifactType)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var sum Summary
		var content string
		if err := rows.Scan(&sum.ID, &sum.AgentID, &sum.Type, &content, &sum.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		sum.Preview = preview(content)
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return summaries, nil
}

func (s *PostgresStore) Delete(ctx context.Context, artifactID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE artifacts SET is_deleted = TRUE, updated_at = now()
		 WHERE id = $1 AND NOT is_deleted`,
		artifactID)
	if err != nil {
		return false, fmt.Errorf("delete artifact: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete artifact rows affected: %w", err)
	}
	return rows > 0, nil
}
