package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/steward/internal/storage"
)

// PostgresStore persists schedules in the scheduler table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed schedule store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const entryColumns = `id, user_id, agent_name, skill, cron, next_run, last_run, is_active, config, created_at, updated_at`

func scanEntry(row interface{ Scan(...any) error }) (*Entry, error) {
	var e Entry
	var lastRun sql.NullTime
	var configBytes []byte
	if err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.AgentName,
		&e.Skill,
		&e.Cron,
		&e.NextRun,
		&lastRun,
		&e.IsActive,
		&configBytes,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lastRun.Valid {
		t := lastRun.Time
		e.LastRun = &t
	}
	if len(configBytes) > 0 {
		if err := json.Unmarshal(configBytes, &e.Config); err != nil {
			return nil, fmt.Errorf("unmarshal schedule config: %w", err)
		}
	}
	return &e, nil
}

func (s *PostgresStore) Insert(ctx context.Context, e *Entry) (string, error) {
	if e.UserID == "" || e.AgentName == "" {
		return "", fmt.Errorf("schedule user and agent are required")
	}
	configBytes, err := json.Marshal(e.Config)
	if err != nil {
		return "", fmt.Errorf("marshal schedule config: %w", err)
	}

	var id string
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO scheduler (user_id, agent_name, skill, cron, next_run, is_active, config, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,TRUE,$6,now(),now())
		 RETURNING id`,
		e.UserID, e.AgentName, e.Skill, e.Cron, e.NextRun, configBytes).Scan(&id)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return "", storage.ErrAlreadyExists
		}
		return "", fmt.Errorf("insert schedule: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetDue(ctx context.Context, now time.Time) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM scheduler
		 WHERE is_active AND next_run <= $1
		 ORDER BY next_run`,
		now)
	if err != nil {
		return nil, fmt.Errorf("get due schedules: %w", err)
	}
	defer rows.Close()

	var due []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		due = append(due, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get due schedules: %w", err)
	}
	return due, nil
}

func (s *PostgresStore) Advance(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduler SET last_run = $2, next_run = $3, updated_at = now()
		 WHERE id = $1 AND is_active`,
		id, lastRun, nextRun)
	if err != nil {
		return fmt.Errorf("advance schedule: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance schedule rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetActive(ctx context.Context, userID, agentName string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM scheduler
		 WHERE user_id = $1 AND agent_name = $2 AND is_active`,
		userID, agentName)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) UpdateCron(ctx context.Context, id, cronExpr string, nextRun time.Time, config map[string]any) error {
	configBytes, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal schedule config: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduler SET cron = $2, next_run = $3, config = $4, updated_at = now()
		 WHERE id = $1 AND is_active`,
		id, cronExpr, nextRun, configBytes)
	if err != nil {
		return fmt.Errorf("update schedule cron: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update schedule cron rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Deactivate(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduler SET is_active = FALSE, updated_at = now()
		 WHERE id = $1 AND is_active`,
		id)
	if err != nil {
		return false, fmt.Errorf("deactivate schedule: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate schedule rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM scheduler
		 WHERE user_id = $1 AND is_active
		 ORDER BY agent_name`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return entries, nil
}
