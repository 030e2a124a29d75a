// Package storage opens the shared Postgres pool and bootstraps the schema.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Config tunes the database connection pool.
type Config struct {
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// DefaultConfig returns pool settings suitable for a single gateway process.
func DefaultConfig() *Config {
	return &Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// Open connects to Postgres using the DSN, verifies connectivity, and
// ensures the gateway schema exists.
func Open(dsn string, config *Config) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureSchema creates the gateway tables and indexes if missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS agent_templates (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			agent_md TEXT NOT NULL DEFAULT '',
			tools_md TEXT NOT NULL DEFAULT '',
			bootstrap_md TEXT NOT NULL DEFAULT '',
			heartbeat_md TEXT NOT NULL DEFAULT '',
			content_hash TEXT NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS agent_instances (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			agent_md TEXT NOT NULL DEFAULT '',
			tools_md TEXT NOT NULL DEFAULT '',
			bootstrap_md TEXT NOT NULL DEFAULT '',
			heartbeat_md TEXT NOT NULL DEFAULT '',
			soul_md TEXT NOT NULL DEFAULT '',
			template_name TEXT,
			template_version BIGINT,
			source TEXT NOT NULL DEFAULT 'from_template',
			customized_files TEXT[] NOT NULL DEFAULT '{}',
			upgrade_available BOOLEAN NOT NULL DEFAULT false,
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (user_id, agent_name)
		)`,
		`CREATE TABLE IF NOT EXISTS user_credentials (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id TEXT NOT NULL,
			service TEXT NOT NULL,
			token_data BYTEA NOT NULL,
			encryption_key_id TEXT NOT NULL DEFAULT '',
			scopes TEXT[],
			expires_at TIMESTAMPTZ,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (user_id, service)
		)`,
		`CREATE TABLE IF NOT EXISTS scheduler (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			skill TEXT NOT NULL,
			cron TEXT NOT NULL,
			next_run TIMESTAMPTZ NOT NULL,
			last_run TIMESTAMPTZ,
			is_active BOOLEAN NOT NULL DEFAULT true,
			config JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS scheduler_user_agent_active
			ON scheduler (user_id, agent_name) WHERE is_active`,
		`CREATE INDEX IF NOT EXISTS scheduler_next_run_active
			ON scheduler (next_run) WHERE is_active`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id TEXT NOT NULL,
			from_agent TEXT NOT NULL,
			to_thread_id TEXT,
			message TEXT NOT NULL,
			priority TEXT NOT NULL DEFAULT 'normal',
			artifact_id UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			read_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS notifications_unread
			ON notifications (user_id, created_at DESC) WHERE read_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB,
			is_deleted BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS artifacts_user_created
			ON artifacts (user_id, created_at DESC) WHERE NOT is_deleted`,
		`CREATE TABLE IF NOT EXISTS threads (
			thread_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			message_count BIGINT NOT NULL DEFAULT 0,
			is_deleted BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (thread_id, user_id)
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// IsUniqueViolation reports whether err looks like a unique constraint error.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "23505")
}
