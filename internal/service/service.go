// Package service assembles the gateway from configuration: storage, vault,
// tool bridges, agent registry, artifact and notification stores, the
// spawner, the cron scheduler, and the HTTP surface.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/haasonsaas/steward/internal/artifacts"
	"github.com/haasonsaas/steward/internal/bridge"
	"github.com/haasonsaas/steward/internal/config"
	"github.com/haasonsaas/steward/internal/llm"
	"github.com/haasonsaas/steward/internal/notify"
	"github.com/haasonsaas/steward/internal/observability"
	"github.com/haasonsaas/steward/internal/registry"
	"github.com/haasonsaas/steward/internal/scheduler"
	"github.com/haasonsaas/steward/internal/spawner"
	"github.com/haasonsaas/steward/internal/storage"
	"github.com/haasonsaas/steward/internal/threads"
	"github.com/haasonsaas/steward/internal/vault"
)

// Stores bundles the persistence backends the service runs on. Production
// uses the Postgres implementations; tests substitute the memory twins.
type Stores struct {
	Vault     vault.Store
	Registry  registry.Store
	Artifacts artifacts.Store
	Notify    notify.Store
	Threads   threads.Store
	Scheduler scheduler.Store
}

// Service is the assembled gateway.
type Service struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics

	db      *sql.DB
	watcher *registry.Watcher
	server  *http.Server

	Vault     *vault.Vault
	Bridges   *bridge.Manager
	Registry  *registry.Registry
	Seeder    *registry.Seeder
	Artifacts artifacts.Store
	Queue     *notify.Queue
	Threads   threads.Store
	Spawner   *spawner.Spawner
	Scheduler *scheduler.Scheduler
}

// New opens the database, ensures the schema, and assembles the gateway over
// Postgres-backed stores.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	db, err := storage.Open(cfg.Database.DSN, cfg.Database.Pool)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	svc, err := NewWithStores(cfg, logger, Stores{
		Vault:     vault.NewPostgresStore(db),
		Registry:  registry.NewPostgresStore(db),
		Artifacts: artifacts.NewPostgresStore(db),
		Notify:    notify.NewPostgresStore(db),
		Threads:   threads.NewPostgresStore(db),
		Scheduler: scheduler.NewPostgresStore(db),
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	svc.db = db
	return svc, nil
}

// NewWithStores assembles the gateway over caller-provided stores.
func NewWithStores(cfg *config.Config, logger *slog.Logger, stores Stores) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cfg:     cfg,
		logger:  logger.With("component", "service"),
		metrics: observability.Default(),
	}

	var ring *vault.Keyring
	if len(cfg.Encryption.Keys) > 0 {
		var err error
		ring, err = vault.NewKeyring(cfg.Encryption.Keys, cfg.Encryption.CurrentKeyID)
		if err != nil {
			return nil, fmt.Errorf("build keyring: %w", err)
		}
	}
	s.Vault = vault.New(stores.Vault, ring, logger)

	bindings := make(map[string]bridge.Binding, len(cfg.Tools.Bindings))
	for serverID, b := range cfg.Tools.Bindings {
		bindings[serverID] = bridge.Binding{Service: b.Service, Header: b.Header}
	}
	s.Bridges = bridge.NewManager(cfg.Tools.Servers, bindings, s.Vault, logger)

	system := registry.NewSystemDir(cfg.Agents.SystemDir)
	s.Registry = registry.New(stores.Registry, system, logger)
	s.Seeder = registry.NewSeeder(cfg.Agents.Dir, stores.Registry, logger)
	if cfg.Agents.Watch {
		watcher, err := registry.NewWatcher(s.Seeder, logger)
		if err != nil {
			s.logger.Warn("agent directory watcher unavailable", "error", err)
		} else {
			s.watcher = watcher
		}
	}

	s.Artifacts = stores.Artifacts
	s.Queue = notify.NewQueue(stores.Notify, logger)
	s.Threads = stores.Threads

	factory := llm.NewExecutorFactory(llm.Options{
		Provider:     cfg.LLM.Provider,
		Model:        cfg.LLM.Model,
		AnthropicKey: cfg.LLM.AnthropicKey,
		OpenAIKey:    cfg.LLM.OpenAIKey,
	}, logger)
	s.Spawner = spawner.New(s.Bridges, s.Registry, s.Artifacts, s.Queue, s.Threads, factory, logger)

	s.Scheduler = scheduler.New(stores.Scheduler, logger,
		scheduler.WithPollInterval(cfg.Scheduler.PollInterval))
	s.Scheduler.SetCallback(s.onScheduleFire)

	s.server = &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// onScheduleFire turns a due cron row into a background run.
func (s *Service) onScheduleFire(ctx context.Context, userID, agentName, skill string, config map[string]any) {
	s.metrics.ScheduleFires.WithLabelValues(skill, "dispatched").Inc()
	s.metrics.BackgroundRuns.WithLabelValues("started").Inc()
	runID := s.Spawner.SpawnBackground(ctx, userID, agentName, skill, spawner.Config(config), spawner.RunOptions{})
	s.logger.Info("schedule dispatched", "user_id", userID, "agent", agentName, "run_id", runID)
}

// Start seeds agent templates, begins watching the agent directory, starts
// the scheduler, and serves HTTP. Non-blocking.
func (s *Service) Start(ctx context.Context) error {
	results, err := s.Seeder.Sync(ctx)
	if err != nil {
		return fmt.Errorf("seed agent templates: %w", err)
	}
	s.logger.Info("agent templates seeded", "count", len(results))

	if s.watcher != nil {
		s.watcher.Start(ctx)
	}
	s.Scheduler.Start(ctx)

	go func() {
		s.logger.Info("http server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the gateway down: HTTP first so no new work arrives, then the
// scheduler, then in-flight runs, then the tool bridges and database.
func (s *Service) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown incomplete", "error", err)
	}
	s.Scheduler.Stop()
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.logger.Warn("watcher stop failed", "error", err)
		}
	}
	s.Spawner.Wait()
	s.Bridges.Cleanup()
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("close database: %w", err)
		}
	}
	s.logger.Info("service stopped")
	return nil
}

// Handler exposes the HTTP surface, for tests.
func (s *Service) Handler() http.Handler {
	return s.server.Handler
}
