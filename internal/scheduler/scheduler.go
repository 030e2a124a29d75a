// Package scheduler fires persisted cron schedules. The database row is the
// synchronization point: next-run advancement is committed before the
// callback runs, so a crash mid-fire cannot cause a double fire.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions plus descriptors like
// @daily.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Entry is one persisted schedule row.
type Entry struct {
	ID        string
	UserID    string
	AgentName string
	Skill     string
	Cron      string
	NextRun   time.Time
	LastRun   *time.Time
	IsActive  bool
	Config    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists schedule rows.
type Store interface {
	// Insert adds an active row; storage.ErrAlreadyExists when the user
	// already has an active schedule for the agent.
	Insert(ctx context.Context, e *Entry) (string, error)

	// GetDue returns active rows with next_run at or before now.
	GetDue(ctx context.Context, now time.Time) ([]*Entry, error)

	// Advance atomically stamps last_run and the next firing time.
	Advance(ctx context.Context, id string, lastRun, nextRun time.Time) error

	// GetActive returns the user's active row for an agent, or
	// storage.ErrNotFound.
	GetActive(ctx context.Context, userID, agentName string) (*Entry, error)

	// UpdateCron rewrites the cron expression, recomputed next_run, and
	// config of a row.
	UpdateCron(ctx context.Context, id, cronExpr string, nextRun time.Time, config map[string]any) error

	// Deactivate soft-deletes; reports whether a row was active.
	Deactivate(ctx context.Context, id string) (bool, error)

	// ListByUser returns the user's active rows.
	ListByUser(ctx context.Context, userID string) ([]*Entry, error)
}

// Callback receives one due fire.
type Callback func(ctx context.Context, userID, agentName, skill string, config map[string]any)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithPollInterval overrides the tick cadence.
func WithPollInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// Scheduler drives the poll loop and mediates schedule mutations.
type Scheduler struct {
	store        Store
	logger       *slog.Logger
	pollInterval time.Duration
	now          func() time.Time

	mu       sync.Mutex
	callback Callback
	running  bool
	cancel   context.CancelFunc

	loopWG sync.WaitGroup // the poll loop itself
	fireWG sync.WaitGroup // in-flight fires, not awaited by Stop
}

// New creates a scheduler over the store.
func New(store Store, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:        store,
		logger:       logger.With("component", "scheduler"),
		pollInterval: 60 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCallback installs the fire handler. Fires before a callback is set are
// advanced and dropped.
func (s *Scheduler) SetCallback(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

// Start begins the poll loop. Idempotent while running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Info("starting scheduler", "poll_interval", s.pollInterval)
	s.loopWG.Add(1)
	go s.loop(ctx)
}

// Stop cancels the loop and waits for it. In-flight fires are not awaited;
// they complete in the background.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.loopWG.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.loopWG.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one due-row scan. Exported so operators and tests can drive the
// loop directly.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	due, err := s.store.GetDue(ctx, now)
	if err != nil {
		s.logger.Error("failed to scan due schedules", "error", err)
		return
	}
	// Fires run on a detached context: Stop cancels the poll loop, not an
	// advance or callback already in flight.
	fireCtx := context.WithoutCancel(ctx)
	for _, entry := range due {
		s.fireWG.Add(1)
		go func(entry *Entry) {
			defer s.fireWG.Done()
			s.fire(fireCtx, entry, now)
		}(entry)
	}
}

// fire advances the row, then invokes the callback. Advancement failures
// skip the callback entirely rather than risking a double fire.
func (s *Scheduler) fire(ctx context.Context, entry *Entry, now time.Time) {
	next, err := nextFiring(entry.Cron, now)
	if err != nil {
		s.logger.Error("schedule has unparseable cron, skipping",
			"schedule_id", entry.ID,
			"cron", entry.Cron,
			"error", err)
		return
	}
	if err := s.store.Advance(ctx, entry.ID, now, next); err != nil {
		s.logger.Error("failed to advance schedule, skipping fire",
			"schedule_id", entry.ID,
			"error", err)
		return
	}

	s.mu.Lock()
	cb := s.callback
	s.mu.Unlock()
	if cb == nil {
		s.logger.Warn("schedule fired with no callback installed",
			"schedule_id", entry.ID,
			"agent", entry.AgentName)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("schedule callback panicked",
				"schedule_id", entry.ID,
				"agent", entry.AgentName,
				"panic", r)
		}
	}()
	s.logger.Info("schedule fired",
		"schedule_id", entry.ID,
		"user_id", entry.UserID,
		"agent", entry.AgentName,
		"next_run", next)
	cb(ctx, entry.UserID, entry.AgentName, entry.Skill, entry.Config)
}

// WaitIdle blocks until in-flight fires complete, for tests.
func (s *Scheduler) WaitIdle() {
	s.fireWG.Wait()
}

// Schedule persists a new cron job and returns its id.
func (s *Scheduler) Schedule(ctx context.Context, userID, agentName, skill, cronExpr string, config map[string]any) (string, error) {
	next, err := nextFiring(cronExpr, s.now())
	if err != nil {
		return "", fmt.Errorf("invalid cron %q: %w", cronExpr, err)
	}
	return s.store.Insert(ctx, &Entry{
		UserID:    userID,
		AgentName: agentName,
		Skill:     skill,
		Cron:      cronExpr,
		NextRun:   next,
		Config:    config,
	})
}

// Unschedule soft-deactivates a row, reporting whether it was active.
func (s *Scheduler) Unschedule(ctx context.Context, id string) (bool, error) {
	return s.store.Deactivate(ctx, id)
}

// ListSchedules returns the user's active schedules.
func (s *Scheduler) ListSchedules(ctx context.Context, userID string) ([]*Entry, error) {
	return s.store.ListByUser(ctx, userID)
}

// nextFiring computes the first firing strictly after now.
func nextFiring(cronExpr string, now time.Time) (time.Time, error) {
	spec, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return spec.Next(now), nil
}
