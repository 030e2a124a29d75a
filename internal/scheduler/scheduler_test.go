package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/steward/internal/registry"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t *testing.T, value string) *testClock {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse clock: %v", err)
	}
	return &testClock{now: ts}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t *testing.T, value string) {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse clock: %v", err)
	}
	c.mu.Lock()
	c.now = ts
	c.mu.Unlock()
}

type firing struct {
	userID    string
	agentName string
	skill     string
	config    map[string]any
}

type recorder struct {
	mu    sync.Mutex
	fires []firing
}

func (r *recorder) callback(ctx context.Context, userID, agentName, skill string, config map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fires = append(r.fires, firing{userID, agentName, skill, config})
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fires)
}

func mustParseTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return ts
}

func TestDispatchIsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(t, "2026-01-01T01:00:00Z")
	store := NewMemoryStore()
	rec := &recorder{}

	s := New(store, nil, WithClock(clock.Now))
	s.SetCallback(rec.callback)

	if _, err := store.Insert(ctx, &Entry{
		UserID:    "alice",
		AgentName: "daily-planner",
		Skill:     "daily-tracker",
		Cron:      "0 2 * * *",
		NextRun:   mustParseTime(t, "2026-01-01T02:00:00Z"),
		Config:    map[string]any{"task": "plan"},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// Not yet due.
	s.Tick(ctx)
	s.WaitIdle()
	if rec.count() != 0 {
		t.Fatalf("fires before due = %d", rec.count())
	}

	clock.Set(t, "2026-01-01T02:00:30Z")
	s.Tick(ctx)
	s.WaitIdle()

	if rec.count() != 1 {
		t.Fatalf("fires = %d, want 1", rec.count())
	}
	fire := rec.fires[0]
	if fire.userID != "alice" || fire.agentName != "daily-planner" || fire.skill != "daily-tracker" {
		t.Errorf("fire = %+v", fire)
	}
	if fire.config["task"] != "plan" {
		t.Errorf("config = %v", fire.config)
	}

	entry, err := store.GetActive(ctx, "alice", "daily-planner")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if entry.LastRun == nil || !entry.LastRun.Equal(mustParseTime(t, "2026-01-01T02:00:30Z")) {
		t.Errorf("last_run = %v", entry.LastRun)
	}
	if !entry.NextRun.Equal(mustParseTime(t, "2026-01-02T02:00:00Z")) {
		t.Errorf("next_run = %v", entry.NextRun)
	}
	if !entry.NextRun.After(*entry.LastRun) {
		t.Error("next_run must be strictly after last_run")
	}

	// A later tick before the next firing does nothing.
	clock.Set(t, "2026-01-01T02:01:00Z")
	s.Tick(ctx)
	s.WaitIdle()
	if rec.count() != 1 {
		t.Errorf("fires after second tick = %d, want 1", rec.count())
	}
}

func TestUnscheduledRowsAreSkipped(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(t, "2026-01-01T02:00:30Z")
	store := NewMemoryStore()
	rec := &recorder{}

	s := New(store, nil, WithClock(clock.Now))
	s.SetCallback(rec.callback)

	id, err := s.Schedule(ctx, "alice", "daily-planner", "daily-tracker", "0 2 * * *", nil)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	removed, err := s.Unschedule(ctx, id)
	if err != nil || !removed {
		t.Fatalf("Unschedule: removed=%v err=%v", removed, err)
	}
	removed, err = s.Unschedule(ctx, id)
	if err != nil || removed {
		t.Fatalf("second Unschedule: removed=%v err=%v", removed, err)
	}

	clock.Set(t, "2026-01-02T02:00:30Z")
	s.Tick(ctx)
	s.WaitIdle()
	if rec.count() != 0 {
		t.Errorf("fires = %d, want 0 after unschedule", rec.count())
	}

	list, err := s.ListSchedules(ctx, "alice")
	if err != nil || len(list) != 0 {
		t.Errorf("list = %+v err=%v", list, err)
	}
}

func TestScheduleComputesNextRun(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(t, "2026-01-01T01:30:00Z")
	store := NewMemoryStore()
	s := New(store, nil, WithClock(clock.Now))

	if _, err := s.Schedule(ctx, "alice", "daily-planner", "daily-tracker", "0 2 * * *", nil); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	entry, err := store.GetActive(ctx, "alice", "daily-planner")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if !entry.NextRun.Equal(mustParseTime(t, "2026-01-01T02:00:00Z")) {
		t.Errorf("next_run = %v", entry.NextRun)
	}

	if _, err := s.Schedule(ctx, "alice", "daily-planner", "daily-tracker", "0 2 * * *", nil); err == nil {
		t.Error("expected already-exists for duplicate active schedule")
	}
	if _, err := s.Schedule(ctx, "alice", "broken", "broken", "not a cron", nil); err == nil {
		t.Error("expected error for invalid cron")
	}
}

func TestCallbackPanicDoesNotKillScheduler(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(t, "2026-01-01T02:00:30Z")
	store := NewMemoryStore()

	s := New(store, nil, WithClock(clock.Now))
	s.SetCallback(func(ctx context.Context, userID, agentName, skill string, config map[string]any) {
		panic("boom")
	})

	if _, err := store.Insert(ctx, &Entry{
		UserID:    "alice",
		AgentName: "daily-planner",
		Skill:     "daily-tracker",
		Cron:      "0 2 * * *",
		NextRun:   mustParseTime(t, "2026-01-01T02:00:00Z"),
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	s.Tick(ctx)
	s.WaitIdle()

	// The row advanced despite the panic; no retry of the same fire.
	entry, err := store.GetActive(ctx, "alice", "daily-planner")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if entry.LastRun == nil {
		t.Error("row did not advance")
	}
}

type declarations []registry.AgentSchedule

func (d declarations) GetAllSchedules(ctx context.Context, userID string) ([]registry.AgentSchedule, error) {
	return d, nil
}

func TestSyncFromHeartbeats(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(t, "2026-01-01T01:00:00Z")
	store := NewMemoryStore()
	s := New(store, nil, WithClock(clock.Now))

	decls := declarations{
		{AgentName: "fitness", Schedule: registry.Schedule{Name: "daily", Cron: "0 2 * * *", Task: "plan workouts", ArtifactType: "workout-plan"}},
		{AgentName: "email-triage", Schedule: registry.Schedule{Cron: "*/30 * * * *"}},
	}

	counts, err := s.SyncFromHeartbeats(ctx, decls, "alice")
	if err != nil {
		t.Fatalf("SyncFromHeartbeats: %v", err)
	}
	if counts.Created != 2 || counts.Updated != 0 || counts.Unchanged != 0 {
		t.Errorf("counts = %+v", counts)
	}

	entry, err := store.GetActive(ctx, "alice", "fitness-daily")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if entry.Skill != "fitness" || entry.Config["task"] != "plan workouts" || entry.Config["artifact_type"] != "workout-plan" {
		t.Errorf("entry = %+v", entry)
	}
	if _, err := store.GetActive(ctx, "alice", "email-triage"); err != nil {
		t.Errorf("unsuffixed declaration row missing: %v", err)
	}

	// Second sync over identical declarations is a no-op.
	counts, err = s.SyncFromHeartbeats(ctx, decls, "alice")
	if err != nil {
		t.Fatalf("second SyncFromHeartbeats: %v", err)
	}
	if counts.Unchanged != 2 || counts.Created != 0 || counts.Updated != 0 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestSyncUpdatesChangedCronAndMergesConfig(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(t, "2026-01-01T01:00:00Z")
	store := NewMemoryStore()
	s := New(store, nil, WithClock(clock.Now))

	decls := declarations{
		{AgentName: "fitness", Schedule: registry.Schedule{Name: "daily", Cron: "0 2 * * *", Task: "plan"}},
	}
	if _, err := s.SyncFromHeartbeats(ctx, decls, "alice"); err != nil {
		t.Fatalf("SyncFromHeartbeats: %v", err)
	}

	// The user adds a config key by hand.
	entry, err := store.GetActive(ctx, "alice", "fitness-daily")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	entry.Config["intensity"] = "high"
	if err := store.UpdateCron(ctx, entry.ID, entry.Cron, entry.NextRun, entry.Config); err != nil {
		t.Fatalf("UpdateCron: %v", err)
	}

	// The heartbeat declaration changes its cron.
	decls[0].Cron = "0 3 * * *"
	counts, err := s.SyncFromHeartbeats(ctx, decls, "alice")
	if err != nil {
		t.Fatalf("SyncFromHeartbeats: %v", err)
	}
	if counts.Updated != 1 {
		t.Errorf("counts = %+v", counts)
	}

	entry, err = store.GetActive(ctx, "alice", "fitness-daily")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if entry.Cron != "0 3 * * *" {
		t.Errorf("cron = %q", entry.Cron)
	}
	if !entry.NextRun.Equal(mustParseTime(t, "2026-01-01T03:00:00Z")) {
		t.Errorf("next_run = %v", entry.NextRun)
	}
	if entry.Config["intensity"] != "high" || entry.Config["task"] != "plan" {
		t.Errorf("config lost user additions: %v", entry.Config)
	}
}

func TestStopLeavesInFlightFireUncancelled(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(t, "2026-01-01T02:00:30Z")
	store := NewMemoryStore()

	started := make(chan struct{})
	release := make(chan struct{})
	var fireCtxErr error

	s := New(store, nil, WithClock(clock.Now), WithPollInterval(time.Hour))
	s.SetCallback(func(ctx context.Context, userID, agentName, skill string, config map[string]any) {
		close(started)
		<-release
		fireCtxErr = ctx.Err()
	})

	if _, err := store.Insert(ctx, &Entry{
		UserID:    "alice",
		AgentName: "daily-planner",
		Skill:     "daily-tracker",
		Cron:      "0 2 * * *",
		NextRun:   mustParseTime(t, "2026-01-01T02:00:00Z"),
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	s.Start(ctx)
	<-started
	s.Stop()
	close(release)
	s.WaitIdle()

	if fireCtxErr != nil {
		t.Errorf("fire context after Stop: %v, want it to run to completion", fireCtxErr)
	}
}

func TestStartStop(t *testing.T) {
	clock := newTestClock(t, "2026-01-01T01:00:00Z")
	s := New(NewMemoryStore(), nil, WithClock(clock.Now), WithPollInterval(10*time.Millisecond))

	s.Start(context.Background())
	s.Start(context.Background()) // idempotent
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	s.Stop() // idempotent
}
