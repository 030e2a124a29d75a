package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/steward/internal/registry"
	"github.com/haasonsaas/steward/internal/storage"
)

// HeartbeatSource supplies the cron declarations agents carry in their
// heartbeat files. Satisfied by *registry.Registry.
type HeartbeatSource interface {
	GetAllSchedules(ctx context.Context, userID string) ([]registry.AgentSchedule, error)
}

// SyncCounts summarizes one heartbeat reconciliation.
type SyncCounts struct {
	Created   int
	Updated   int
	Unchanged int
}

// SyncFromHeartbeats reconciles the user's schedule rows against the cron
// declarations of their active agents: missing rows are inserted, rows
// whose cron changed are rewritten, matching rows are untouched. Rows whose
// declaration disappeared stay active; unscheduling is explicit.
func (s *Scheduler) SyncFromHeartbeats(ctx context.Context, source HeartbeatSource, userID string) (SyncCounts, error) {
	var counts SyncCounts

	declared, err := source.GetAllSchedules(ctx, userID)
	if err != nil {
		return counts, fmt.Errorf("collect heartbeat schedules: %w", err)
	}

	for _, decl := range declared {
		name := scheduleAgentName(decl)
		next, err := nextFiring(decl.Cron, s.now())
		if err != nil {
			s.logger.Warn("heartbeat schedule has unparseable cron, skipping",
				"user_id", userID,
				"agent", name,
				"cron", decl.Cron,
				"error", err)
			continue
		}
		config := scheduleConfig(decl)

		existing, err := s.store.GetActive(ctx, userID, name)
		if errors.Is(err, storage.ErrNotFound) {
			if _, err := s.store.Insert(ctx, &Entry{
				UserID:    userID,
				AgentName: name,
				Skill:     decl.AgentName,
				Cron:      decl.Cron,
				NextRun:   next,
				Config:    config,
			}); err != nil {
				return counts, fmt.Errorf("insert schedule %s: %w", name, err)
			}
			counts.Created++
			continue
		}
		if err != nil {
			return counts, err
		}

		if existing.Cron == decl.Cron {
			counts.Unchanged++
			continue
		}

		// Preserve config keys the user added on top of the declaration.
		merged := make(map[string]any, len(existing.Config)+len(config))
		for k, v := range existing.Config {
			merged[k] = v
		}
		for k, v := range config {
			merged[k] = v
		}
		if err := s.store.UpdateCron(ctx, existing.ID, decl.Cron, next, merged); err != nil {
			return counts, fmt.Errorf("update schedule %s: %w", name, err)
		}
		counts.Updated++
	}

	s.logger.Info("heartbeat schedules synced",
		"user_id", userID,
		"created", counts.Created,
		"updated", counts.Updated,
		"unchanged", counts.Unchanged)
	return counts, nil
}

// scheduleAgentName derives the row key: the agent name, suffixed with the
// declaration name when present.
func scheduleAgentName(decl registry.AgentSchedule) string {
	if decl.Name == "" {
		return decl.AgentName
	}
	return decl.AgentName + "-" + decl.Name
}

func scheduleConfig(decl registry.AgentSchedule) map[string]any {
	config := make(map[string]any)
	if decl.Task != "" {
		config["task"] = decl.Task
	}
	if decl.ArtifactType != "" {
		config["artifact_type"] = decl.ArtifactType
	}
	if len(config) == 0 {
		return nil
	}
	return config
}
