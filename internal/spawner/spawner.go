// Package spawner runs agents in three modes: inline task, fire-and-forget
// background run, and persistent foreground thread.
package spawner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"

	"github.com/haasonsaas/steward/internal/artifacts"
	"github.com/haasonsaas/steward/internal/bridge"
	"github.com/haasonsaas/steward/internal/notify"
	"github.com/haasonsaas/steward/internal/registry"
	"github.com/haasonsaas/steward/internal/threads"
)

// backgroundPreviewRunes bounds the result excerpt quoted in completion
// notifications.
const backgroundPreviewRunes = 120

// GraphExecutor processes one message on a thread and returns the agent's
// textual response. The spawner never reaches into graph internals.
type GraphExecutor interface {
	Chat(ctx context.Context, message, threadID string) (string, error)
}

// ExecutorOptions parameterize one executor build. System and AllowedServers
// come from the resolved agent definition; both stay zero for bare skills.
type ExecutorOptions struct {
	Provider       string
	Model          string
	UserID         string
	Bridge         *bridge.Bridge
	System         string
	AllowedServers []string
}

// ExecutorFactory builds a graph executor bound to a user's bridge.
type ExecutorFactory func(ctx context.Context, opts ExecutorOptions) (GraphExecutor, error)

// BridgeProvider resolves a user's tool bridge. Satisfied by
// *bridge.Manager.
type BridgeProvider interface {
	GetBridge(ctx context.Context, userID string) (*bridge.Bridge, error)
}

// Resolver looks up agent definitions. Satisfied by *registry.Registry.
type Resolver interface {
	Resolve(ctx context.Context, agentName, userID, callerProfile string) (*registry.Definition, error)
}

// RunOptions carry per-run provider overrides.
type RunOptions struct {
	Provider string
	Model    string
}

// Config is a background run's free-form payload. Recognized keys: task,
// artifact_type.
type Config map[string]any

// Spawner coordinates bridge, registry, artifact, and notification access
// for agent runs.
type Spawner struct {
	bridges   BridgeProvider
	resolver  Resolver
	artifacts artifacts.Store
	queue     *notify.Queue
	threads   threads.Store
	executors ExecutorFactory
	logger    *slog.Logger

	wg sync.WaitGroup
}

// New creates a spawner.
func New(bridges BridgeProvider, resolver Resolver, artifactStore artifacts.Store, queue *notify.Queue, threadStore threads.Store, executors ExecutorFactory, logger *slog.Logger) *Spawner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Spawner{
		bridges:   bridges,
		resolver:  resolver,
		artifacts: artifactStore,
		queue:     queue,
		threads:   threadStore,
		executors: executors,
		logger:    logger.With("component", "spawner"),
	}
}

// Wait blocks until all background and warmup runs complete. Used during
// shutdown and by tests.
func (s *Spawner) Wait() {
	s.wg.Wait()
}

// InvokeTask runs a skill inline on an ephemeral thread and returns the
// textual response. Nothing is persisted.
func (s *Spawner) InvokeTask(ctx context.Context, userID, skill, task string, extra map[string]any, opts RunOptions) (string, error) {
	br, err := s.bridges.GetBridge(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("get bridge: %w", err)
	}
	execOpts := ExecutorOptions{
		Provider: opts.Provider,
		Model:    opts.Model,
		UserID:   userID,
		Bridge:   br,
	}
	if def := s.runDefinition(ctx, skill, userID); def != nil {
		execOpts.System = def.SystemPrompt()
		execOpts.AllowedServers = def.AllowedServers()
	}
	exec, err := s.executors(ctx, execOpts)
	if err != nil {
		return "", fmt.Errorf("build executor: %w", err)
	}

	threadID := "task-" + uuid.NewString()
	return exec.Chat(ctx, taskMessage(skill, task, extra), threadID)
}

// runDefinition resolves the agent behind a run. A bare skill with no
// registered agent returns nil: the run proceeds with no system prompt and
// the full tool catalog.
func (s *Spawner) runDefinition(ctx context.Context, agentName, userID string) *registry.Definition {
	def, err := s.resolver.Resolve(ctx, agentName, userID, "personal")
	if err != nil {
		s.logger.Debug("run has no agent definition",
			"agent", agentName,
			"user_id", userID,
			"error", err)
		return nil
	}
	return def
}

// taskMessage formats the single message for a task run: the skill command
// prefix unless the task already carries one, plus a serialized context
// block when extra data is supplied.
func taskMessage(skill, task string, extra map[string]any) string {
	message := task
	if !strings.HasPrefix(task, "/") {
		message = "/" + skill + " " + task
	}
	if len(extra) > 0 {
		if blob, err := json.Marshal(extra); err == nil {
			message += "\n\nContext:\n" + string(blob)
		}
	}
	return message
}

// SpawnBackground starts a fire-and-forget run and returns a synthetic run
// id immediately. The run delivers its result as an artifact plus a
// completion notification; failures surface as urgent notifications.
func (s *Spawner) SpawnBackground(ctx context.Context, userID, agentName, skill string, config Config, opts RunOptions) string {
	runID := "run-" + uuid.NewString()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Detached from the caller: the run outlives the triggering request.
		s.runBackground(context.Background(), runID, userID, agentName, skill, config, opts)
	}()
	return runID
}

func (s *Spawner) runBackground(ctx context.Context, runID, userID, agentName, skill string, config Config, opts RunOptions) {
	logger := s.logger.With("run_id", runID, "user_id", userID, "agent", agentName)

	result, err := s.executeBackground(ctx, userID, agentName, skill, config, opts)
	if err != nil {
		logger.Error("background run failed", "error", err)
		message := fmt.Sprintf("%s failed: %v", agentName, err)
		if _, nerr := s.queue.Post(ctx, userID, agentName, message, notify.PriorityUrgent, notify.PostOptions{}); nerr != nil {
			logger.Warn("failed to post failure notification", "error", nerr)
		}
		return
	}

	artifactType := skill
	if v, ok := config["artifact_type"].(string); ok && v != "" {
		artifactType = v
	}
	artifactID, err := s.artifacts.Write(ctx, userID, agentName, artifactType, result, map[string]any{
		"run_id": runID,
		"skill":  skill,
	})
	if err != nil {
		logger.Error("failed to write artifact", "error", err)
		message := fmt.Sprintf("%s failed: %v", agentName, err)
		if _, nerr := s.queue.Post(ctx, userID, agentName, message, notify.PriorityUrgent, notify.PostOptions{}); nerr != nil {
			logger.Warn("failed to post failure notification", "error", nerr)
		}
		return
	}

	message := fmt.Sprintf("%s completed: %s", skill, backgroundPreview(result))
	if _, err := s.queue.Post(ctx, userID, agentName, message, notify.PriorityNormal, notify.PostOptions{ArtifactID: artifactID}); err != nil {
		logger.Warn("failed to post completion notification", "error", err)
	}
	logger.Info("background run completed", "artifact_id", artifactID)
}

func (s *Spawner) executeBackground(ctx context.Context, userID, agentName, skill string, config Config, opts RunOptions) (string, error) {
	task := fmt.Sprintf("Run your scheduled %s duties.", skill)
	if v, ok := config["task"].(string); ok && v != "" {
		task = v
	}

	br, err := s.bridges.GetBridge(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("get bridge: %w", err)
	}
	execOpts := ExecutorOptions{
		Provider: opts.Provider,
		Model:    opts.Model,
		UserID:   userID,
		Bridge:   br,
	}
	if def := s.runDefinition(ctx, agentName, userID); def != nil {
		execOpts.System = def.SystemPrompt()
		execOpts.AllowedServers = def.AllowedServers()
	}
	exec, err := s.executors(ctx, execOpts)
	if err != nil {
		return "", fmt.Errorf("build executor: %w", err)
	}

	threadID := "bg-" + uuid.NewString()
	return exec.Chat(ctx, taskMessage(skill, task, nil), threadID)
}

func backgroundPreview(content string) string {
	runes := []rune(content)
	if len(runes) <= backgroundPreviewRunes {
		return content
	}
	return string(runes[:backgroundPreviewRunes]) + "..."
}

// SpawnForeground creates a tracked thread and returns its id immediately.
// When a pre-task exists (explicit, or the agent's bootstrap context), a
// detached run warms the thread with it.
func (s *Spawner) SpawnForeground(ctx context.Context, userID, skill, title, preTask string, opts RunOptions) (string, error) {
	if title == "" {
		title = titleCase(skill)
	}
	threadID, err := s.threads.Create(ctx, userID, title, opts.Provider, opts.Model)
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}

	var system string
	var allowed []string
	effective := preTask
	if def := s.runDefinition(ctx, skill, userID); def != nil {
		system = def.SystemPrompt()
		allowed = def.AllowedServers()
		if effective == "" {
			effective = def.BootstrapMD
		}
	}
	if effective != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.warmThread(context.Background(), userID, threadID, effective, system, allowed, opts)
		}()
	}
	return threadID, nil
}

func (s *Spawner) warmThread(ctx context.Context, userID, threadID, preTask, system string, allowed []string, opts RunOptions) {
	logger := s.logger.With("user_id", userID, "thread_id", threadID)

	br, err := s.bridges.GetBridge(ctx, userID)
	if err != nil {
		logger.Warn("warmup skipped, bridge unavailable", "error", err)
		return
	}
	exec, err := s.executors(ctx, ExecutorOptions{
		Provider:       opts.Provider,
		Model:          opts.Model,
		UserID:         userID,
		Bridge:         br,
		System:         system,
		AllowedServers: allowed,
	})
	if err != nil {
		logger.Warn("warmup skipped, executor unavailable", "error", err)
		return
	}
	if _, err := exec.Chat(ctx, preTask, threadID); err != nil {
		logger.Warn("thread warmup failed", "error", err)
		return
	}
	if err := s.threads.Touch(ctx, threadID, userID); err != nil {
		logger.Warn("failed to bump thread counter", "error", err)
	}
}

// titleCase turns a skill identifier into a human thread title, e.g.
// "email-triage" becomes "Email Triage".
func titleCase(skill string) string {
	words := strings.FieldsFunc(skill, func(r rune) bool {
		return r == '-' || r == '_' || r == ' '
	})
	for i, word := range words {
		runes := []rune(word)
		if len(runes) > 0 {
			runes[0] = unicode.ToUpper(runes[0])
		}
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
