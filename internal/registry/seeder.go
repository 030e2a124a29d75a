package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/haasonsaas/steward/internal/storage"
)

// Sync result values, one per scanned agent directory.
const (
	SyncCreated   = "created"
	SyncUpdated   = "updated"
	SyncUnchanged = "unchanged"
	SyncError     = "error"
)

// Seeder mirrors the agent source directory into the template table.
type Seeder struct {
	dir    string
	store  Store
	logger *slog.Logger
}

// NewSeeder creates a seeder over the given agent source directory.
func NewSeeder(dir string, store Store, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		dir:    dir,
		store:  store,
		logger: logger.With("component", "seeder"),
	}
}

// agentFiles is one agent directory read off disk.
type agentFiles struct {
	AgentMD     string
	ToolsMD     string
	BootstrapMD string
	HeartbeatMD string
}

func (f *agentFiles) contentHash() string {
	sum := sha256.Sum256([]byte(f.AgentMD + f.ToolsMD + f.BootstrapMD + f.HeartbeatMD))
	return hex.EncodeToString(sum[:])
}

// readAgentDir loads an agent's files. AGENT.md is required; SKILL.md is
// accepted as a legacy name for it.
func readAgentDir(dir string) (*agentFiles, error) {
	files := &agentFiles{}

	agentMD, err := os.ReadFile(filepath.Join(dir, "AGENT.md"))
	if errors.Is(err, os.ErrNotExist) {
		agentMD, err = os.ReadFile(filepath.Join(dir, "SKILL.md"))
	}
	if err != nil {
		return nil, fmt.Errorf("read agent identity: %w", err)
	}
	files.AgentMD = string(agentMD)

	for _, opt := range []struct {
		name string
		dest *string
	}{
		{"TOOLS.md", &files.ToolsMD},
		{"BOOTSTRAP.md", &files.BootstrapMD},
		{"HEARTBEAT.md", &files.HeartbeatMD},
	} {
		content, err := os.ReadFile(filepath.Join(dir, opt.name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", opt.name, err)
		}
		*opt.dest = string(content)
	}
	return files, nil
}

// Sync scans the agent directory and reconciles each agent against its
// stored template: insert at version 1, bump on content change, no-op when
// the hash matches. A content change flags lagging instances for upgrade.
func (s *Seeder) Sync(ctx context.Context) (map[string]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read agent directory: %w", err)
	}

	results := make(map[string]string)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		result, err := s.syncOne(ctx, name)
		if err != nil {
			s.logger.Error("agent sync failed", "agent", name, "error", err)
			results[name] = SyncError
			continue
		}
		results[name] = result
	}
	return results, nil
}

func (s *Seeder) syncOne(ctx context.Context, name string) (string, error) {
	files, err := readAgentDir(filepath.Join(s.dir, name))
	if err != nil {
		return "", err
	}
	hash := files.contentHash()

	existing, err := s.store.GetTemplate(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		tmpl := &Template{
			Name:        name,
			Description: descriptionOf(files.AgentMD),
			AgentMD:     files.AgentMD,
			ToolsMD:     files.ToolsMD,
			BootstrapMD: files.BootstrapMD,
			HeartbeatMD: files.HeartbeatMD,
			ContentHash: hash,
			Version:     1,
		}
		if err := s.store.InsertTemplate(ctx, tmpl); err != nil {
			return "", err
		}
		s.logger.Info("template created", "agent", name)
		return SyncCreated, nil
	}
	if err != nil {
		return "", err
	}

	if existing.ContentHash == hash {
		return SyncUnchanged, nil
	}

	updated := &Template{
		Name:        name,
		Description: descriptionOf(files.AgentMD),
		AgentMD:     files.AgentMD,
		ToolsMD:     files.ToolsMD,
		BootstrapMD: files.BootstrapMD,
		HeartbeatMD: files.HeartbeatMD,
		ContentHash: hash,
		Version:     existing.Version + 1,
	}
	if err := s.store.UpdateTemplate(ctx, updated); err != nil {
		return "", err
	}
	flagged, err := s.store.FlagUpgrades(ctx, name, updated.Version)
	if err != nil {
		return "", err
	}
	s.logger.Info("template updated",
		"agent", name,
		"version", updated.Version,
		"instances_flagged", flagged)
	return SyncUpdated, nil
}
