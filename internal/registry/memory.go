package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/steward/internal/storage"
)

// MemoryStore provides an in-memory agent store for tests and local runs.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]*Template
	instances map[string]*Instance // keyed by userID + "\x00" + agentName
}

// NewMemoryStore creates an in-memory agent store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: make(map[string]*Template),
		instances: make(map[string]*Instance),
	}
}

func instKey(userID, agentName string) string {
	return userID + "\x00" + agentName
}

func copyTemplate(tmpl *Template) *Template {
	copied := *tmpl
	return &copied
}

func copyInstance(inst *Instance) *Instance {
	copied := *inst
	copied.CustomizedFiles = append([]string(nil), inst.CustomizedFiles...)
	return &copied
}

func (s *MemoryStore) GetTemplate(ctx context.Context, name string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tmpl, ok := s.templates[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyTemplate(tmpl), nil
}

func (s *MemoryStore) ListTemplates(ctx context.Context) ([]*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	templates := make([]*Template, 0, len(s.templates))
	for _, tmpl := range s.templates {
		templates = append(templates, copyTemplate(tmpl))
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].Name < templates[j].Name })
	return templates, nil
}

func (s *MemoryStore) InsertTemplate(ctx context.Context, tmpl *Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[tmpl.Name]; ok {
		return storage.ErrAlreadyExists
	}
	copied := copyTemplate(tmpl)
	copied.ID = uuid.NewString()
	copied.CreatedAt = time.Now()
	copied.UpdatedAt = copied.CreatedAt
	s.templates[tmpl.Name] = copied
	return nil
}

func (s *MemoryStore) UpdateTemplate(ctx context.Context, tmpl *Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.templates[tmpl.Name]
	if !ok {
		return storage.ErrNotFound
	}
	copied := copyTemplate(tmpl)
	copied.ID = existing.ID
	copied.CreatedAt = existing.CreatedAt
	copied.UpdatedAt = time.Now()
	s.templates[tmpl.Name] = copied
	return nil
}

func (s *MemoryStore) FlagUpgrades(ctx context.Context, templateName string, newVersion int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flagged := 0
	for _, inst := range s.instances {
		if !inst.IsActive || inst.TemplateName != templateName || inst.TemplateVersion >= newVersion {
			continue
		}
		if contains(inst.CustomizedFiles, "agent_md") {
			continue
		}
		if !inst.UpgradeAvailable {
			inst.UpgradeAvailable = true
			inst.UpdatedAt = time.Now()
		}
		flagged++
	}
	return flagged, nil
}

func (s *MemoryStore) GetInstance(ctx context.Context, userID, agentName string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[instKey(userID, agentName)]
	if !ok || !inst.IsActive {
		return nil, storage.ErrNotFound
	}
	return copyInstance(inst), nil
}

func (s *MemoryStore) ListInstances(ctx context.Context, userID string) ([]*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var instances []*Instance
	for _, inst := range s.instances {
		if inst.UserID == userID && inst.IsActive {
			instances = append(instances, copyInstance(inst))
		}
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].AgentName < instances[j].AgentName })
	return instances, nil
}

func (s *MemoryStore) InsertInstance(ctx context.Context, inst *Instance) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := instKey(inst.UserID, inst.AgentName)
	copied := copyInstance(inst)
	if existing, ok := s.instances[key]; ok {
		if existing.IsActive {
			return false, nil
		}
		// Revive the soft-deleted row with the caller's fresh content.
		copied.ID = existing.ID
		copied.CreatedAt = existing.CreatedAt
	} else {
		copied.ID = uuid.NewString()
		copied.CreatedAt = time.Now()
	}
	copied.IsActive = true
	copied.UpgradeAvailable = false
	copied.UpdatedAt = time.Now()
	s.instances[key] = copied
	return true, nil
}

func (s *MemoryStore) AppendSoul(ctx context.Context, userID, agentName, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instKey(userID, agentName)]
	if !ok || !inst.IsActive {
		return storage.ErrNotFound
	}
	if inst.SoulMD == "" {
		inst.SoulMD = line
	} else {
		inst.SoulMD += "\n" + line
	}
	inst.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) UpdateField(ctx context.Context, userID, agentName, field, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instKey(userID, agentName)]
	if !ok || !inst.IsActive {
		return storage.ErrNotFound
	}
	switch field {
	case "agent_md":
		inst.AgentMD = content
	case "tools_md":
		inst.ToolsMD = content
	case "bootstrap_md":
		inst.BootstrapMD = content
	case "heartbeat_md":
		inst.HeartbeatMD = content
	case "soul_md":
		inst.SoulMD = content
	default:
		return fmt.Errorf("unknown instance field %q", field)
	}
	if !contains(inst.CustomizedFiles, field) {
		inst.CustomizedFiles = append(inst.CustomizedFiles, field)
	}
	inst.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeactivateInstance(ctx context.Context, userID, agentName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instKey(userID, agentName)]
	if !ok || !inst.IsActive {
		return false, nil
	}
	inst.IsActive = false
	inst.UpdatedAt = time.Now()
	return true, nil
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
