package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/steward/internal/storage"
)

// Registry resolves agent names through the three tiers and mediates all
// instance mutations.
type Registry struct {
	store  Store
	system *SystemDir
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a registry over the store and system-agent directory.
func New(store Store, system *SystemDir, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		store:  store,
		system: system,
		logger: logger.With("component", "registry"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve finds an agent by name: the user's active instance first, then a
// template (materializing an instance for the user), then a system agent
// gated by the caller profile.
func (r *Registry) Resolve(ctx context.Context, agentName, userID, callerProfile string) (*Definition, error) {
	inst, err := r.store.GetInstance(ctx, userID, agentName)
	if err == nil {
		return instanceDefinition(inst), nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	tmpl, err := r.store.GetTemplate(ctx, agentName)
	if err == nil {
		return r.materialize(ctx, tmpl, userID)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	def, access, err := r.system.Load(agentName)
	if err == nil {
		if !allowedProfile(callerProfile, access) {
			r.logger.Info("system agent access denied",
				"agent", agentName,
				"caller_profile", callerProfile,
				"access", access)
			return nil, fmt.Errorf("agent %q requires access %v: %w", agentName, access, ErrAccessDenied)
		}
		return def, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	return nil, fmt.Errorf("agent %q: %w", agentName, storage.ErrNotFound)
}

// materialize creates the user's instance from a template. Insert is
// conflict-tolerant so concurrent first-uses converge on one row, and it
// revives a soft-deleted instance with fresh template content; the
// follow-up read returns whichever write won.
func (r *Registry) materialize(ctx context.Context, tmpl *Template, userID string) (*Definition, error) {
	inserted, err := r.store.InsertInstance(ctx, &Instance{
		UserID:          userID,
		AgentName:       tmpl.Name,
		AgentMD:         tmpl.AgentMD,
		ToolsMD:         tmpl.ToolsMD,
		BootstrapMD:     tmpl.BootstrapMD,
		HeartbeatMD:     tmpl.HeartbeatMD,
		TemplateName:    tmpl.Name,
		TemplateVersion: tmpl.Version,
		Source:          InstanceFromTemplate,
		CreatedBy:       userID,
	})
	if err != nil {
		return nil, err
	}
	if inserted {
		r.logger.Info("instance materialized from template",
			"agent", tmpl.Name,
			"user_id", userID,
			"template_version", tmpl.Version)
	}
	inst, err := r.store.GetInstance(ctx, userID, tmpl.Name)
	if err != nil {
		return nil, err
	}
	return instanceDefinition(inst), nil
}

// AppendSoul appends a dated entry to the user's instance soul, creating
// the instance from its template first if the user has none.
func (r *Registry) AppendSoul(ctx context.Context, agentName, userID, entry string) error {
	if _, err := r.ensureInstance(ctx, agentName, userID); err != nil {
		return err
	}
	line := r.now().Format("2006-01-02") + ": " + entry
	return r.store.AppendSoul(ctx, userID, agentName, line)
}

// UpdateFile overwrites one content field on the user's instance and marks
// it customized, shielding it from template upgrades.
func (r *Registry) UpdateFile(ctx context.Context, agentName, userID, field, content string) error {
	if !validField(field) {
		return fmt.Errorf("unknown field %q, expected one of %v", field, instanceFields)
	}
	if _, err := r.ensureInstance(ctx, agentName, userID); err != nil {
		return err
	}
	return r.store.UpdateField(ctx, userID, agentName, field, content)
}

// ensureInstance returns the user's active instance, materializing it from
// a template when only the template tier matches. System agents have no
// instances and cannot be mutated.
func (r *Registry) ensureInstance(ctx context.Context, agentName, userID string) (*Instance, error) {
	inst, err := r.store.GetInstance(ctx, userID, agentName)
	if err == nil {
		return inst, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	tmpl, err := r.store.GetTemplate(ctx, agentName)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("agent %q has no instance or template: %w", agentName, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if _, err := r.materialize(ctx, tmpl, userID); err != nil {
		return nil, err
	}
	return r.store.GetInstance(ctx, userID, agentName)
}

// Create registers a user-defined agent. The name must not collide with an
// existing active instance.
func (r *Registry) Create(ctx context.Context, userID, agentName, agentMD, toolsMD, bootstrapMD, heartbeatMD, createdBy string) (*Definition, error) {
	if agentName == "" || agentMD == "" {
		return nil, fmt.Errorf("agent name and identity content are required")
	}
	if createdBy == "" {
		createdBy = userID
	}
	inserted, err := r.store.InsertInstance(ctx, &Instance{
		UserID:      userID,
		AgentName:   agentName,
		AgentMD:     agentMD,
		ToolsMD:     toolsMD,
		BootstrapMD: bootstrapMD,
		HeartbeatMD: heartbeatMD,
		Source:      InstanceUserDefined,
		CreatedBy:   createdBy,
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, fmt.Errorf("agent %q: %w", agentName, storage.ErrAlreadyExists)
	}
	inst, err := r.store.GetInstance(ctx, userID, agentName)
	if err != nil {
		return nil, err
	}
	return instanceDefinition(inst), nil
}

// Delete soft-deletes the user's instance, reporting whether one was active.
func (r *Registry) Delete(ctx context.Context, agentName, userID string) (bool, error) {
	return r.store.DeactivateInstance(ctx, userID, agentName)
}

// ListAgents returns the user's agents: existing instances plus templates
// not yet instantiated for them.
func (r *Registry) ListAgents(ctx context.Context, userID string) ([]Summary, error) {
	instances, err := r.store.ListInstances(ctx, userID)
	if err != nil {
		return nil, err
	}
	templates, err := r.store.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(instances)+len(templates))
	seen := make(map[string]struct{}, len(instances))
	for _, inst := range instances {
		seen[inst.AgentName] = struct{}{}
		summaries = append(summaries, Summary{
			Name:             inst.AgentName,
			Description:      descriptionOf(inst.AgentMD),
			Source:           SourceInstance,
			Instantiated:     true,
			UserDefined:      inst.TemplateName == "",
			UpgradeAvailable: inst.UpgradeAvailable,
		})
	}
	for _, tmpl := range templates {
		if _, ok := seen[tmpl.Name]; ok {
			continue
		}
		summaries = append(summaries, Summary{
			Name:        tmpl.Name,
			Description: tmpl.Description,
			Source:      SourceTemplate,
		})
	}
	return summaries, nil
}

// GetAllSchedules collects the cron declarations from every active instance
// heartbeat for the user.
func (r *Registry) GetAllSchedules(ctx context.Context, userID string) ([]AgentSchedule, error) {
	instances, err := r.store.ListInstances(ctx, userID)
	if err != nil {
		return nil, err
	}
	var schedules []AgentSchedule
	for _, inst := range instances {
		def := instanceDefinition(inst)
		for _, sched := range def.Schedules() {
			schedules = append(schedules, AgentSchedule{AgentName: inst.AgentName, Schedule: sched})
		}
	}
	return schedules, nil
}

// GetAllTriggers collects the event declarations from every active instance
// heartbeat for the user.
func (r *Registry) GetAllTriggers(ctx context.Context, userID string) ([]AgentTrigger, error) {
	instances, err := r.store.ListInstances(ctx, userID)
	if err != nil {
		return nil, err
	}
	var triggers []AgentTrigger
	for _, inst := range instances {
		def := instanceDefinition(inst)
		for _, trig := range def.Triggers() {
			triggers = append(triggers, AgentTrigger{AgentName: inst.AgentName, Trigger: trig})
		}
	}
	return triggers, nil
}
