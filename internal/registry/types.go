// Package registry manages agent definitions across three tiers: per-user
// instances in the database, shared templates seeded from the filesystem,
// and read-only system agents loaded from disk on demand.
package registry

import (
	"errors"
	"time"
)

// Source identifies which tier a resolved definition came from.
type Source string

const (
	SourceInstance Source = "instance"
	SourceTemplate Source = "template"
	SourceSystem   Source = "system"
)

// Instance provenance values stored in the source column.
const (
	InstanceFromTemplate = "from_template"
	InstanceUserDefined  = "user_defined"
	InstanceImported     = "imported"
)

// SystemUserID is the user-id sentinel carried by system-agent definitions.
const SystemUserID = "__system__"

// Caller profiles with reserved meaning for system-agent access.
const (
	ProfileInternal = "cos_internal"
	ProfileAdmin    = "admin"
)

// Access grants a system agent can declare in its frontmatter.
const (
	AccessInternal    = "cos_internal"
	AccessAdminDirect = "admin_direct"
)

// ErrAccessDenied marks a system-agent resolution the caller profile is not
// entitled to.
var ErrAccessDenied = errors.New("access denied")

// soulDelimiter joins the identity prompt and per-user memory in the
// rendered system prompt.
const soulDelimiter = "\n\n---\nSOUL\n---\n\n"

// Editable instance fields, in the order they appear on disk.
var instanceFields = []string{"agent_md", "tools_md", "bootstrap_md", "heartbeat_md", "soul_md"}

// Template is the shared, read-by-all definition of an agent.
type Template struct {
	ID          string
	Name        string
	Description string
	AgentMD     string
	ToolsMD     string
	BootstrapMD string
	HeartbeatMD string
	ContentHash string
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Instance is one user's materialization of an agent.
type Instance struct {
	ID               string
	UserID           string
	AgentName        string
	AgentMD          string
	ToolsMD          string
	BootstrapMD      string
	HeartbeatMD      string
	SoulMD           string
	TemplateName     string // empty for user-defined agents
	TemplateVersion  int    // zero when no template
	Source           string
	CustomizedFiles  []string
	UpgradeAvailable bool
	IsActive         bool
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Definition is a resolved agent, whichever tier it came from.
type Definition struct {
	AgentName        string
	UserID           string
	Source           Source
	AgentMD          string
	ToolsMD          string
	BootstrapMD      string
	HeartbeatMD      string
	SoulMD           string
	CustomizedFiles  []string
	TemplateVersion  int
	UpgradeAvailable bool
}

// Schedule is one cron declaration from heartbeat frontmatter.
type Schedule struct {
	Name         string `yaml:"name"`
	Cron         string `yaml:"cron"`
	Task         string `yaml:"task"`
	ArtifactType string `yaml:"artifact_type"`
}

// Trigger is one event declaration from heartbeat frontmatter.
type Trigger struct {
	Name  string `yaml:"name"`
	Event string `yaml:"event"`
	Task  string `yaml:"task"`
}

// AgentSchedule is a schedule paired with the agent that declared it.
type AgentSchedule struct {
	AgentName string
	Schedule
}

// AgentTrigger is a trigger paired with the agent that declared it.
type AgentTrigger struct {
	AgentName string
	Trigger
}

// Summary is one row of a user's agent listing.
type Summary struct {
	Name             string
	Description      string
	Source           Source
	Instantiated     bool
	UserDefined      bool
	UpgradeAvailable bool
}

// AllowedServers returns the tool-server allow-list from the tools blob, or
// nil when the agent is unrestricted. Missing frontmatter, an absent field,
// an empty list, and unparseable YAML all mean unrestricted.
func (d *Definition) AllowedServers() []string {
	var meta struct {
		AllowedServers []string `yaml:"allowed_servers"`
	}
	if err := parseFrontmatter(d.ToolsMD, &meta); err != nil {
		return nil
	}
	if len(meta.AllowedServers) == 0 {
		return nil
	}
	return meta.AllowedServers
}

// Schedules returns the cron declarations from heartbeat frontmatter.
func (d *Definition) Schedules() []Schedule {
	var meta struct {
		Schedules []Schedule `yaml:"schedules"`
	}
	if err := parseFrontmatter(d.HeartbeatMD, &meta); err != nil {
		return nil
	}
	return meta.Schedules
}

// Triggers returns the event declarations from heartbeat frontmatter.
func (d *Definition) Triggers() []Trigger {
	var meta struct {
		Triggers []Trigger `yaml:"triggers"`
	}
	if err := parseFrontmatter(d.HeartbeatMD, &meta); err != nil {
		return nil
	}
	return meta.Triggers
}

// SystemPrompt renders the identity blob, joined with the soul under a fixed
// delimiter when per-user memory exists.
func (d *Definition) SystemPrompt() string {
	if d.SoulMD == "" {
		return d.AgentMD
	}
	return d.AgentMD + soulDelimiter + d.SoulMD
}

// Description extracts the description field from identity frontmatter.
func (d *Definition) Description() string {
	return descriptionOf(d.AgentMD)
}

func descriptionOf(agentMD string) string {
	var meta struct {
		Description string `yaml:"description"`
	}
	if err := parseFrontmatter(agentMD, &meta); err != nil {
		return ""
	}
	return meta.Description
}

func validField(field string) bool {
	for _, f := range instanceFields {
		if f == field {
			return true
		}
	}
	return false
}

func instanceDefinition(inst *Instance) *Definition {
	return &Definition{
		AgentName:        inst.AgentName,
		UserID:           inst.UserID,
		Source:           SourceInstance,
		AgentMD:          inst.AgentMD,
		ToolsMD:          inst.ToolsMD,
		BootstrapMD:      inst.BootstrapMD,
		HeartbeatMD:      inst.HeartbeatMD,
		SoulMD:           inst.SoulMD,
		CustomizedFiles:  inst.CustomizedFiles,
		TemplateVersion:  inst.TemplateVersion,
		UpgradeAvailable: inst.UpgradeAvailable,
	}
}
