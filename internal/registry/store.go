package registry

import "context"

// Store persists agent templates and per-user instances.
type Store interface {
	// Templates.
	GetTemplate(ctx context.Context, name string) (*Template, error)
	ListTemplates(ctx context.Context) ([]*Template, error)
	InsertTemplate(ctx context.Context, tmpl *Template) error
	UpdateTemplate(ctx context.Context, tmpl *Template) error

	// FlagUpgrades marks upgrade_available on active instances of the
	// template whose version lags and whose customized_files does not
	// contain agent_md. Returns the number of flagged rows.
	FlagUpgrades(ctx context.Context, templateName string, newVersion int) (int, error)

	// Instances. Reads see active rows only.
	GetInstance(ctx context.Context, userID, agentName string) (*Instance, error)
	ListInstances(ctx context.Context, userID string) ([]*Instance, error)

	// InsertInstance inserts, or revives a soft-deleted row for
	// (user_id, agent_name) with the given content; reports whether a row
	// was written. An existing active row is left untouched.
	InsertInstance(ctx context.Context, inst *Instance) (bool, error)

	// AppendSoul concatenates a line onto the instance soul.
	AppendSoul(ctx context.Context, userID, agentName, line string) error

	// UpdateField overwrites one content field and records it in
	// customized_files. The field name is validated by the caller.
	UpdateField(ctx context.Context, userID, agentName, field, content string) error

	// DeactivateInstance soft-deletes; reports whether a row was active.
	DeactivateInstance(ctx context.Context, userID, agentName string) (bool, error)
}
