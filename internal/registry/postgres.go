package registry

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/haasonsaas/steward/internal/storage"
)

// PostgresStore persists templates and instances in the agent_templates and
// agent_instances tables.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed agent store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const templateColumns = `id, name, description, agent_md, tools_md, bootstrap_md, heartbeat_md, content_hash, version, created_at, updated_at`

func scanTemplate(row interface{ Scan(...any) error }) (*Template, error) {
	var tmpl Template
	if err := row.Scan(
		&tmpl.ID,
		&tmpl.Name,
		&tmpl.Description,
		&tmpl.AgentMD,
		&tmpl.ToolsMD,
		&tmpl.BootstrapMD,
		&tmpl.HeartbeatMD,
		&tmpl.ContentHash,
		&tmpl.Version,
		&tmpl.CreatedAt,
		&tmpl.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, name string) (*Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM agent_templates WHERE name = $1`, name)
	tmpl, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return tmpl, nil
}

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]*Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM agent_templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, tmpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

func (s *PostgresStore) InsertTemplate(ctx context.Context, tmpl *Template) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_templates (name, description, agent_md, tools_md, bootstrap_md, heartbeat_md, content_hash, version, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now(),now())`,
		tmpl.Name,
		tmpl.Description,
		tmpl.AgentMD,
		tmpl.ToolsMD,
		tmpl.BootstrapMD,
		tmpl.HeartbeatMD,
		tmpl.ContentHash,
		tmpl.Version,
	)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTemplate(ctx context.Context, tmpl *Template) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_templates SET
			description = $2,
			agent_md = $3,
			tools_md = $4,
			bootstrap_md = $5,
			heartbeat_md = $6,
			content_hash = $7,
			version = $8,
			updated_at = now()
		 WHERE name = $1`,
		tmpl.Name,
		tmpl.Description,
		tmpl.AgentMD,
		tmpl.ToolsMD,
		tmpl.BootstrapMD,
		tmpl.HeartbeatMD,
		tmpl.ContentHash,
		tmpl.Version,
	)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update template rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FlagUpgrades(ctx context.Context, templateName string, newVersion int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_instances SET upgrade_available = TRUE, updated_at = now()
		 WHERE template_name = $1
		   AND is_active
		   AND template_version < $2
		   AND NOT ('agent_md' = ANY(COALESCE(customized_files, '{}')))`,
		templateName, newVersion)
	if err != nil {
		return 0, fmt.Errorf("flag upgrades: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("flag upgrades rows affected: %w", err)
	}
	return int(rows), nil
}

const instanceColumns = `id, user_id, agent_name, agent_md, tools_md, bootstrap_md, heartbeat_md, soul_md, template_name, template_version, source, customized_files, upgrade_available, is_active, created_by, created_at, updated_at`

func scanInstance(row interface{ Scan(...any) error }) (*Instance, error) {
	var inst Instance
	var templateName sql.NullString
	var templateVersion sql.NullInt64
	var customized pq.StringArray
	if err := row.Scan(
		&inst.ID,
		&inst.UserID,
		&inst.AgentName,
		&inst.AgentMD,
		&inst.ToolsMD,
		&inst.BootstrapMD,
		&inst.HeartbeatMD,
		&inst.SoulMD,
		&templateName,
		&templateVersion,
		&inst.Source,
		&customized,
		&inst.UpgradeAvailable,
		&inst.IsActive,
		&inst.CreatedBy,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	); err != nil {
		return nil, err
	}
	inst.TemplateName = templateName.String
	inst.TemplateVersion = int(templateVersion.Int64)
	inst.CustomizedFiles = customized
	return &inst, nil
}

func (s *PostgresStore) GetInstance(ctx context.Context, userID, agentName string) (*Instance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM agent_instances
		 WHERE user_id = $1 AND agent_name = $2 AND is_active`,
		userID, agentName)
	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return inst, nil
}

func (s *PostgresStore) ListInstances(ctx context.Context, userID string) ([]*Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM agent_instances
		 WHERE user_id = $1 AND is_active ORDER BY agent_name`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var instances []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return instances, nil
}

func (s *PostgresStore) InsertInstance(ctx context.Context, inst *Instance) (bool, error) {
	var templateName any
	if inst.TemplateName != "" {
		templateName = inst.TemplateName
	}
	var templateVersion any
	if inst.TemplateVersion > 0 {
		templateVersion = inst.TemplateVersion
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_instances (user_id, agent_name, agent_md, tools_md, bootstrap_md, heartbeat_md, soul_md, template_name, template_version, source, customized_files, upgrade_available, is_active, created_by, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,FALSE,TRUE,$12,now(),now())
		 ON CONFLICT (user_id, agent_name) DO UPDATE SET
			agent_md = EXCLUDED.agent_md,
			tools_md = EXCLUDED.tools_md,
			bootstrap_md = EXCLUDED.bootstrap_md,
			heartbeat_md = EXCLUDED.heartbeat_md,
			soul_md = EXCLUDED.soul_md,
			template_name = EXCLUDED.template_name,
			template_version = EXCLUDED.template_version,
			source = EXCLUDED.source,
			customized_files = EXCLUDED.customized_files,
			upgrade_available = FALSE,
			is_active = TRUE,
			created_by = EXCLUDED.created_by,
			updated_at = now()
		 WHERE NOT agent_instances.is_active`,
		inst.UserID,
		inst.AgentName,
		inst.AgentMD,
		inst.ToolsMD,
		inst.BootstrapMD,
		inst.HeartbeatMD,
		inst.SoulMD,
		templateName,
		templateVersion,
		inst.Source,
		pq.Array(inst.CustomizedFiles),
		inst.CreatedBy,
	)
	if err != nil {
		return false, fmt.Errorf("insert instance: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert instance rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *PostgresStore) AppendSoul(ctx context.Context, userID, agentName, line string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_instances SET
			soul_md = CASE WHEN soul_md = '' THEN $3 ELSE soul_md || E'\n' || $3 END,
			updated_at = now()
		 WHERE user_id = $1 AND agent_name = $2 AND is_active`,
		userID, agentName, line)
	if err != nil {
		return fmt.Errorf("append soul: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append soul rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

var fieldColumns = map[string]string{
	"agent_md":     "agent_md",
	"tools_md":     "tools_md",
	"bootstrap_md": "bootstrap_md",
	"heartbeat_md": "heartbeat_md",
	"soul_md":      "soul_md",
}

func (s *PostgresStore) UpdateField(ctx context.Context, userID, agentName, field, content string) error {
	column, ok := fieldColumns[field]
	if !ok {
		return fmt.Errorf("unknown instance field %q", field)
	}
	query := fmt.Sprintf(
		`UPDATE agent_instances SET
			%s = $3,
			customized_files = CASE
				WHEN $4 = ANY(COALESCE(customized_files, '{}')) THEN customized_files
				ELSE array_append(COALESCE(customized_files, '{}'), $4)
			END,
			updated_at = now()
		 WHERE user_id = $1 AND agent_name = $2 AND is_active`, column)
	res, err := s.db.ExecContext(ctx, query, userID, agentName, content, field)
	if err != nil {
		return fmt.Errorf("update instance field: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update instance field rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeactivateInstance(ctx context.Context, userID, agentName string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_instances SET is_active = FALSE, updated_at = now()
		 WHERE user_id = $1 AND agent_name = $2 AND is_active`,
		userID, agentName)
	if err != nil {
		return false, fmt.Errorf("deactivate instance: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate instance rows affected: %w", err)
	}
	return rows > 0, nil
}
