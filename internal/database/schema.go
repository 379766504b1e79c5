package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Dialect differences for the schema: id column, JSON column and timestamp
// column types.
type dialect struct {
	id        string
	json      string
	timestamp string
	inlineIdx bool
}

var dialects = map[string]dialect{
	DriverPostgres: {id: "BIGSERIAL PRIMARY KEY", json: "JSONB", timestamp: "TIMESTAMPTZ"},
	DriverMySQL:    {id: "BIGINT AUTO_INCREMENT PRIMARY KEY", json: "JSON", timestamp: "DATETIME(6)", inlineIdx: true},
	DriverSQLite:   {id: "INTEGER PRIMARY KEY AUTOINCREMENT", json: "TEXT", timestamp: "TIMESTAMP"},
}

// SchemaStatements returns the DDL for driver in execution order.
func SchemaStatements(driver string) ([]string, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("no schema for driver %q", driver)
	}
	name := "VARCHAR(200)"

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS roles (
	id %s,
	name %s NOT NULL UNIQUE,
	description TEXT,
	permissions %s NOT NULL,
	created_at %s NOT NULL,
	updated_at %s NOT NULL
)`, d.id, name, d.json, d.timestamp, d.timestamp),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS user_roles (
	id %s,
	user_id BIGINT NOT NULL,
	role_id BIGINT NOT NULL REFERENCES roles(id),
	reports_to_id BIGINT NULL,
	created_at %s NOT NULL,
	UNIQUE (user_id, role_id)%s
)`, d.id, d.timestamp, inline(d, "idx_user_roles_role", "role_id")),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS ticket_templates (
	id %s,
	name %s NOT NULL UNIQUE,
	description TEXT,
	title_format %s,
	default_priority VARCHAR(50),
	workflow %s NOT NULL,
	workflow_config %s,
	created_by BIGINT NOT NULL,
	created_at %s NOT NULL,
	updated_at %s NOT NULL
)`, d.id, name, name, d.json, d.json, d.timestamp, d.timestamp),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tickets (
	id %s,
	title %s NOT NULL,
	description TEXT,
	status VARCHAR(20) NOT NULL,
	priority VARCHAR(50),
	created_by BIGINT NOT NULL,
	template_id BIGINT NOT NULL REFERENCES ticket_templates(id),
	workflow_data %s,
	version BIGINT NOT NULL DEFAULT 1,
	created_at %s NOT NULL,
	updated_at %s NOT NULL%s
)`, d.id, name, d.json, d.timestamp, d.timestamp,
			inline(d, "idx_tickets_template", "template_id")+inline(d, "idx_tickets_created", "created_at")),
	}

	if !d.inlineIdx {
		stmts = append(stmts,
			"CREATE INDEX IF NOT EXISTS idx_user_roles_role ON user_roles (role_id)",
			"CREATE INDEX IF NOT EXISTS idx_tickets_template ON tickets (template_id)",
			"CREATE INDEX IF NOT EXISTS idx_tickets_created ON tickets (created_at)",
		)
	}
	return stmts, nil
}

func inline(d dialect, name, column string) string {
	if !d.inlineIdx {
		return ""
	}
	return fmt.Sprintf(",\n\tINDEX %s (%s)", name, column)
}

// Migrate creates the officeflow tables when they do not exist.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	stmts, err := SchemaStatements(db.DriverName())
	if err != nil {
		return err
	}
	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d: %w", i+1, err)
		}
	}
	return nil
}
