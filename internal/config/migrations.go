package config

import (
	"context"
	"fmt"
	"strings"
)

// dialect holds the per-driver column types used by migrations.
type dialect struct {
	name      string
	timestamp string
}

func dialectFor(driver string) dialect {
	switch driver {
	case DriverPostgres:
		return dialect{name: DriverPostgres, timestamp: "TIMESTAMPTZ"}
	case DriverMySQL:
		return dialect{name: DriverMySQL, timestamp: "DATETIME(6)"}
	default:
		return dialect{name: DriverSQLite, timestamp: "DATETIME"}
	}
}

// ignorableMigrationErrors are re-run failures that mean the change is
// already applied.
var ignorableMigrationErrors = []string{
	"duplicate column",   // sqlite ALTER TABLE ADD COLUMN
	"already exists",     // postgres
	"Duplicate key name", // mysql CREATE INDEX
	"Duplicate column name",
}

func (s *Store) migrate(ctx context.Context) error {
	ts := s.dialect.timestamp
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS admins (
			id VARCHAR(64) PRIMARY KEY,
			email VARCHAR(255) UNIQUE NOT NULL,
			username VARCHAR(255) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			role VARCHAR(32) NOT NULL,
			access_level VARCHAR(32) NOT NULL,
			permissions_json TEXT NOT NULL,
			active BOOLEAN NOT NULL,
			api_key_hash VARCHAR(64) UNIQUE,
			api_key_prefix VARCHAR(32) NOT NULL DEFAULT '',
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL,
			last_login ` + ts + `
		)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id VARCHAR(64) PRIMARY KEY,
			owner_id VARCHAR(64) NOT NULL REFERENCES admins(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			key_hash VARCHAR(64) UNIQUE NOT NULL,
			key_prefix VARCHAR(32) NOT NULL,
			key_type VARCHAR(16) NOT NULL,
			scopes_json TEXT NOT NULL,
			project_ids_json TEXT,
			expires_at ` + ts + `,
			is_active BOOLEAN NOT NULL,
			use_count BIGINT NOT NULL DEFAULT 0,
			created_at ` + ts + ` NOT NULL,
			last_used_at ` + ts + `
		)`,

		`CREATE INDEX idx_api_keys_owner ON api_keys(owner_id)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id VARCHAR(64) PRIMARY KEY,
			token_hash VARCHAR(64) UNIQUE NOT NULL,
			session_type VARCHAR(16) NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			project_id VARCHAR(64),
			api_key_id VARCHAR(64),
			project_ids_json TEXT,
			scopes_json TEXT NOT NULL,
			metadata_json TEXT NOT NULL,
			created_at ` + ts + ` NOT NULL,
			expires_at ` + ts + ` NOT NULL,
			consumed BOOLEAN NOT NULL,
			consumed_at ` + ts + `,
			last_seen_at ` + ts + `
		)`,

		`ALTER TABLE sessions ADD COLUMN project_ids_json TEXT`,

		`CREATE INDEX idx_sessions_expires ON sessions(expires_at)`,
		`CREATE INDEX idx_sessions_user ON sessions(user_id)`,

		`CREATE TABLE IF NOT EXISTS changelog (
			id VARCHAR(64) PRIMARY KEY,
			entity_type VARCHAR(64) NOT NULL,
			entity_id VARCHAR(64) NOT NULL,
			action VARCHAR(16) NOT NULL,
			changes_json TEXT NOT NULL,
			performed_by VARCHAR(64) NOT NULL,
			session_id VARCHAR(64) NOT NULL,
			created_at ` + ts + ` NOT NULL
		)`,

		`CREATE INDEX idx_changelog_entity ON changelog(entity_type, entity_id)`,

		`CREATE TABLE IF NOT EXISTS audit_dead_letters (
			id VARCHAR(64) PRIMARY KEY,
			entry_json TEXT NOT NULL,
			last_error TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			created_at ` + ts + ` NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

func isIgnorableMigrationError(err error) bool {
	msg := err.Error()
	for _, m := range ignorableMigrationErrors {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
