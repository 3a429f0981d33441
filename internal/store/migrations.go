package store

import (
	"fmt"
	"strings"
)

// dialect holds the per-driver column type spellings used by the schema
// templates below. %[1]s = indexable text, %[2]s = timestamp, %[3]s = bool.
type dialect struct {
	keyText   string
	timestamp string
	boolean   string
	boolTrue  string
}

func (s *Store) dialect() dialect {
	switch s.driver {
	case DriverPostgres:
		return dialect{keyText: "TEXT", timestamp: "TIMESTAMPTZ", boolean: "BOOLEAN", boolTrue: "TRUE"}
	case DriverMySQL:
		// MySQL cannot index bare TEXT columns; 191 keeps composite
		// unique keys under the utf8mb4 index length limit.
		return dialect{keyText: "VARCHAR(191)", timestamp: "DATETIME(6)", boolean: "TINYINT(1)", boolTrue: "1"}
	default:
		return dialect{keyText: "TEXT", timestamp: "DATETIME", boolean: "INTEGER", boolTrue: "1"}
	}
}

func (s *Store) migrate() error {
	d := s.dialect()

	templates := []string{
		`CREATE TABLE IF NOT EXISTS apps (
			id %[1]s PRIMARY KEY,
			name %[1]s NOT NULL,
			slug %[1]s NOT NULL,
			status %[1]s NOT NULL DEFAULT 'active',
			metadata TEXT,
			created_at %[2]s NOT NULL,
			updated_at %[2]s NOT NULL,
			UNIQUE (name),
			UNIQUE (slug)
		)`,

		`CREATE TABLE IF NOT EXISTS licenses (
			id %[1]s PRIMARY KEY,
			app_name %[1]s NOT NULL,
			license_key %[1]s NOT NULL,
			status %[1]s NOT NULL DEFAULT 'active',
			max_activations INTEGER NOT NULL DEFAULT 1,
			expires_at %[2]s,
			metadata TEXT,
			created_at %[2]s NOT NULL,
			updated_at %[2]s NOT NULL,
			UNIQUE (app_name, license_key)
		)`,

		`CREATE TABLE IF NOT EXISTS activations (
			id %[1]s PRIMARY KEY,
			app_name %[1]s NOT NULL,
			app_version %[1]s NOT NULL,
			license_key %[1]s NOT NULL,
			machine_id %[1]s NOT NULL,
			shop_name TEXT,
			status %[1]s NOT NULL DEFAULT 'pending',
			metadata TEXT,
			activated_at %[2]s,
			expires_at %[2]s,
			created_at %[2]s NOT NULL,
			updated_at %[2]s NOT NULL,
			UNIQUE (app_name, license_key, machine_id)
		)`,

		`CREATE TABLE IF NOT EXISTS activation_logs (
			id %[1]s PRIMARY KEY,
			activation_id %[1]s NOT NULL,
			action %[1]s NOT NULL,
			ip_address TEXT,
			user_agent TEXT,
			metadata TEXT,
			created_at %[2]s NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS admins (
			id %[1]s PRIMARY KEY,
			email %[1]s NOT NULL,
			password_hash TEXT NOT NULL,
			name TEXT NOT NULL,
			is_active %[3]s NOT NULL DEFAULT %[4]s,
			last_login_at %[2]s,
			created_at %[2]s NOT NULL,
			updated_at %[2]s NOT NULL,
			UNIQUE (email)
		)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id %[1]s PRIMARY KEY,
			token %[1]s NOT NULL,
			admin_id %[1]s NOT NULL,
			expires_at %[2]s NOT NULL,
			created_at %[2]s NOT NULL,
			UNIQUE (token)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_licenses_app_status ON licenses (app_name, status)`,
		`CREATE INDEX IF NOT EXISTS idx_activations_app_status ON activations (app_name, status)`,
		`CREATE INDEX IF NOT EXISTS idx_activation_logs_activation ON activation_logs (activation_id)`,
	}

	for _, tmpl := range templates {
		stmt := tmpl
		if strings.Contains(tmpl, "%[") {
			stmt = fmt.Sprintf(tmpl, d.keyText, d.timestamp, d.boolean, d.boolTrue)
		}
		if _, err := s.db.Exec(stmt); err != nil {
			// MySQL predates CREATE INDEX IF NOT EXISTS; a duplicate
			// index on re-migration is a no-op.
			if strings.Contains(strings.ToLower(err.Error()), "duplicate key name") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
