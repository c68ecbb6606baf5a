package store

import (
	"context"
	"fmt"
	"strings"
)

const schemaVersion = "1"

// Timestamps are stored in UTC at second precision across all dialects so
// ordering comparisons behave identically everywhere.

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		key_digest TEXT UNIQUE NOT NULL,
		key_prefix TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		org_id TEXT,
		label TEXT NOT NULL DEFAULT '',
		permissions TEXT NOT NULL DEFAULT '[]',
		tier TEXT NOT NULL DEFAULT 'free',
		is_active INTEGER NOT NULL DEFAULT 1,
		expires_at DATETIME,
		created_at DATETIME NOT NULL,
		last_used_at DATETIME,
		usage_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_owner ON api_keys(owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_org ON api_keys(org_id)`,

	`CREATE TABLE IF NOT EXISTS audit_records (
		id TEXT PRIMARY KEY,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		resource_type TEXT NOT NULL DEFAULT '',
		resource_id TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		origin TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_actor_created ON audit_records(actor, created_at)`,

	`CREATE TABLE IF NOT EXISTS settings (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT ''
	)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		key_digest TEXT UNIQUE NOT NULL,
		key_prefix TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		org_id TEXT,
		label TEXT NOT NULL DEFAULT '',
		permissions TEXT NOT NULL DEFAULT '[]',
		tier TEXT NOT NULL DEFAULT 'free',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		expires_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		last_used_at TIMESTAMPTZ,
		usage_count BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_owner ON api_keys(owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_org ON api_keys(org_id)`,

	`CREATE TABLE IF NOT EXISTS audit_records (
		id TEXT PRIMARY KEY,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		resource_type TEXT NOT NULL DEFAULT '',
		resource_id TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		origin TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_actor_created ON audit_records(actor, created_at)`,

	`CREATE TABLE IF NOT EXISTS settings (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT ''
	)`,
}

var mysqlMigrations = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		id VARCHAR(36) PRIMARY KEY,
		key_digest VARCHAR(64) NOT NULL UNIQUE,
		key_prefix VARCHAR(16) NOT NULL,
		owner_id VARCHAR(128) NOT NULL,
		org_id VARCHAR(128),
		label VARCHAR(255) NOT NULL DEFAULT '',
		permissions TEXT NOT NULL,
		tier VARCHAR(16) NOT NULL DEFAULT 'free',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		expires_at DATETIME(6),
		created_at DATETIME(6) NOT NULL,
		last_used_at DATETIME(6),
		usage_count BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX idx_api_keys_owner ON api_keys(owner_id)`,
	`CREATE INDEX idx_api_keys_org ON api_keys(org_id)`,

	`CREATE TABLE IF NOT EXISTS audit_records (
		id VARCHAR(36) PRIMARY KEY,
		actor VARCHAR(128) NOT NULL,
		action VARCHAR(64) NOT NULL,
		resource_type VARCHAR(64) NOT NULL DEFAULT '',
		resource_id VARCHAR(128) NOT NULL DEFAULT '',
		outcome VARCHAR(16) NOT NULL,
		detail TEXT NOT NULL,
		origin VARCHAR(64) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL
	)`,
	`CREATE INDEX idx_audit_actor_created ON audit_records(actor, created_at)`,

	`CREATE TABLE IF NOT EXISTS settings (
		name VARCHAR(191) PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

var sqlserverMigrations = []string{
	`IF OBJECT_ID(N'api_keys', N'U') IS NULL
	CREATE TABLE api_keys (
		id NVARCHAR(36) NOT NULL PRIMARY KEY,
		key_digest NVARCHAR(64) NOT NULL UNIQUE,
		key_prefix NVARCHAR(16) NOT NULL,
		owner_id NVARCHAR(128) NOT NULL,
		org_id NVARCHAR(128) NULL,
		label NVARCHAR(255) NOT NULL DEFAULT '',
		permissions NVARCHAR(MAX) NOT NULL,
		tier NVARCHAR(16) NOT NULL DEFAULT 'free',
		is_active BIT NOT NULL DEFAULT 1,
		expires_at DATETIME2 NULL,
		created_at DATETIME2 NOT NULL,
		last_used_at DATETIME2 NULL,
		usage_count BIGINT NOT NULL DEFAULT 0
	)`,
	`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = 'idx_api_keys_owner')
	CREATE INDEX idx_api_keys_owner ON api_keys(owner_id)`,
	`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = 'idx_api_keys_org')
	CREATE INDEX idx_api_keys_org ON api_keys(org_id)`,

	`IF OBJECT_ID(N'audit_records', N'U') IS NULL
	CREATE TABLE audit_records (
		id NVARCHAR(36) NOT NULL PRIMARY KEY,
		actor NVARCHAR(128) NOT NULL,
		action NVARCHAR(64) NOT NULL,
		resource_type NVARCHAR(64) NOT NULL DEFAULT '',
		resource_id NVARCHAR(128) NOT NULL DEFAULT '',
		outcome NVARCHAR(16) NOT NULL,
		detail NVARCHAR(MAX) NOT NULL,
		origin NVARCHAR(64) NOT NULL DEFAULT '',
		created_at DATETIME2 NOT NULL
	)`,
	`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = 'idx_audit_actor_created')
	CREATE INDEX idx_audit_actor_created ON audit_records(actor, created_at)`,

	`IF OBJECT_ID(N'settings', N'U') IS NULL
	CREATE TABLE settings (
		name NVARCHAR(191) NOT NULL PRIMARY KEY,
		value NVARCHAR(MAX) NOT NULL
	)`,
}

func (s *Store) migrate() error {
	for _, m := range dialects[s.driver].migrations {
		if _, err := s.db.Exec(m); err != nil {
			// MySQL CREATE INDEX has no IF NOT EXISTS; re-running a migration
			// reports a duplicate. Treat that as a no-op so migrations stay
			// idempotent across dialects.
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return s.SetSetting(context.Background(), "schema_version", schemaVersion)
}
