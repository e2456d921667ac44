package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// migration is one forward-only schema step.
type migration struct {
	version     int
	description string
	statements  []string
}

// migrations is the ordered schema history. Append only; never edit a released step.
var migrations = []migration{
	{
		version:     1,
		description: "accounts, worlds and world entities",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS account (
				id TEXT PRIMARY KEY,
				email TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				failed_logins INTEGER NOT NULL DEFAULT 0,
				locked_until TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS world (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				name TEXT NOT NULL,
				created_at TEXT NOT NULL,
				FOREIGN KEY (owner_id) REFERENCES account(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_world_owner ON world(owner_id)`,
			`CREATE TABLE IF NOT EXISTS world_entity (
				id TEXT PRIMARY KEY,
				world_id TEXT NOT NULL,
				parent_id TEXT NOT NULL DEFAULT '',
				name TEXT NOT NULL,
				type TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				deleted INTEGER NOT NULL DEFAULT 0,
				deleted_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				FOREIGN KEY (world_id) REFERENCES world(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_world_entity_parent ON world_entity(world_id, parent_id, deleted)`,
		},
	},
	{
		version:     2,
		description: "delete operations",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS delete_operation (
				id TEXT PRIMARY KEY,
				world_id TEXT NOT NULL,
				root_entity_id TEXT NOT NULL,
				root_entity_name TEXT NOT NULL DEFAULT '',
				is_cascade INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL,
				total_entities INTEGER NOT NULL DEFAULT 0,
				deleted_count INTEGER NOT NULL DEFAULT 0,
				failed_count INTEGER NOT NULL DEFAULT 0,
				error TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				started_at TEXT,
				completed_at TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_delete_operation_world ON delete_operation(world_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_delete_operation_status ON delete_operation(status)`,
			`CREATE TABLE IF NOT EXISTS delete_operation_failure (
				operation_id TEXT NOT NULL,
				position INTEGER NOT NULL,
				entity_id TEXT NOT NULL,
				PRIMARY KEY (operation_id, position),
				UNIQUE (operation_id, entity_id),
				FOREIGN KEY (operation_id) REFERENCES delete_operation(id)
			)`,
		},
	},
	{
		version:     3,
		description: "audit trail",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS audit_event (
				id TEXT PRIMARY KEY,
				timestamp TEXT NOT NULL,
				category TEXT NOT NULL,
				action TEXT NOT NULL,
				severity TEXT NOT NULL DEFAULT 'info',
				actor_id TEXT NOT NULL DEFAULT '',
				actor_email TEXT NOT NULL DEFAULT '',
				world_id TEXT NOT NULL DEFAULT '',
				resource_type TEXT NOT NULL DEFAULT '',
				resource_id TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				ip_address TEXT NOT NULL DEFAULT '',
				user_agent TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_event_actor ON audit_event(actor_id, timestamp)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_event_world ON audit_event(world_id, timestamp)`,
		},
	},
}

// LatestSchemaVersion returns the version the schema will be at after MigrateDB.
func LatestSchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// Open opens the SQLite database at path with the pragmas every connection needs.
// PRE: path is non-empty (":memory:" is allowed)
// POST: returns an open *sql.DB; the caller closes it
func Open(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if path == ":memory:" {
		// every pooled connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// MigrateDB brings the schema at db up to LatestSchemaVersion.
// PRE: db is a valid database connection
// POST: every pending migration is applied in its own transaction and recorded in schema_version
func MigrateDB(db *sql.DB, dbPath string) error {
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("migration %d (%s) on %s: %w", m.version, m.description, dbPath, err)
		}
		slog.Info("schema_migrated", "db", dbPath, "version", m.version, "description", m.description)
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, ?)",
		m.version, m.description, time.Now().UTC().Format(dateLayout)); err != nil {
		return err
	}
	return tx.Commit()
}

// SchemaVersion returns the highest applied migration, or 0 for a fresh database.
// PRE: db is a valid database connection
// POST: returns the current version; schema_version missing counts as 0
func SchemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect schema: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}
	var version sql.NullInt64
	if err := db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}

// dateLayout is the TEXT format every store uses for timestamps.
const dateLayout = "2006-01-02T15:04:05.999999999Z07:00"

// DateLayout is exported for the per-aggregate stores.
const DateLayout = dateLayout

// FormatTime renders t in DateLayout, UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// FormatTimePtr renders t, or returns nil so the column is stored as NULL.
func FormatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

// ParseTime parses a timestamp written by FormatTime or an older layout.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{dateLayout, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time: %s", s)
}

// ParseTimePtr parses a nullable timestamp column.
func ParseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := ParseTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}
