package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"lorekeeper/internal/adapters/storage"
	accountStore "lorekeeper/internal/adapters/storage/account"
	"lorekeeper/internal/config"
)

func writeConfig(t *testing.T, dbPath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lorekeeper.yaml")
	body := "db_path: " + dbPath + "\nlog_level: warn\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestMigrateCommand verifies `lorekeeper migrate` brings a new database to the latest schema.
func TestMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "lore.db")
	cmd := newRootCmd()
	cmd.SetArgs([]string{"migrate", "--config", writeConfig(t, dbPath)})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	db, err := storage.Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	v, err := storage.SchemaVersion(db)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != storage.LatestSchemaVersion() {
		t.Errorf("schema version = %d, want %d", v, storage.LatestSchemaVersion())
	}
}

// TestMigrateCommand_BadConfig verifies config errors surface as command errors.
func TestMigrateCommand_BadConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"migrate", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	cmd.SetErr(new(discard))
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

// TestSeedAdmin verifies the bootstrap account is created once.
func TestSeedAdmin(t *testing.T) {
	cfg := config.Default()
	cfg.DBPath = ":memory:"
	db, err := openDB(cfg)
	if err != nil {
		t.Fatalf("openDB: %v", err)
	}
	defer db.Close()
	accounts := accountStore.NewSQLiteStore(db)

	cfg.AdminEmail = "admin@lorekeeper.test"
	cfg.AdminPassword = "a long enough password"
	for i := 0; i < 2; i++ {
		if err := seedAdmin(context.Background(), cfg, accounts); err != nil {
			t.Fatalf("seedAdmin #%d: %v", i, err)
		}
	}
	n, err := accounts.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("accounts = %d, want 1", n)
	}

	cfg.AdminEmail = ""
	if err := seedAdmin(context.Background(), cfg, accounts); err != nil {
		t.Errorf("no admin configured: %v", err)
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
