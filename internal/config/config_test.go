package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(m map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// TestDefault_IsValid verifies the built-in settings pass validation.
func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Delete.GateCapacity != 5 {
		t.Errorf("GateCapacity = %d, want 5", cfg.Delete.GateCapacity)
	}
}

// TestLoad_YAMLThenEnv verifies file values are applied and env overrides them.
func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lorekeeper.yaml")
	yml := "addr: \":9090\"\ndelete:\n  gate_capacity: 3\n  queue_size: 10\n  retry_after: 2s\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LOREKEEPER_DELETE_GATE_SCOPE", "world")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", cfg.Addr)
	}
	if cfg.Delete.GateCapacity != 3 {
		t.Errorf("GateCapacity = %d, want 3", cfg.Delete.GateCapacity)
	}
	if cfg.Delete.RetryAfter != 2*time.Second {
		t.Errorf("RetryAfter = %v, want 2s", cfg.Delete.RetryAfter)
	}
	if cfg.Delete.GateScope != GateScopeWorld {
		t.Errorf("GateScope = %q, want world", cfg.Delete.GateScope)
	}
	// untouched keys keep defaults
	if cfg.Delete.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Delete.Workers)
	}
}

// TestApplyEnv_BadNumber verifies malformed env values are reported by key.
func TestApplyEnv_BadNumber(t *testing.T) {
	cfg := Default()
	err := applyEnv(&cfg, envMap(map[string]string{"LOREKEEPER_DELETE_WORKERS": "many"}))
	if err == nil {
		t.Fatal("expected error for non-numeric workers")
	}
}

// TestValidate_Rejects covers the settings the server refuses to start with.
func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero capacity", func(c *Config) { c.Delete.GateCapacity = 0 }},
		{"unknown scope", func(c *Config) { c.Delete.GateScope = "tenant" }},
		{"queue smaller than gate", func(c *Config) { c.Delete.QueueSize = 2 }},
		{"no workers", func(c *Config) { c.Delete.Workers = 0 }},
		{"empty db path", func(c *Config) { c.DBPath = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
