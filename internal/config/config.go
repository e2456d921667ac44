package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Gate scope policies.
const (
	GateScopeGlobal = "global"
	GateScopeWorld  = "world"
)

// Config holds all runtime settings for the server.
type Config struct {
	Addr               string        `yaml:"addr"`
	DBPath             string        `yaml:"db_path"`
	Env                string        `yaml:"env"`
	LogLevel           string        `yaml:"log_level"`
	SlowQueryMs        int           `yaml:"slow_query_ms"`
	SlowRequestMs      int           `yaml:"slow_request_ms"`
	RateLimitPerSecond int           `yaml:"rate_limit_per_second"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	AdminEmail         string        `yaml:"admin_email"`
	AdminPassword      string        `yaml:"admin_password"`
	ResendKey          string        `yaml:"resend_key"`
	EmailFrom          string        `yaml:"email_from"`
	CSRFKeyHex         string        `yaml:"csrf_key"`
	Delete             DeleteConfig  `yaml:"delete"`
}

// DeleteConfig tunes the cascade delete subsystem.
type DeleteConfig struct {
	GateCapacity       int           `yaml:"gate_capacity"`
	GateScope          string        `yaml:"gate_scope"`
	Workers            int           `yaml:"workers"`
	QueueSize          int           `yaml:"queue_size"`
	RetryAfter         time.Duration `yaml:"retry_after"`
	ListLimitCap       int           `yaml:"list_limit_cap"`
	CascadeMaxEntities int           `yaml:"cascade_max_entities"`
	EntityDelay        time.Duration `yaml:"entity_delay"`
	NotifyOnComplete   bool          `yaml:"notify_on_complete"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Addr:               ":8080",
		DBPath:             "lorekeeper.db",
		Env:                "development",
		LogLevel:           "info",
		SlowQueryMs:        50,
		SlowRequestMs:      200,
		RateLimitPerSecond: 20,
		ShutdownTimeout:    30 * time.Second,
		EmailFrom:          "Lorekeeper <noreply@lorekeeper.local>",
		Delete: DeleteConfig{
			GateCapacity: 5,
			GateScope:    GateScopeGlobal,
			Workers:      4,
			QueueSize:    64,
			RetryAfter:   5 * time.Second,
			ListLimitCap: 100,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if non-empty),
// then LOREKEEPER_* environment overrides.
// PRE: none
// POST: returns a validated Config or an error naming the bad setting
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("LOREKEEPER_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if c.DBPath == "" {
		return errors.New("db_path is required")
	}
	if c.Delete.GateCapacity <= 0 {
		return errors.New("delete.gate_capacity must be positive")
	}
	if c.Delete.GateScope != GateScopeGlobal && c.Delete.GateScope != GateScopeWorld {
		return fmt.Errorf("delete.gate_scope must be %q or %q", GateScopeGlobal, GateScopeWorld)
	}
	if c.Delete.Workers <= 0 {
		return errors.New("delete.workers must be positive")
	}
	// With global scope this lets the queue hold every admitted operation. World scope admits
	// gate_capacity per world, so a full queue can still fail an admitted operation.
	if c.Delete.QueueSize < c.Delete.GateCapacity {
		return errors.New("delete.queue_size must be at least delete.gate_capacity")
	}
	if c.Delete.ListLimitCap <= 0 {
		return errors.New("delete.list_limit_cap must be positive")
	}
	if c.Delete.CascadeMaxEntities < 0 {
		return errors.New("delete.cascade_max_entities must not be negative")
	}
	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SlogLevel maps LogLevel to a slog.Level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

type lookupFunc func(key string) (string, bool)

// applyEnv overlays LOREKEEPER_* variables on cfg.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var err error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" && err == nil {
			n, convErr := strconv.Atoi(v)
			if convErr != nil {
				err = fmt.Errorf("%s: %w", key, convErr)
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" && err == nil {
			d, convErr := time.ParseDuration(v)
			if convErr != nil {
				err = fmt.Errorf("%s: %w", key, convErr)
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" && err == nil {
			b, convErr := strconv.ParseBool(v)
			if convErr != nil {
				err = fmt.Errorf("%s: %w", key, convErr)
				return
			}
			*dst = b
		}
	}

	str("LOREKEEPER_ADDR", &cfg.Addr)
	str("LOREKEEPER_DB_PATH", &cfg.DBPath)
	str("LOREKEEPER_ENV", &cfg.Env)
	str("LOREKEEPER_LOG_LEVEL", &cfg.LogLevel)
	num("LOREKEEPER_SLOW_QUERY_MS", &cfg.SlowQueryMs)
	num("LOREKEEPER_SLOW_REQUEST_MS", &cfg.SlowRequestMs)
	num("LOREKEEPER_RATE_LIMIT_PER_SECOND", &cfg.RateLimitPerSecond)
	dur("LOREKEEPER_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	str("LOREKEEPER_ADMIN_EMAIL", &cfg.AdminEmail)
	str("LOREKEEPER_ADMIN_PASSWORD", &cfg.AdminPassword)
	str("LOREKEEPER_RESEND_KEY", &cfg.ResendKey)
	str("LOREKEEPER_EMAIL_FROM", &cfg.EmailFrom)
	str("LOREKEEPER_CSRF_KEY", &cfg.CSRFKeyHex)

	num("LOREKEEPER_DELETE_GATE_CAPACITY", &cfg.Delete.GateCapacity)
	str("LOREKEEPER_DELETE_GATE_SCOPE", &cfg.Delete.GateScope)
	num("LOREKEEPER_DELETE_WORKERS", &cfg.Delete.Workers)
	num("LOREKEEPER_DELETE_QUEUE_SIZE", &cfg.Delete.QueueSize)
	dur("LOREKEEPER_DELETE_RETRY_AFTER", &cfg.Delete.RetryAfter)
	num("LOREKEEPER_DELETE_LIST_LIMIT_CAP", &cfg.Delete.ListLimitCap)
	num("LOREKEEPER_DELETE_CASCADE_MAX_ENTITIES", &cfg.Delete.CascadeMaxEntities)
	dur("LOREKEEPER_DELETE_ENTITY_DELAY", &cfg.Delete.EntityDelay)
	boolean("LOREKEEPER_DELETE_NOTIFY_ON_COMPLETE", &cfg.Delete.NotifyOnComplete)
	return err
}
