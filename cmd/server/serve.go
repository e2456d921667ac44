package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"lorekeeper/internal/adapters/email"
	web "lorekeeper/internal/adapters/http"
	"lorekeeper/internal/adapters/metrics"
	"lorekeeper/internal/adapters/storage"
	accountStore "lorekeeper/internal/adapters/storage/account"
	auditStore "lorekeeper/internal/adapters/storage/audit"
	deleteopStore "lorekeeper/internal/adapters/storage/deleteop"
	entityStore "lorekeeper/internal/adapters/storage/entity"
	worldStore "lorekeeper/internal/adapters/storage/world"
	"lorekeeper/internal/application/deletion"
	"lorekeeper/internal/application/orchestrators"
	"lorekeeper/internal/config"
)

// interruptedReason is recorded on operations a previous process left unfinished.
const interruptedReason = "interrupted by restart"

// setupLogging installs the default slog handler: JSON in production, text otherwise.
func setupLogging(cfg config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// openDB opens the database and applies migrations.
func openDB(cfg config.Config) (*sql.DB, error) {
	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	if err := storage.MigrateDB(db, cfg.DBPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func runMigrate(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	v, err := storage.SchemaVersion(db)
	if err != nil {
		return err
	}
	slog.Info("migrate_complete", "db_path", cfg.DBPath, "schema_version", v)
	return nil
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.New(registry)
	timedDB := storage.NewTimedDB(db, recorder, cfg.SlowQueryMs)

	accounts := accountStore.NewSQLiteStore(timedDB)
	worlds := worldStore.NewSQLiteStore(timedDB)
	entities := entityStore.NewSQLiteStore(timedDB)
	operationRows := deleteopStore.NewSQLiteStore(timedDB)

	if n, err := operationRows.MarkInterrupted(ctx, interruptedReason, time.Now().UTC()); err != nil {
		return fmt.Errorf("recover delete operations: %w", err)
	} else if n > 0 {
		slog.Warn("delete_operations_interrupted", "count", n)
	}

	if err := seedAdmin(ctx, cfg, accounts); err != nil {
		return err
	}

	sender := email.NewSender(cfg.ResendKey, cfg.EmailFrom)
	if cfg.ResendKey == "" && cfg.IsProduction() {
		slog.Warn("email_disabled", "detail", "LOREKEEPER_RESEND_KEY is not set; delete notifications are dropped")
	}

	gate := deletion.NewGate(cfg.Delete.GateCapacity)
	operations := deletion.NewOperationStore(operationRows, cfg.Delete.ListLimitCap)
	worker, err := deletion.NewWorker(deletion.WorkerConfig{
		Entities:   entities,
		Resolver:   deletion.NewResolver(entities, cfg.Delete.CascadeMaxEntities),
		Operations: operations,
		Gate:       gate,
		Clock:      clock.WallClock,
		Metrics:    recorder,
		Notifier: &deletion.EmailNotifier{
			Worlds:           worlds,
			Accounts:         accounts,
			Sender:           sender,
			NotifyOnComplete: cfg.Delete.NotifyOnComplete,
		},
		EntityDelay: cfg.Delete.EntityDelay,
	})
	if err != nil {
		return fmt.Errorf("delete worker: %w", err)
	}
	pool := deletion.NewPool(cfg.Delete.Workers, cfg.Delete.QueueSize, worker.Execute)
	pool.Start(ctx)

	csrfKey, err := web.LoadCSRFKey(cfg.CSRFKeyHex, cfg.IsProduction())
	if err != nil {
		return err
	}
	handler := web.NewMux(ctx, web.Options{
		Stores: web.Stores{
			AccountStore: accounts,
			WorldStore:   worlds,
			EntityStore:  entities,
			AuditStore:   auditStore.NewSQLiteStore(timedDB),
		},
		Delete: web.DeleteService{
			Gate:       gate,
			Operations: operations,
			Queue:      pool,
			ScopeFor:   deletion.ScopePolicy(cfg.Delete.GateScope),
			RetryAfter: cfg.Delete.RetryAfter,
		},
		Metrics:            recorder,
		DB:                 timedDB,
		Clock:              clock.WallClock,
		GenerateID:         uuid.NewString,
		CSRFKey:            csrfKey,
		Secure:             cfg.IsProduction(),
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		SlowRequestMs:      cfg.SlowRequestMs,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server_starting",
			"version", version,
			"addr", cfg.Addr,
			"env", cfg.Env,
			"schema", storage.LatestSchemaVersion(),
			"gate_capacity", cfg.Delete.GateCapacity,
			"gate_scope", cfg.Delete.GateScope,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		slog.Info("server_stopping", "timeout", cfg.ShutdownTimeout.String())
		httpErr := srv.Shutdown(shutdownCtx)
		// in-flight operations run to a terminal status before the database closes
		poolErr := pool.Stop(shutdownCtx)
		return errors.Join(httpErr, poolErr)
	})
	if err := g.Wait(); err != nil {
		slog.Error("server_exit", "error", err.Error())
		return err
	}
	slog.Info("server_stopped")
	return nil
}

// seedAdmin creates the configured bootstrap account on first start.
func seedAdmin(ctx context.Context, cfg config.Config, accounts accountStore.Store) error {
	if cfg.AdminEmail == "" {
		return nil
	}
	_, err := orchestrators.ExecuteSeedAccount(ctx, orchestrators.SeedAccountInput{
		Email:    cfg.AdminEmail,
		Password: cfg.AdminPassword,
	}, orchestrators.SeedAccountDeps{
		AccountStore: accounts,
		GenerateID:   uuid.NewString,
		Clock:        clock.WallClock,
		IsNotFound:   func(err error) bool { return errors.Is(err, accountStore.ErrNotFound) },
	})
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	return nil
}
