package deletion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"lorekeeper/internal/adapters/metrics"
	"lorekeeper/internal/domain/deleteop"
)

// Job is one accepted delete operation waiting for a worker.
type Job struct {
	OperationID string
	WorldID     string
	EntityID    string
	Cascade     bool
	Scope       string // gate key the operation holds a slot for
}

// EntityDeleter soft-deletes a single live entity.
type EntityDeleter interface {
	MarkDeleted(ctx context.Context, worldID, id string, now time.Time) error
}

// CascadeResolver computes the ids a delete operation covers.
type CascadeResolver interface {
	Resolve(ctx context.Context, worldID, rootID string, cascade bool) ([]string, error)
}

// Metrics receives delete subsystem measurements. *metrics.Recorder implements it.
type Metrics interface {
	OperationStarted()
	OperationFinished(status string)
	EntityProcessed(outcome string)
	ObserveResolution(d time.Duration)
}

// Notifier is told about every operation that reaches a terminal status.
type Notifier interface {
	Notify(ctx context.Context, op deleteop.Operation)
}

// WorkerConfig holds what a Worker needs.
type WorkerConfig struct {
	Entities   EntityDeleter
	Resolver   CascadeResolver
	Operations *OperationStore
	Gate       *Gate
	Clock      clock.Clock
	Metrics    Metrics  // optional
	Notifier   Notifier // optional
	// EntityDelay pauses between per-entity deletes to spread write load.
	EntityDelay time.Duration
}

// Validate ensures the config is populated.
func (c WorkerConfig) Validate() error {
	switch {
	case c.Entities == nil:
		return errors.New("nil Entities not valid")
	case c.Resolver == nil:
		return errors.New("nil Resolver not valid")
	case c.Operations == nil:
		return errors.New("nil Operations not valid")
	case c.Gate == nil:
		return errors.New("nil Gate not valid")
	case c.Clock == nil:
		return errors.New("nil Clock not valid")
	case c.EntityDelay < 0:
		return errors.New("negative EntityDelay not valid")
	}
	return nil
}

// Worker applies delete operations. It is stateless between jobs and safe for concurrent use.
type Worker struct {
	cfg WorkerConfig
}

// NewWorker validates cfg and returns a Worker.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	return &Worker{cfg: cfg}, nil
}

// Execute runs one job to a terminal status. It never returns an error: every outcome,
// including a panic, is recorded on the operation. The gate slot is always released.
// PRE: job.OperationID names a pending operation created in the OperationStore
// POST: the operation is terminal (unless its store write failed), and the slot is released
func (w *Worker) Execute(ctx context.Context, job Job) {
	w.cfg.Metrics.OperationStarted()
	var final deleteop.Operation
	defer func() {
		if r := recover(); r != nil {
			slog.Error("delete_worker_panic", "operation_id", job.OperationID, "panic", fmt.Sprint(r))
			final = w.abort(ctx, job.OperationID, fmt.Sprintf("internal error: %v", r))
		}
		w.cfg.Gate.Release(job.Scope)
		w.cfg.Metrics.OperationFinished(final.Status)
		if final.IsTerminal() && w.cfg.Notifier != nil {
			w.cfg.Notifier.Notify(ctx, final)
		}
	}()
	final = w.run(ctx, job)
}

func (w *Worker) run(ctx context.Context, job Job) deleteop.Operation {
	ops := w.cfg.Operations
	op, err := ops.Start(ctx, job.OperationID, w.cfg.Clock.Now())
	if err != nil {
		slog.Error("delete_operation_start_failed", "operation_id", job.OperationID, "error", err.Error())
		return op
	}
	slog.Info("delete_operation_started",
		"operation_id", job.OperationID, "world_id", job.WorldID, "entity_id", job.EntityID, "cascade", job.Cascade)

	resolveStart := w.cfg.Clock.Now()
	ids, err := w.cfg.Resolver.Resolve(ctx, job.WorldID, job.EntityID, job.Cascade)
	w.cfg.Metrics.ObserveResolution(w.cfg.Clock.Now().Sub(resolveStart))
	if err != nil {
		slog.Warn("delete_resolution_failed", "operation_id", job.OperationID, "error", err.Error())
		op, ferr := ops.FailResolution(ctx, job.OperationID, "resolution failed: "+err.Error(), w.cfg.Clock.Now())
		if ferr != nil {
			slog.Error("delete_operation_fail_failed", "operation_id", job.OperationID, "error", ferr.Error())
		}
		return op
	}
	if _, err := ops.SetTotal(ctx, job.OperationID, len(ids)); err != nil {
		slog.Error("delete_operation_total_failed", "operation_id", job.OperationID, "error", err.Error())
		return w.abort(ctx, job.OperationID, err.Error())
	}

	for i, id := range ids {
		if i > 0 && w.cfg.EntityDelay > 0 {
			select {
			case <-w.cfg.Clock.After(w.cfg.EntityDelay):
			case <-ctx.Done():
			}
		}
		w.deleteOne(ctx, job, id)
	}

	op, err = ops.Finish(ctx, job.OperationID, w.cfg.Clock.Now())
	if err != nil {
		slog.Error("delete_operation_finish_failed", "operation_id", job.OperationID, "error", err.Error())
		return op
	}
	slog.Info("delete_operation_finished",
		"operation_id", op.ID,
		"status", op.Status,
		"total", op.TotalEntities,
		"deleted", op.DeletedCount,
		"failed", op.FailedCount,
	)
	return op
}

// deleteOne applies one soft delete; a failure is recorded and never stops the operation.
func (w *Worker) deleteOne(ctx context.Context, job Job, entityID string) {
	ops := w.cfg.Operations
	if err := w.cfg.Entities.MarkDeleted(ctx, job.WorldID, entityID, w.cfg.Clock.Now()); err != nil {
		slog.Warn("delete_entity_failed", "operation_id", job.OperationID, "entity_id", entityID, "error", err.Error())
		w.cfg.Metrics.EntityProcessed(metrics.OutcomeFailed)
		if _, rerr := ops.RecordFailed(ctx, job.OperationID, entityID); rerr != nil {
			slog.Error("delete_progress_failed", "operation_id", job.OperationID, "error", rerr.Error())
		}
		return
	}
	w.cfg.Metrics.EntityProcessed(metrics.OutcomeDeleted)
	if _, err := ops.RecordDeleted(ctx, job.OperationID); err != nil {
		slog.Error("delete_progress_failed", "operation_id", job.OperationID, "error", err.Error())
	}
}

// abort drives a non-terminal operation to a terminal status after an unexpected error.
func (w *Worker) abort(ctx context.Context, id, reason string) deleteop.Operation {
	ops := w.cfg.Operations
	op, err := ops.Get(ctx, id)
	if err != nil || op.IsTerminal() {
		return op
	}
	now := w.cfg.Clock.Now()
	if op.Status == deleteop.StatusPending {
		if op, err = ops.Start(ctx, id, now); err != nil {
			return op
		}
	}
	if op.TotalEntities == 0 {
		op, err = ops.FailResolution(ctx, id, reason, now)
	} else {
		op, err = ops.Finish(ctx, id, now)
	}
	if err != nil {
		slog.Error("delete_operation_abort_failed", "operation_id", id, "error", err.Error())
	}
	return op
}

type nopMetrics struct{}

func (nopMetrics) OperationStarted()               {}
func (nopMetrics) OperationFinished(string)        {}
func (nopMetrics) EntityProcessed(string)          {}
func (nopMetrics) ObserveResolution(time.Duration) {}
