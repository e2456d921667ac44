package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"lorekeeper/internal/application/deletion"
	"lorekeeper/internal/domain/deleteop"
	"lorekeeper/internal/domain/entity"
)

// EntityStoreForDelete defines the store interface needed by InitiateDelete.
type EntityStoreForDelete interface {
	GetByID(ctx context.Context, worldID, id string) (entity.Entity, error)
}

// DeleteGate bounds concurrent delete operations.
type DeleteGate interface {
	TryAcquire(scope string) bool
	Release(scope string)
}

// OperationRecorder creates operation records and fails ones that cannot be scheduled.
type OperationRecorder interface {
	Create(ctx context.Context, op deleteop.Operation) error
	FailResolution(ctx context.Context, id, reason string, now time.Time) (deleteop.Operation, error)
}

// DeleteQueue accepts jobs for background execution without blocking.
type DeleteQueue interface {
	Submit(job deletion.Job) error
}

// GateRejectionCounter is notified when the gate turns a request away.
type GateRejectionCounter interface {
	GateRejected()
}

// InitiateDeleteInput carries input for the initiate delete orchestrator.
type InitiateDeleteInput struct {
	WorldID  string `validate:"required"`
	EntityID string `validate:"required"`
	Cascade  bool
}

// InitiateDeleteResult identifies the accepted operation.
type InitiateDeleteResult struct {
	OperationID string
	StatusURL   string
}

// InitiateDeleteDeps holds dependencies for InitiateDelete.
type InitiateDeleteDeps struct {
	EntityStore EntityStoreForDelete
	Gate        DeleteGate
	Operations  OperationRecorder
	Queue       DeleteQueue
	GenerateID  func() string
	Clock       clock.Clock
	ScopeFor    deletion.ScopeFunc
	RetryAfter  time.Duration
	Metrics     GateRejectionCounter // optional
}

// StatusURL returns the polling path for an operation.
func StatusURL(operationID string) string {
	return "/api/delete-operations/" + operationID
}

// ExecuteInitiateDelete accepts a delete request and schedules it without waiting for it.
// PRE: the caller is authorized for input.WorldID
// POST: on success a pending operation exists, holds a gate slot and is queued;
// on NotFound or CapacityExceeded no record is created and no slot is held
func ExecuteInitiateDelete(ctx context.Context, input InitiateDeleteInput, deps InitiateDeleteDeps) (InitiateDeleteResult, error) {
	if err := validateInput(input); err != nil {
		return InitiateDeleteResult{}, err
	}

	root, err := deps.EntityStore.GetByID(ctx, input.WorldID, input.EntityID)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return InitiateDeleteResult{}, &deleteop.NotFoundError{WorldID: input.WorldID, EntityID: input.EntityID}
		}
		return InitiateDeleteResult{}, fmt.Errorf("look up entity %s: %w", input.EntityID, err)
	}

	scope := deps.ScopeFor(input.WorldID)
	if !deps.Gate.TryAcquire(scope) {
		if deps.Metrics != nil {
			deps.Metrics.GateRejected()
		}
		slog.Info("delete_event", "event", "delete_rejected", "world_id", input.WorldID, "entity_id", input.EntityID, "scope", scope)
		return InitiateDeleteResult{}, &deleteop.CapacityError{Scope: scope, RetryAfter: deps.RetryAfter}
	}

	op := deleteop.New(deps.GenerateID(), input.WorldID, root.ID, root.Name, input.Cascade, deps.Clock.Now())
	if err := deps.Operations.Create(ctx, op); err != nil {
		deps.Gate.Release(scope)
		return InitiateDeleteResult{}, err
	}

	result := InitiateDeleteResult{OperationID: op.ID, StatusURL: StatusURL(op.ID)}
	job := deletion.Job{
		OperationID: op.ID,
		WorldID:     input.WorldID,
		EntityID:    root.ID,
		Cascade:     input.Cascade,
		Scope:       scope,
	}
	if err := deps.Queue.Submit(job); err != nil {
		// the operation was accepted, so its outcome stays visible through polling
		if _, ferr := deps.Operations.FailResolution(ctx, op.ID, "not scheduled: "+err.Error(), deps.Clock.Now()); ferr != nil {
			slog.Error("delete_event", "event", "delete_schedule_fail_failed", "operation_id", op.ID, "error", ferr.Error())
		}
		deps.Gate.Release(scope)
		slog.Warn("delete_event", "event", "delete_not_scheduled", "operation_id", op.ID, "error", err.Error())
		return result, nil
	}

	slog.Info("delete_event",
		"event", "delete_accepted",
		"operation_id", op.ID,
		"world_id", input.WorldID,
		"entity_id", root.ID,
		"cascade", input.Cascade,
	)
	return result, nil
}
