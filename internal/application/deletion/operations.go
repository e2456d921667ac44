package deletion

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"lorekeeper/internal/domain/deleteop"
)

// List limits for ListRecent.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Persistence is the durable side of the operation store.
type Persistence interface {
	Insert(ctx context.Context, op deleteop.Operation) error
	Update(ctx context.Context, op deleteop.Operation) error
	AppendFailure(ctx context.Context, operationID string, position int, entityID string) error
	GetByID(ctx context.Context, id string) (deleteop.Operation, error)
	ListRecentByWorld(ctx context.Context, worldID string, limit int) ([]deleteop.Operation, error)
}

// OperationStore tracks delete operations. Non-terminal operations live in memory as
// immutable snapshots swapped with compare-and-swap, so pollers never block and always see
// a consistent record. Every change is written through to Persistence.
type OperationStore struct {
	persist Persistence
	maxList int
	live    sync.Map // operation id -> *atomic.Pointer[deleteop.Operation]
}

// NewOperationStore creates a store over persist. maxList <= 0 selects MaxListLimit.
func NewOperationStore(persist Persistence, maxList int) *OperationStore {
	if maxList <= 0 {
		maxList = MaxListLimit
	}
	return &OperationStore{persist: persist, maxList: maxList}
}

// Create records a newly accepted operation.
// PRE: op is pending and valid
// POST: op is persisted and readable through Get
func (s *OperationStore) Create(ctx context.Context, op deleteop.Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}
	if err := s.persist.Insert(ctx, op); err != nil {
		return fmt.Errorf("create delete operation: %w", err)
	}
	snap := op.Clone()
	ptr := new(atomic.Pointer[deleteop.Operation])
	ptr.Store(&snap)
	s.live.Store(op.ID, ptr)
	return nil
}

// Get returns the current snapshot of an operation.
// PRE: id is non-empty
// POST: returns a copy, or deleteop.ErrOperationNotFound
func (s *OperationStore) Get(ctx context.Context, id string) (deleteop.Operation, error) {
	if v, ok := s.live.Load(id); ok {
		return v.(*atomic.Pointer[deleteop.Operation]).Load().Clone(), nil
	}
	return s.persist.GetByID(ctx, id)
}

// ListRecent returns the newest operations for a world, newest first.
// PRE: worldID is non-empty
// POST: limit <= 0 selects DefaultListLimit; limit is clamped to the store's maximum
func (s *OperationStore) ListRecent(ctx context.Context, worldID string, limit int) ([]deleteop.Operation, error) {
	limit = s.ClampLimit(limit)
	ops, err := s.persist.ListRecentByWorld(ctx, worldID, limit)
	if err != nil {
		return nil, fmt.Errorf("list delete operations: %w", err)
	}
	for i := range ops {
		if v, ok := s.live.Load(ops[i].ID); ok {
			ops[i] = v.(*atomic.Pointer[deleteop.Operation]).Load().Clone()
		}
	}
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].CreatedAt.After(ops[j].CreatedAt) })
	return ops, nil
}

// ClampLimit applies the default and maximum page size.
func (s *OperationStore) ClampLimit(limit int) int {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > s.maxList {
		limit = s.maxList
	}
	return limit
}

// Start moves a pending operation to running.
func (s *OperationStore) Start(ctx context.Context, id string, now time.Time) (deleteop.Operation, error) {
	return s.apply(ctx, id, func(op *deleteop.Operation) error { return op.Start(now) })
}

// SetTotal fixes the number of entities the operation will process.
func (s *OperationStore) SetTotal(ctx context.Context, id string, total int) (deleteop.Operation, error) {
	return s.apply(ctx, id, func(op *deleteop.Operation) error { return op.SetTotal(total) })
}

// RecordDeleted counts one successfully deleted entity.
func (s *OperationStore) RecordDeleted(ctx context.Context, id string) (deleteop.Operation, error) {
	return s.apply(ctx, id, func(op *deleteop.Operation) error { return op.RecordDeleted() })
}

// RecordFailed counts one entity that could not be deleted.
func (s *OperationStore) RecordFailed(ctx context.Context, id, entityID string) (deleteop.Operation, error) {
	op, err := s.swap(id, func(op *deleteop.Operation) error { return op.RecordFailed(entityID) })
	if err != nil {
		return op, err
	}
	if perr := s.persist.AppendFailure(ctx, id, len(op.FailedEntityIDs)-1, entityID); perr != nil {
		logPersistFailure(id, "append_failure", perr)
	}
	s.writeThrough(ctx, op)
	return op, nil
}

// Finish computes and records the terminal status.
func (s *OperationStore) Finish(ctx context.Context, id string, now time.Time) (deleteop.Operation, error) {
	return s.apply(ctx, id, func(op *deleteop.Operation) error { return op.Finish(now) })
}

// FailResolution marks the operation failed before any entity was processed.
func (s *OperationStore) FailResolution(ctx context.Context, id, reason string, now time.Time) (deleteop.Operation, error) {
	return s.apply(ctx, id, func(op *deleteop.Operation) error { return op.Fail(reason, now) })
}

// apply mutates the live snapshot and writes the result through.
func (s *OperationStore) apply(ctx context.Context, id string, mutate func(*deleteop.Operation) error) (deleteop.Operation, error) {
	op, err := s.swap(id, mutate)
	if err != nil {
		return op, err
	}
	s.writeThrough(ctx, op)
	return op, nil
}

// swap runs mutate on a copy of the current snapshot and publishes it with compare-and-swap,
// retrying if another writer got there first.
func (s *OperationStore) swap(id string, mutate func(*deleteop.Operation) error) (deleteop.Operation, error) {
	v, ok := s.live.Load(id)
	if !ok {
		return deleteop.Operation{}, fmt.Errorf("operation %s is not active: %w", id, deleteop.ErrOperationNotFound)
	}
	ptr := v.(*atomic.Pointer[deleteop.Operation])
	for {
		cur := ptr.Load()
		next := cur.Clone()
		if err := mutate(&next); err != nil {
			return cur.Clone(), err
		}
		if ptr.CompareAndSwap(cur, &next) {
			return next.Clone(), nil
		}
	}
}

// writeThrough persists op. Terminal operations leave the live set once they are durable;
// if the final write fails they stay live so readers still see the outcome.
func (s *OperationStore) writeThrough(ctx context.Context, op deleteop.Operation) {
	err := s.persist.Update(ctx, op)
	if err != nil {
		logPersistFailure(op.ID, "update", err)
		if op.IsTerminal() {
			// one retry for the final state
			err = s.persist.Update(ctx, op)
		}
	}
	if op.IsTerminal() && err == nil {
		s.live.Delete(op.ID)
	}
}

func logPersistFailure(id, step string, err error) {
	slog.Error("deleteop_persist_failed", "operation_id", id, "step", step, "error", err.Error())
}
