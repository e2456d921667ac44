package deleteop

import (
	"context"
	"time"

	domain "lorekeeper/internal/domain/deleteop"
)

// Store persists delete operation records. Records are never removed.
type Store interface {
	// Insert creates the record for a newly accepted operation.
	// PRE: op has been validated
	// POST: op is persisted with its failure list
	Insert(ctx context.Context, op domain.Operation) error

	// Update writes the mutable fields of op and any failures not yet recorded.
	// PRE: op was inserted
	// POST: the stored record matches op
	Update(ctx context.Context, op domain.Operation) error

	// AppendFailure records one failed entity at the given position.
	// PRE: position is the zero-based index in the operation's failure list
	// POST: the failure is stored; re-appending the same entity is a no-op
	AppendFailure(ctx context.Context, operationID string, position int, entityID string) error

	// GetByID retrieves an operation.
	// PRE: id is non-empty
	// POST: Returns the operation or domain.ErrOperationNotFound
	GetByID(ctx context.Context, id string) (domain.Operation, error)

	// ListRecentByWorld returns the newest operations for a world.
	// PRE: limit > 0
	// POST: Returns up to limit operations ordered by created_at desc
	ListRecentByWorld(ctx context.Context, worldID string, limit int) ([]domain.Operation, error)

	// MarkInterrupted finalizes every pending or running operation left by a previous process,
	// counting unreached entities as failed.
	// PRE: no worker is running
	// POST: Returns the number of operations finalized
	MarkInterrupted(ctx context.Context, reason string, now time.Time) (int, error)
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)
