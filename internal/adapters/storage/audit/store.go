package audit

import (
	"context"

	domain "lorekeeper/internal/domain/audit"
)

// Store defines the interface for audit event persistence.
type Store interface {
	// Save persists an audit event.
	// PRE: event is valid
	// POST: Event is persisted
	Save(ctx context.Context, event domain.Event) error

	// ListByActor returns the newest events for one account.
	// PRE: limit > 0
	// POST: Returns events ordered by timestamp desc
	ListByActor(ctx context.Context, actorID string, limit int) ([]domain.Event, error)

	// ListByWorld returns the newest events touching one world.
	// PRE: limit > 0
	// POST: Returns events ordered by timestamp desc
	ListByWorld(ctx context.Context, worldID string, limit int) ([]domain.Event, error)
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)
