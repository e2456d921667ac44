package world

import (
	"context"

	domain "lorekeeper/internal/domain/world"
)

// Store persists World state.
type Store interface {
	GetByID(ctx context.Context, id string) (domain.World, error)
	Save(ctx context.Context, w domain.World) error
	ListByOwner(ctx context.Context, ownerID string) ([]domain.World, error)
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)
