package entity

import (
	"context"
	"time"

	domain "lorekeeper/internal/domain/entity"
)

// Store persists world entities.
type Store interface {
	// GetByID retrieves a live entity.
	// PRE: worldID and id are non-empty
	// POST: Returns the entity, or domain.ErrNotFound if it is missing or soft-deleted
	GetByID(ctx context.Context, worldID, id string) (domain.Entity, error)

	// ListChildren returns the live direct children of parentID ("" lists roots).
	// PRE: worldID is non-empty
	// POST: Returns children ordered by created_at, id; deleted children are never included
	ListChildren(ctx context.Context, worldID, parentID string) ([]domain.Entity, error)

	// MarkDeleted soft-deletes one live entity.
	// PRE: worldID and id are non-empty
	// POST: the row is marked deleted, or domain.ErrNotFound if it was missing or already deleted
	MarkDeleted(ctx context.Context, worldID, id string, now time.Time) error

	// Save persists an entity (insert or update).
	// PRE: entity has been validated
	// POST: Entity is persisted
	Save(ctx context.Context, e domain.Entity) error

	// Update writes the editable fields of a live entity.
	// PRE: entity has been validated
	// POST: the row is updated, or domain.ErrNotFound if it is missing or soft-deleted
	Update(ctx context.Context, e domain.Entity) error
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)
