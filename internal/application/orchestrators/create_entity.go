package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/juju/clock"

	"lorekeeper/internal/domain/entity"
)

// EntityStoreForWrite defines the store interface needed by CreateEntity and UpdateEntity.
type EntityStoreForWrite interface {
	GetByID(ctx context.Context, worldID, id string) (entity.Entity, error)
	Save(ctx context.Context, e entity.Entity) error
	Update(ctx context.Context, e entity.Entity) error
}

// CreateEntityInput carries input for the create entity orchestrator.
type CreateEntityInput struct {
	WorldID     string `validate:"required"`
	ParentID    string
	Name        string `validate:"required,max=200"`
	Type        string `validate:"max=50"`
	Description string `validate:"max=20000"`
}

// EntityDeps holds dependencies for CreateEntity and UpdateEntity.
type EntityDeps struct {
	EntityStore EntityStoreForWrite
	GenerateID  func() string
	Clock       clock.Clock
}

// ExecuteCreateEntity adds an entity under ParentID, or as a root when ParentID is empty.
// PRE: the caller is authorized for WorldID
// POST: the entity is persisted; a missing or deleted parent is rejected with entity.ErrParentNotFound
func ExecuteCreateEntity(ctx context.Context, input CreateEntityInput, deps EntityDeps) (entity.Entity, error) {
	if err := validateInput(input); err != nil {
		return entity.Entity{}, err
	}
	if input.ParentID != "" {
		if _, err := deps.EntityStore.GetByID(ctx, input.WorldID, input.ParentID); err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				return entity.Entity{}, fmt.Errorf("parent %s: %w", input.ParentID, entity.ErrParentNotFound)
			}
			return entity.Entity{}, err
		}
	}

	now := deps.Clock.Now()
	e := entity.Entity{
		WorldID:     input.WorldID,
		ID:          deps.GenerateID(),
		ParentID:    input.ParentID,
		Name:        input.Name,
		Type:        input.Type,
		Description: input.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Validate(); err != nil {
		return entity.Entity{}, err
	}
	if err := deps.EntityStore.Save(ctx, e); err != nil {
		return entity.Entity{}, err
	}
	slog.Info("entity_event", "event", "entity_created", "world_id", e.WorldID, "entity_id", e.ID, "parent_id", e.ParentID)
	return e, nil
}

// UpdateEntityInput carries input for the update entity orchestrator. Nil fields are left unchanged.
type UpdateEntityInput struct {
	WorldID     string  `validate:"required"`
	EntityID    string  `validate:"required"`
	Name        *string `validate:"omitnil,min=1,max=200"`
	Type        *string `validate:"omitnil,max=50"`
	Description *string `validate:"omitnil,max=20000"`
}

// ExecuteUpdateEntity edits a live entity's fields. Moving an entity is not supported.
// PRE: the caller is authorized for WorldID
// POST: the updated entity is persisted; deleted entities read as entity.ErrNotFound
func ExecuteUpdateEntity(ctx context.Context, input UpdateEntityInput, deps EntityDeps) (entity.Entity, error) {
	if err := validateInput(input); err != nil {
		return entity.Entity{}, err
	}
	e, err := deps.EntityStore.GetByID(ctx, input.WorldID, input.EntityID)
	if err != nil {
		return entity.Entity{}, err
	}
	if input.Name != nil {
		e.Name = *input.Name
	}
	if input.Type != nil {
		e.Type = *input.Type
	}
	if input.Description != nil {
		e.Description = *input.Description
	}
	e.UpdatedAt = deps.Clock.Now()
	if err := e.Validate(); err != nil {
		return entity.Entity{}, err
	}
	if err := deps.EntityStore.Update(ctx, e); err != nil {
		return entity.Entity{}, err
	}
	slog.Info("entity_event", "event", "entity_updated", "world_id", e.WorldID, "entity_id", e.ID)
	return e, nil
}
