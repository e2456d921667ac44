package orchestrators

import (
	"context"
	"log/slog"

	"github.com/juju/clock"

	"lorekeeper/internal/domain/world"
)

// WorldStoreForCreate defines the store interface needed by CreateWorld.
type WorldStoreForCreate interface {
	Save(ctx context.Context, w world.World) error
}

// CreateWorldInput carries input for the create world orchestrator.
type CreateWorldInput struct {
	OwnerID string `validate:"required"`
	Name    string `validate:"required,max=120"`
}

// CreateWorldDeps holds dependencies for CreateWorld.
type CreateWorldDeps struct {
	WorldStore WorldStoreForCreate
	GenerateID func() string
	Clock      clock.Clock
}

// ExecuteCreateWorld creates a world owned by the caller.
// PRE: OwnerID is an existing account
// POST: the world is persisted and returned
func ExecuteCreateWorld(ctx context.Context, input CreateWorldInput, deps CreateWorldDeps) (world.World, error) {
	if err := validateInput(input); err != nil {
		return world.World{}, err
	}
	w := world.World{
		ID:        deps.GenerateID(),
		OwnerID:   input.OwnerID,
		Name:      input.Name,
		CreatedAt: deps.Clock.Now(),
	}
	if err := w.Validate(); err != nil {
		return world.World{}, err
	}
	if err := deps.WorldStore.Save(ctx, w); err != nil {
		return world.World{}, err
	}
	slog.Info("world_event", "event", "world_created", "world_id", w.ID, "owner_id", w.OwnerID)
	return w, nil
}
