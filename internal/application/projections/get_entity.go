package projections

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/yuin/goldmark"

	"lorekeeper/internal/domain/entity"
)

// EntityReader reads live entities.
type EntityReader interface {
	GetByID(ctx context.Context, worldID, id string) (entity.Entity, error)
	ListChildren(ctx context.Context, worldID, parentID string) ([]entity.Entity, error)
}

// EntitySummary is a compact entity row used in child listings.
type EntitySummary struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
}

// EntityView is a live entity with its description rendered to HTML.
type EntityView struct {
	WorldID         string          `json:"world_id"`
	ID              string          `json:"id"`
	ParentID        string          `json:"parent_id,omitempty"`
	Name            string          `json:"name"`
	Type            string          `json:"type,omitempty"`
	Description     string          `json:"description"`
	DescriptionHTML string          `json:"description_html"`
	Children        []EntitySummary `json:"children"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// GetEntityQuery carries query parameters.
type GetEntityQuery struct {
	WorldID  string
	EntityID string
}

// GetEntityDeps holds dependencies for GetEntity.
type GetEntityDeps struct {
	EntityStore EntityReader
}

// markdown has raw HTML rendering disabled (goldmark's default), so author text cannot inject markup.
var markdown = goldmark.New()

// QueryGetEntity returns a live entity and its live children.
// PRE: WorldID and EntityID are non-empty
// POST: Returns the view, or an error matching entity.ErrNotFound for missing or deleted entities
func QueryGetEntity(ctx context.Context, query GetEntityQuery, deps GetEntityDeps) (EntityView, error) {
	e, err := deps.EntityStore.GetByID(ctx, query.WorldID, query.EntityID)
	if err != nil {
		return EntityView{}, err
	}
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(e.Description), &buf); err != nil {
		return EntityView{}, fmt.Errorf("render description for %s: %w", e.ID, err)
	}
	children, err := QueryListChildren(ctx, query, deps)
	if err != nil {
		return EntityView{}, err
	}
	return EntityView{
		WorldID:         e.WorldID,
		ID:              e.ID,
		ParentID:        e.ParentID,
		Name:            e.Name,
		Type:            e.Type,
		Description:     e.Description,
		DescriptionHTML: buf.String(),
		Children:        children,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}, nil
}

// QueryListChildren returns the live direct children of an entity.
// PRE: WorldID is non-empty
// POST: soft-deleted children are omitted; an empty slice is never nil
func QueryListChildren(ctx context.Context, query GetEntityQuery, deps GetEntityDeps) ([]EntitySummary, error) {
	children, err := deps.EntityStore.ListChildren(ctx, query.WorldID, query.EntityID)
	if err != nil {
		return nil, err
	}
	out := make([]EntitySummary, 0, len(children))
	for _, c := range children {
		out = append(out, EntitySummary{ID: c.ID, ParentID: c.ParentID, Name: c.Name, Type: c.Type})
	}
	return out, nil
}
