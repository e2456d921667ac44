package deletion

import (
	"context"
	"errors"
	"fmt"

	"lorekeeper/internal/domain/entity"
)

// ErrTooManyEntities is returned when a cascade exceeds the configured entity cap.
var ErrTooManyEntities = errors.New("cascade exceeds the maximum number of entities")

// ChildLister lists the live direct children of an entity.
type ChildLister interface {
	ListChildren(ctx context.Context, worldID, parentID string) ([]entity.Entity, error)
}

// Resolver computes the set of entities a delete operation removes.
type Resolver struct {
	children    ChildLister
	maxEntities int
}

// NewResolver creates a Resolver. maxEntities <= 0 means unlimited.
func NewResolver(children ChildLister, maxEntities int) *Resolver {
	return &Resolver{children: children, maxEntities: maxEntities}
}

// Resolve returns the ids to delete, root first.
// Without cascade the result is just the root. With cascade the live subtree is walked
// breadth-first; deleted descendants are never listed, so their subtrees are skipped too.
// PRE: worldID and rootID are non-empty
// POST: result has no duplicates; any store error aborts resolution
func (r *Resolver) Resolve(ctx context.Context, worldID, rootID string, cascade bool) ([]string, error) {
	ids := []string{rootID}
	if !cascade {
		return ids, nil
	}

	visited := map[string]struct{}{rootID: {}}
	queue := []string{rootID}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		parent := queue[0]
		queue = queue[1:]

		children, err := r.children.ListChildren(ctx, worldID, parent)
		if err != nil {
			return nil, fmt.Errorf("list children of %s: %w", parent, err)
		}
		for _, child := range children {
			// corrupt data may contain a cycle
			if _, seen := visited[child.ID]; seen {
				continue
			}
			visited[child.ID] = struct{}{}
			ids = append(ids, child.ID)
			if r.maxEntities > 0 && len(ids) > r.maxEntities {
				return nil, fmt.Errorf("%w (limit %d)", ErrTooManyEntities, r.maxEntities)
			}
			queue = append(queue, child.ID)
		}
	}
	return ids, nil
}
