package projections

import (
	"context"
	"time"

	"lorekeeper/internal/domain/deleteop"
)

// DeleteOperationReader reads operation snapshots. *deletion.OperationStore implements it.
type DeleteOperationReader interface {
	Get(ctx context.Context, id string) (deleteop.Operation, error)
	ListRecent(ctx context.Context, worldID string, limit int) ([]deleteop.Operation, error)
}

// DeleteOperationView is the client-facing snapshot of one delete operation.
type DeleteOperationView struct {
	ID              string     `json:"id"`
	WorldID         string     `json:"world_id"`
	RootEntityID    string     `json:"root_entity_id"`
	RootEntityName  string     `json:"root_entity_name"`
	Cascade         bool       `json:"cascade"`
	Status          string     `json:"status"`
	TotalEntities   int        `json:"total_entities"`
	DeletedCount    int        `json:"deleted_count"`
	FailedCount     int        `json:"failed_count"`
	FailedEntityIDs []string   `json:"failed_entity_ids"`
	Error           string     `json:"error,omitempty"`
	Progress        float64    `json:"progress"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
}

// NewDeleteOperationView converts a snapshot for the HTTP layer.
func NewDeleteOperationView(op deleteop.Operation) DeleteOperationView {
	failed := op.FailedEntityIDs
	if failed == nil {
		failed = []string{}
	}
	return DeleteOperationView{
		ID:              op.ID,
		WorldID:         op.WorldID,
		RootEntityID:    op.RootEntityID,
		RootEntityName:  op.RootEntityName,
		Cascade:         op.Cascade,
		Status:          op.Status,
		TotalEntities:   op.TotalEntities,
		DeletedCount:    op.DeletedCount,
		FailedCount:     op.FailedCount,
		FailedEntityIDs: failed,
		Error:           op.Error,
		Progress:        op.Progress(),
		CreatedAt:       op.CreatedAt,
		StartedAt:       op.StartedAt,
		CompletedAt:     op.CompletedAt,
	}
}

// GetDeleteOperationQuery carries query parameters.
type GetDeleteOperationQuery struct {
	OperationID string
}

// GetDeleteOperationDeps holds dependencies for GetDeleteOperation.
type GetDeleteOperationDeps struct {
	Operations DeleteOperationReader
}

// QueryGetDeleteOperation returns the current snapshot of one operation.
// PRE: OperationID is non-empty
// POST: Returns the snapshot, or an error matching deleteop.ErrOperationNotFound
func QueryGetDeleteOperation(ctx context.Context, query GetDeleteOperationQuery, deps GetDeleteOperationDeps) (DeleteOperationView, error) {
	op, err := deps.Operations.Get(ctx, query.OperationID)
	if err != nil {
		return DeleteOperationView{}, err
	}
	return NewDeleteOperationView(op), nil
}

// ListDeleteOperationsQuery carries query parameters. Limit <= 0 selects the default page size.
type ListDeleteOperationsQuery struct {
	WorldID string
	Limit   int
}

// ListDeleteOperationsResult carries the query result.
type ListDeleteOperationsResult struct {
	Operations []DeleteOperationView `json:"operations"`
	Count      int                   `json:"count"`
}

// QueryListDeleteOperations returns the most recent operations for a world, newest first.
// PRE: WorldID is non-empty
// POST: at most the clamped limit of operations, ordered by CreatedAt descending
func QueryListDeleteOperations(ctx context.Context, query ListDeleteOperationsQuery, deps GetDeleteOperationDeps) (ListDeleteOperationsResult, error) {
	ops, err := deps.Operations.ListRecent(ctx, query.WorldID, query.Limit)
	if err != nil {
		return ListDeleteOperationsResult{}, err
	}
	views := make([]DeleteOperationView, 0, len(ops))
	for _, op := range ops {
		views = append(views, NewDeleteOperationView(op))
	}
	return ListDeleteOperationsResult{Operations: views, Count: len(views)}, nil
}
