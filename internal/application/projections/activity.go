package projections

import (
	"context"
	"fmt"

	"lorekeeper/internal/domain/audit"
)

// Activity page sizes.
const (
	DefaultActivityLimit = 50
	MaxActivityLimit     = 200
)

// AuditReader reads the audit trail.
type AuditReader interface {
	ListByActor(ctx context.Context, actorID string, limit int) ([]audit.Event, error)
	ListByWorld(ctx context.Context, worldID string, limit int) ([]audit.Event, error)
}

// ActivityQuery selects events for one account or one world. Exactly one id is set.
type ActivityQuery struct {
	AccountID string
	WorldID   string
	Limit     int
}

// ActivityDeps holds dependencies for QueryActivity.
type ActivityDeps struct {
	AuditStore AuditReader
}

// ActivityResult is the JSON body of the activity endpoints.
type ActivityResult struct {
	Events []audit.Event `json:"events"`
	Count  int           `json:"count"`
}

// QueryActivity returns the newest audit events for an account or a world.
// PRE: exactly one of AccountID and WorldID is non-empty
// POST: Limit <= 0 selects DefaultActivityLimit; larger limits are clamped to MaxActivityLimit
func QueryActivity(ctx context.Context, query ActivityQuery, deps ActivityDeps) (ActivityResult, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	if limit > MaxActivityLimit {
		limit = MaxActivityLimit
	}

	var events []audit.Event
	var err error
	switch {
	case query.AccountID != "" && query.WorldID == "":
		events, err = deps.AuditStore.ListByActor(ctx, query.AccountID, limit)
	case query.WorldID != "" && query.AccountID == "":
		events, err = deps.AuditStore.ListByWorld(ctx, query.WorldID, limit)
	default:
		return ActivityResult{}, fmt.Errorf("activity query needs exactly one of account or world")
	}
	if err != nil {
		return ActivityResult{}, fmt.Errorf("list activity: %w", err)
	}
	if events == nil {
		events = []audit.Event{}
	}
	return ActivityResult{Events: events, Count: len(events)}, nil
}
