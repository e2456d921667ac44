package deleteop

import (
	"errors"
	"fmt"
	"time"
)

// Status values for the delete operation lifecycle.
// pending -> running -> {completed | partial | failed}; pending -> failed is also allowed.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// Domain errors.
var (
	ErrEmptyOperationID  = errors.New("operation id is required")
	ErrEmptyWorldID      = errors.New("world id is required")
	ErrEmptyRootEntityID = errors.New("root entity id is required")
	ErrInvalidStatus     = errors.New("invalid status transition")
	ErrTerminal          = errors.New("delete operation is already terminal")
	ErrTotalAlreadySet   = errors.New("total entities already set")
	ErrCountExceedsTotal = errors.New("processed count would exceed total entities")
	ErrOperationNotFound = errors.New("delete operation not found")
	ErrEntityNotFound    = errors.New("entity not found")
	ErrCapacityExceeded  = errors.New("too many delete operations in progress")
)

// Operation is the tracked record of one delete request from acceptance to a terminal status.
type Operation struct {
	ID              string
	WorldID         string
	RootEntityID    string
	RootEntityName  string
	Cascade         bool
	Status          string
	TotalEntities   int
	DeletedCount    int
	FailedCount     int
	FailedEntityIDs []string
	Error           string // resolution or scheduling failure reason
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// New creates a pending operation.
// PRE: id, worldID, rootEntityID are non-empty
// POST: Status is pending, counters are zero
func New(id, worldID, rootEntityID, rootEntityName string, cascade bool, now time.Time) Operation {
	return Operation{
		ID:             id,
		WorldID:        worldID,
		RootEntityID:   rootEntityID,
		RootEntityName: rootEntityName,
		Cascade:        cascade,
		Status:         StatusPending,
		CreatedAt:      now,
	}
}

// Validate checks that the Operation has valid data.
// PRE: Operation fields may be empty
// POST: Returns nil if valid, error otherwise
// INVARIANT: DeletedCount + FailedCount <= TotalEntities once TotalEntities is set
func (o *Operation) Validate() error {
	if o.ID == "" {
		return ErrEmptyOperationID
	}
	if o.WorldID == "" {
		return ErrEmptyWorldID
	}
	if o.RootEntityID == "" {
		return ErrEmptyRootEntityID
	}
	if !isValidStatus(o.Status) {
		return fmt.Errorf("unknown status %q", o.Status)
	}
	if o.CreatedAt.IsZero() {
		return errors.New("created_at must be set")
	}
	if o.DeletedCount < 0 || o.FailedCount < 0 {
		return errors.New("counts must be non-negative")
	}
	if o.TotalEntities > 0 && o.DeletedCount+o.FailedCount > o.TotalEntities {
		return ErrCountExceedsTotal
	}
	return nil
}

// IsTerminal returns true once the operation has reached completed, partial or failed.
func (o *Operation) IsTerminal() bool {
	return IsTerminalStatus(o.Status)
}

// IsTerminalStatus reports whether status is a final state.
func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusPartial || status == StatusFailed
}

// Start moves a pending operation to running.
// PRE: Status is pending
// POST: Status is running, StartedAt set
func (o *Operation) Start(now time.Time) error {
	if o.Status != StatusPending {
		return ErrInvalidStatus
	}
	o.Status = StatusRunning
	o.StartedAt = &now
	return nil
}

// SetTotal fixes the number of entities the cascade resolved to.
// PRE: Status is running, TotalEntities not yet set
// POST: TotalEntities = total
func (o *Operation) SetTotal(total int) error {
	if o.Status != StatusRunning {
		return ErrInvalidStatus
	}
	if o.TotalEntities != 0 {
		return ErrTotalAlreadySet
	}
	if total < 0 {
		return errors.New("total must be non-negative")
	}
	o.TotalEntities = total
	return nil
}

// RecordDeleted counts one successfully soft-deleted entity.
// PRE: Status is running, processed < TotalEntities
// POST: DeletedCount incremented
func (o *Operation) RecordDeleted() error {
	if err := o.checkProgress(); err != nil {
		return err
	}
	o.DeletedCount++
	return nil
}

// RecordFailed counts one entity whose soft delete failed and remembers its id.
// PRE: Status is running, processed < TotalEntities
// POST: FailedCount incremented, entityID appended to FailedEntityIDs if not already present
func (o *Operation) RecordFailed(entityID string) error {
	if err := o.checkProgress(); err != nil {
		return err
	}
	o.FailedCount++
	for _, id := range o.FailedEntityIDs {
		if id == entityID {
			return nil
		}
	}
	o.FailedEntityIDs = append(o.FailedEntityIDs, entityID)
	return nil
}

func (o *Operation) checkProgress() error {
	if o.Status != StatusRunning {
		return ErrInvalidStatus
	}
	if o.DeletedCount+o.FailedCount >= o.TotalEntities {
		return ErrCountExceedsTotal
	}
	return nil
}

// Finish sets the terminal status computed from the counters.
// PRE: Status is running
// POST: Status is completed, partial or failed; CompletedAt set
func (o *Operation) Finish(now time.Time) error {
	if o.Status != StatusRunning {
		if o.IsTerminal() {
			return ErrTerminal
		}
		return ErrInvalidStatus
	}
	o.Status = TerminalStatus(o.DeletedCount, o.FailedCount, o.TotalEntities)
	o.CompletedAt = &now
	return nil
}

// Fail moves a non-terminal operation straight to failed with TotalEntities left at 0.
// Used when the cascade cannot be resolved or the work cannot be scheduled.
// PRE: Status is pending or running, TotalEntities not yet set
// POST: Status is failed, Error set, CompletedAt set
func (o *Operation) Fail(reason string, now time.Time) error {
	if o.IsTerminal() {
		return ErrTerminal
	}
	if o.TotalEntities != 0 {
		return ErrTotalAlreadySet
	}
	o.Status = StatusFailed
	o.Error = reason
	o.CompletedAt = &now
	return nil
}

// TerminalStatus computes the final status from the processed counters.
// failed == 0 -> completed; failed > 0 and deleted > 0 -> partial; otherwise failed.
// Entities never processed (an aborted run) count as failed.
func TerminalStatus(deleted, failed, total int) string {
	if unprocessed := total - deleted - failed; unprocessed > 0 {
		failed += unprocessed
	}
	switch {
	case failed == 0:
		return StatusCompleted
	case deleted > 0:
		return StatusPartial
	default:
		return StatusFailed
	}
}

// Progress returns the share of processed entities as a percentage (0 while total is unknown).
func (o *Operation) Progress() float64 {
	if o.TotalEntities == 0 {
		if o.Status == StatusCompleted {
			return 100
		}
		return 0
	}
	return float64(o.DeletedCount+o.FailedCount) * 100 / float64(o.TotalEntities)
}

// Clone returns a deep copy safe to mutate independently.
func (o Operation) Clone() Operation {
	c := o
	if o.FailedEntityIDs != nil {
		c.FailedEntityIDs = append([]string(nil), o.FailedEntityIDs...)
	}
	if o.StartedAt != nil {
		t := *o.StartedAt
		c.StartedAt = &t
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

func isValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusPartial, StatusFailed:
		return true
	}
	return false
}
