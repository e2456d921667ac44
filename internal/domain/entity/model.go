package entity

import (
	"errors"
	"strings"
	"time"
)

// Max length constants for user-editable fields.
const (
	MaxNameLength        = 200
	MaxTypeLength        = 50
	MaxDescriptionLength = 20000
)

// Domain errors
var (
	ErrEmptyWorldID     = errors.New("world id is required")
	ErrEmptyID          = errors.New("entity id is required")
	ErrEmptyName        = errors.New("entity name cannot be empty")
	ErrSelfParent       = errors.New("entity cannot be its own parent")
	ErrAlreadyDeleted   = errors.New("entity is already deleted")
	ErrNotFound         = errors.New("entity not found")
	ErrParentNotFound   = errors.New("parent entity not found")
	ErrParentOtherWorld = errors.New("parent entity belongs to another world")
)

// Entity is a node in a world's hierarchy. An empty ParentID marks a root.
type Entity struct {
	WorldID     string
	ID          string
	ParentID    string
	Name        string
	Type        string // free-form kind label, e.g. "location" or "character"
	Description string // markdown
	Deleted     bool
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks if the Entity has valid data.
// PRE: Entity struct is initialized
// POST: Returns error if validation fails, nil otherwise
// INVARIANT: an entity is never its own parent
func (e *Entity) Validate() error {
	if e.WorldID == "" {
		return ErrEmptyWorldID
	}
	if e.ID == "" {
		return ErrEmptyID
	}
	if strings.TrimSpace(e.Name) == "" {
		return ErrEmptyName
	}
	if len(e.Name) > MaxNameLength {
		return errors.New("entity name cannot exceed 200 characters")
	}
	if len(e.Type) > MaxTypeLength {
		return errors.New("entity type cannot exceed 50 characters")
	}
	if len(e.Description) > MaxDescriptionLength {
		return errors.New("entity description cannot exceed 20000 characters")
	}
	if e.ParentID != "" && e.ParentID == e.ID {
		return ErrSelfParent
	}
	return nil
}

// IsRoot returns true if the entity has no parent.
func (e *Entity) IsRoot() bool {
	return e.ParentID == ""
}

// MarkDeleted soft-deletes the entity.
// PRE: entity is live
// POST: Deleted is true, DeletedAt and UpdatedAt set to now
func (e *Entity) MarkDeleted(now time.Time) error {
	if e.Deleted {
		return ErrAlreadyDeleted
	}
	e.Deleted = true
	e.DeletedAt = &now
	e.UpdatedAt = now
	return nil
}
