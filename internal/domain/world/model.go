package world

import (
	"errors"
	"strings"
	"time"
)

// MaxNameLength bounds the world name.
const MaxNameLength = 120

// Domain errors
var (
	ErrEmptyID      = errors.New("world id is required")
	ErrEmptyOwnerID = errors.New("world owner is required")
	ErrEmptyName    = errors.New("world name cannot be empty")
	ErrNotFound     = errors.New("world not found")
	ErrNotOwner     = errors.New("caller does not own this world")
)

// World is the top-level container that owns a hierarchy of entities.
type World struct {
	ID        string
	OwnerID   string
	Name      string
	CreatedAt time.Time
}

// Validate checks if the World has valid data.
// PRE: World struct is initialized
// POST: Returns error if validation fails, nil otherwise
func (w *World) Validate() error {
	if w.ID == "" {
		return ErrEmptyID
	}
	if w.OwnerID == "" {
		return ErrEmptyOwnerID
	}
	if strings.TrimSpace(w.Name) == "" {
		return ErrEmptyName
	}
	if len(w.Name) > MaxNameLength {
		return errors.New("world name cannot exceed 120 characters")
	}
	return nil
}

// IsOwner returns true if accountID owns the world.
// INVARIANT: World fields are not mutated
func (w *World) IsOwner(accountID string) bool {
	return accountID != "" && w.OwnerID == accountID
}
