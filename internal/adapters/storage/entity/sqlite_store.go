package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lorekeeper/internal/adapters/storage"
	domain "lorekeeper/internal/domain/entity"
)

const selectColumns = `SELECT world_id, id, parent_id, name, type, description, deleted, deleted_at, created_at, updated_at FROM world_entity`

// SQLiteStore implements the entity Store interface using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new entity store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetByID retrieves a live entity.
// PRE: worldID and id are non-empty
// POST: Returns the entity, or domain.ErrNotFound if it is missing or soft-deleted
func (s *SQLiteStore) GetByID(ctx context.Context, worldID, id string) (domain.Entity, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE world_id = ? AND id = ? AND deleted = 0`, worldID, id)
	e, err := scanEntity(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Entity{}, fmt.Errorf("entity %s: %w", id, domain.ErrNotFound)
	}
	return e, err
}

// ListChildren returns the live direct children of parentID.
// PRE: worldID is non-empty
// POST: Returns children ordered by created_at, id
func (s *SQLiteStore) ListChildren(ctx context.Context, worldID, parentID string) ([]domain.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE world_id = ? AND parent_id = ? AND deleted = 0 ORDER BY created_at ASC, id ASC`,
		worldID, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Entity
	for rows.Next() {
		e, err := scanEntity(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// MarkDeleted soft-deletes one live entity. The deleted = 0 guard makes the update the unit of atomicity.
// PRE: worldID and id are non-empty
// POST: the row is marked deleted, or domain.ErrNotFound if it was missing or already deleted
func (s *SQLiteStore) MarkDeleted(ctx context.Context, worldID, id string, now time.Time) error {
	ts := storage.FormatTime(now)
	res, err := s.db.ExecContext(ctx,
		`UPDATE world_entity SET deleted = 1, deleted_at = ?, updated_at = ? WHERE world_id = ? AND id = ? AND deleted = 0`,
		ts, ts, worldID, id)
	if err != nil {
		return fmt.Errorf("mark entity %s deleted: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("entity %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Save persists an entity (insert or update). The soft-delete columns are only written on
// insert; an existing row keeps its deleted flag.
// PRE: entity has been validated
// POST: Entity is persisted
func (s *SQLiteStore) Save(ctx context.Context, e domain.Entity) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO world_entity (world_id, id, parent_id, name, type, description, deleted, deleted_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   parent_id=excluded.parent_id, name=excluded.name, type=excluded.type,
		   description=excluded.description, updated_at=excluded.updated_at`,
		e.WorldID, e.ID, e.ParentID, e.Name, e.Type, e.Description, boolToInt(e.Deleted),
		storage.FormatTimePtr(e.DeletedAt), storage.FormatTime(e.CreatedAt), storage.FormatTime(e.UpdatedAt))
	return err
}

// Update writes the editable fields of a live entity.
// PRE: entity has been validated
// POST: the row is updated, or domain.ErrNotFound if it is missing or was soft-deleted meanwhile
func (s *SQLiteStore) Update(ctx context.Context, e domain.Entity) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE world_entity SET name = ?, type = ?, description = ?, updated_at = ?
		 WHERE world_id = ? AND id = ? AND deleted = 0`,
		e.Name, e.Type, e.Description, storage.FormatTime(e.UpdatedAt), e.WorldID, e.ID)
	if err != nil {
		return fmt.Errorf("update entity %s: %w", e.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("entity %s: %w", e.ID, domain.ErrNotFound)
	}
	return nil
}

// scanEntity extracts an Entity from a row scanner function.
func scanEntity(scan func(dest ...any) error) (domain.Entity, error) {
	var e domain.Entity
	var deleted int
	var deletedAt sql.NullString
	var createdAt, updatedAt string
	if err := scan(&e.WorldID, &e.ID, &e.ParentID, &e.Name, &e.Type, &e.Description,
		&deleted, &deletedAt, &createdAt, &updatedAt); err != nil {
		return domain.Entity{}, err
	}
	e.Deleted = deleted != 0
	e.DeletedAt = storage.ParseTimePtr(deletedAt)
	e.CreatedAt, _ = storage.ParseTime(createdAt)
	e.UpdatedAt, _ = storage.ParseTime(updatedAt)
	return e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
