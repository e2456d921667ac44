package world

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"lorekeeper/internal/adapters/storage"
	domain "lorekeeper/internal/domain/world"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new world store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetByID retrieves a World by its ID.
// PRE: id is non-empty
// POST: Returns the world or domain.ErrNotFound
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.World, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, owner_id, name, created_at FROM world WHERE id = ?", id)
	w, err := scanWorld(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.World{}, fmt.Errorf("world %s: %w", id, domain.ErrNotFound)
	}
	return w, err
}

// Save persists a World (insert or update).
// PRE: world has been validated
// POST: World is persisted
func (s *SQLiteStore) Save(ctx context.Context, w domain.World) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO world (id, owner_id, name, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name`,
		w.ID, w.OwnerID, w.Name, storage.FormatTime(w.CreatedAt))
	return err
}

// ListByOwner returns the worlds owned by ownerID, newest first.
// PRE: ownerID is non-empty
// POST: Returns matching worlds
func (s *SQLiteStore) ListByOwner(ctx context.Context, ownerID string) ([]domain.World, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, owner_id, name, created_at FROM world WHERE owner_id = ? ORDER BY created_at DESC", ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.World
	for rows.Next() {
		w, err := scanWorld(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, w)
	}
	return results, rows.Err()
}

func scanWorld(scan func(dest ...any) error) (domain.World, error) {
	var w domain.World
	var createdAt string
	if err := scan(&w.ID, &w.OwnerID, &w.Name, &createdAt); err != nil {
		return domain.World{}, err
	}
	w.CreatedAt, _ = storage.ParseTime(createdAt)
	return w, nil
}
