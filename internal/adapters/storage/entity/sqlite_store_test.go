package entity

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"lorekeeper/internal/adapters/storage"
	domain "lorekeeper/internal/domain/entity"

	_ "modernc.org/sqlite"
)

var base = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

// setupTestDB opens a migrated in-memory database with one account and world "w1".
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.MigrateDB(db, ":memory:"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ts := storage.FormatTime(base)
	if _, err := db.Exec(`INSERT INTO account (id, email, created_at) VALUES ('a1', 'owner@lorekeeper.test', ?)`, ts); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	for _, w := range []string{"w1", "w2"} {
		if _, err := db.Exec(`INSERT INTO world (id, owner_id, name, created_at) VALUES (?, 'a1', 'World', ?)`, w, ts); err != nil {
			t.Fatalf("seed world: %v", err)
		}
	}
	return db
}

func mustSave(t *testing.T, s *SQLiteStore, worldID, id, parentID string, offset int) {
	t.Helper()
	at := base.Add(time.Duration(offset) * time.Minute)
	e := domain.Entity{WorldID: worldID, ID: id, ParentID: parentID, Name: "Node " + id, CreatedAt: at, UpdatedAt: at}
	if err := s.Save(context.Background(), e); err != nil {
		t.Fatalf("Save(%s): %v", id, err)
	}
}

// TestSQLiteStore_SaveAndGet verifies a saved entity reads back intact.
func TestSQLiteStore_SaveAndGet(t *testing.T) {
	s := NewSQLiteStore(setupTestDB(t))
	ctx := context.Background()
	e := domain.Entity{
		WorldID: "w1", ID: "e1", Name: "Harbor", Type: "location",
		Description: "# The harbor", CreatedAt: base, UpdatedAt: base,
	}
	if err := s.Save(ctx, e); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.GetByID(ctx, "w1", "e1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Name != "Harbor" || got.Type != "location" || got.Description != "# The harbor" {
		t.Errorf("got %+v", got)
	}
	if !got.CreatedAt.Equal(base) || got.Deleted || got.DeletedAt != nil {
		t.Errorf("unexpected timestamps/flags: %+v", got)
	}
}

// TestSQLiteStore_GetByID_NotFound covers missing ids and world mismatch.
func TestSQLiteStore_GetByID_NotFound(t *testing.T) {
	s := NewSQLiteStore(setupTestDB(t))
	mustSave(t, s, "w1", "e1", "", 0)

	if _, err := s.GetByID(context.Background(), "w1", "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing id err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetByID(context.Background(), "w2", "e1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("other world err = %v, want ErrNotFound", err)
	}
}

// TestSQLiteStore_ListChildren verifies only live direct children are listed in creation order.
func TestSQLiteStore_ListChildren(t *testing.T) {
	s := NewSQLiteStore(setupTestDB(t))
	ctx := context.Background()
	mustSave(t, s, "w1", "root", "", 0)
	mustSave(t, s, "w1", "c2", "root", 2)
	mustSave(t, s, "w1", "c1", "root", 1)
	mustSave(t, s, "w1", "gc", "c1", 3)
	mustSave(t, s, "w1", "c3", "root", 4)
	if err := s.MarkDeleted(ctx, "w1", "c3", base); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}

	children, err := s.ListChildren(ctx, "w1", "root")
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(children) != 2 || children[0].ID != "c1" || children[1].ID != "c2" {
		t.Errorf("children = %+v, want [c1 c2]", children)
	}

	roots, err := s.ListChildren(ctx, "w1", "")
	if err != nil {
		t.Fatalf("ListChildren(roots): %v", err)
	}
	if len(roots) != 1 || roots[0].ID != "root" {
		t.Errorf("roots = %+v, want [root]", roots)
	}
}

// TestSQLiteStore_MarkDeleted verifies soft delete hides the entity and is not repeatable.
func TestSQLiteStore_MarkDeleted(t *testing.T) {
	s := NewSQLiteStore(setupTestDB(t))
	ctx := context.Background()
	mustSave(t, s, "w1", "e1", "", 0)

	if err := s.MarkDeleted(ctx, "w1", "e1", base.Add(time.Hour)); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}
	if _, err := s.GetByID(ctx, "w1", "e1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetByID after delete err = %v, want ErrNotFound", err)
	}
	if err := s.MarkDeleted(ctx, "w1", "e1", base.Add(2*time.Hour)); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second MarkDeleted err = %v, want ErrNotFound", err)
	}
	if err := s.MarkDeleted(ctx, "w1", "ghost", base); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("MarkDeleted(missing) err = %v, want ErrNotFound", err)
	}
}

// TestSQLiteStore_SaveUpdates verifies Save upserts on id.
func TestSQLiteStore_SaveUpdates(t *testing.T) {
	s := NewSQLiteStore(setupTestDB(t))
	ctx := context.Background()
	mustSave(t, s, "w1", "e1", "", 0)

	e, _ := s.GetByID(ctx, "w1", "e1")
	e.Name = "Renamed"
	e.UpdatedAt = base.Add(time.Hour)
	if err := s.Save(ctx, e); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _ := s.GetByID(ctx, "w1", "e1")
	if got.Name != "Renamed" || !got.UpdatedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("got %+v", got)
	}
}

// TestSQLiteStore_UpdateAfterConcurrentDelete verifies an edit based on a stale read cannot
// bring a soft-deleted entity back.
func TestSQLiteStore_UpdateAfterConcurrentDelete(t *testing.T) {
	s := NewSQLiteStore(setupTestDB(t))
	ctx := context.Background()
	mustSave(t, s, "w1", "root", "", 0)
	mustSave(t, s, "w1", "child", "root", 1)

	stale, err := s.GetByID(ctx, "w1", "child")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if err := s.MarkDeleted(ctx, "w1", "child", base.Add(time.Hour)); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}

	stale.Name = "renamed"
	stale.UpdatedAt = base.Add(2 * time.Hour)
	if err := s.Update(ctx, stale); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Update after delete err = %v, want ErrNotFound", err)
	}
	// a full upsert of the stale copy must not clear the flag either
	if err := s.Save(ctx, stale); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := s.GetByID(ctx, "w1", "child"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetByID after stale writes err = %v, want ErrNotFound", err)
	}
	children, err := s.ListChildren(ctx, "w1", "root")
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(children) != 0 {
		t.Errorf("live children of root = %+v, want none", children)
	}
}

// TestSQLiteStore_Update verifies edits to a live entity and NotFound for a missing one.
func TestSQLiteStore_Update(t *testing.T) {
	s := NewSQLiteStore(setupTestDB(t))
	ctx := context.Background()
	mustSave(t, s, "w1", "e1", "", 0)

	e, _ := s.GetByID(ctx, "w1", "e1")
	e.Name, e.Type, e.Description = "Lighthouse", "location", "Tall"
	e.UpdatedAt = base.Add(time.Hour)
	if err := s.Update(ctx, e); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := s.GetByID(ctx, "w1", "e1")
	if got.Name != "Lighthouse" || got.Type != "location" || got.Description != "Tall" || !got.UpdatedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("got %+v", got)
	}

	e.ID = "ghost"
	if err := s.Update(ctx, e); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Update(missing) err = %v, want ErrNotFound", err)
	}
}
