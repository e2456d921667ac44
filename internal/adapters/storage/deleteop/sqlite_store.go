package deleteop

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lorekeeper/internal/adapters/storage"
	domain "lorekeeper/internal/domain/deleteop"
)

const selectColumns = `SELECT id, world_id, root_entity_id, root_entity_name, is_cascade, status,
	total_entities, deleted_count, failed_count, error, created_at, started_at, completed_at
	FROM delete_operation`

// SQLiteStore implements the deleteop Store interface using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new delete operation store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Insert creates the record for a newly accepted operation.
// PRE: op has been validated
// POST: op is persisted with its failure list
func (s *SQLiteStore) Insert(ctx context.Context, op domain.Operation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO delete_operation (id, world_id, root_entity_id, root_entity_name, is_cascade, status,
		   total_entities, deleted_count, failed_count, error, created_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.WorldID, op.RootEntityID, op.RootEntityName, boolToInt(op.Cascade), op.Status,
		op.TotalEntities, op.DeletedCount, op.FailedCount, op.Error,
		storage.FormatTime(op.CreatedAt), storage.FormatTimePtr(op.StartedAt), storage.FormatTimePtr(op.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert delete operation %s: %w", op.ID, err)
	}
	if err := insertFailures(ctx, tx, op); err != nil {
		return err
	}
	return tx.Commit()
}

// Update writes the mutable fields of op. Failures are recorded through AppendFailure.
// PRE: op was inserted
// POST: the stored counters, status and timestamps match op
func (s *SQLiteStore) Update(ctx context.Context, op domain.Operation) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE delete_operation SET status = ?, total_entities = ?, deleted_count = ?, failed_count = ?,
		   error = ?, started_at = ?, completed_at = ?
		 WHERE id = ?`,
		op.Status, op.TotalEntities, op.DeletedCount, op.FailedCount, op.Error,
		storage.FormatTimePtr(op.StartedAt), storage.FormatTimePtr(op.CompletedAt), op.ID)
	if err != nil {
		return fmt.Errorf("update delete operation %s: %w", op.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update %s: %w", op.ID, domain.ErrOperationNotFound)
	}
	return nil
}

// AppendFailure records one failed entity at the given position.
// PRE: position is the zero-based index in the operation's failure list
// POST: the failure is stored; re-appending the same entity is a no-op
func (s *SQLiteStore) AppendFailure(ctx context.Context, operationID string, position int, entityID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO delete_operation_failure (operation_id, position, entity_id) VALUES (?, ?, ?)`,
		operationID, position, entityID)
	return err
}

// GetByID retrieves an operation with its failure list.
// PRE: id is non-empty
// POST: Returns the operation or domain.ErrOperationNotFound
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.Operation, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	op, err := scanOperation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Operation{}, fmt.Errorf("operation %s: %w", id, domain.ErrOperationNotFound)
	}
	if err != nil {
		return domain.Operation{}, err
	}
	op.FailedEntityIDs, err = s.loadFailures(ctx, op.ID)
	if err != nil {
		return domain.Operation{}, err
	}
	return op, nil
}

// ListRecentByWorld returns the newest operations for a world.
// PRE: limit > 0
// POST: Returns up to limit operations ordered by created_at desc
func (s *SQLiteStore) ListRecentByWorld(ctx context.Context, worldID string, limit int) ([]domain.Operation, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE world_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, worldID, limit)
	if err != nil {
		return nil, err
	}
	var results []domain.Operation
	for rows.Next() {
		op, err := scanOperation(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, err
		}
		results = append(results, op)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// release the connection before the per-operation failure lookups
	rows.Close()

	for i := range results {
		if results[i].FailedCount == 0 {
			continue
		}
		ids, err := s.loadFailures(ctx, results[i].ID)
		if err != nil {
			return nil, err
		}
		results[i].FailedEntityIDs = ids
	}
	return results, nil
}

// MarkInterrupted finalizes every pending or running operation left by a previous process.
// Entities the worker never reached count as failed, so an operation that already deleted
// some entities ends partial and one that deleted none ends failed.
// PRE: no worker is running
// POST: Returns the number of operations finalized
func (s *SQLiteStore) MarkInterrupted(ctx context.Context, reason string, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE delete_operation SET
		   status = CASE
		     WHEN total_entities > 0 AND failed_count = 0 AND deleted_count >= total_entities THEN ?
		     WHEN deleted_count > 0 THEN ?
		     ELSE ? END,
		   failed_count = MAX(failed_count, total_entities - deleted_count),
		   error = ?, completed_at = ?
		 WHERE status IN (?, ?)`,
		domain.StatusCompleted, domain.StatusPartial, domain.StatusFailed,
		reason, storage.FormatTime(now), domain.StatusPending, domain.StatusRunning)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) loadFailures(ctx context.Context, operationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id FROM delete_operation_failure WHERE operation_id = ? ORDER BY position ASC`, operationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func insertFailures(ctx context.Context, tx *sql.Tx, op domain.Operation) error {
	for i, id := range op.FailedEntityIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO delete_operation_failure (operation_id, position, entity_id) VALUES (?, ?, ?)`,
			op.ID, i, id); err != nil {
			return fmt.Errorf("record failure %s for operation %s: %w", id, op.ID, err)
		}
	}
	return nil
}

// scanOperation extracts an Operation from a row scanner function.
func scanOperation(scan func(dest ...any) error) (domain.Operation, error) {
	var op domain.Operation
	var cascade int
	var createdAt string
	var startedAt, completedAt sql.NullString
	if err := scan(&op.ID, &op.WorldID, &op.RootEntityID, &op.RootEntityName, &cascade, &op.Status,
		&op.TotalEntities, &op.DeletedCount, &op.FailedCount, &op.Error,
		&createdAt, &startedAt, &completedAt); err != nil {
		return domain.Operation{}, err
	}
	op.Cascade = cascade != 0
	op.CreatedAt, _ = storage.ParseTime(createdAt)
	op.StartedAt = storage.ParseTimePtr(startedAt)
	op.CompletedAt = storage.ParseTimePtr(completedAt)
	return op, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
