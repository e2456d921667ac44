package audit

import (
	"context"

	"lorekeeper/internal/adapters/storage"
	domain "lorekeeper/internal/domain/audit"
)

const selectColumns = `SELECT id, timestamp, category, action, severity, actor_id, actor_email, world_id,
	resource_type, resource_id, description, ip_address, user_agent FROM audit_event`

// SQLiteStore implements the audit Store interface using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new audit event store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save persists an audit event.
// PRE: event is valid
// POST: Event is persisted
func (s *SQLiteStore) Save(ctx context.Context, e domain.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_event (id, timestamp, category, action, severity, actor_id, actor_email, world_id,
			resource_type, resource_id, description, ip_address, user_agent)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, storage.FormatTime(e.Timestamp), string(e.Category), string(e.Action), string(e.Severity),
		e.ActorID, e.ActorEmail, e.WorldID, e.ResourceType, e.ResourceID, e.Description, e.IPAddress, e.UserAgent)
	return err
}

// ListByActor returns the newest events for one account.
func (s *SQLiteStore) ListByActor(ctx context.Context, actorID string, limit int) ([]domain.Event, error) {
	return s.list(ctx, selectColumns+" WHERE actor_id = ? ORDER BY timestamp DESC LIMIT ?", actorID, limit)
}

// ListByWorld returns the newest events touching one world.
func (s *SQLiteStore) ListByWorld(ctx context.Context, worldID string, limit int) ([]domain.Event, error) {
	return s.list(ctx, selectColumns+" WHERE world_id = ? ORDER BY timestamp DESC LIMIT ?", worldID, limit)
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Category, &e.Action, &e.Severity, &e.ActorID, &e.ActorEmail, &e.WorldID,
			&e.ResourceType, &e.ResourceID, &e.Description, &e.IPAddress, &e.UserAgent); err != nil {
			return nil, err
		}
		e.Timestamp, _ = storage.ParseTime(ts)
		events = append(events, e)
	}
	return events, rows.Err()
}
