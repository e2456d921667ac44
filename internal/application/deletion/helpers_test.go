package deletion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"lorekeeper/internal/domain/deleteop"
	"lorekeeper/internal/domain/entity"
)

var t0 = time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

// memEntities is an in-memory entity tree for one or more worlds.
type memEntities struct {
	mu      sync.Mutex
	order   []string
	nodes   map[string]*entity.Entity
	failOn  map[string]error
	listErr error
	// onDelete runs after each MarkDeleted call, outside the lock.
	onDelete func(id string)
}

func newMemEntities() *memEntities {
	return &memEntities{nodes: map[string]*entity.Entity{}, failOn: map[string]error{}}
}

func (m *memEntities) add(worldID, id, parentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[id] = &entity.Entity{WorldID: worldID, ID: id, ParentID: parentID, Name: "Node " + id, CreatedAt: t0}
	m.order = append(m.order, id)
}

func (m *memEntities) softDelete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[id].Deleted = true
}

func (m *memEntities) isDeleted(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nodes[id].Deleted
}

func (m *memEntities) GetByID(_ context.Context, worldID, id string) (entity.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok || n.WorldID != worldID || n.Deleted {
		return entity.Entity{}, fmt.Errorf("entity %s: %w", id, entity.ErrNotFound)
	}
	return *n, nil
}

func (m *memEntities) ListChildren(_ context.Context, worldID, parentID string) ([]entity.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []entity.Entity
	for _, id := range m.order {
		n := m.nodes[id]
		if n.WorldID == worldID && n.ParentID == parentID && !n.Deleted {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (m *memEntities) MarkDeleted(_ context.Context, worldID, id string, now time.Time) error {
	err := func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if err, ok := m.failOn[id]; ok {
			return err
		}
		n, ok := m.nodes[id]
		if !ok || n.WorldID != worldID || n.Deleted {
			return fmt.Errorf("entity %s: %w", id, entity.ErrNotFound)
		}
		n.Deleted = true
		n.DeletedAt = &now
		return nil
	}()
	if m.onDelete != nil {
		m.onDelete(id)
	}
	return err
}

// memPersistence is an in-memory Persistence with optional write failures.
type memPersistence struct {
	mu        sync.Mutex
	ops       map[string]deleteop.Operation
	failWrite bool
	updates   int
}

func newMemPersistence() *memPersistence {
	return &memPersistence{ops: map[string]deleteop.Operation{}}
}

var errWriteFailed = errors.New("disk on fire")

func (p *memPersistence) Insert(_ context.Context, op deleteop.Operation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWrite {
		return errWriteFailed
	}
	p.ops[op.ID] = op.Clone()
	return nil
}

func (p *memPersistence) Update(_ context.Context, op deleteop.Operation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates++
	if p.failWrite {
		return errWriteFailed
	}
	if _, ok := p.ops[op.ID]; !ok {
		return deleteop.ErrOperationNotFound
	}
	p.ops[op.ID] = op.Clone()
	return nil
}

func (p *memPersistence) AppendFailure(context.Context, string, int, string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWrite {
		return errWriteFailed
	}
	return nil
}

func (p *memPersistence) GetByID(_ context.Context, id string) (deleteop.Operation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	op, ok := p.ops[id]
	if !ok {
		return deleteop.Operation{}, fmt.Errorf("operation %s: %w", id, deleteop.ErrOperationNotFound)
	}
	return op.Clone(), nil
}

func (p *memPersistence) ListRecentByWorld(_ context.Context, worldID string, limit int) ([]deleteop.Operation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []deleteop.Operation
	for _, op := range p.ops {
		if op.WorldID == worldID {
			out = append(out, op.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (p *memPersistence) setFailWrite(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWrite = v
}

// recordingNotifier keeps every notified operation.
type recordingNotifier struct {
	mu  sync.Mutex
	ops []deleteop.Operation
}

func (n *recordingNotifier) Notify(_ context.Context, op deleteop.Operation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ops = append(n.ops, op)
}

func (n *recordingNotifier) notified() []deleteop.Operation {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]deleteop.Operation(nil), n.ops...)
}

// fixture wires a Worker over in-memory collaborators.
type fixture struct {
	entities *memEntities
	persist  *memPersistence
	ops      *OperationStore
	gate     *Gate
	clock    *testclock.Clock
	notifier *recordingNotifier
	worker   *Worker
}

func newFixture(t *testing.T, delay time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		entities: newMemEntities(),
		persist:  newMemPersistence(),
		gate:     NewGate(5),
		clock:    testclock.NewClock(t0),
		notifier: &recordingNotifier{},
	}
	f.ops = NewOperationStore(f.persist, 0)
	w, err := NewWorker(WorkerConfig{
		Entities:    f.entities,
		Resolver:    NewResolver(f.entities, 0),
		Operations:  f.ops,
		Gate:        f.gate,
		Clock:       f.clock,
		Notifier:    f.notifier,
		EntityDelay: delay,
	})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	f.worker = w
	return f
}

// accept creates a pending operation and takes a gate slot, as the orchestrator does.
func (f *fixture) accept(t *testing.T, opID, worldID, rootID string, cascade bool) Job {
	t.Helper()
	if !f.gate.TryAcquire(globalScopeKey) {
		t.Fatalf("gate full accepting %s", opID)
	}
	if err := f.ops.Create(context.Background(), deleteop.New(opID, worldID, rootID, "Node "+rootID, cascade, t0)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return Job{OperationID: opID, WorldID: worldID, EntityID: rootID, Cascade: cascade, Scope: globalScopeKey}
}
