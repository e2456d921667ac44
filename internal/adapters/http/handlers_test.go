package web

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"

	"lorekeeper/internal/adapters/metrics"
	"lorekeeper/internal/adapters/storage"
	accountStore "lorekeeper/internal/adapters/storage/account"
	auditStore "lorekeeper/internal/adapters/storage/audit"
	deleteopStore "lorekeeper/internal/adapters/storage/deleteop"
	entityStore "lorekeeper/internal/adapters/storage/entity"
	worldStore "lorekeeper/internal/adapters/storage/world"
	"lorekeeper/internal/application/deletion"
	accountDomain "lorekeeper/internal/domain/account"
	"lorekeeper/internal/domain/deleteop"

	_ "modernc.org/sqlite"
)

const testPassword = "correct horse battery"

// testApp is the full HTTP stack over an in-memory database with a running delete pool.
type testApp struct {
	handler http.Handler
	db      *sql.DB
	gate    *deletion.Gate
	scope   string
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.MigrateDB(db, ":memory:"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	accounts := accountStore.NewSQLiteStore(db)
	for _, email := range []string{"owner@lorekeeper.test", "other@lorekeeper.test"} {
		a := accountDomain.Account{ID: strings.Split(email, "@")[0], Email: email, CreatedAt: time.Now().UTC()}
		if err := a.SetPassword(testPassword); err != nil {
			t.Fatalf("SetPassword: %v", err)
		}
		if err := accounts.Save(ctx, a); err != nil {
			t.Fatalf("save account: %v", err)
		}
	}

	entities := entityStore.NewSQLiteStore(db)
	recorder := metrics.New(prometheus.NewRegistry())
	gate := deletion.NewGate(2)
	ops := deletion.NewOperationStore(deleteopStore.NewSQLiteStore(db), 0)
	worker, err := deletion.NewWorker(deletion.WorkerConfig{
		Entities:   entities,
		Resolver:   deletion.NewResolver(entities, 0),
		Operations: ops,
		Gate:       gate,
		Clock:      clock.WallClock,
		Metrics:    recorder,
	})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	pool := deletion.NewPool(2, 8, worker.Execute)
	pool.Start(ctx)
	t.Cleanup(func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		pool.Stop(stopCtx)
	})

	scopeFor := deletion.ScopePolicy(deletion.ScopeGlobal)
	handler := NewMux(ctx, Options{
		Stores: Stores{
			AccountStore: accounts,
			WorldStore:   worldStore.NewSQLiteStore(db),
			EntityStore:  entities,
			AuditStore:   auditStore.NewSQLiteStore(db),
		},
		Delete: DeleteService{
			Gate:       gate,
			Operations: ops,
			Queue:      pool,
			ScopeFor:   scopeFor,
			RetryAfter: 3 * time.Second,
		},
		Metrics:            recorder,
		DB:                 db,
		CSRFKey:            bytes.Repeat([]byte("k"), 32),
		RateLimitPerSecond: 10000,
	})
	return &testApp{handler: handler, db: db, gate: gate, scope: scopeFor("")}
}

func (a *testApp) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func (a *testApp) login(t *testing.T, email string) string {
	t.Helper()
	rr := a.do(t, "POST", "/api/login", "", map[string]string{"email": email, "password": testPassword})
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: %d %s", email, rr.Code, rr.Body.String())
	}
	return decodeBody[loginResponse](t, rr).Token
}

func (a *testApp) createWorld(t *testing.T, token string) string {
	t.Helper()
	rr := a.do(t, "POST", "/api/worlds", token, map[string]string{"name": "Aldmere"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create world: %d %s", rr.Code, rr.Body.String())
	}
	return decodeBody[worldResponse](t, rr).ID
}

func (a *testApp) createEntity(t *testing.T, token, worldID, parentID, name string) string {
	t.Helper()
	rr := a.do(t, "POST", "/api/worlds/"+worldID+"/entities", token,
		map[string]string{"parent_id": parentID, "name": name, "description": "Lore of **" + name + "**"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create entity %s: %d %s", name, rr.Code, rr.Body.String())
	}
	return decodeBody[entityResponse](t, rr).ID
}

// waitTerminal polls the status URL until the operation is terminal.
func (a *testApp) waitTerminal(t *testing.T, token, statusURL string) deleteop.Operation {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rr := a.do(t, "GET", statusURL, token, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("poll %s: %d %s", statusURL, rr.Code, rr.Body.String())
		}
		v := decodeBody[struct {
			ID            string `json:"id"`
			Status        string `json:"status"`
			TotalEntities int    `json:"total_entities"`
			DeletedCount  int    `json:"deleted_count"`
			FailedCount   int    `json:"failed_count"`
		}](t, rr)
		if v.TotalEntities > 0 && v.DeletedCount+v.FailedCount > v.TotalEntities {
			t.Fatalf("processed exceeds total: %+v", v)
		}
		if deleteop.IsTerminalStatus(v.Status) {
			return deleteop.Operation{ID: v.ID, Status: v.Status, TotalEntities: v.TotalEntities, DeletedCount: v.DeletedCount, FailedCount: v.FailedCount}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("operation at %s did not finish", statusURL)
	return deleteop.Operation{}
}

func TestLogin(t *testing.T) {
	app := newTestApp(t)

	rr := app.do(t, "POST", "/api/login", "", map[string]string{"email": "owner@lorekeeper.test", "password": "wrong password"})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("bad password status = %d, want 401", rr.Code)
	}

	rr = app.do(t, "POST", "/api/login", "", map[string]string{"email": "owner@lorekeeper.test", "password": testPassword})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Set-Cookie"), "lorekeeper_session=") {
		t.Errorf("missing session cookie: %q", rr.Header().Get("Set-Cookie"))
	}
	token := decodeBody[loginResponse](t, rr).Token
	if rr := app.do(t, "GET", "/api/session", token, nil); rr.Code != http.StatusOK {
		t.Errorf("session status = %d", rr.Code)
	}

	if rr := app.do(t, "POST", "/api/logout", token, nil); rr.Code != http.StatusNoContent {
		t.Errorf("logout status = %d", rr.Code)
	}
	if rr := app.do(t, "GET", "/api/session", token, nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("session after logout = %d, want 401", rr.Code)
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	app := newTestApp(t)
	for _, route := range []struct{ method, path string }{
		{"GET", "/api/worlds"},
		{"POST", "/api/worlds"},
		{"DELETE", "/api/worlds/w1/entities/e1"},
		{"GET", "/api/delete-operations/op1"},
		{"GET", "/api/worlds/w1/delete-operations"},
	} {
		if rr := app.do(t, route.method, route.path, "", nil); rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s = %d, want 401", route.method, route.path, rr.Code)
		}
	}
}

func TestEntityReadAndCreate(t *testing.T) {
	app := newTestApp(t)
	token := app.login(t, "owner@lorekeeper.test")
	worldID := app.createWorld(t, token)
	root := app.createEntity(t, token, worldID, "", "Reach")
	app.createEntity(t, token, worldID, root, "Frostholm")

	rr := app.do(t, "GET", "/api/worlds/"+worldID+"/entities/"+root, token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get entity: %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `<strong>Reach</strong>`) {
		t.Errorf("description not rendered: %s", rr.Body.String())
	}

	rr = app.do(t, "GET", "/api/worlds/"+worldID+"/entities/"+root+"/children", token, nil)
	if got := decodeBody[struct{ Count int }](t, rr).Count; got != 1 {
		t.Errorf("children count = %d, want 1", got)
	}

	rr = app.do(t, "POST", "/api/worlds/"+worldID+"/entities", token, map[string]string{"parent_id": "missing", "name": "Orphan"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing parent status = %d, want 422", rr.Code)
	}
	rr = app.do(t, "POST", "/api/worlds/"+worldID+"/entities", token, map[string]string{"name": ""})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("blank name status = %d, want 400", rr.Code)
	}
	rr = app.do(t, "PATCH", "/api/worlds/"+worldID+"/entities/"+root, token, map[string]string{"name": "Northern Reach"})
	if rr.Code != http.StatusOK || decodeBody[entityResponse](t, rr).Name != "Northern Reach" {
		t.Errorf("patch: %d %s", rr.Code, rr.Body.String())
	}
}

func TestDeleteCascade(t *testing.T) {
	app := newTestApp(t)
	token := app.login(t, "owner@lorekeeper.test")
	worldID := app.createWorld(t, token)
	root := app.createEntity(t, token, worldID, "", "Reach")
	children := []string{
		app.createEntity(t, token, worldID, root, "A"),
		app.createEntity(t, token, worldID, root, "B"),
		app.createEntity(t, token, worldID, root, "C"),
	}

	rr := app.do(t, "DELETE", "/api/worlds/"+worldID+"/entities/"+root+"?cascade=true", token, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("delete status = %d %s", rr.Code, rr.Body.String())
	}
	accepted := decodeBody[deleteAcceptedResponse](t, rr)
	if loc := rr.Header().Get("Location"); loc != accepted.StatusURL || loc != "/api/delete-operations/"+accepted.OperationID {
		t.Errorf("Location = %q, status_url = %q", loc, accepted.StatusURL)
	}

	op := app.waitTerminal(t, token, accepted.StatusURL)
	if op.Status != deleteop.StatusCompleted || op.TotalEntities != 4 || op.DeletedCount != 4 {
		t.Errorf("operation = %+v", op)
	}
	for _, id := range append([]string{root}, children...) {
		if rr := app.do(t, "GET", "/api/worlds/"+worldID+"/entities/"+id, token, nil); rr.Code != http.StatusNotFound {
			t.Errorf("GET %s after delete = %d, want 404", id, rr.Code)
		}
	}

	rr = app.do(t, "GET", "/api/worlds/"+worldID+"/delete-operations?limit=5", token, nil)
	list := decodeBody[struct {
		Operations []struct {
			ID string `json:"id"`
		} `json:"operations"`
		Count int `json:"count"`
	}](t, rr)
	if list.Count != 1 || list.Operations[0].ID != accepted.OperationID {
		t.Errorf("list = %+v", list)
	}

	// the worker counts the operation just after its terminal status becomes visible
	want := `lorekeeper_delete_operations_total{status="completed"} 1`
	var exposition string
	for deadline := time.Now().Add(2 * time.Second); time.Now().Before(deadline); time.Sleep(10 * time.Millisecond) {
		exposition = app.do(t, "GET", "/metrics", "", nil).Body.String()
		if strings.Contains(exposition, want) {
			break
		}
	}
	if !strings.Contains(exposition, want) {
		t.Errorf("metrics missing completed operation:\n%s", exposition)
	}
}

func TestDeleteNotFound(t *testing.T) {
	app := newTestApp(t)
	token := app.login(t, "owner@lorekeeper.test")
	worldID := app.createWorld(t, token)

	rr := app.do(t, "DELETE", "/api/worlds/"+worldID+"/entities/ghost-7", token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if !strings.Contains(decodeBody[errorResponse](t, rr).Error, "ghost-7") {
		t.Errorf("message does not name the entity: %s", rr.Body.String())
	}
	rr = app.do(t, "GET", "/api/worlds/"+worldID+"/delete-operations", token, nil)
	if got := decodeBody[struct{ Count int }](t, rr).Count; got != 0 {
		t.Errorf("operations = %d, want 0", got)
	}
	if rr := app.do(t, "GET", "/api/delete-operations/nope", token, nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown operation status = %d, want 404", rr.Code)
	}
}

func TestDeleteCapacityExceeded(t *testing.T) {
	app := newTestApp(t)
	token := app.login(t, "owner@lorekeeper.test")
	worldID := app.createWorld(t, token)
	leaf := app.createEntity(t, token, worldID, "", "Leaf")
	for i := 0; i < 2; i++ {
		app.gate.TryAcquire(app.scope)
	}

	rr := app.do(t, "DELETE", "/api/worlds/"+worldID+"/entities/"+leaf, token, nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "3" {
		t.Errorf("Retry-After = %q, want 3", got)
	}

	app.gate.Release(app.scope)
	rr = app.do(t, "DELETE", "/api/worlds/"+worldID+"/entities/"+leaf+"?cascade=false", token, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("after release status = %d", rr.Code)
	}
	op := app.waitTerminal(t, token, rr.Header().Get("Location"))
	if op.Status != deleteop.StatusCompleted || op.TotalEntities != 1 {
		t.Errorf("operation = %+v", op)
	}
}

func TestDeleteBadCascade(t *testing.T) {
	app := newTestApp(t)
	token := app.login(t, "owner@lorekeeper.test")
	worldID := app.createWorld(t, token)
	leaf := app.createEntity(t, token, worldID, "", "Leaf")

	rr := app.do(t, "DELETE", "/api/worlds/"+worldID+"/entities/"+leaf+"?cascade=maybe", token, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestWorldOwnership(t *testing.T) {
	app := newTestApp(t)
	owner := app.login(t, "owner@lorekeeper.test")
	other := app.login(t, "other@lorekeeper.test")
	worldID := app.createWorld(t, owner)
	root := app.createEntity(t, owner, worldID, "", "Reach")

	rr := app.do(t, "DELETE", "/api/worlds/"+worldID+"/entities/"+root, owner, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("owner delete = %d", rr.Code)
	}
	statusURL := rr.Header().Get("Location")

	for _, route := range []struct{ method, path string }{
		{"GET", "/api/worlds/" + worldID + "/entities/" + root},
		{"DELETE", "/api/worlds/" + worldID + "/entities/" + root},
		{"GET", "/api/worlds/" + worldID + "/delete-operations"},
		{"GET", statusURL},
	} {
		if rr := app.do(t, route.method, route.path, other, nil); rr.Code != http.StatusForbidden {
			t.Errorf("%s %s as non-owner = %d, want 403", route.method, route.path, rr.Code)
		}
	}
	if rr := app.do(t, "GET", "/api/worlds/missing/entities/x", other, nil); rr.Code != http.StatusNotFound {
		t.Errorf("missing world = %d, want 404", rr.Code)
	}
	app.waitTerminal(t, owner, statusURL)
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t)
	rr := app.do(t, "GET", "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d", rr.Code)
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestLoadCSRFKey(t *testing.T) {
	key, err := LoadCSRFKey(strings.Repeat("ab", 32), true)
	if err != nil || len(key) != 32 {
		t.Errorf("valid key: len=%d err=%v", len(key), err)
	}
	if _, err := LoadCSRFKey("zz", false); err == nil {
		t.Error("expected error for bad hex")
	}
	if _, err := LoadCSRFKey("", true); err == nil {
		t.Error("expected error for missing production key")
	}
	if key, err := LoadCSRFKey("", false); err != nil || len(key) != 32 {
		t.Errorf("dev key: len=%d err=%v", len(key), err)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 1},
		{500 * time.Millisecond, 1},
		{5 * time.Second, 5},
		{5500 * time.Millisecond, 6},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			if got := retryAfterSeconds(tt.in); got != tt.want {
				t.Errorf("retryAfterSeconds(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

// TestActivity verifies logins, world creation and delete requests land in the audit trail.
func TestActivity(t *testing.T) {
	app := newTestApp(t)
	app.do(t, "POST", "/api/login", "", map[string]string{"email": "owner@lorekeeper.test", "password": "not the password"})
	token := app.login(t, "owner@lorekeeper.test")
	worldID := app.createWorld(t, token)
	leaf := app.createEntity(t, token, worldID, "", "Lantern")

	rr := app.do(t, "DELETE", "/api/worlds/"+worldID+"/entities/"+leaf, token, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("delete: %d %s", rr.Code, rr.Body.String())
	}
	accepted := decodeBody[deleteAcceptedResponse](t, rr)
	app.waitTerminal(t, token, accepted.StatusURL)

	type activity struct {
		Events []struct {
			Action     string `json:"action"`
			ActorID    string `json:"actor_id"`
			ResourceID string `json:"resource_id"`
		} `json:"events"`
		Count int `json:"count"`
	}

	rr = app.do(t, "GET", "/api/activity", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("activity: %d %s", rr.Code, rr.Body.String())
	}
	mine := decodeBody[activity](t, rr)
	actions := map[string]bool{}
	for _, e := range mine.Events {
		if e.ActorID != "owner" {
			t.Errorf("event for actor %q in owner's activity", e.ActorID)
		}
		actions[e.Action] = true
	}
	for _, want := range []string{"login", "create", "delete_requested"} {
		if !actions[want] {
			t.Errorf("missing %q in %+v", want, mine.Events)
		}
	}
	if actions["login_failed"] {
		t.Error("failed login has no account id and must not appear in account activity")
	}

	rr = app.do(t, "GET", "/api/worlds/"+worldID+"/activity?limit=1", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("world activity: %d %s", rr.Code, rr.Body.String())
	}
	inWorld := decodeBody[activity](t, rr)
	if inWorld.Count != 1 {
		t.Fatalf("world activity count = %d, want 1", inWorld.Count)
	}

	other := app.login(t, "other@lorekeeper.test")
	if rr := app.do(t, "GET", "/api/worlds/"+worldID+"/activity", other, nil); rr.Code != http.StatusForbidden {
		t.Errorf("other account world activity = %d, want 403", rr.Code)
	}
	if rr := app.do(t, "GET", "/api/activity?limit=-1", token, nil); rr.Code != http.StatusBadRequest {
		t.Errorf("negative limit = %d, want 400", rr.Code)
	}
}

// TestChangePassword verifies the new password works and the old one stops working.
func TestChangePassword(t *testing.T) {
	app := newTestApp(t)
	token := app.login(t, "owner@lorekeeper.test")

	rr := app.do(t, "POST", "/api/account/password", token, map[string]string{
		"current_password": "not the password", "new_password": "a brand new passphrase",
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("wrong current password = %d, want 403", rr.Code)
	}
	rr = app.do(t, "POST", "/api/account/password", token, map[string]string{
		"current_password": testPassword, "new_password": "short",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("short password = %d, want 400", rr.Code)
	}

	rr = app.do(t, "POST", "/api/account/password", token, map[string]string{
		"current_password": testPassword, "new_password": "a brand new passphrase",
	})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("change password = %d %s", rr.Code, rr.Body.String())
	}
	rr = app.do(t, "POST", "/api/login", "", map[string]string{"email": "owner@lorekeeper.test", "password": testPassword})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("old password login = %d, want 401", rr.Code)
	}
	rr = app.do(t, "POST", "/api/login", "", map[string]string{"email": "owner@lorekeeper.test", "password": "a brand new passphrase"})
	if rr.Code != http.StatusOK {
		t.Errorf("new password login = %d, want 200", rr.Code)
	}
}
