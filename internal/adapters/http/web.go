package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"lorekeeper/internal/adapters/http/middleware"
	"lorekeeper/internal/adapters/metrics"
	accountStore "lorekeeper/internal/adapters/storage/account"
	auditStore "lorekeeper/internal/adapters/storage/audit"
	entityStore "lorekeeper/internal/adapters/storage/entity"
	worldStore "lorekeeper/internal/adapters/storage/world"
	"lorekeeper/internal/application/deletion"
	"lorekeeper/internal/application/orchestrators"
)

// Stores holds all storage dependencies.
type Stores struct {
	AccountStore accountStore.Store
	WorldStore   worldStore.Store
	EntityStore  entityStore.Store
	AuditStore   auditStore.Store // optional; nil disables the audit trail
}

// DeleteService holds the asynchronous delete machinery shared by all requests.
type DeleteService struct {
	Gate       *deletion.Gate
	Operations *deletion.OperationStore
	Queue      orchestrators.DeleteQueue
	ScopeFor   deletion.ScopeFunc
	RetryAfter time.Duration
}

// Pinger reports database liveness for /healthz.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Options configures NewMux.
type Options struct {
	Stores  Stores
	Delete  DeleteService
	Metrics *metrics.Recorder // optional; nil disables /metrics
	DB      Pinger            // optional
	Clock   clock.Clock
	// GenerateID defaults to uuid.NewString.
	GenerateID func() string

	CSRFKey            []byte
	Secure             bool // production: Secure cookies and strict CSRF origin checks
	RateLimitPerSecond int
	SlowRequestMs      int
	SessionTTL         time.Duration
}

// server carries handler dependencies.
type server struct {
	opts     Options
	sessions *middleware.SessionStore
}

// LoadCSRFKey decodes the hex CSRF secret (32 bytes).
// In production the key MUST be set. Otherwise a random key is generated per startup.
func LoadCSRFKey(keyHex string, production bool) ([]byte, error) {
	if keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil || len(key) != 32 {
			return nil, errors.New("csrf key must be 64 hex characters (32 bytes)")
		}
		return key, nil
	}
	if production {
		return nil, errors.New("csrf key is required in production")
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate csrf key: %w", err)
	}
	slog.Warn("csrf_key_random", "detail", "cookie sessions won't survive restart; set LOREKEEPER_CSRF_KEY")
	return key, nil
}

// NewMux wires HTTP handlers for the app. Background goroutines owned by the mux stop with ctx.
func NewMux(ctx context.Context, opts Options) http.Handler {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.GenerateID == nil {
		opts.GenerateID = uuid.NewString
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = middleware.DefaultSessionTTL
	}
	middleware.SecureCookies = opts.Secure

	s := &server{
		opts:     opts,
		sessions: middleware.NewSessionStore(opts.Clock, opts.SessionTTL),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var observer middleware.RequestObserver
	if opts.Metrics != nil {
		observer = opts.Metrics
	}
	limiter := middleware.NewRateLimiter(ctx, opts.RateLimitPerSecond)

	// Apply middleware: Timing -> RateLimit -> Auth -> CSRF -> SecurityHeaders -> Mux
	return middleware.Chain(mux,
		middleware.SecurityHeaders,
		middleware.CSRF(opts.CSRFKey, opts.Secure),
		middleware.Auth(s.sessions),
		middleware.RateLimit(limiter),
		middleware.Timing(observer, opts.SlowRequestMs),
	)
}

func (s *server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics.Handler())
	}

	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.Handle("POST /api/logout", middleware.RequireAuth(http.HandlerFunc(s.handleLogout)))
	mux.Handle("GET /api/session", middleware.RequireAuth(http.HandlerFunc(s.handleSession)))

	authed := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware.RequireAuth(h))
	}
	authed("POST /api/account/password", s.handleChangePassword)
	authed("GET /api/worlds", s.handleListWorlds)
	authed("POST /api/worlds", s.handleCreateWorld)
	authed("GET /api/worlds/{worldID}/entities", s.handleListRoots)
	authed("POST /api/worlds/{worldID}/entities", s.handleCreateEntity)
	authed("GET /api/worlds/{worldID}/entities/{entityID}", s.handleGetEntity)
	authed("PATCH /api/worlds/{worldID}/entities/{entityID}", s.handleUpdateEntity)
	authed("GET /api/worlds/{worldID}/entities/{entityID}/children", s.handleListChildren)
	authed("DELETE /api/worlds/{worldID}/entities/{entityID}", s.handleDeleteEntity)
	authed("GET /api/worlds/{worldID}/delete-operations", s.handleListDeleteOperations)
	authed("GET /api/delete-operations/{operationID}", s.handleGetDeleteOperation)
	if s.opts.Stores.AuditStore != nil {
		authed("GET /api/activity", s.handleAccountActivity)
		authed("GET /api/worlds/{worldID}/activity", s.handleWorldActivity)
	}
}
