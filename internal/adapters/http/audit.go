package web

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"lorekeeper/internal/adapters/http/middleware"
	"lorekeeper/internal/application/projections"
	"lorekeeper/internal/domain/audit"
)

// newAuditEvent stamps an event for the current request.
func (s *server) newAuditEvent(r *http.Request, actorID string, category audit.Category, action audit.Action) audit.Event {
	return audit.NewEvent(s.opts.GenerateID(), s.opts.Clock.Now(), actorID, category, action).
		WithRequest(middleware.ClientIP(r), r.UserAgent())
}

// recordAudit stores e. The request never fails because the audit write did.
func (s *server) recordAudit(ctx context.Context, e audit.Event) {
	if s.opts.Stores.AuditStore == nil {
		return
	}
	if err := s.opts.Stores.AuditStore.Save(context.WithoutCancel(ctx), e); err != nil {
		slog.Error("audit_write_failed", "action", string(e.Action), "actor_id", e.ActorID, "error", err.Error())
	}
}

// parseLimit reads ?limit=N; absent means 0 (the default).
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeErrorMessage(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// handleAccountActivity handles GET /api/activity
func (s *server) handleAccountActivity(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	result, err := projections.QueryActivity(r.Context(), projections.ActivityQuery{
		AccountID: currentAccount(r),
		Limit:     limit,
	}, projections.ActivityDeps{AuditStore: s.opts.Stores.AuditStore})
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleWorldActivity handles GET /api/worlds/{worldID}/activity
func (s *server) handleWorldActivity(w http.ResponseWriter, r *http.Request) {
	worldID := r.PathValue("worldID")
	if _, ok := s.authorizeWorld(w, r, worldID); !ok {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	result, err := projections.QueryActivity(r.Context(), projections.ActivityQuery{
		WorldID: worldID,
		Limit:   limit,
	}, projections.ActivityDeps{AuditStore: s.opts.Stores.AuditStore})
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
