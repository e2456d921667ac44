package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"lorekeeper/internal/adapters/http/middleware"
	"lorekeeper/internal/application/orchestrators"
	"lorekeeper/internal/application/projections"
	"lorekeeper/internal/domain/account"
	"lorekeeper/internal/domain/audit"
	"lorekeeper/internal/domain/deleteop"
	"lorekeeper/internal/domain/entity"
	"lorekeeper/internal/domain/world"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response_encode_failed", "error", err.Error())
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// internalError logs the real error and returns a generic message to the client.
// This prevents leaking internal details per OWASP A05.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("internal_error", "error", err.Error())
	writeErrorMessage(w, http.StatusInternalServerError, "internal server error")
}

// writeError maps application errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	var inputErr *orchestrators.InputError
	var capErr *deleteop.CapacityError
	switch {
	case errors.As(err, &inputErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid input", Fields: inputErr.Fields})
	case errors.As(err, &capErr):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(capErr.RetryAfter)))
		writeErrorMessage(w, http.StatusTooManyRequests, capErr.Error())
	case errors.Is(err, deleteop.ErrEntityNotFound),
		errors.Is(err, deleteop.ErrOperationNotFound),
		errors.Is(err, entity.ErrNotFound),
		errors.Is(err, world.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, entity.ErrParentNotFound):
		writeErrorMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, world.ErrNotOwner):
		writeErrorMessage(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, orchestrators.ErrInvalidCredentials):
		writeErrorMessage(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, orchestrators.ErrAccountLocked):
		writeErrorMessage(w, http.StatusLocked, err.Error())
	case errors.Is(err, orchestrators.ErrCurrentPasswordWrong):
		writeErrorMessage(w, http.StatusForbidden, err.Error())
	case errors.Is(err, orchestrators.ErrNewPasswordSame),
		errors.Is(err, account.ErrPasswordTooShort):
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
	default:
		internalError(w, err)
	}
}

// retryAfterSeconds rounds up to whole seconds, minimum 1.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// strictDecode decodes JSON from the request body, rejecting unknown fields.
func strictDecode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// currentAccount returns the authenticated account id. Routes are wrapped in RequireAuth.
func currentAccount(r *http.Request) string {
	session, _ := middleware.GetSessionFromContext(r.Context())
	return session.AccountID
}

// authorizeWorld loads the world and checks the caller owns it, writing 404/403 on failure.
func (s *server) authorizeWorld(w http.ResponseWriter, r *http.Request, worldID string) (world.World, bool) {
	wd, err := s.opts.Stores.WorldStore.GetByID(r.Context(), worldID)
	if err != nil {
		writeError(w, err)
		return world.World{}, false
	}
	if !wd.IsOwner(currentAccount(r)) {
		slog.Info("authz_event", "event", "world_access_denied", "world_id", worldID, "account_id", currentAccount(r))
		writeError(w, world.ErrNotOwner)
		return world.World{}, false
	}
	return wd, true
}

// handleHealth handles GET /healthz
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.DB.PingContext(ctx); err != nil {
			slog.Error("health_check_failed", "error", err.Error())
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	AccountID string `json:"account_id"`
}

// handleLogin handles POST /api/login
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !strictDecode(w, r, &req) {
		return
	}
	result, err := orchestrators.ExecuteLogin(r.Context(), orchestrators.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	}, orchestrators.LoginDeps{
		AccountStore: s.opts.Stores.AccountStore,
		Clock:        s.opts.Clock,
	})
	if err != nil {
		if errors.Is(err, orchestrators.ErrInvalidCredentials) || errors.Is(err, orchestrators.ErrAccountLocked) {
			s.recordAudit(r.Context(), s.newAuditEvent(r, "", audit.CategoryAuth, audit.ActionLoginFailed).
				WithActorEmail(req.Email).
				WithSeverity(audit.SeverityWarning).
				WithDescription(err.Error()))
		}
		writeError(w, err)
		return
	}
	s.recordAudit(r.Context(), s.newAuditEvent(r, result.AccountID, audit.CategoryAuth, audit.ActionLogin).
		WithActorEmail(result.Email))

	token, err := s.sessions.Create(result.AccountID, result.Email)
	if err != nil {
		internalError(w, err)
		return
	}
	middleware.SetSessionCookie(w, token, s.opts.SessionTTL)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, AccountID: result.AccountID})
}

// handleLogout handles POST /api/logout
func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.SessionTokenFromRequest(r); token != "" {
		s.sessions.Delete(token)
	}
	s.recordAudit(r.Context(), s.newAuditEvent(r, currentAccount(r), audit.CategoryAuth, audit.ActionLogout))
	middleware.ClearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleSession handles GET /api/session. Cookie clients read their CSRF token here.
func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	session, _ := middleware.GetSessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"account_id": session.AccountID,
		"email":      session.Email,
		"csrf_token": middleware.CSRFToken(r),
	})
}

// handleChangePassword handles POST /api/account/password
func (s *server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !strictDecode(w, r, &req) {
		return
	}
	accountID := currentAccount(r)
	err := orchestrators.ExecuteChangePassword(r.Context(), orchestrators.ChangePasswordInput{
		AccountID:       accountID,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	}, orchestrators.ChangePasswordDeps{AccountStore: s.opts.Stores.AccountStore})
	if err != nil {
		writeError(w, err)
		return
	}
	s.recordAudit(r.Context(), s.newAuditEvent(r, accountID, audit.CategoryAuth, audit.ActionPasswordChange))
	w.WriteHeader(http.StatusNoContent)
}

type worldResponse struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func newWorldResponse(wd world.World) worldResponse {
	return worldResponse{ID: wd.ID, OwnerID: wd.OwnerID, Name: wd.Name, CreatedAt: wd.CreatedAt}
}

// handleListWorlds handles GET /api/worlds
func (s *server) handleListWorlds(w http.ResponseWriter, r *http.Request) {
	worlds, err := s.opts.Stores.WorldStore.ListByOwner(r.Context(), currentAccount(r))
	if err != nil {
		internalError(w, err)
		return
	}
	out := make([]worldResponse, 0, len(worlds))
	for _, wd := range worlds {
		out = append(out, newWorldResponse(wd))
	}
	writeJSON(w, http.StatusOK, map[string]any{"worlds": out, "count": len(out)})
}

// handleCreateWorld handles POST /api/worlds
func (s *server) handleCreateWorld(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !strictDecode(w, r, &req) {
		return
	}
	wd, err := orchestrators.ExecuteCreateWorld(r.Context(), orchestrators.CreateWorldInput{
		OwnerID: currentAccount(r),
		Name:    req.Name,
	}, orchestrators.CreateWorldDeps{
		WorldStore: s.opts.Stores.WorldStore,
		GenerateID: s.opts.GenerateID,
		Clock:      s.opts.Clock,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.recordAudit(r.Context(), s.newAuditEvent(r, wd.OwnerID, audit.CategoryWorld, audit.ActionCreate).
		WithResource(wd.ID, audit.ResourceWorld, wd.ID))
	writeJSON(w, http.StatusCreated, newWorldResponse(wd))
}

type entityResponse struct {
	WorldID     string    `json:"world_id"`
	ID          string    `json:"id"`
	ParentID    string    `json:"parent_id,omitempty"`
	Name        string    `json:"name"`
	Type        string    `json:"type,omitempty"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newEntityResponse(e entity.Entity) entityResponse {
	return entityResponse{
		WorldID:     e.WorldID,
		ID:          e.ID,
		ParentID:    e.ParentID,
		Name:        e.Name,
		Type:        e.Type,
		Description: e.Description,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func (s *server) entityDeps() orchestrators.EntityDeps {
	return orchestrators.EntityDeps{
		EntityStore: s.opts.Stores.EntityStore,
		GenerateID:  s.opts.GenerateID,
		Clock:       s.opts.Clock,
	}
}

// handleCreateEntity handles POST /api/worlds/{worldID}/entities
func (s *server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	worldID := r.PathValue("worldID")
	if _, ok := s.authorizeWorld(w, r, worldID); !ok {
		return
	}
	var req struct {
		ParentID    string `json:"parent_id"`
		Name        string `json:"name"`
		Type        string `json:"type"`
		Description string `json:"description"`
	}
	if !strictDecode(w, r, &req) {
		return
	}
	e, err := orchestrators.ExecuteCreateEntity(r.Context(), orchestrators.CreateEntityInput{
		WorldID:     worldID,
		ParentID:    req.ParentID,
		Name:        req.Name,
		Type:        req.Type,
		Description: req.Description,
	}, s.entityDeps())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newEntityResponse(e))
}

// handleUpdateEntity handles PATCH /api/worlds/{worldID}/entities/{entityID}
func (s *server) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	worldID := r.PathValue("worldID")
	if _, ok := s.authorizeWorld(w, r, worldID); !ok {
		return
	}
	var req struct {
		Name        *string `json:"name"`
		Type        *string `json:"type"`
		Description *string `json:"description"`
	}
	if !strictDecode(w, r, &req) {
		return
	}
	e, err := orchestrators.ExecuteUpdateEntity(r.Context(), orchestrators.UpdateEntityInput{
		WorldID:     worldID,
		EntityID:    r.PathValue("entityID"),
		Name:        req.Name,
		Type:        req.Type,
		Description: req.Description,
	}, s.entityDeps())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newEntityResponse(e))
}

// handleGetEntity handles GET /api/worlds/{worldID}/entities/{entityID}
func (s *server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	worldID := r.PathValue("worldID")
	if _, ok := s.authorizeWorld(w, r, worldID); !ok {
		return
	}
	view, err := projections.QueryGetEntity(r.Context(), projections.GetEntityQuery{
		WorldID:  worldID,
		EntityID: r.PathValue("entityID"),
	}, projections.GetEntityDeps{EntityStore: s.opts.Stores.EntityStore})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleListChildren handles GET /api/worlds/{worldID}/entities/{entityID}/children
func (s *server) handleListChildren(w http.ResponseWriter, r *http.Request) {
	worldID := r.PathValue("worldID")
	if _, ok := s.authorizeWorld(w, r, worldID); !ok {
		return
	}
	entityID := r.PathValue("entityID")
	deps := projections.GetEntityDeps{EntityStore: s.opts.Stores.EntityStore}
	// a deleted parent reads as missing rather than as an empty list
	if _, err := s.opts.Stores.EntityStore.GetByID(r.Context(), worldID, entityID); err != nil {
		writeError(w, err)
		return
	}
	children, err := projections.QueryListChildren(r.Context(), projections.GetEntityQuery{WorldID: worldID, EntityID: entityID}, deps)
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"children": children, "count": len(children)})
}

// handleListRoots handles GET /api/worlds/{worldID}/entities
func (s *server) handleListRoots(w http.ResponseWriter, r *http.Request) {
	worldID := r.PathValue("worldID")
	if _, ok := s.authorizeWorld(w, r, worldID); !ok {
		return
	}
	roots, err := projections.QueryListChildren(r.Context(), projections.GetEntityQuery{WorldID: worldID},
		projections.GetEntityDeps{EntityStore: s.opts.Stores.EntityStore})
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": roots, "count": len(roots)})
}

type deleteAcceptedResponse struct {
	OperationID string `json:"operation_id"`
	StatusURL   string `json:"status_url"`
}

// handleDeleteEntity handles DELETE /api/worlds/{worldID}/entities/{entityID}?cascade=true
// The delete runs in the background; the response points at the operation to poll.
func (s *server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	worldID := r.PathValue("worldID")
	if _, ok := s.authorizeWorld(w, r, worldID); !ok {
		return
	}
	cascade := false
	if v := r.URL.Query().Get("cascade"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "cascade must be true or false")
			return
		}
		cascade = b
	}

	d := s.opts.Delete
	deps := orchestrators.InitiateDeleteDeps{
		EntityStore: s.opts.Stores.EntityStore,
		Gate:        d.Gate,
		Operations:  d.Operations,
		Queue:       d.Queue,
		GenerateID:  s.opts.GenerateID,
		Clock:       s.opts.Clock,
		ScopeFor:    d.ScopeFor,
		RetryAfter:  d.RetryAfter,
	}
	if s.opts.Metrics != nil {
		deps.Metrics = s.opts.Metrics
	}
	entityID := r.PathValue("entityID")
	res, err := orchestrators.ExecuteInitiateDelete(r.Context(), orchestrators.InitiateDeleteInput{
		WorldID:  worldID,
		EntityID: entityID,
		Cascade:  cascade,
	}, deps)
	if err != nil {
		var capErr *deleteop.CapacityError
		if errors.As(err, &capErr) {
			s.recordAudit(r.Context(), s.newAuditEvent(r, currentAccount(r), audit.CategoryDelete, audit.ActionDeleteReject).
				WithResource(worldID, audit.ResourceEntity, entityID).
				WithSeverity(audit.SeverityWarning).
				WithDescription(capErr.Error()))
		}
		writeError(w, err)
		return
	}
	s.recordAudit(r.Context(), s.newAuditEvent(r, currentAccount(r), audit.CategoryDelete, audit.ActionDeleteRequest).
		WithResource(worldID, audit.ResourceDeleteOperation, res.OperationID).
		WithDescription("entity "+entityID+" cascade="+strconv.FormatBool(cascade)))
	w.Header().Set("Location", res.StatusURL)
	writeJSON(w, http.StatusAccepted, deleteAcceptedResponse{OperationID: res.OperationID, StatusURL: res.StatusURL})
}

// handleGetDeleteOperation handles GET /api/delete-operations/{operationID}
func (s *server) handleGetDeleteOperation(w http.ResponseWriter, r *http.Request) {
	view, err := projections.QueryGetDeleteOperation(r.Context(), projections.GetDeleteOperationQuery{
		OperationID: r.PathValue("operationID"),
	}, projections.GetDeleteOperationDeps{Operations: s.opts.Delete.Operations})
	if err != nil {
		writeError(w, err)
		return
	}
	if _, ok := s.authorizeWorld(w, r, view.WorldID); !ok {
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleListDeleteOperations handles GET /api/worlds/{worldID}/delete-operations?limit=N
func (s *server) handleListDeleteOperations(w http.ResponseWriter, r *http.Request) {
	worldID := r.PathValue("worldID")
	if _, ok := s.authorizeWorld(w, r, worldID); !ok {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	result, err := projections.QueryListDeleteOperations(r.Context(), projections.ListDeleteOperationsQuery{
		WorldID: worldID,
		Limit:   limit,
	}, projections.GetDeleteOperationDeps{Operations: s.opts.Delete.Operations})
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
