package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/kuria-ai/kuria/internal/agent"
	"github.com/kuria-ai/kuria/internal/auth"
	"github.com/kuria-ai/kuria/internal/executor"
	"github.com/kuria-ai/kuria/internal/model"
	"github.com/kuria-ai/kuria/internal/ops"
	"github.com/kuria-ai/kuria/internal/storage"
)

// Store is the durable state the HTTP API reads and writes.
type Store interface {
	Ping(ctx context.Context) error
	GetTenant(ctx context.Context, id uuid.UUID) (model.Tenant, error)
	GetPendingAction(ctx context.Context, id uuid.UUID) (model.PendingAction, error)
	ListPendingActions(ctx context.Context, tenantID uuid.UUID) ([]model.PendingAction, error)
	ListActionLogs(ctx context.Context, tenantID uuid.UUID, limit int) ([]model.ActionLog, error)
	ListAgentRuns(ctx context.Context, tenantID uuid.UUID, limit int) ([]model.AgentRunResult, error)
}

// HandlersDeps holds the dependencies for Handlers.
type HandlersDeps struct {
	Store    Store
	Executor *executor.Executor
	Resolver *ops.Resolver
	Runtime  *agent.Runtime
	Registry *agent.Registry
	JWTMgr   *auth.JWTManager

	// AdminKeyHash is the argon2 hash of the bootstrap operator API key.
	// Empty disables /auth/token.
	AdminKeyHash string

	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// Handlers carries the HTTP handler methods and their dependencies.
type Handlers struct {
	deps HandlersDeps
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{deps: deps}
}

// HandleHealth reports liveness and storage reachability.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.deps.Store.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, map[string]string{
		"status":  status,
		"version": h.deps.Version,
	})
}

// HandleAuthToken exchanges the bootstrap operator API key for a JWT.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxRequestBodyBytes)

	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	if h.deps.AdminKeyHash == "" {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "token auth not configured")
		return
	}

	valid, err := auth.VerifyAPIKey(req.APIKey, h.deps.AdminKeyHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid api key")
		return
	}

	token, expiresAt, err := h.deps.JWTMgr.IssueToken("operator", auth.RoleAdmin, nil)
	if err != nil {
		h.deps.Logger.Error("issue token", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not issue token")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt,
	})
}

// HandleApproveAction executes a queued level-B action.
func (h *Handlers) HandleApproveAction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid action id")
		return
	}

	pending, err := h.deps.Store.GetPendingAction(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "pending action not found")
		return
	}
	if err != nil {
		h.deps.Logger.Error("load pending action", "id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not load action")
		return
	}

	if claims := ClaimsFromContext(r.Context()); claims != nil && !claims.AllowsTenant(pending.TenantID) {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "action belongs to another tenant")
		return
	}

	op, err := h.deps.Resolver.Resolve(pending)
	if errors.Is(err, ops.ErrUnknownActionType) {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, "no operation registered for action type")
		return
	}
	if err != nil {
		h.deps.Logger.Error("resolve action", "id", id, "type", pending.ActionType, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not build operation")
		return
	}

	result, err := h.deps.Executor.Approve(r.Context(), id, op)
	if errors.Is(err, executor.ErrAlreadyDecided) {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "action already decided")
		return
	}
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "pending action not found")
		return
	}
	if err != nil {
		h.deps.Logger.Error("approve action", "id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "approval failed")
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}

// HandleRejectAction cancels a queued level-B action.
func (h *Handlers) HandleRejectAction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid action id")
		return
	}

	if claims := ClaimsFromContext(r.Context()); claims != nil && claims.TenantID != nil {
		pending, err := h.deps.Store.GetPendingAction(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "pending action not found")
			return
		}
		if err == nil && !claims.AllowsTenant(pending.TenantID) {
			writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "action belongs to another tenant")
			return
		}
	}

	err = h.deps.Executor.Reject(r.Context(), id)
	if errors.Is(err, executor.ErrAlreadyDecided) {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "action already decided")
		return
	}
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "pending action not found")
		return
	}
	if err != nil {
		h.deps.Logger.Error("reject action", "id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "rejection failed")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"id": id, "status": model.ActionCancelled})
}

// HandleListPending lists a tenant's actions awaiting a decision.
func (h *Handlers) HandleListPending(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantParam(w, r)
	if !ok {
		return
	}

	actions, err := h.deps.Store.ListPendingActions(r.Context(), tenantID)
	if err != nil {
		h.deps.Logger.Error("list pending actions", "tenant_id", tenantID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not list actions")
		return
	}
	writeJSON(w, r, http.StatusOK, actions)
}

// HandleListAudit lists a tenant's action audit trail, newest first.
func (h *Handlers) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantParam(w, r)
	if !ok {
		return
	}

	logs, err := h.deps.Store.ListActionLogs(r.Context(), tenantID, limitParam(r))
	if err != nil {
		h.deps.Logger.Error("list action logs", "tenant_id", tenantID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not list audit trail")
		return
	}
	writeJSON(w, r, http.StatusOK, logs)
}

// HandleListRuns lists a tenant's agent run history, newest first.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantParam(w, r)
	if !ok {
		return
	}

	runs, err := h.deps.Store.ListAgentRuns(r.Context(), tenantID, limitParam(r))
	if err != nil {
		h.deps.Logger.Error("list agent runs", "tenant_id", tenantID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not list runs")
		return
	}
	writeJSON(w, r, http.StatusOK, runs)
}

// HandleRunAgent triggers one agent for one tenant outside its schedule.
func (h *Handlers) HandleRunAgent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxRequestBodyBytes)

	var req struct {
		Agent    string    `json:"agent"`
		TenantID uuid.UUID `json:"tenant_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	if claims := ClaimsFromContext(r.Context()); claims != nil && !claims.AllowsTenant(req.TenantID) {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "tenant not allowed")
		return
	}

	a, ok := h.deps.Registry.Get(req.Agent)
	if !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "unknown agent")
		return
	}

	tenant, err := h.deps.Store.GetTenant(r.Context(), req.TenantID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "tenant not found")
		return
	}
	if err != nil {
		h.deps.Logger.Error("load tenant", "tenant_id", req.TenantID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not load tenant")
		return
	}

	// The runtime contains all domain failures; a failed run is a 200 with
	// its errors in the body, same as a scheduled run. Only an overlap with
	// an already-running (tenant, agent) pair is refused.
	result, err := h.deps.Runtime.Run(r.Context(), a, tenant)
	if errors.Is(err, agent.ErrRunInFlight) {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "agent run already in flight for this tenant")
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// tenantParam parses and authorizes the required tenant_id query parameter.
func (h *Handlers) tenantParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.URL.Query().Get("tenant_id")
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "tenant_id is required")
		return uuid.Nil, false
	}
	tenantID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid tenant_id")
		return uuid.Nil, false
	}
	if claims := ClaimsFromContext(r.Context()); claims != nil && !claims.AllowsTenant(tenantID) {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "tenant not allowed")
		return uuid.Nil, false
	}
	return tenantID, true
}

func limitParam(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return 0
}
