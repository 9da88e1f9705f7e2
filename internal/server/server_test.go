package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuria-ai/kuria/internal/agent"
	"github.com/kuria-ai/kuria/internal/auth"
	"github.com/kuria-ai/kuria/internal/executor"
	"github.com/kuria-ai/kuria/internal/model"
	"github.com/kuria-ai/kuria/internal/ops"
	"github.com/kuria-ai/kuria/internal/ratelimit"
	"github.com/kuria-ai/kuria/internal/server"
	"github.com/kuria-ai/kuria/internal/storage/lite"
)

const testAdminKey = "test-admin-key"

type testEnv struct {
	srv    *server.Server
	store  *lite.DB
	exec   *executor.Executor
	tenant model.Tenant
	jwtMgr *auth.JWTManager
}

type stubAgent struct {
	name string
	fn   func(tenant model.Tenant) (model.AgentRunResult, error)
}

func (a stubAgent) Name() string { return a.name }

func (a stubAgent) Run(_ context.Context, tenant model.Tenant, _ model.AgentConfig) (model.AgentRunResult, error) {
	return a.fn(tenant)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	store, err := lite.Open(context.Background(), ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tenant, err := store.CreateTenant(context.Background(), model.Tenant{Name: "Acme", Active: true})
	require.NoError(t, err)

	exec := executor.New(store, logger, executor.WithBaseDelay(time.Microsecond))

	resolver := ops.NewResolver()
	require.NoError(t, resolver.Register("send_invoice_reminder", func(p model.PendingAction) (executor.Operation, error) {
		return func(ctx context.Context) (map[string]any, error) {
			return map[string]any{"sent": true}, nil
		}, nil
	}))

	registry, err := agent.NewRegistry(stubAgent{name: "late_payments", fn: func(model.Tenant) (model.AgentRunResult, error) {
		return model.AgentRunResult{KPIName: "overdue_total", KPIValue: 990}, nil
	}})
	require.NoError(t, err)

	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	adminHash, err := auth.HashAPIKey(testAdminKey)
	require.NoError(t, err)

	srv := server.New(server.ServerConfig{
		Store:               store,
		Executor:            exec,
		Resolver:            resolver,
		Runtime:             agent.NewRuntime(store, logger),
		Registry:            registry,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		AdminKeyHash:        adminHash,
		Port:                0,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})

	return &testEnv{srv: srv, store: store, exec: exec, tenant: tenant, jwtMgr: jwtMgr}
}

func (env *testEnv) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	token, _, err := env.jwtMgr.IssueToken("operator", auth.RoleAdmin, nil)
	require.NoError(t, err)
	return token
}

// queueAction submits a level-B action through the executor and returns the
// stored pending id.
func (env *testEnv) queueAction(t *testing.T) uuid.UUID {
	t.Helper()
	result := env.exec.Run(context.Background(), model.Action{
		Type:        "send_invoice_reminder",
		Level:       model.LevelSupervised,
		TenantID:    env.tenant.ID,
		Agent:       "late_payments",
		Payload:     map[string]any{"invoice_id": "inv-1"},
		Description: "Remind Acme about inv-1",
	}, nil)
	require.Equal(t, model.ActionPending, result.Status)

	id, err := uuid.Parse(result.Result["id"].(string))
	require.NoError(t, err)
	return id
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, target))
}

func TestHealthRequiresNoAuth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthTokenExchange(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/auth/token", "", map[string]string{"api_key": testAdminKey})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Token string `json:"token"`
	}
	decodeData(t, rec, &resp)
	require.NotEmpty(t, resp.Token)

	claims, err := env.jwtMgr.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, claims.Role)

	rec = env.request(t, http.MethodPost, "/auth/token", "", map[string]string{"api_key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedEndpointsRejectMissingToken(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodGet, "/v1/actions/pending?tenant_id="+env.tenant.ID.String(), "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestApproveExecutesQueuedAction(t *testing.T) {
	env := newTestEnv(t)
	id := env.queueAction(t)
	token := env.adminToken(t)

	rec := env.request(t, http.MethodPost, "/v1/actions/"+id.String()+"/approve", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result model.ActionResult
	decodeData(t, rec, &result)
	assert.Equal(t, model.ActionSuccess, result.Status)

	stored, err := env.store.GetPendingAction(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.ActionSuccess, stored.Status)

	// A second approval is refused.
	rec = env.request(t, http.MethodPost, "/v1/actions/"+id.String()+"/approve", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRejectCancelsQueuedAction(t *testing.T) {
	env := newTestEnv(t)
	id := env.queueAction(t)
	token := env.adminToken(t)

	rec := env.request(t, http.MethodPost, "/v1/actions/"+id.String()+"/reject", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := env.store.GetPendingAction(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.ActionCancelled, stored.Status)

	// Rejecting a cancelled action is idempotent.
	rec = env.request(t, http.MethodPost, "/v1/actions/"+id.String()+"/reject", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Approving a cancelled action is refused.
	rec = env.request(t, http.MethodPost, "/v1/actions/"+id.String()+"/approve", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestApproveUnknownActionID(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	rec := env.request(t, http.MethodPost, "/v1/actions/"+uuid.NewString()+"/approve", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.request(t, http.MethodPost, "/v1/actions/not-a-uuid/approve", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApproveUnresolvableActionType(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	result := env.exec.Run(context.Background(), model.Action{
		Type:     "retired_action_type",
		Level:    model.LevelSupervised,
		TenantID: env.tenant.ID,
		Agent:    "late_payments",
	}, nil)
	require.Equal(t, model.ActionPending, result.Status)
	id := result.Result["id"].(string)

	rec := env.request(t, http.MethodPost, "/v1/actions/"+id+"/approve", token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestViewerCannotApprove(t *testing.T) {
	env := newTestEnv(t)
	id := env.queueAction(t)

	viewer, _, err := env.jwtMgr.IssueToken("viewer", auth.RoleViewer, nil)
	require.NoError(t, err)

	rec := env.request(t, http.MethodPost, "/v1/actions/"+id.String()+"/approve", viewer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Listings remain readable.
	rec = env.request(t, http.MethodGet, "/v1/actions/pending?tenant_id="+env.tenant.ID.String(), viewer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTenantScopedTokenIsContained(t *testing.T) {
	env := newTestEnv(t)

	otherTenant := uuid.New()
	scoped, _, err := env.jwtMgr.IssueToken("scoped", auth.RoleViewer, &otherTenant)
	require.NoError(t, err)

	rec := env.request(t, http.MethodGet, "/v1/actions/pending?tenant_id="+env.tenant.ID.String(), scoped, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.request(t, http.MethodGet, "/v1/actions/pending?tenant_id="+otherTenant.String(), scoped, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListingsReturnTenantData(t *testing.T) {
	env := newTestEnv(t)
	env.queueAction(t)
	token := env.adminToken(t)

	rec := env.request(t, http.MethodGet, "/v1/actions/pending?tenant_id="+env.tenant.ID.String(), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var pending []model.PendingAction
	decodeData(t, rec, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, "send_invoice_reminder", pending[0].ActionType)

	// tenant_id is mandatory.
	rec = env.request(t, http.MethodGet, "/v1/actions/pending", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOnDemandAgentRun(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	rec := env.request(t, http.MethodPost, "/v1/agents/run", token, map[string]any{
		"agent":     "late_payments",
		"tenant_id": env.tenant.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result model.AgentRunResult
	decodeData(t, rec, &result)
	assert.Equal(t, "late_payments", result.Agent)
	assert.Equal(t, "overdue_total", result.KPIName)

	// The run is persisted like a scheduled one.
	runs, err := env.store.ListAgentRuns(context.Background(), env.tenant.ID, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	rec = env.request(t, http.MethodPost, "/v1/agents/run", token, map[string]any{
		"agent":     "nonexistent",
		"tenant_id": env.tenant.ID,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthTokenThrottledPerIP(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	store, err := lite.Open(context.Background(), ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	adminHash, err := auth.HashAPIKey(testAdminKey)
	require.NoError(t, err)

	limiter := ratelimit.NewMemoryLimiter(1, 1)
	t.Cleanup(func() { _ = limiter.Close() })

	srv := server.New(server.ServerConfig{
		Store:               store,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		AdminKeyHash:        adminHash,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
		AuthLimiter:         limiter,
	})

	post := func() *httptest.ResponseRecorder {
		body, err := json.Marshal(map[string]string{"api_key": testAdminKey})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := post()
	require.Equal(t, http.StatusOK, rec.Code)

	// Burst of 1: the immediate second attempt from the same IP is throttled.
	rec = post()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Other endpoints are not affected by the auth throttle.
	healthReq := httptest.NewRequest(http.MethodGet, "/health", nil)
	healthRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(healthRec, healthReq)
	assert.Equal(t, http.StatusOK, healthRec.Code)
}
