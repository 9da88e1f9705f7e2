package kuria

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Kuria server (e.g. "http://localhost:8080").
	BaseURL string

	// APIKey is the operator secret used to obtain a JWT token.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Kuria operator API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL or APIKey is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("kuria: BaseURL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("kuria: APIKey is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg.APIKey, httpClient),
	}, nil
}

// ListPending returns a tenant's actions awaiting a decision, oldest first.
func (c *Client) ListPending(ctx context.Context, tenantID uuid.UUID) ([]PendingAction, error) {
	params := url.Values{}
	params.Set("tenant_id", tenantID.String())

	var resp []PendingAction
	if err := c.get(ctx, "/v1/actions/pending?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Approve executes a queued action and returns its terminal result.
// A failed execution is still a successful call; check result.Status.
// Approving an action that was already decided returns an error for
// which IsAlreadyDecided reports true.
func (c *Client) Approve(ctx context.Context, actionID uuid.UUID) (*ActionResult, error) {
	var resp ActionResult
	if err := c.post(ctx, "/v1/actions/"+actionID.String()+"/approve", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reject cancels a queued action without executing it.
// Rejecting an already-cancelled action succeeds.
func (c *Client) Reject(ctx context.Context, actionID uuid.UUID) (*RejectResult, error) {
	var resp RejectResult
	if err := c.post(ctx, "/v1/actions/"+actionID.String()+"/reject", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AuditOptions are optional filters for the Audit method.
type AuditOptions struct {
	Limit int
}

// Audit returns a tenant's action audit trail, newest first.
func (c *Client) Audit(ctx context.Context, tenantID uuid.UUID, opts *AuditOptions) ([]ActionLog, error) {
	params := url.Values{}
	params.Set("tenant_id", tenantID.String())
	if opts != nil && opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var resp []ActionLog
	if err := c.get(ctx, "/v1/audit?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RunsOptions are optional filters for the Runs method.
type RunsOptions struct {
	Limit int
}

// Runs returns a tenant's agent run history, newest first.
func (c *Client) Runs(ctx context.Context, tenantID uuid.UUID, opts *RunsOptions) ([]RunResult, error) {
	params := url.Values{}
	params.Set("tenant_id", tenantID.String())
	if opts != nil && opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var resp []RunResult
	if err := c.get(ctx, "/v1/runs?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RunAgent triggers one agent for one tenant outside its schedule and
// returns the persisted run result. Domain failures are contained: a run
// that hit errors still returns a result, with the errors in its Errors
// field.
func (c *Client) RunAgent(ctx context.Context, agent string, tenantID uuid.UUID) (*RunResult, error) {
	body := map[string]any{"agent": agent, "tenant_id": tenantID}
	var resp RunResult
	if err := c.post(ctx, "/v1/agents/run", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks the server's health status. This endpoint does not require
// authentication and will work even if the client has invalid credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getNoAuth(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("kuria: marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("kuria: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("kuria: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) getNoAuth(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("kuria: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kuria: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kuria: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kuria: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("kuria: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
