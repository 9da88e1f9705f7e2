package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kuria-ai/kuria/internal/model"
)

type stubLimiter struct {
	allowed bool
	err     error
	lastKey string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	s.lastKey = key
	return s.allowed, s.err
}

func (s *stubLimiter) Close() error { return nil }

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareAllowsUnderLimit(t *testing.T) {
	limiter := &stubLimiter{allowed: true}
	handler := Middleware(limiter, IPKeyFunc, nil)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if limiter.lastKey != "10.0.0.7" {
		t.Errorf("expected key 10.0.0.7, got %q", limiter.lastKey)
	}
}

func TestMiddlewareDeniesWithEnvelope(t *testing.T) {
	limiter := &stubLimiter{allowed: false}
	reqID := func(*http.Request) string { return "req-123" }
	handler := Middleware(limiter, IPKeyFunc, reqID)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("expected Retry-After 1, got %q", got)
	}

	var resp model.APIError
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Error.Code != model.ErrCodeRateLimited {
		t.Errorf("expected code %s, got %s", model.ErrCodeRateLimited, resp.Error.Code)
	}
	if resp.Meta.RequestID != "req-123" {
		t.Errorf("expected request id req-123, got %q", resp.Meta.RequestID)
	}
}

func TestMiddlewareFailsOpenOnLimiterError(t *testing.T) {
	limiter := &stubLimiter{allowed: false, err: errors.New("limiter down")}
	handler := Middleware(limiter, IPKeyFunc, nil)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected fail-open 200, got %d", rec.Code)
	}
}

func TestMiddlewareSkipsEmptyKey(t *testing.T) {
	limiter := &stubLimiter{allowed: false}
	noKey := func(*http.Request) string { return "" }
	handler := Middleware(limiter, noKey, nil)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when key is empty, got %d", rec.Code)
	}
}

func TestMiddlewareNilLimiterPassesThrough(t *testing.T) {
	handler := Middleware(nil, IPKeyFunc, nil)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with nil limiter, got %d", rec.Code)
	}
}
