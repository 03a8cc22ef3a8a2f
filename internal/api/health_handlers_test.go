package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// stubChecker is a HealthChecker returning a fixed error.
type stubChecker struct {
	err error
}

func (s stubChecker) HealthCheck(ctx context.Context) error { return s.err }

func TestHealth(t *testing.T) {
	handlers := NewHealthHandlers(HealthHandlersConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handlers.Health(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected healthy status, got %s", resp.Status)
	}
	if resp.Checks["runtime"] != "ok" {
		t.Errorf("expected runtime check ok, got %s", resp.Checks["runtime"])
	}
	if resp.Timestamp == "" {
		t.Error("expected a timestamp")
	}
}

func TestReady(t *testing.T) {
	checkErr := errors.New("connection refused")

	tests := []struct {
		name       string
		config     HealthHandlersConfig
		wantStatus int
		wantState  string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers configured",
			config:     HealthHandlersConfig{},
			wantStatus: http.StatusOK,
			wantState:  "healthy",
			wantChecks: map[string]string{"database": "ok", "redis": "ok", "processor": "ok"},
		},
		{
			name: "all checkers healthy",
			config: HealthHandlersConfig{
				DBChecker:        stubChecker{},
				RedisChecker:     stubChecker{},
				ProcessorChecker: stubChecker{},
			},
			wantStatus: http.StatusOK,
			wantState:  "healthy",
			wantChecks: map[string]string{"database": "ok", "redis": "ok", "processor": "ok"},
		},
		{
			name: "database down",
			config: HealthHandlersConfig{
				DBChecker:    stubChecker{err: checkErr},
				RedisChecker: stubChecker{},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantState:  "unhealthy",
			wantChecks: map[string]string{"database": "error", "redis": "ok", "processor": "ok"},
		},
		{
			name: "processor down",
			config: HealthHandlersConfig{
				ProcessorChecker: stubChecker{err: checkErr},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantState:  "unhealthy",
			wantChecks: map[string]string{"database": "ok", "redis": "ok", "processor": "error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlers := NewHealthHandlers(tt.config)

			req := httptest.NewRequest(http.MethodGet, "/ready", nil)
			rr := httptest.NewRecorder()
			handlers.Ready(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}

			var resp HealthResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Status != tt.wantState {
				t.Errorf("expected status %s, got %s", tt.wantState, resp.Status)
			}
			for check, want := range tt.wantChecks {
				if got := resp.Checks[check]; got != want {
					t.Errorf("check %s: expected %s, got %s", check, want, got)
				}
			}
		})
	}
}

func TestRouter_RootAndNotFound(t *testing.T) {
	env := newTestEnv(t)

	root := env.do(t, http.MethodGet, "/", "", nil)
	if root.Code != http.StatusOK {
		t.Fatalf("expected status 200 at root, got %d", root.Code)
	}
	var info map[string]string
	if err := json.Unmarshal(root.Body.Bytes(), &info); err != nil {
		t.Fatalf("failed to decode root response: %v", err)
	}
	if info["service"] == "" {
		t.Error("expected a service name at root")
	}

	missing := env.do(t, http.MethodGet, "/no-such-route", "", nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", missing.Code)
	}
	if detail := decodeError(t, missing); detail.Code != ErrCodeNotFound {
		t.Errorf("expected error code %s, got %s", ErrCodeNotFound, detail.Code)
	}
}

func TestRouter_ProtectedRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/payments/create-payment-intent"},
		{http.MethodGet, "/payments/order/ord-1/status"},
		{http.MethodPost, "/payments/create-checkout-session"},
		{http.MethodPost, "/payments/checkout-success"},
		{http.MethodPost, "/subscriptions"},
		{http.MethodGet, "/subscriptions/sub-1"},
		{http.MethodPost, "/subscriptions/sub-1/cancel"},
	}

	for _, p := range paths {
		rr := env.do(t, p.method, p.path, "", nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected status 401, got %d", p.method, p.path, rr.Code)
		}
	}
}
