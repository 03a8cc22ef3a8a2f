package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequireIdempotencyKey_ValidKey(t *testing.T) {
	var capturedKey string

	handler := RequireIdempotencyKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedKey = GetIdempotencyKey(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/subscriptions", nil)
	req.Header.Set(IdempotencyKeyHeader, "sub-create-abc123")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedKey != "sub-create-abc123" {
		t.Errorf("expected key sub-create-abc123 in context, got %q", capturedKey)
	}
}

func TestRequireIdempotencyKey_MissingKey(t *testing.T) {
	handler := RequireIdempotencyKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called without an idempotency key")
	}))

	req := httptest.NewRequest(http.MethodPost, "/subscriptions", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}

	if detail := decodeErrorEnvelope(t, rr); detail.Code != "missing_idempotency_key" {
		t.Errorf("expected error code missing_idempotency_key, got %q", detail.Code)
	}
}

func TestRequireIdempotencyKey_KeyTooLong(t *testing.T) {
	handler := RequireIdempotencyKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called with an oversized key")
	}))

	req := httptest.NewRequest(http.MethodPost, "/subscriptions", nil)
	req.Header.Set(IdempotencyKeyHeader, strings.Repeat("x", 256))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}

	if detail := decodeErrorEnvelope(t, rr); detail.Code != "idempotency_key_too_long" {
		t.Errorf("expected error code idempotency_key_too_long, got %q", detail.Code)
	}
}

func TestRequireIdempotencyKey_MaxLengthKeyAllowed(t *testing.T) {
	handler := RequireIdempotencyKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/subscriptions", nil)
	req.Header.Set(IdempotencyKeyHeader, strings.Repeat("x", 255))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 255-character key to be accepted, got status %d", rr.Code)
	}
}

func TestGetIdempotencyKey_EmptyContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/subscriptions", nil)
	if key := GetIdempotencyKey(req.Context()); key != "" {
		t.Errorf("expected empty string, got %q", key)
	}
}
