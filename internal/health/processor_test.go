package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProcessorChecker_Creation(t *testing.T) {
	url := "https://status.processor.example.com"

	checker := NewProcessorChecker(url)
	if checker == nil {
		t.Fatal("expected checker to be non-nil")
	}

	if checker.url != url {
		t.Errorf("expected checker url to be %s, got %s", url, checker.url)
	}

	if checker.client == nil {
		t.Error("expected HTTP client to be initialized")
	}

	if checker.client.Timeout == 0 {
		t.Error("expected HTTP client timeout to be set")
	}
}

func TestProcessorChecker_EmptyURL(t *testing.T) {
	checker := NewProcessorChecker("")

	err := checker.HealthCheck(context.Background())
	if err == nil {
		t.Error("expected error with empty URL")
	}

	expectedMsg := "processor url not configured"
	if err.Error() != expectedMsg {
		t.Errorf("expected error message %q, got %q", expectedMsg, err.Error())
	}
}

func TestProcessorChecker_SuccessfulResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewProcessorChecker(server.URL)

	if err := checker.HealthCheck(context.Background()); err != nil {
		t.Errorf("expected no error for 200 OK response, got %v", err)
	}
}

func TestProcessorChecker_ErrorResponse(t *testing.T) {
	testCases := []struct {
		name       string
		statusCode int
	}{
		{"404 Not Found", http.StatusNotFound},
		{"500 Internal Server Error", http.StatusInternalServerError},
		{"503 Service Unavailable", http.StatusServiceUnavailable},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
			}))
			defer server.Close()

			checker := NewProcessorChecker(server.URL)

			if err := checker.HealthCheck(context.Background()); err == nil {
				t.Errorf("expected error for status %d", tc.statusCode)
			}
		})
	}
}

func TestProcessorChecker_Unreachable(t *testing.T) {
	// Nothing listens on this port.
	checker := NewProcessorChecker("http://localhost:1")

	if err := checker.HealthCheck(context.Background()); err == nil {
		t.Error("expected error for unreachable server")
	}
}
