package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// ProcessorChecker implements health checking for the payment processor's
// API endpoint. A readiness failure here means new payments cannot start;
// already-created intents and sessions settle via webhooks regardless.
type ProcessorChecker struct {
	url    string
	client *http.Client
}

// NewProcessorChecker creates a new processor health checker. The url should
// be a cheap unauthenticated endpoint (e.g. the processor's status page).
func NewProcessorChecker(url string) *ProcessorChecker {
	return &ProcessorChecker{
		url: url,
		client: &http.Client{
			Timeout: 3 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// HealthCheck reports whether the processor endpoint is reachable.
func (p *ProcessorChecker) HealthCheck(ctx context.Context) error {
	if p.url == "" {
		return fmt.Errorf("processor url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach payment processor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("payment processor returned status %d", resp.StatusCode)
	}
	return nil
}
