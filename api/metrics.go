package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rescp17/callKit/pkg/call"
)

// Metrics submits opaque feedback payloads to the metrics endpoint. The
// SDK never inspects the payload; it is a pass-through for consumers.
type Metrics struct {
	client *Client
}

// NewMetrics creates a feedback submitter on top of an API client.
func NewMetrics(client *Client) *Metrics {
	return &Metrics{client: client}
}

// Submit posts one feedback payload.
func (m *Metrics) Submit(ctx context.Context, payload any) error {
	body, err := jsonBody(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.client.baseURL+"/metrics", body)
	if err != nil {
		return fmt.Errorf("failed to create metrics request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("metrics submission failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("metrics endpoint responded %s", resp.Status)
	}
	return nil
}

var _ call.MetricsCollector = (*Metrics)(nil)
