// Package worker holds the transports that hand a generation to the
// asynchronous transformation worker. The worker's algorithm is an
// external collaborator; only the invocation contract lives here, and
// an invocation error means enqueueing failed, nothing more.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"stagehand/internal/engine"
)

// HTTPInvoker calls the worker's function endpoint with the invocation
// payload. It mirrors an edge-function style collaborator: one POST,
// 2xx means the job is accepted for processing.
type HTTPInvoker struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPInvoker builds an invoker for the given function URL. client
// may be nil, in which case a 30s-timeout client is used.
func NewHTTPInvoker(baseURL, apiKey string, client *http.Client) *HTTPInvoker {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPInvoker{baseURL: baseURL, apiKey: apiKey, client: client}
}

// Invoke implements engine.Invoker.
func (c *HTTPInvoker) Invoke(ctx context.Context, req engine.InvokeRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("worker: marshal invocation: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("worker: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("worker: invoke: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("worker: invoke returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
