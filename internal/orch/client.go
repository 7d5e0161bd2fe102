// Package orch speaks to the external container-orchestration layer. The
// core only issues "stop workers" and "isolate network" commands and reads
// back acknowledgments; scheduling and container lifecycle stay outside.
package orch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single orchestration call. The kill deadline is
// one second; a slower orchestration API simply loses the race to the other
// two paths.
const DefaultTimeout = 2 * time.Second

// Client is an HTTP client for the orchestration API.
type Client struct {
	baseURL string
	http    *http.Client
}

// StopResult is the orchestration layer's acknowledgment of a stop request.
type StopResult struct {
	Stopped []string `json:"stopped"`
	Failed  []string `json:"failed,omitempty"`
}

// NewClient creates an orchestration client. timeout <= 0 uses the default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// StopWorkers instructs the orchestration layer to forcibly stop the given
// worker units and returns its acknowledgment.
func (c *Client) StopWorkers(ctx context.Context, agentIDs []string) (*StopResult, error) {
	body, err := json.Marshal(map[string]any{"agent_ids": agentIDs})
	if err != nil {
		return nil, fmt.Errorf("orch: marshal stop request: %w", err)
	}

	data, err := c.post(ctx, "/v1/workers/stop", body)
	if err != nil {
		return nil, err
	}

	var res StopResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("orch: parse stop response: %w", err)
	}
	return &res, nil
}

// IsolateNetwork instructs the orchestration layer to cut worker network
// access, containing agents that refuse to stop.
func (c *Client) IsolateNetwork(ctx context.Context) error {
	_, err := c.post(ctx, "/v1/network/isolate", []byte("{}"))
	return err
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("orch: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("orch: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("orch: %s: HTTP %d", path, resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("orch: read response: %w", err)
	}
	return buf.Bytes(), nil
}
