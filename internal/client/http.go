// Package client talks to a running vhs service over its ops HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/postfiatorg/validator-history-service/internal/cycle"
)

// HTTPClient calls the /v1 endpoints of a vhs service.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		// A triggered cycle holds the request open until it finishes.
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

// Health is the body of GET /v1/health.
type Health struct {
	Status       string `json:"status"`
	CycleRunning bool   `json:"cycle_running"`
	LastCycle    string `json:"last_cycle,omitempty"`
}

// Health reports whether the service is up and whether a cycle is in flight.
func (c *HTTPClient) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// LastCycle returns the report of the most recent completed cycle.
func (c *HTTPClient) LastCycle(ctx context.Context) (*cycle.Report, error) {
	var rep cycle.Report
	if err := c.doJSON(ctx, http.MethodGet, "/v1/cycle", nil, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// RunCycle triggers a cycle and waits for its report. A cycle already in
// progress yields an *APIError with status 409.
func (c *HTTPClient) RunCycle(ctx context.Context) (*cycle.Report, error) {
	var rep cycle.Report
	if err := c.doJSON(ctx, http.MethodPost, "/v1/cycle", nil, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
