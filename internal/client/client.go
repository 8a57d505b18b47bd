// Package client calls a remote flulink server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/flulink/engine/internal/engine"
)

const (
	defaultServerURL = "http://127.0.0.1:37778"
	// httpTimeout sits above the router's 30s dispatch budget.
	httpTimeout = 35 * time.Second
)

// Client talks to the flulink HTTP API.
type Client struct {
	http      *http.Client
	serverURL string
}

// New creates a client for serverURL. Empty falls back to FLULINK_URL, then
// http://127.0.0.1:37778.
func New(serverURL string) *Client {
	if serverURL == "" {
		serverURL = os.Getenv("FLULINK_URL")
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: strings.TrimRight(serverURL, "/"),
	}
}

// Dispatch posts {action, data} to /api/agentrouter and returns the raw
// result. Server-side failures come back as *engine.Error.
func (c *Client) Dispatch(ctx context.Context, action string, data json.RawMessage) (json.RawMessage, error) {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	body, err := json.Marshal(struct {
		Action string          `json:"action"`
		Data   json.RawMessage `json:"data"`
	}{action, data})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/api/agentrouter", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, engine.Wrap(engine.KindUnavailable, err, "POST %s", req.URL.Path)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, decodeError(resp.StatusCode, out)
	}
	return out, nil
}

func decodeError(status int, body []byte) error {
	var eb struct {
		Error engine.Error `json:"error"`
	}
	if err := json.Unmarshal(body, &eb); err != nil || eb.Error.Kind == "" {
		return fmt.Errorf("status %d: %s", status, bytes.TrimSpace(body))
	}
	return &engine.Error{Kind: eb.Error.Kind, Message: eb.Error.Message}
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/api/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
