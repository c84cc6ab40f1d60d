package connect

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Relay endpoints.
const (
	pathStart  = "/api/session/start"
	pathClose  = "/api/session/close"
	pathStream = "/api/session/stream"
)

// ControlClient issues the out-of-band start and close requests.
type ControlClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewControlClient(baseURL string, hc *http.Client) *ControlClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &ControlClient{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: hc}
}

// Start asks the relay for a new remote session. Any non-2xx response is an error.
func (c *ControlClient) Start(ctx context.Context) error {
	return c.post(ctx, pathStart)
}

// Close asks the relay to end the current remote session.
func (c *ControlClient) Close(ctx context.Context) error {
	return c.post(ctx, pathClose)
}

// StreamURL is the websocket address of the relay's stream endpoint.
func (c *ControlClient) StreamURL() string {
	u := c.BaseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + pathStream
}

func (c *ControlClient) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}
