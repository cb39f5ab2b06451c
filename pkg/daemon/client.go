// Package daemon provides a client for the perch daemon's HTTP API over its
// Unix socket.
package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	perrors "github.com/perchtools/perch/errors"
	"github.com/perchtools/perch/internal/daemon/journal"
	"github.com/perchtools/perch/internal/tracker"
)

// baseURL is the dummy host used for Unix socket HTTP requests.
// The actual connection goes through the Unix socket, not this URL.
const baseURL = "http://unix"

// Client talks to a running perchd over its Unix socket.
type Client struct {
	httpClient *http.Client
	socketPath string
}

// NewClient creates a Client for the daemon socket at socketPath.
func NewClient(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}
	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: 10 * time.Second},
		socketPath: socketPath,
	}
}

// IsRunning returns true if the daemon answers its health check.
func (c *Client) IsRunning() bool {
	resp, err := c.httpClient.Get(baseURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Agents returns the daemon's current agent table.
func (c *Client) Agents(ctx context.Context) ([]tracker.AgentSnapshot, error) {
	var agents []tracker.AgentSnapshot
	if err := c.getJSON(ctx, "/api/agents", &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// History returns journaled events, newest first.
func (c *Client) History(ctx context.Context, projectKey string, limit int) ([]journal.Entry, error) {
	path := fmt.Sprintf("/api/history?limit=%d", limit)
	if projectKey != "" {
		path += "&project=" + projectKey
	}
	var entries []journal.Entry
	if err := c.getJSON(ctx, path, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// LaunchResult is the daemon's answer to a launch request.
type LaunchResult struct {
	AgentID   int    `json:"agent_id"`
	SessionID string `json:"session_id"`
}

// Launch asks the daemon to start a new session on a node.
func (c *Client) Launch(ctx context.Context, node, dir string) (*LaunchResult, error) {
	body, err := json.Marshal(map[string]string{"node": node, "dir": dir})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/launch", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, perrors.Wrap(err, perrors.ErrCodeDaemonNotRunning, "daemon not reachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, perrors.Newf(perrors.ErrCodeLaunchFailed, "daemon returned status %d", resp.StatusCode)
	}
	var result LaunchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode launch response: %w", err)
	}
	return &result, nil
}

// StreamFrame is one frame from the daemon's event stream: either the
// initial snapshot or a single engine event.
type StreamFrame struct {
	FrameType string                  `json:"frame_type"`
	Agents    []tracker.AgentSnapshot `json:"agents,omitempty"`
	Event     *tracker.Event          `json:"event,omitempty"`
}

// Stream subscribes to the daemon's SSE endpoint. The returned channel
// closes when the context is cancelled or the connection drops.
func (c *Client) Stream(ctx context.Context) (<-chan StreamFrame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/stream", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// Streaming outlives the default client timeout.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, perrors.Wrap(err, perrors.ErrCodeDaemonNotRunning, "daemon not reachable")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, perrors.Newf(perrors.ErrCodeDaemonUnhealthy, "daemon returned status %d", resp.StatusCode)
	}

	frames := make(chan StreamFrame, 16)
	go func() {
		defer close(frames)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var frame StreamFrame
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
				continue
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
	return frames, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return perrors.Wrap(err, perrors.ErrCodeDaemonNotRunning, "daemon not reachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return perrors.Newf(perrors.ErrCodeDaemonUnhealthy, "daemon returned status %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
