package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/wardenlabs/warden/pkg/models"
)

// ErrDaemonDown reports that no daemon answered on the control address.
// The CLI falls back to reading state files directly when it sees this.
var ErrDaemonDown = errors.New("warden daemon not reachable")

// Client talks to a running daemon's control API.
type Client struct {
	base string
	http *http.Client
}

// NewClient builds a client for the daemon listening on addr
// (host:port, no scheme).
func NewClient(addr string) *Client {
	return &Client{
		base: "http://" + addr,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthz reports whether a daemon answers on the control address.
func (c *Client) Healthz(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Status fetches the daemon status summary.
func (c *Client) Status(ctx context.Context) (*models.StatusResponse, error) {
	var resp models.StatusResponse
	if err := c.call(ctx, http.MethodGet, "/v1/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Queue lists all known actions with the pending depth.
func (c *Client) Queue(ctx context.Context) (*models.QueueListResponse, error) {
	var resp models.QueueListResponse
	if err := c.call(ctx, http.MethodGet, "/v1/queue", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Approve settles a pending action as approved, which also executes it.
func (c *Client) Approve(ctx context.Context, id, by, note string) (*models.QueuedAction, error) {
	return c.decide(ctx, id, "approve", by, note)
}

// Reject settles a pending action as rejected.
func (c *Client) Reject(ctx context.Context, id, by, note string) (*models.QueuedAction, error) {
	return c.decide(ctx, id, "reject", by, note)
}

func (c *Client) decide(ctx context.Context, id, verb, by, note string) (*models.QueuedAction, error) {
	var action models.QueuedAction
	path := fmt.Sprintf("/v1/queue/%s/%s", id, verb)
	if err := c.call(ctx, http.MethodPost, path, models.DecideRequest{By: by, Note: note}, &action); err != nil {
		return nil, err
	}
	return &action, nil
}

// Issues lists tracked issues, optionally filtered by status.
func (c *Client) Issues(ctx context.Context, status string) (*models.IssueListResponse, error) {
	path := "/v1/issues"
	if status != "" {
		path += "?status=" + status
	}
	var resp models.IssueListResponse
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Chat runs one conversational turn against the daemon's deep tier.
func (c *Client) Chat(ctx context.Context, sessionID, message string) (*models.ChatResponse, error) {
	var resp models.ChatResponse
	req := models.ChatRequest{SessionID: sessionID, Message: message}
	if err := c.call(ctx, http.MethodPost, "/v1/chat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Notify sends an operator-authored notification through the daemon.
func (c *Client) Notify(ctx context.Context, title, body, priority string) error {
	req := models.NotifyRequest{Title: title, Body: body, Priority: priority}
	return c.call(ctx, http.MethodPost, "/v1/notify", req, nil)
}

// call runs one request. Connection failures map to ErrDaemonDown;
// non-2xx responses surface the server's error message.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr *net.OpError
		if errors.As(err, &netErr) {
			return fmt.Errorf("%w: %s", ErrDaemonDown, c.base)
		}
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var remote struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &remote) == nil && remote.Error != "" {
			return fmt.Errorf("daemon: %s (HTTP %d)", remote.Error, resp.StatusCode)
		}
		return fmt.Errorf("daemon: HTTP %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(payload, out)
}
