package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	gotifyTimeout = 10 * time.Second
	timeRound     = 100 * time.Millisecond
)

// Gotify's numeric priority scale: >=8 pushes through quiet hours on
// most clients, 5 is a normal banner, 2 is silent.
var gotifyPriorities = map[Priority]int{
	PriorityLow:    2,
	PriorityMedium: 5,
	PriorityHigh:   8,
}

// GotifyBackend posts messages to a Gotify server.
type GotifyBackend struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewGotifyBackend returns a Gotify backend, or nil when the URL or
// token is empty.
func NewGotifyBackend(baseURL, token string) *GotifyBackend {
	if baseURL == "" || token == "" {
		return nil
	}
	return &GotifyBackend{
		httpClient: &http.Client{Timeout: gotifyTimeout},
		baseURL:    baseURL,
		token:      token,
	}
}

// Name identifies the backend in delivery-failure logs.
func (g *GotifyBackend) Name() string { return "gotify" }

type gotifyMessage struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority int    `json:"priority"`
}

// Send posts one message to the Gotify /message endpoint.
func (g *GotifyBackend) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(gotifyMessage{
		Title:    n.Title,
		Message:  n.Body,
		Priority: gotifyPriorities[n.Priority],
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/message", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gotify returned HTTP %d", resp.StatusCode)
	}
	return nil
}
