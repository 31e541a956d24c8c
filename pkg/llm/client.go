// Package llm is the shared chat-completion client for all reasoner
// tiers. One client serves every tier; retry and breaker state is kept
// per backend endpoint so a dead meta backend cannot block trigger
// classification running against another port.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/models"
)

const (
	completionsPath = "/chat/completions"
	modelsPath      = "/models"

	retryInitialInterval = 500 * time.Millisecond

	// The endpoint's breaker opens after this many consecutive failed
	// completions and probes again after breakerCooldown.
	breakerFailureThreshold = 5
	breakerCooldown         = 60 * time.Second

	pingTimeout = 5 * time.Second

	maxErrorBody = 512
)

// ErrBackendDown reports a fast-failed call: the endpoint's breaker is
// open and no request was sent. Callers skip the cycle instead of
// waiting out another round of timeouts.
var ErrBackendDown = errors.New("llm backend unavailable")

// ErrMalformedReply reports a completion that parsed as neither the
// expected JSON object nor a usable fallback, after any retry.
var ErrMalformedReply = errors.New("malformed llm reply")

// Client calls OpenAI-compatible chat-completion backends. Safe for
// concurrent use across reasoner tiers.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewClient returns a client with no tier bindings; every call names
// its tier explicitly.
func NewClient() *Client {
	return &Client{
		// Attempt deadlines come from each tier's timeout through the
		// request context, so the shared http.Client carries none.
		httpClient: &http.Client{},
		logger:     slog.Default().With("component", "llm"),
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Complete sends the conversation to the tier's backend and returns the
// assistant text. Transport and server-side failures are retried with
// exponential backoff up to tier.Retries extra attempts, each bounded
// by tier.Timeout. When the endpoint's breaker is open the call fails
// fast with ErrBackendDown.
func (c *Client) Complete(ctx context.Context, tier config.LLMTier, messages []models.Message) (string, error) {
	c.logger.Debug("Completion request",
		"tier", tier.Name, "model", tier.Model, "messages", len(messages))

	result, err := c.breaker(tier.BackendURL).Execute(func() (any, error) {
		return c.completeWithRetry(ctx, tier, messages)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: circuit open for %s", ErrBackendDown, tier.BackendURL)
		}
		return "", err
	}
	return result.(string), nil
}

func (c *Client) completeWithRetry(ctx context.Context, tier config.LLMTier, messages []models.Message) (string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval

	var text string
	operation := func() error {
		var err error
		text, err = c.complete(ctx, tier, messages)
		return err
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(tier.Retries)), ctx))
	if err != nil {
		return "", fmt.Errorf("%s completion: %w", tier.Name, err)
	}
	return text, nil
}

// complete is a single attempt against the backend.
func (c *Client) complete(ctx context.Context, tier config.LLMTier, messages []models.Message) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, tier.Timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:     tier.Model,
		Messages:  messages,
		MaxTokens: tier.MaxTokens,
	})
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost,
		tier.BackendURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post %s: %w", tier.BackendURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("backend status %d: %s", resp.StatusCode, truncate(respBody, maxErrorBody))
		// A bad model name or oversized prompt will not heal on retry.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return "", backoff.Permanent(statusErr)
		}
		return "", statusErr
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", backoff.Permanent(fmt.Errorf("backend error: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return parsed.Choices[0].Message.Content, nil
}

// Ping checks that the tier's backend answers its model listing. Used
// by startup checks and `warden check`; failures are reported, never
// fatal.
func (c *Client) Ping(ctx context.Context, tier config.LLMTier) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tier.BackendURL+modelsPath, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ping %s: %w", tier.BackendURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping %s: status %d", tier.BackendURL, resp.StatusCode)
	}
	return nil
}

// breaker returns the endpoint's circuit breaker, creating it on first
// use. Tiers sharing one backend URL share breaker state.
func (c *Client) breaker(endpoint string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[endpoint]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    endpoint,
		Timeout: breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("Backend circuit state changed",
				"endpoint", name, "from", from.String(), "to", to.String())
		},
	})
	c.breakers[endpoint] = cb
	return cb
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
