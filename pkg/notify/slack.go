package notify

import (
	"context"
	"fmt"
	"time"

	goslack "github.com/slack-go/slack"
)

const slackTimeout = 10 * time.Second

// SlackBackend posts messages to a Slack channel through the Web API.
type SlackBackend struct {
	api     *goslack.Client
	channel string
}

// NewSlackBackend returns a Slack backend, or nil when the token or
// channel is empty.
func NewSlackBackend(token, channel string) *SlackBackend {
	if token == "" || channel == "" {
		return nil
	}
	return &SlackBackend{
		api:     goslack.New(token),
		channel: channel,
	}
}

// NewSlackBackendWithAPIURL targets a custom API URL. Useful for testing
// with a mock server.
func NewSlackBackendWithAPIURL(token, channel, apiURL string) *SlackBackend {
	return &SlackBackend{
		api:     goslack.New(token, goslack.OptionAPIURL(apiURL)),
		channel: channel,
	}
}

// Name identifies the backend in delivery-failure logs.
func (b *SlackBackend) Name() string { return "slack" }

// Send posts one message to the configured channel. High-priority
// notifications mention the channel so they break through muted views.
func (b *SlackBackend) Send(ctx context.Context, n Notification) error {
	ctx, cancel := context.WithTimeout(ctx, slackTimeout)
	defer cancel()

	text := fmt.Sprintf("*%s*\n%s", n.Title, n.Body)
	if n.Priority == PriorityHigh {
		text = "<!channel> " + text
	}

	_, _, err := b.api.PostMessageContext(ctx, b.channel,
		goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return nil
}
