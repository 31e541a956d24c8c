// Package notify delivers operator notifications through Gotify and
// Slack. The service is nil-safe and fail-open: a host with neither
// backend configured gets a nil service, and delivery failures are
// logged, never returned, so notification trouble cannot stall the
// monitoring pipeline.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/models"
)

// Priority grades how urgently a notification should reach the operator.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Notification is one message to the operator.
type Notification struct {
	Title    string
	Body     string
	Priority Priority
}

// Backend delivers notifications to one sink.
type Backend interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Service fans notifications out to every configured backend.
// Nil-safe: all methods are no-ops when the service is nil.
type Service struct {
	backends []Backend
	logger   *slog.Logger
}

// NewService builds a service from the notification config. Returns nil
// when no backend is configured.
func NewService(gotify config.GotifyConfig, slack config.SlackConfig) *Service {
	var backends []Backend
	if g := NewGotifyBackend(gotify.URL, gotify.Token); g != nil {
		backends = append(backends, g)
	}
	if sl := NewSlackBackend(slack.Token, slack.Channel); sl != nil {
		backends = append(backends, sl)
	}
	return NewServiceWithBackends(backends...)
}

// NewServiceWithBackends builds a service over pre-built backends.
// Useful for testing with mock servers. Returns nil when none are given.
func NewServiceWithBackends(backends ...Backend) *Service {
	if len(backends) == 0 {
		return nil
	}
	return &Service{
		backends: backends,
		logger:   slog.Default().With("component", "notify"),
	}
}

// Send delivers a notification to every backend. Fail-open: errors are
// logged per backend, never returned.
func (s *Service) Send(ctx context.Context, title, body string, priority Priority) {
	if s == nil {
		return
	}
	if !priority.Valid() {
		priority = PriorityMedium
	}
	n := Notification{Title: title, Body: body, Priority: priority}
	for _, backend := range s.backends {
		if err := backend.Send(ctx, n); err != nil {
			s.logger.Warn("Notification delivery failed",
				"backend", backend.Name(), "title", title, "error", err)
		}
	}
}

// IssueCreated announces a newly tracked issue. Priority follows the
// issue severity.
func (s *Service) IssueCreated(ctx context.Context, issue *models.Issue) {
	if s == nil {
		return
	}
	priority := PriorityMedium
	if issue.Severity == models.SeverityCritical {
		priority = PriorityHigh
	} else if issue.Severity == models.SeverityInfo {
		priority = PriorityLow
	}
	s.Send(ctx,
		fmt.Sprintf("New issue on %s", issue.Host),
		fmt.Sprintf("[%s] %s\n%s", issue.Severity, issue.Title, issue.Description),
		priority)
}

// ActionQueued announces an action waiting for operator approval.
func (s *Service) ActionQueued(ctx context.Context, action *models.QueuedAction) {
	if s == nil {
		return
	}
	s.Send(ctx,
		"Action awaiting approval",
		fmt.Sprintf("%s\nid: %s\napprove with: warden approve %s",
			action.Describe(), action.ID, action.ID),
		PriorityMedium)
}

// ActionOutcome announces an executed or failed action. Failures go out
// at high priority.
func (s *Service) ActionOutcome(ctx context.Context, action *models.QueuedAction) {
	if s == nil || action.Result == nil {
		return
	}
	if action.Status == models.StatusExecuted {
		s.Send(ctx,
			"Action executed",
			fmt.Sprintf("%s\ncompleted in %s", action.Describe(), action.Result.Duration.Round(timeRound)),
			PriorityLow)
		return
	}
	s.Send(ctx,
		"Action failed",
		fmt.Sprintf("%s\nerror: %s", action.Describe(), action.Result.Error),
		PriorityHigh)
}

// PolicyRejected announces a terminal policy rejection.
func (s *Service) PolicyRejected(ctx context.Context, action *models.ProposedAction, reason string) {
	if s == nil {
		return
	}
	s.Send(ctx,
		"Action rejected by policy",
		fmt.Sprintf("%s\n%s", action.Describe(), reason),
		PriorityHigh)
}

// Escalation announces that the deep reasoner has been engaged.
func (s *Service) Escalation(ctx context.Context, reason, analysis string) {
	if s == nil {
		return
	}
	body := reason
	if analysis != "" {
		body = reason + "\n\n" + analysis
	}
	s.Send(ctx, "Escalated analysis", body, PriorityHigh)
}
