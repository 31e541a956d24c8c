package models

import (
	"slices"
	"time"
)

// IssueStatus is the lifecycle state of a tracked issue.
type IssueStatus string

const (
	IssueOpen          IssueStatus = "open"
	IssueInvestigating IssueStatus = "investigating"
	IssueResolved      IssueStatus = "resolved"
	IssueClosed        IssueStatus = "closed"
)

// Active reports whether the issue still demands attention.
func (s IssueStatus) Active() bool {
	return s == IssueOpen || s == IssueInvestigating
}

// Investigation is one reasoning pass recorded against an issue. Past
// investigations are fed back into meta prompts so the deep tier does not
// repeat work.
type Investigation struct {
	At       time.Time `json:"at"`
	Origin   Origin    `json:"origin"`
	Summary  string    `json:"summary"`
	Findings string    `json:"findings,omitempty"`
}

// ActionRef links an issue to an action taken (or queued) for it.
type ActionRef struct {
	ActionID string      `json:"action_id"`
	At       time.Time   `json:"at"`
	Status   QueueStatus `json:"status"`
	Summary  string      `json:"summary"`
}

// Issue is a correlated, long-lived problem record. Trigger events with a
// matching fingerprint attach to an existing active issue instead of
// opening a new one.
type Issue struct {
	ID             string          `json:"id"`
	Host           string          `json:"host"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Severity       Severity        `json:"severity"`
	Status         IssueStatus     `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Fingerprints   []string        `json:"fingerprints"`
	EventCount     int             `json:"event_count"`
	Investigations []Investigation `json:"investigations,omitempty"`
	Actions        []ActionRef     `json:"actions,omitempty"`
	Resolution     string          `json:"resolution,omitempty"`
}

// Matches reports whether the fingerprint belongs to this issue.
func (i *Issue) Matches(fingerprint string) bool {
	return slices.Contains(i.Fingerprints, fingerprint)
}

// Touch records another event against the issue, raising severity when the
// new event is more severe. Severity never decreases on its own.
func (i *Issue) Touch(severity Severity, now time.Time) {
	i.EventCount++
	i.UpdatedAt = now
	if severity.Bucket() > i.Severity.Bucket() {
		i.Severity = severity
	}
}
