package models

import (
	"fmt"
	"strings"
	"time"
)

// ActionKind identifies what an action does to the host.
type ActionKind string

const (
	ActionServiceRestart ActionKind = "service_restart"
	ActionCleanup        ActionKind = "cleanup"
	ActionInvestigation  ActionKind = "investigation"
	ActionConfigChange   ActionKind = "config_change"
	ActionRebuild        ActionKind = "rebuild"
)

// Risk grades how invasive an action is. The autonomy level decides which
// risk grades execute without operator approval.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Rank orders risks from least to most invasive. Unknown values rank
// highest so a malformed reasoner response never slips past the gate.
func (r Risk) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	}
	return 2
}

// Origin records which reasoner (or human) proposed an action.
type Origin string

const (
	OriginReview Origin = "review"
	OriginMeta   Origin = "meta"
	OriginUser   Origin = "user"
)

// ProposedAction is a remediation step suggested by a reasoner. It carries
// enough detail for the policy gate to grade it and for the executor to
// run it without consulting the reasoner again.
type ProposedAction struct {
	ID           string     `json:"id"`
	Subject      string     `json:"subject"`
	Description  string     `json:"description"`
	Kind         ActionKind `json:"kind"`
	Commands     []string   `json:"commands,omitempty"`
	Risk         Risk       `json:"risk"`
	Rationale    string     `json:"rationale,omitempty"`
	RollbackPlan string     `json:"rollback_plan,omitempty"`
	Origin       Origin     `json:"origin"`
}

// Describe renders a one-line summary for queue listings and notifications.
func (a ProposedAction) Describe() string {
	if len(a.Commands) > 0 {
		return fmt.Sprintf("[%s/%s] %s: %s", a.Kind, a.Risk, a.Subject, strings.Join(a.Commands, " && "))
	}
	return fmt.Sprintf("[%s/%s] %s: %s", a.Kind, a.Risk, a.Subject, a.Description)
}

// QueueStatus is the lifecycle state of a queued action.
type QueueStatus string

const (
	StatusPending  QueueStatus = "pending"
	StatusApproved QueueStatus = "approved"
	StatusRejected QueueStatus = "rejected"
	StatusExecuted QueueStatus = "executed"
	StatusFailed   QueueStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s QueueStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusExecuted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal step in
// the action lifecycle. Pending actions may be approved or rejected;
// approved actions end up executed or failed. Everything else is frozen.
func (s QueueStatus) CanTransition(next QueueStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusRejected
	case StatusApproved:
		return next == StatusExecuted || next == StatusFailed
	}
	return false
}

// Decision records who settled a pending action and when.
type Decision struct {
	At   time.Time `json:"at"`
	By   string    `json:"by"`
	Note string    `json:"note,omitempty"`
}

// ActionResult captures what happened when the executor ran an action.
type ActionResult struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	ExitStatus int           `json:"exit_status"`
	Stdout     string        `json:"stdout,omitempty"`
	Stderr     string        `json:"stderr,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// QueuedAction is a proposed action plus its queue bookkeeping. Seq is a
// monotonic per-queue counter that orders the persistence journal.
type QueuedAction struct {
	ProposedAction
	Seq      uint64        `json:"seq"`
	QueuedAt time.Time     `json:"queued_at"`
	Status   QueueStatus   `json:"status"`
	Decision *Decision     `json:"decision,omitempty"`
	Result   *ActionResult `json:"result,omitempty"`
}

// Transition moves the action to next, returning an error when the step is
// not legal from the current status.
func (q *QueuedAction) Transition(next QueueStatus) error {
	if !q.Status.CanTransition(next) {
		return fmt.Errorf("action %s: illegal transition %s -> %s", q.ID, q.Status, next)
	}
	q.Status = next
	return nil
}
