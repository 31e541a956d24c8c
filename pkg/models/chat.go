package models

import "time"

// ChatRequest asks the daemon for one conversational turn. An empty
// SessionID starts a new session.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message" binding:"required"`
}

// ChatResponse carries the assistant reply and the session handle the
// client should reuse for follow-up turns.
type ChatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

// DecideRequest approves or rejects a pending queued action.
type DecideRequest struct {
	By   string `json:"by"`
	Note string `json:"note,omitempty"`
}

// NotifyRequest sends an operator-authored notification through the
// daemon's notifier.
type NotifyRequest struct {
	Title    string `json:"title" binding:"required"`
	Body     string `json:"body" binding:"required"`
	Priority string `json:"priority,omitempty"`
}

// QueueListResponse lists queued actions in submission order.
type QueueListResponse struct {
	Actions []QueuedAction `json:"actions"`
	Pending int            `json:"pending"`
}

// IssueListResponse lists tracked issues.
type IssueListResponse struct {
	Issues []*Issue `json:"issues"`
}

// StatusResponse summarizes daemon state for `warden check` and the
// status endpoint.
type StatusResponse struct {
	Host          string       `json:"host"`
	Version       string       `json:"version"`
	StartedAt     time.Time    `json:"started_at"`
	Autonomy      string       `json:"autonomy"`
	Health        HealthStatus `json:"health"`
	LastReviewAt  time.Time    `json:"last_review_at,omitempty"`
	WindowTokens  int          `json:"window_tokens"`
	WindowEntries int          `json:"window_entries"`
	OpenIssues    int          `json:"open_issues"`
	PendingCount  int          `json:"pending_count"`
	TriggerStats  TriggerStats `json:"trigger_stats"`
}

// TriggerStats counts what the trigger loop has done since start.
type TriggerStats struct {
	Ticks           uint64 `json:"ticks"`
	EventsAdmitted  uint64 `json:"events_admitted"`
	EventsDebounced uint64 `json:"events_debounced"`
	PatternsMatched uint64 `json:"patterns_matched"`
	ClassifierCalls uint64 `json:"classifier_calls"`
}
