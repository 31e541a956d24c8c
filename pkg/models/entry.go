package models

import "time"

// EntryKind identifies what a context window entry holds.
type EntryKind string

const (
	EntrySystemHeader   EntryKind = "system_header"
	EntryTriggerEvent   EntryKind = "trigger_event"
	EntryMetricSummary  EntryKind = "metric_summary"
	EntryActivityReport EntryKind = "activity_report"
	EntryReviewSummary  EntryKind = "review_summary"
	EntryMetaAnalysis   EntryKind = "meta_analysis"
	EntryActionOutcome  EntryKind = "action_outcome"
	EntrySummary        EntryKind = "summary"
)

// ContextEntry is one item in the rolling context window. TokenCount is
// computed by the producer at construction time and never recounted; the
// window trusts it when enforcing the budget.
type ContextEntry struct {
	ID           string    `json:"id"`
	Kind         EntryKind `json:"kind"`
	Timestamp    time.Time `json:"timestamp"`
	Body         string    `json:"body"`
	TokenCount   int       `json:"token_count"`
	Compressible bool      `json:"compressible"`
	Fingerprint  string    `json:"fingerprint,omitempty"`

	// Coalescing bookkeeping: Count>1 means this entry stands for a run
	// of events sharing Fingerprint, spanning FirstSeen..LastSeen.
	Count     int        `json:"count,omitempty"`
	FirstSeen *time.Time `json:"first_seen,omitempty"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

// Age returns how long the entry has been in the window relative to now.
func (e ContextEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}
