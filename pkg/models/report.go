package models

import "time"

// HealthStatus is the overall verdict a review cycle assigns to the host.
type HealthStatus string

const (
	HealthHealthy         HealthStatus = "healthy"
	HealthAttentionNeeded HealthStatus = "attention_needed"
	HealthCritical        HealthStatus = "critical"
)

// Valid reports whether h is a known health status.
func (h HealthStatus) Valid() bool {
	switch h {
	case HealthHealthy, HealthAttentionNeeded, HealthCritical:
		return true
	}
	return false
}

// ReviewIssue is one problem called out inside a review report.
type ReviewIssue struct {
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
}

// ReviewReport is the JSON document the review tier must emit each cycle.
type ReviewReport struct {
	Status           HealthStatus     `json:"status"`
	Assessment       string           `json:"assessment"`
	Issues           []ReviewIssue    `json:"issues"`
	Actions          []ProposedAction `json:"actions"`
	Escalate         bool             `json:"escalate"`
	EscalationReason string           `json:"escalation_reason,omitempty"`
}

// MetaReport is the structured part of a meta analysis: the deep tier
// responds with free-form analysis plus a fenced JSON actions block that
// parses into this.
type MetaReport struct {
	Analysis   string           `json:"analysis"`
	RootCause  string           `json:"root_cause"`
	Actions    []ProposedAction `json:"actions"`
	Preventive []string         `json:"preventive,omitempty"`
}

// IOStats summarizes block-device activity from a system activity report.
type IOStats struct {
	TPS      float64 `json:"tps"`
	ReadKBs  float64 `json:"read_kbs"`
	WriteKBs float64 `json:"write_kbs"`
}

// NetStats summarizes interface throughput from a system activity report.
type NetStats struct {
	RxKBs float64 `json:"rx_kbs"`
	TxKBs float64 `json:"tx_kbs"`
}

// ActivityReport is a parsed system activity collection. Available is
// false when the collector tooling is missing; such reports are never
// admitted to the context window.
type ActivityReport struct {
	CollectedAt time.Time `json:"collected_at"`
	Available   bool      `json:"available"`
	CPUPct      float64   `json:"cpu_pct"`
	MemPct      float64   `json:"mem_pct"`
	IO          IOStats   `json:"io"`
	Net         NetStats  `json:"net"`
	Rendered    string    `json:"rendered"`
}

// Fresh reports whether the report is younger than maxAge relative to now.
func (r ActivityReport) Fresh(now time.Time, maxAge time.Duration) bool {
	return r.Available && now.Sub(r.CollectedAt) <= maxAge
}
