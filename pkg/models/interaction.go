package models

import "time"

// DecisionRecord is one line in the decisions audit log: what a reasoner
// concluded, which actions it produced, and how they fared. The log is the
// operator's answer to "why did the daemon do that".
type DecisionRecord struct {
	At         time.Time    `json:"at"`
	Origin     Origin       `json:"origin"`
	Tier       string       `json:"tier"`
	Model      string       `json:"model"`
	Status     HealthStatus `json:"status,omitempty"`
	Assessment string       `json:"assessment"`
	ActionIDs  []string     `json:"action_ids,omitempty"`
	Escalated  bool         `json:"escalated,omitempty"`
	DurationMs int64        `json:"duration_ms"`
	Error      string       `json:"error,omitempty"`
}

// Learning is one piece of operational knowledge distilled after a
// successful remediation, stored in the semantic knowledge collection.
type Learning struct {
	Topic      string  `json:"topic"`
	Knowledge  string  `json:"knowledge"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}
