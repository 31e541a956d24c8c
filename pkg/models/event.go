// Package models contains the core domain types shared across warden's
// trigger loop, context window, reasoners, executor, and issue tracker.
package models

import (
	"fmt"
	"hash/fnv"
	"time"
)

// Severity classifies how urgent an observation is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Bucket returns the numeric debounce bucket for a severity. Events that
// differ only within a bucket share a fingerprint; a severity jump to a
// higher bucket produces a new fingerprint and is not debounced away.
func (s Severity) Bucket() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is a known severity value.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// AtLeast reports whether s is at least as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Bucket() >= min.Bucket()
}

// TriggerKind identifies which probe produced a trigger event.
type TriggerKind string

const (
	KindLogPattern      TriggerKind = "log_pattern"
	KindMetricThreshold TriggerKind = "metric_threshold"
	KindServiceState    TriggerKind = "service_state"
	KindClassifier      TriggerKind = "classifier"
)

// TriggerEvent is an immutable observation emitted by the trigger loop.
// Events are fingerprinted for debouncing before admission to the context
// window and the issue tracker.
type TriggerEvent struct {
	Timestamp   time.Time         `json:"timestamp"`
	Kind        TriggerKind       `json:"kind"`
	Severity    Severity          `json:"severity"`
	Subject     string            `json:"subject"`
	Reason      string            `json:"reason"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Fingerprint string            `json:"fingerprint"`
}

// NewTriggerEvent builds an event and stamps its fingerprint.
func NewTriggerEvent(kind TriggerKind, severity Severity, subject, reason string, metadata map[string]string) TriggerEvent {
	return TriggerEvent{
		Timestamp:   time.Now().UTC(),
		Kind:        kind,
		Severity:    severity,
		Subject:     subject,
		Reason:      reason,
		Metadata:    metadata,
		Fingerprint: EventFingerprint(kind, subject, severity),
	}
}

// EventFingerprint returns the deterministic debounce key for
// (kind, subject, severity bucket). Stable across restarts.
func EventFingerprint(kind TriggerKind, subject string, severity Severity) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d", kind, subject, severity.Bucket())
	return fmt.Sprintf("%016x", h.Sum64())
}
