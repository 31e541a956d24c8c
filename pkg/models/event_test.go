package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventFingerprint(t *testing.T) {
	tests := []struct {
		name string
		a    TriggerEvent
		b    TriggerEvent
		same bool
	}{
		{
			name: "identical inputs collide",
			a:    NewTriggerEvent(KindLogPattern, SeverityWarning, "nginx", "segfault in worker", nil),
			b:    NewTriggerEvent(KindLogPattern, SeverityWarning, "nginx", "another segfault", nil),
			same: true,
		},
		{
			name: "reason does not affect the fingerprint",
			a:    NewTriggerEvent(KindMetricThreshold, SeverityWarning, "cpu_pct", "cpu_pct=93.2", nil),
			b:    NewTriggerEvent(KindMetricThreshold, SeverityWarning, "cpu_pct", "cpu_pct=97.8", nil),
			same: true,
		},
		{
			name: "severity bucket separates",
			a:    NewTriggerEvent(KindLogPattern, SeverityWarning, "oom", "near OOM", nil),
			b:    NewTriggerEvent(KindLogPattern, SeverityCritical, "oom", "oom-killer invoked", nil),
			same: false,
		},
		{
			name: "kind separates",
			a:    NewTriggerEvent(KindLogPattern, SeverityInfo, "network", "connection refused", nil),
			b:    NewTriggerEvent(KindServiceState, SeverityInfo, "network", "inactive", nil),
			same: false,
		},
		{
			name: "subject separates",
			a:    NewTriggerEvent(KindServiceState, SeverityCritical, "nginx", "failed", nil),
			b:    NewTriggerEvent(KindServiceState, SeverityCritical, "postgresql", "failed", nil),
			same: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotEmpty(t, tt.a.Fingerprint)
			require.Len(t, tt.a.Fingerprint, 16)
			if tt.same {
				assert.Equal(t, tt.a.Fingerprint, tt.b.Fingerprint)
			} else {
				assert.NotEqual(t, tt.a.Fingerprint, tt.b.Fingerprint)
			}
		})
	}
}

func TestEventFingerprint_StableAcrossProcessLifetimes(t *testing.T) {
	// The debounce map is rebuilt from persisted state on restart, so the
	// hash must be a pure function of its inputs.
	assert.Equal(t,
		EventFingerprint(KindLogPattern, "kernel", SeverityCritical),
		EventFingerprint(KindLogPattern, "kernel", SeverityCritical))
}

func TestSeverity_Ordering(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityWarning))
	assert.True(t, SeverityWarning.AtLeast(SeverityWarning))
	assert.False(t, SeverityInfo.AtLeast(SeverityWarning))
	assert.True(t, SeverityInfo.Valid())
	assert.False(t, Severity("panic").Valid())
}

func TestIssue_Touch(t *testing.T) {
	now := time.Now().UTC()
	issue := &Issue{
		ID:        "iss-1",
		Severity:  SeverityWarning,
		Status:    IssueOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}

	later := now.Add(time.Minute)
	issue.Touch(SeverityInfo, later)
	assert.Equal(t, SeverityWarning, issue.Severity, "severity never decreases")
	assert.Equal(t, 1, issue.EventCount)
	assert.Equal(t, later, issue.UpdatedAt)

	issue.Touch(SeverityCritical, later.Add(time.Minute))
	assert.Equal(t, SeverityCritical, issue.Severity)
	assert.Equal(t, 2, issue.EventCount)
}

func TestIssueStatus_Active(t *testing.T) {
	assert.True(t, IssueOpen.Active())
	assert.True(t, IssueInvestigating.Active())
	assert.False(t, IssueResolved.Active())
	assert.False(t, IssueClosed.Active())
}
