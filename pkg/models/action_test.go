package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from QueueStatus
		to   QueueStatus
		ok   bool
	}{
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusExecuted, false},
		{StatusPending, StatusFailed, false},
		{StatusApproved, StatusExecuted, true},
		{StatusApproved, StatusFailed, true},
		{StatusApproved, StatusRejected, false},
		{StatusApproved, StatusPending, false},
		{StatusRejected, StatusApproved, false},
		{StatusExecuted, StatusFailed, false},
		{StatusFailed, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestQueuedAction_Transition(t *testing.T) {
	qa := &QueuedAction{
		ProposedAction: ProposedAction{
			ID:      "act-1",
			Subject: "nginx",
			Kind:    ActionServiceRestart,
			Risk:    RiskMedium,
			Origin:  OriginReview,
		},
		Seq:      1,
		QueuedAt: time.Now().UTC(),
		Status:   StatusPending,
	}

	require.NoError(t, qa.Transition(StatusApproved))
	assert.Equal(t, StatusApproved, qa.Status)

	require.NoError(t, qa.Transition(StatusExecuted))
	assert.Equal(t, StatusExecuted, qa.Status)
	assert.True(t, qa.Status.Terminal())

	err := qa.Transition(StatusFailed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal transition")
	assert.Equal(t, StatusExecuted, qa.Status, "failed transition must not mutate status")
}

func TestRisk_Rank(t *testing.T) {
	assert.Less(t, RiskLow.Rank(), RiskMedium.Rank())
	assert.Less(t, RiskMedium.Rank(), RiskHigh.Rank())
	assert.Equal(t, RiskHigh.Rank(), Risk("unheard-of").Rank(), "unknown risk is treated as high")
}

func TestProposedAction_Describe(t *testing.T) {
	withCommands := ProposedAction{
		Kind:     ActionInvestigation,
		Subject:  "postgresql",
		Risk:     RiskLow,
		Commands: []string{"systemctl status postgresql", "journalctl -u postgresql -n 50"},
	}
	assert.Equal(t,
		"[investigation/low] postgresql: systemctl status postgresql && journalctl -u postgresql -n 50",
		withCommands.Describe())

	withoutCommands := ProposedAction{
		Kind:        ActionConfigChange,
		Subject:     "sshd_config",
		Risk:        RiskHigh,
		Description: "disable password auth",
	}
	assert.Equal(t, "[config_change/high] sshd_config: disable password auth", withoutCommands.Describe())
}
