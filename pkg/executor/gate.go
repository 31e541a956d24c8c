package executor

import (
	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/models"
)

// autoExecutable decides whether an action runs immediately or waits in
// the queue for operator approval.
//
//	observe    queue everything
//	suggest    queue everything except low-risk investigations
//	auto_safe  execute low risk
//	auto_full  execute low and medium risk
//
// Config changes always queue regardless of level, and queue depth past
// the pending cap forces everything to queue until an operator catches
// up.
func autoExecutable(level config.AutonomyLevel, action models.ProposedAction, pending, maxPending int) bool {
	if action.Kind == models.ActionConfigChange {
		return false
	}
	if maxPending > 0 && pending > maxPending {
		return false
	}

	switch level {
	case config.AutonomyObserve:
		return false
	case config.AutonomySuggest:
		return action.Kind == models.ActionInvestigation && action.Risk == models.RiskLow
	case config.AutonomyAutoSafe:
		if action.Kind == models.ActionInvestigation && action.Risk == models.RiskLow {
			return true
		}
		return action.Risk.Rank() <= models.RiskLow.Rank()
	case config.AutonomyAutoFull:
		return action.Risk.Rank() <= models.RiskMedium.Rank()
	}
	return false
}
