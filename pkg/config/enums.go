package config

// AutonomyLevel controls how far the executor may go without a human.
type AutonomyLevel string

const (
	// AutonomyObserve queues every proposed action; nothing executes.
	AutonomyObserve AutonomyLevel = "observe"
	// AutonomySuggest queues every action except low-risk investigations,
	// which run immediately.
	AutonomySuggest AutonomyLevel = "suggest"
	// AutonomyAutoSafe executes low-risk actions, queues the rest.
	AutonomyAutoSafe AutonomyLevel = "auto_safe"
	// AutonomyAutoFull executes low- and medium-risk actions, queues high.
	AutonomyAutoFull AutonomyLevel = "auto_full"
)

// IsValid checks if the autonomy level is a recognized value.
func (a AutonomyLevel) IsValid() bool {
	switch a {
	case AutonomyObserve, AutonomySuggest, AutonomyAutoSafe, AutonomyAutoFull:
		return true
	default:
		return false
	}
}
