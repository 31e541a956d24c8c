package trigger

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/wardenlabs/warden/pkg/models"
)

const probeTimeout = 5 * time.Second

// probeState returns systemctl's one-word active state for a unit.
// is-active exits non-zero for anything but active, so the printed word
// matters more than the exit code.
func probeState(ctx context.Context, unit string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "systemctl", "is-active", unit).CombinedOutput()
	state := strings.TrimSpace(string(out))
	if state == "" {
		if err != nil {
			return "", err
		}
		return "", fmt.Errorf("systemctl is-active %s: empty output", unit)
	}
	if i := strings.IndexByte(state, '\n'); i >= 0 {
		state = state[:i]
	}
	return state, nil
}

// probeServices reads the active state of every configured critical
// service. It returns state events for failed and inactive units, a
// service_active sample per unit for the metrics store, and the subjects
// of units found healthy so their issues can auto-resolve.
func (l *Loop) probeServices(ctx context.Context, units []string) (events []models.TriggerEvent, samples []models.MetricSample, recovered []string) {
	now := l.now()
	for _, unit := range units {
		state, err := l.probe(ctx, unit)
		if err != nil {
			l.logger.Warn("Service probe failed", "unit", unit, "error", err)
			continue
		}

		value := 0.0
		if state == "active" {
			value = 1.0
		}
		samples = append(samples, models.MetricSample{
			Timestamp: now,
			Host:      l.host,
			Name:      models.MetricServiceActive,
			Value:     value,
			Tags:      map[string]string{"unit": unit},
		})

		switch state {
		case "active":
			recovered = append(recovered, unitSubject(unit))
		case "failed":
			events = append(events, serviceEvent(unit, state, models.SeverityCritical))
		case "inactive":
			events = append(events, serviceEvent(unit, state, models.SeverityWarning))
		default:
			// Transitional states (activating, deactivating) and
			// not-found units are not actionable signals.
		}
	}
	return events, samples, recovered
}

func serviceEvent(unit, state string, severity models.Severity) models.TriggerEvent {
	return models.NewTriggerEvent(models.KindServiceState, severity, unitSubject(unit),
		fmt.Sprintf("service %s is %s", unit, state),
		map[string]string{"unit": unit, "state": state})
}
