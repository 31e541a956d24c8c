package trigger

import (
	"context"
	"strings"

	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/journal"
	"github.com/wardenlabs/warden/pkg/models"
)

// classifierInstruction keeps the small tier's job to a single word so a
// 1B-parameter model can answer inside its five-second timeout.
const classifierInstruction = "You triage one journald log line from a Linux host. " +
	"Judge its operational significance and reply with exactly one word: " +
	"ignore, noise, warning, or critical."

// classify submits unmatched warning-or-above journal lines to the
// trigger tier, up to the configured line cap per tick. Verdicts of
// warning or critical become classifier events; everything else,
// including errors and timeouts, degrades to rule-only triage.
func (l *Loop) classify(ctx context.Context, cfg *config.Config, lines []journal.Entry) []models.TriggerEvent {
	if l.llm == nil || len(lines) == 0 {
		return nil
	}
	tier := cfg.TriggerTier()
	maxLines := cfg.ClassifierMaxLines

	var events []models.TriggerEvent
	for i, entry := range lines {
		if i >= maxLines {
			break
		}
		l.stats.classifierCalls.Add(1)

		out, err := l.llm.Complete(ctx, tier, []models.Message{
			models.SystemMessage(classifierInstruction),
			models.UserMessage(entry.Message),
		})
		if err != nil {
			l.logger.Debug("Classifier call failed", "error", err)
			continue
		}

		var severity models.Severity
		switch parseVerdict(out) {
		case "critical":
			severity = models.SeverityCritical
		case "warning":
			severity = models.SeverityWarning
		default:
			continue
		}

		subject := unitSubject(entry.Unit)
		if subject == "" {
			subject = "journal"
		}
		events = append(events, models.NewTriggerEvent(
			models.KindClassifier, severity, subject, entry.Message, lineMetadata(entry)))
	}
	return events
}

// parseVerdict pulls the classifier's one-word answer out of the model
// output: the first word of the last non-empty line, lowercased and
// stripped of punctuation. Anything unrecognized reads as no verdict.
func parseVerdict(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		fields := strings.Fields(lines[i])
		if len(fields) == 0 {
			continue
		}
		word := strings.ToLower(strings.Trim(fields[0], `."'!,:`))
		switch word {
		case "ignore", "noise", "warning", "critical":
			return word
		}
		return ""
	}
	return ""
}
