package trigger

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/journal"
	"github.com/wardenlabs/warden/pkg/models"
)

// patternRule ties one journal line shape to a severity and a subject.
type patternRule struct {
	re       *regexp.Regexp
	severity models.Severity
	subject  func(entry journal.Entry) string
}

func fixedSubject(s string) func(journal.Entry) string {
	return func(journal.Entry) string { return s }
}

// unitToken extracts a systemd unit name from free text.
var unitToken = regexp.MustCompile(`([\w@:\\.-]+\.(?:service|socket|timer|mount|target|scope))`)

// patternRules is the ordered table the log scan walks. The first match
// per line wins, so the strongest signals sit on top.
var patternRules = []patternRule{
	{regexp.MustCompile(`(?i)kernel panic`), models.SeverityCritical, fixedSubject("kernel")},
	{regexp.MustCompile(`(?i)out of memory|oom-killer`), models.SeverityCritical, fixedSubject("oom")},
	{regexp.MustCompile(`(?i)segfault`), models.SeverityWarning, fixedSubject("segfault")},
	{regexp.MustCompile(`(?i)failed to start`), models.SeverityWarning, failedUnitSubject},
	{regexp.MustCompile(`(?i)error.*authentication|authentication failure`), models.SeverityWarning, fixedSubject("auth")},
	{regexp.MustCompile(`(?i)connection refused`), models.SeverityInfo, fixedSubject("network")},
	{regexp.MustCompile(`(?i)time(d)? out|timeout`), models.SeverityInfo, fixedSubject("network")},
}

// failedUnitSubject names the unit behind a "Failed to start" line. The
// line text is the best source: systemd emits these under its own unit,
// naming the victim only in the message.
func failedUnitSubject(entry journal.Entry) string {
	if m := unitToken.FindString(entry.Message); m != "" {
		return unitSubject(m)
	}
	if entry.Unit != "" && entry.Unit != "systemd" && entry.Unit != "init.scope" {
		return unitSubject(entry.Unit)
	}
	return "systemd"
}

// unitSubject normalizes a unit name for issue correlation. The .service
// suffix is implied and dropped so probe and log events about the same
// unit share a subject.
func unitSubject(unit string) string {
	return strings.TrimSuffix(unit, ".service")
}

// matchLine returns the first matching rule's event.
func matchLine(entry journal.Entry) (models.TriggerEvent, bool) {
	for _, rule := range patternRules {
		if !rule.re.MatchString(entry.Message) {
			continue
		}
		return models.NewTriggerEvent(models.KindLogPattern, rule.severity,
			rule.subject(entry), entry.Message, lineMetadata(entry)), true
	}
	return models.TriggerEvent{}, false
}

func lineMetadata(entry journal.Entry) map[string]string {
	meta := map[string]string{}
	if entry.Unit != "" {
		meta["unit"] = entry.Unit
	}
	if entry.Hostname != "" {
		meta["host"] = entry.Hostname
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

// thresholdSubjects maps metric names to event subjects.
var thresholdSubjects = map[string]string{
	models.MetricCPUPct:     "cpu",
	models.MetricMemPct:     "memory",
	models.MetricDiskPct:    "disk",
	models.MetricLoadPerCPU: "load",
}

// thresholdEvents compares samples against configured levels. Breaches
// are strictly greater than: a reading exactly at the threshold is quiet.
func thresholdEvents(th config.Thresholds, samples []models.MetricSample) []models.TriggerEvent {
	var events []models.TriggerEvent
	for _, s := range samples {
		var limit float64
		switch s.Name {
		case models.MetricCPUPct:
			limit = th.CPUPct
		case models.MetricMemPct:
			limit = th.MemPct
		case models.MetricDiskPct:
			limit = th.DiskPct
		case models.MetricLoadPerCPU:
			limit = th.LoadPerCore
		default:
			continue
		}
		if limit <= 0 || s.Value <= limit {
			continue
		}
		reason := fmt.Sprintf("%s %.1f above threshold %.1f", s.Name, s.Value, limit)
		events = append(events, models.NewTriggerEvent(
			models.KindMetricThreshold, models.SeverityWarning,
			thresholdSubjects[s.Name], reason, map[string]string{
				"metric":    s.Name,
				"value":     fmt.Sprintf("%.2f", s.Value),
				"threshold": fmt.Sprintf("%.2f", limit),
			}))
	}
	return events
}
