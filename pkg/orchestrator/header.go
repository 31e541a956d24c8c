package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/models"
	"github.com/wardenlabs/warden/pkg/version"
)

// autonomyNotes explains each level in the header so the reasoners know
// what happens to the actions they propose.
var autonomyNotes = map[config.AutonomyLevel]string{
	config.AutonomyObserve:  "every proposed action queues for operator approval, nothing executes",
	config.AutonomySuggest:  "low-risk investigations run, everything else queues for approval",
	config.AutonomyAutoSafe: "low-risk actions run unattended, medium and high queue for approval",
	config.AutonomyAutoFull: "low- and medium-risk actions run unattended, high-risk queues",
}

// renderHeader builds the system header entry: the stable facts every
// assembled prompt and chat session opens with.
func renderHeader(cfg *config.Config, host string, startedAt time.Time) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "## Warden on %s\n", host)
	fmt.Fprintf(&sb, "Resident host monitor, %s, watching since %s.\n",
		version.Full(), startedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Autonomy level: %s (%s).\n",
		cfg.AutonomyLevel, autonomyNotes[cfg.AutonomyLevel])

	if len(cfg.ProtectedServices) > 0 {
		fmt.Fprintf(&sb, "Protected services (never stop, disable, mask, or kill): %s.\n",
			strings.Join(cfg.ProtectedServices, ", "))
	}
	if len(cfg.CriticalServices) > 0 {
		fmt.Fprintf(&sb, "Critical services watched: %s.\n",
			strings.Join(cfg.CriticalServices, ", "))
	}
	fmt.Fprintf(&sb, "Alert thresholds: cpu >%.0f%%, mem >%.0f%%, disk >%.0f%%, load per core >%.1f.",
		cfg.Thresholds.CPUPct, cfg.Thresholds.MemPct,
		cfg.Thresholds.DiskPct, cfg.Thresholds.LoadPerCore)

	return sb.String()
}

// baselineKnowledge is what a fresh install knows before it has learned
// anything from its own remediations.
var baselineKnowledge = []models.Learning{
	{
		Topic:      "journal growth",
		Knowledge:  "journalctl --vacuum-time=7d safely reclaims /var/log/journal space without touching service state",
		Category:   "maintenance",
		Confidence: 0.9,
	},
	{
		Topic:      "service flapping",
		Knowledge:  "A unit restarting repeatedly within minutes usually has a broken config or missing dependency; read journalctl -u <unit> before restarting it again",
		Category:   "diagnosis",
		Confidence: 0.85,
	},
	{
		Topic:      "disk pressure",
		Knowledge:  "When the root filesystem crosses its threshold, check journal size, package manager caches, and /tmp before anything else",
		Category:   "maintenance",
		Confidence: 0.8,
	},
	{
		Topic:      "oom kills",
		Knowledge:  "Kernel OOM messages name the killed process, which is the largest victim and not necessarily the leaking one; compare RSS across the process table",
		Category:   "diagnosis",
		Confidence: 0.85,
	},
	{
		Topic:      "load without cpu",
		Knowledge:  "Sustained load above the core count while CPU stays low points at uninterruptible IO wait; check disk throughput before blaming compute",
		Category:   "diagnosis",
		Confidence: 0.75,
	},
}

// seedKnowledge writes the baseline items into an empty knowledge
// collection. Any store trouble downgrades to a warning; seeding is a
// convenience, not a dependency.
func (o *Orchestrator) seedKnowledge(ctx context.Context) {
	if o.semantic == nil {
		return
	}
	count, err := o.semantic.KnowledgeCount(ctx)
	if err != nil {
		o.logger.Warn("Knowledge count failed, skipping baseline seed", "error", err)
		return
	}
	if count > 0 {
		return
	}
	seeded := 0
	for _, learning := range baselineKnowledge {
		if _, err := o.semantic.UpsertKnowledge(ctx, learning); err != nil {
			o.logger.Warn("Baseline knowledge upsert failed",
				"topic", learning.Topic, "error", err)
			continue
		}
		seeded++
	}
	if seeded > 0 {
		o.logger.Info("Seeded baseline knowledge", "items", seeded)
	}
}
