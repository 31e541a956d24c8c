package reason

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/executor"
	"github.com/wardenlabs/warden/pkg/llm"
	"github.com/wardenlabs/warden/pkg/models"
	"github.com/wardenlabs/warden/pkg/notify"
	"github.com/wardenlabs/warden/pkg/window"
)

const (
	// recallK is how many semantic matches of each kind go into a meta
	// prompt.
	recallK = 3

	// maxLearnings caps what one reflection may write to the knowledge
	// collection.
	maxLearnings = 2

	investigationSummaryMax = 400
)

// MetaOptions wires a Meta. Issues, Semantic, Notify, and Decisions may
// be nil.
type MetaOptions struct {
	Config    *config.Config
	LLM       Completer
	Assembler PromptSource
	Window    Admitter
	Executor  ActionSink
	Issues    IssueSource
	Semantic  KnowledgeStore
	Notify    *notify.Service
	Decisions *DecisionLog
}

// Meta is the on-demand deep tier. It answers escalations from the
// review reasoner and explicit operator checks, with the full context
// budget plus semantic recall of past issues and knowledge.
type Meta struct {
	mu  sync.RWMutex
	cfg *config.Config

	llm       Completer
	assemble  PromptSource
	window    Admitter
	executor  ActionSink
	issues    IssueSource
	semantic  KnowledgeStore
	notify    *notify.Service
	decisions *DecisionLog
	logger    *slog.Logger

	now func() time.Time
}

// NewMeta builds the meta reasoner.
func NewMeta(opts MetaOptions) *Meta {
	return &Meta{
		cfg:       opts.Config,
		llm:       opts.LLM,
		assemble:  opts.Assembler,
		window:    opts.Window,
		executor:  opts.Executor,
		issues:    opts.Issues,
		semantic:  opts.Semantic,
		notify:    opts.Notify,
		decisions: opts.Decisions,
		logger:    slog.Default().With("component", "meta"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// UpdateConfig swaps the configuration used for tiers and budgets.
func (m *Meta) UpdateConfig(cfg *config.Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

func (m *Meta) config() *config.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// HandleEscalation runs a full analysis for an escalated problem,
// notifies the operator, and records the investigation on the matching
// issue so later escalations do not repeat it.
func (m *Meta) HandleEscalation(ctx context.Context, esc Escalation) error {
	m.logger.Info("Handling escalation", "reason", esc.Reason)

	report, err := m.Analyze(ctx, esc.Reason)
	if err != nil {
		m.notify.Escalation(ctx, esc.Reason, "deep analysis failed: "+err.Error())
		return err
	}

	m.notify.Escalation(ctx, esc.Reason, escalationDigest(report))
	m.recordInvestigation(ctx, esc, report)
	return nil
}

// Analyze runs one deep pass over the current context. The focus seeds
// the semantic recall and heads the prompt; the report carries whatever
// structure the model produced, with free-form text preserved in
// Analysis when no fenced block came back.
func (m *Meta) Analyze(ctx context.Context, focus string) (*models.MetaReport, error) {
	cfg := m.config()
	started := m.now()

	prompt, err := m.assemble.Assemble(ctx, cfg.MetaContextTokens)
	if err != nil {
		return nil, fmt.Errorf("assemble meta prompt: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Problem under analysis: %s\n\n", focus)
	sb.WriteString(prompt)
	m.writeRecall(ctx, &sb, focus)
	m.writePastInvestigations(&sb)

	messages := []models.Message{
		models.SystemMessage(metaInstruction),
		models.UserMessage(sb.String()),
	}
	raw, err := m.llm.Complete(ctx, cfg.MetaTier(), messages)
	if err != nil {
		m.recordError(started, cfg, err)
		return nil, err
	}

	report := parseMetaReport(raw)
	actionIDs := m.routeActions(ctx, report.Actions)
	m.appendAnalysis(ctx, focus, report)

	m.decisions.Append(models.DecisionRecord{
		At:         started,
		Origin:     models.OriginMeta,
		Tier:       "meta",
		Model:      cfg.MetaModel,
		Assessment: report.Analysis,
		ActionIDs:  actionIDs,
		DurationMs: m.now().Sub(started).Milliseconds(),
	})

	m.logger.Info("Meta analysis complete",
		"focus", focus, "actions", len(report.Actions), "root_cause", report.RootCause)
	return report, nil
}

// ActionSettled feeds executed meta-proposed actions back into the
// knowledge collection. Wired as the executor's outcome observer.
func (m *Meta) ActionSettled(ctx context.Context, action *models.QueuedAction) {
	if action.Origin != models.OriginMeta || action.Status != models.StatusExecuted {
		return
	}
	if m.semantic == nil {
		return
	}
	m.reflect(ctx, action)
}

// reflect asks the small tier what a successful remediation taught us
// and stores up to maxLearnings items. Best-effort throughout.
func (m *Meta) reflect(ctx context.Context, action *models.QueuedAction) {
	cfg := m.config()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Action: %s\n", action.Describe())
	fmt.Fprintf(&sb, "Rationale: %s\n", action.Rationale)
	if action.Result != nil {
		fmt.Fprintf(&sb, "Completed in %s with exit %d.\n",
			action.Result.Duration.Round(time.Millisecond), action.Result.ExitStatus)
	}

	raw, err := m.llm.Complete(ctx, cfg.TriggerTier(), []models.Message{
		models.SystemMessage(reflectionInstruction),
		models.UserMessage(sb.String()),
	})
	if err != nil {
		m.logger.Debug("Reflection call failed", "error", err)
		return
	}

	learnings := parseLearnings(raw)
	for _, learning := range learnings {
		if _, err := m.semantic.UpsertKnowledge(ctx, learning); err != nil {
			m.logger.Debug("Knowledge upsert failed", "topic", learning.Topic, "error", err)
		}
	}
	if len(learnings) > 0 {
		m.logger.Info("Reflection stored learnings", "count", len(learnings))
	}
}

func (m *Meta) recordError(started time.Time, cfg *config.Config, err error) {
	m.decisions.Append(models.DecisionRecord{
		At:         started,
		Origin:     models.OriginMeta,
		Tier:       "meta",
		Model:      cfg.MetaModel,
		Error:      err.Error(),
		DurationMs: m.now().Sub(started).Milliseconds(),
	})
}

func (m *Meta) routeActions(ctx context.Context, actions []models.ProposedAction) []string {
	ids := make([]string, 0, len(actions))
	for _, action := range actions {
		action.Origin = models.OriginMeta
		queued, err := m.executor.Submit(ctx, action)
		switch {
		case errors.Is(err, executor.ErrPolicyRejected):
			ids = append(ids, queued.ID)
		case errors.Is(err, executor.ErrDuplicate):
			m.logger.Debug("Meta action was a duplicate", "subject", action.Subject)
		case err != nil:
			m.logger.Warn("Meta action submission failed",
				"subject", action.Subject, "error", err)
		default:
			ids = append(ids, queued.ID)
		}
	}
	return ids
}

// writeRecall appends semantic matches for the focus text. Recall
// trouble degrades the prompt, never the analysis.
func (m *Meta) writeRecall(ctx context.Context, sb *strings.Builder, focus string) {
	if m.semantic == nil {
		return
	}

	if matches, err := m.semantic.QueryIssues(ctx, focus, recallK); err != nil {
		m.logger.Debug("Issue recall failed", "error", err)
	} else if len(matches) > 0 {
		sb.WriteString("\n\nSimilar past issues:\n")
		for _, match := range matches {
			fmt.Fprintf(sb, "- [%s/%s] %s", match.Issue.Severity, match.Issue.Status, match.Issue.Title)
			if match.Issue.Resolution != "" {
				fmt.Fprintf(sb, " (resolved: %s)", match.Issue.Resolution)
			}
			sb.WriteByte('\n')
		}
	}

	if learnings, err := m.semantic.QueryKnowledge(ctx, focus, recallK); err != nil {
		m.logger.Debug("Knowledge recall failed", "error", err)
	} else if len(learnings) > 0 {
		sb.WriteString("\nOperational knowledge:\n")
		for _, learning := range learnings {
			fmt.Fprintf(sb, "- [%s] %s\n", learning.Category, learning.Knowledge)
		}
	}
}

// writePastInvestigations lists what was already tried on the active
// issues so the deep tier does not repeat it.
func (m *Meta) writePastInvestigations(sb *strings.Builder) {
	if m.issues == nil {
		return
	}

	wroteHeader := false
	for _, status := range []models.IssueStatus{models.IssueOpen, models.IssueInvestigating} {
		for _, issue := range m.issues.List(status) {
			for _, inv := range issue.Investigations {
				if !wroteHeader {
					sb.WriteString("\nPrevious investigations (do not repeat):\n")
					wroteHeader = true
				}
				fmt.Fprintf(sb, "- %s [%s] %s\n",
					inv.At.Format(time.RFC3339), issue.Title, inv.Summary)
			}
		}
	}
}

func (m *Meta) appendAnalysis(ctx context.Context, focus string, report *models.MetaReport) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Meta analysis of %q: %s", focus, report.Analysis)
	if report.RootCause != "" {
		fmt.Fprintf(&sb, "\nRoot cause: %s", report.RootCause)
	}
	if len(report.Actions) > 0 {
		fmt.Fprintf(&sb, "\nActions proposed: %d", len(report.Actions))
	}
	if err := m.window.Append(ctx, window.NewEntry(models.EntryMetaAnalysis, sb.String(), "")); err != nil {
		m.logger.Warn("Meta analysis admission failed", "error", err)
	}
}

// recordInvestigation attaches the analysis to the issue the escalation
// came from, matching by fingerprint.
func (m *Meta) recordInvestigation(ctx context.Context, esc Escalation, report *models.MetaReport) {
	if m.issues == nil {
		return
	}
	for _, status := range []models.IssueStatus{models.IssueOpen, models.IssueInvestigating} {
		for _, issue := range m.issues.List(status) {
			if !issue.Matches(esc.Fingerprint) {
				continue
			}
			inv := models.Investigation{
				At:       m.now(),
				Origin:   models.OriginMeta,
				Summary:  clip(report.Analysis, investigationSummaryMax),
				Findings: report.RootCause,
			}
			if err := m.issues.RecordInvestigation(ctx, issue.ID, inv); err != nil {
				m.logger.Warn("Investigation record failed", "issue_id", issue.ID, "error", err)
			}
			return
		}
	}
}

// escalationDigest is the notification body for a completed escalation.
func escalationDigest(report *models.MetaReport) string {
	var sb strings.Builder
	sb.WriteString(report.Analysis)
	if report.RootCause != "" {
		sb.WriteString("\nRoot cause: " + report.RootCause)
	}
	for _, action := range report.Actions {
		sb.WriteString("\n- " + action.Describe())
	}
	return sb.String()
}

// llmExtract pulls the JSON payload out of a reply: fenced block first,
// bare object second.
func llmExtract(raw string) (string, bool) {
	if text, ok := llm.ExtractFencedJSON(raw); ok {
		return text, ok
	}
	return llm.ExtractJSONObject(raw)
}

// parseMetaReport pulls the structured tail out of a deep-tier reply.
// Free-form replies without any JSON still produce a usable report with
// the prose as the analysis.
func parseMetaReport(raw string) *models.MetaReport {
	text, ok := llmExtract(raw)
	if ok {
		var report models.MetaReport
		if err := json.Unmarshal([]byte(text), &report); err == nil {
			if report.Analysis == "" {
				report.Analysis = strings.TrimSpace(prosePrefix(raw))
			}
			return &report
		}
	}
	return &models.MetaReport{Analysis: strings.TrimSpace(raw)}
}

// prosePrefix returns the reply text before the first fence, which is
// the model's free-form reasoning.
func prosePrefix(raw string) string {
	if i := strings.Index(raw, "```"); i >= 0 {
		return raw[:i]
	}
	return raw
}

func parseLearnings(raw string) []models.Learning {
	text, ok := llmExtract(raw)
	if !ok {
		return nil
	}
	var parsed struct {
		Learnings []models.Learning `json:"learnings"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil
	}
	learnings := parsed.Learnings
	if len(learnings) > maxLearnings {
		learnings = learnings[:maxLearnings]
	}
	kept := learnings[:0]
	for _, learning := range learnings {
		if learning.Knowledge != "" {
			kept = append(kept, learning)
		}
	}
	return kept
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
