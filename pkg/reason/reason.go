// Package reason hosts the two slow thinking tiers. The review reasoner
// runs on a cadence and emits a structured verdict; the meta reasoner is
// engaged on escalation, operator chat, or an explicit check and is
// allowed free-form analysis. Both propose actions, never execute them:
// everything goes through the executor's policy and autonomy gates.
package reason

import (
	"context"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/models"
	"github.com/wardenlabs/warden/pkg/semantic"
)

// Escalation asks the meta tier to look at something the review tier
// could not settle. Fingerprint dedupes repeat escalations for the same
// problem.
type Escalation struct {
	Reason      string
	Fingerprint string
	At          time.Time
}

// Completer is the LLM call contract, satisfied by llm.Client.
type Completer interface {
	Complete(ctx context.Context, tier config.LLMTier, messages []models.Message) (string, error)
}

// PromptSource renders the context window into a budgeted prompt,
// satisfied by window.Assembler.
type PromptSource interface {
	Assemble(ctx context.Context, budget int) (string, error)
}

// Admitter receives reasoner summary entries, satisfied by the context
// window.
type Admitter interface {
	Append(ctx context.Context, entry models.ContextEntry) error
}

// ActionSink routes proposed actions into the execution pipeline,
// satisfied by executor.Executor.
type ActionSink interface {
	Submit(ctx context.Context, action models.ProposedAction) (*models.QueuedAction, error)
}

// IssueSource exposes the tracker state the reasoners fold into their
// prompts and summaries.
type IssueSource interface {
	OpenCount() int
	List(status models.IssueStatus) []*models.Issue
	PreviousInvestigations(subject string) []models.Investigation
	RecordInvestigation(ctx context.Context, issueID string, inv models.Investigation) error
}

// KnowledgeStore is the semantic recall surface the meta tier uses,
// satisfied by semantic.Store.
type KnowledgeStore interface {
	QueryIssues(ctx context.Context, text string, k int) ([]semantic.IssueMatch, error)
	QueryKnowledge(ctx context.Context, text string, k int) ([]models.Learning, error)
	UpsertKnowledge(ctx context.Context, l models.Learning) (string, error)
}

// hashFingerprint keys escalation dedup when no tracked issue matches
// the reason text.
func hashFingerprint(s string) string {
	h := fnv.New64a()
	h.Write([]byte(s))
	return strconv.FormatUint(h.Sum64(), 16)
}
