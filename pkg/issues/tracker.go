// Package issues correlates trigger events into long-lived issue
// records. Issues live in memory for fast correlation and are written
// through to the semantic store so similarity search and restarts see
// them; closed issues are archived to a JSONL file and evicted.
package issues

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardenlabs/warden/pkg/models"
	"github.com/wardenlabs/warden/pkg/notify"
	"github.com/wardenlabs/warden/pkg/semantic"
)

const (
	// Issues whose titles share more than half their words are treated
	// as the same problem even when fingerprints differ.
	titleOverlapThreshold = 0.5

	maxTitleLen = 120
)

// ErrNotFound reports an unknown issue id.
var ErrNotFound = errors.New("issue not found")

// ErrNotResolved reports a close attempt on an issue that is not in the
// resolved state.
var ErrNotResolved = errors.New("issue is not resolved")

// Options configures a Tracker.
type Options struct {
	Host           string
	StateDir       string
	ReopenCooldown time.Duration

	// Store and Notifier may be nil; the tracker then works purely
	// in-memory and stays quiet.
	Store    *semantic.Store
	Notifier *notify.Service
}

// Tracker is the issue correlation engine. Safe for concurrent use.
type Tracker struct {
	host           string
	reopenCooldown time.Duration
	store          *semantic.Store
	notifier       *notify.Service
	archive        *archive
	logger         *slog.Logger
	now            func() time.Time

	mu     sync.RWMutex
	live   map[string]*models.Issue // open, investigating, and resolved
	closed int                      // closed since start, for stats
}

// NewTracker creates a tracker and restores non-closed issues from the
// semantic store when one is configured. Restore failures are logged;
// the tracker then starts empty.
func NewTracker(ctx context.Context, opts Options) *Tracker {
	t := &Tracker{
		host:           opts.Host,
		reopenCooldown: opts.ReopenCooldown,
		store:          opts.Store,
		notifier:       opts.Notifier,
		archive:        newArchive(opts.StateDir),
		logger:         slog.Default().With("component", "issues"),
		now:            func() time.Time { return time.Now().UTC() },
		live:           make(map[string]*models.Issue),
	}
	t.restore(ctx)
	return t
}

func (t *Tracker) restore(ctx context.Context) {
	if t.store == nil {
		return
	}
	stored, err := t.store.ListIssues(ctx, t.host, "")
	if err != nil {
		t.logger.Warn("Issue restore from store failed, starting empty", "error", err)
		return
	}
	count := 0
	for _, issue := range stored {
		if issue.Status == models.IssueClosed {
			continue
		}
		t.live[issue.ID] = issue
		count++
	}
	if count > 0 {
		t.logger.Info("Restored issues from store", "count", count)
	}
}

// Record correlates one admitted trigger event. It attaches the event to
// a matching live issue, absorbs it into a recently resolved one, or
// opens a new issue. Returns the issue and whether it was newly created.
func (t *Tracker) Record(ctx context.Context, event models.TriggerEvent) (*models.Issue, bool) {
	now := t.now()

	t.mu.Lock()
	if issue := t.findActive(event); issue != nil {
		issue.Touch(event.Severity, now)
		if !issue.Matches(event.Fingerprint) {
			issue.Fingerprints = append(issue.Fingerprints, event.Fingerprint)
		}
		t.mu.Unlock()
		t.persist(ctx, issue)
		return issue, false
	}

	if issue := t.findResolved(event.Fingerprint); issue != nil {
		if now.Sub(issue.UpdatedAt) < t.reopenCooldown {
			// Inside the cooldown the resolution stands: count the
			// event but do not reopen. UpdatedAt keeps its resolution
			// timestamp so the cooldown does not extend itself.
			issue.EventCount++
			t.mu.Unlock()
			t.persist(ctx, issue)
			return issue, false
		}
		issue.Status = models.IssueOpen
		issue.Resolution = ""
		issue.Touch(event.Severity, now)
		t.mu.Unlock()
		t.logger.Info("Reopened issue", "issue_id", issue.ID, "title", issue.Title)
		t.persist(ctx, issue)
		return issue, false
	}

	if !event.Severity.AtLeast(models.SeverityWarning) {
		// Info events attach to existing issues as evidence but are
		// not problems on their own.
		t.mu.Unlock()
		return nil, false
	}

	issue := t.create(event, now)
	t.live[issue.ID] = issue
	t.mu.Unlock()

	t.logger.Info("Opened issue",
		"issue_id", issue.ID, "title", issue.Title, "severity", issue.Severity)
	t.persist(ctx, issue)
	t.notifier.IssueCreated(ctx, issue)
	return issue, true
}

// findActive returns an open or investigating issue matching the event
// by fingerprint, subject, or title overlap. Caller holds the lock.
func (t *Tracker) findActive(event models.TriggerEvent) *models.Issue {
	title := eventTitle(event)
	for _, issue := range t.live {
		if !issue.Status.Active() {
			continue
		}
		if issue.Matches(event.Fingerprint) {
			return issue
		}
		if subjectOf(issue.Title) == event.Subject {
			return issue
		}
		if titleOverlap(issue.Title, title) > titleOverlapThreshold {
			return issue
		}
	}
	return nil
}

// findResolved returns a resolved issue carrying the fingerprint.
// Caller holds the lock.
func (t *Tracker) findResolved(fingerprint string) *models.Issue {
	for _, issue := range t.live {
		if issue.Status == models.IssueResolved && issue.Matches(fingerprint) {
			return issue
		}
	}
	return nil
}

func (t *Tracker) create(event models.TriggerEvent, now time.Time) *models.Issue {
	title := eventTitle(event)
	return &models.Issue{
		ID:           uuid.NewString(),
		Host:         t.host,
		Title:        title,
		Description:  event.Reason,
		Severity:     event.Severity,
		Status:       models.IssueOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
		Fingerprints: []string{event.Fingerprint},
		EventCount:   1,
	}
}

// RecordInvestigation appends a reasoning pass to an issue and moves it
// to investigating while it is still open.
func (t *Tracker) RecordInvestigation(ctx context.Context, issueID string, inv models.Investigation) error {
	t.mu.Lock()
	issue, ok := t.live[issueID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, issueID)
	}
	issue.Investigations = append(issue.Investigations, inv)
	if issue.Status == models.IssueOpen {
		issue.Status = models.IssueInvestigating
	}
	issue.UpdatedAt = t.now()
	t.mu.Unlock()

	t.persist(ctx, issue)
	return nil
}

// RecordAction links an action to the most recently updated live issue
// for the subject. Events without a matching issue are ignored.
func (t *Tracker) RecordAction(ctx context.Context, subject string, ref models.ActionRef) {
	t.mu.Lock()
	issue := t.latestForSubject(subject)
	if issue == nil {
		t.mu.Unlock()
		return
	}
	replaced := false
	for i := range issue.Actions {
		if issue.Actions[i].ActionID == ref.ActionID {
			issue.Actions[i] = ref
			replaced = true
			break
		}
	}
	if !replaced {
		issue.Actions = append(issue.Actions, ref)
	}
	issue.UpdatedAt = t.now()
	t.mu.Unlock()

	t.persist(ctx, issue)
}

// latestForSubject returns the most recently updated live issue whose
// subject matches. Caller holds the lock.
func (t *Tracker) latestForSubject(subject string) *models.Issue {
	var latest *models.Issue
	for _, issue := range t.live {
		if subjectOf(issue.Title) != subject {
			continue
		}
		if latest == nil || issue.UpdatedAt.After(latest.UpdatedAt) {
			latest = issue
		}
	}
	return latest
}

// Resolve marks an issue resolved with a resolution note.
func (t *Tracker) Resolve(ctx context.Context, issueID, resolution string) error {
	t.mu.Lock()
	issue, ok := t.live[issueID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, issueID)
	}
	issue.Status = models.IssueResolved
	issue.Resolution = resolution
	issue.UpdatedAt = t.now()
	t.mu.Unlock()

	t.logger.Info("Resolved issue", "issue_id", issueID, "resolution", resolution)
	t.persist(ctx, issue)
	return nil
}

// Close archives a resolved issue. Only resolved issues may close; the
// record stays queryable in the semantic store with closed status.
func (t *Tracker) Close(ctx context.Context, issueID string) error {
	t.mu.Lock()
	issue, ok := t.live[issueID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, issueID)
	}
	if issue.Status != models.IssueResolved {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotResolved, issueID, issue.Status)
	}
	issue.Status = models.IssueClosed
	issue.UpdatedAt = t.now()
	delete(t.live, issueID)
	t.closed++
	t.mu.Unlock()

	if err := t.archive.append(issue); err != nil {
		t.logger.Warn("Closed-issues archive append failed", "issue_id", issueID, "error", err)
	}
	t.persist(ctx, issue)
	t.logger.Info("Closed issue", "issue_id", issueID)
	return nil
}

// AutoResolve resolves live issues for a subject that has recovered,
// typically a service probe reporting active again. Returns how many
// issues were resolved.
func (t *Tracker) AutoResolve(ctx context.Context, subject, resolution string) int {
	now := t.now()

	t.mu.Lock()
	var resolved []*models.Issue
	for _, issue := range t.live {
		if !issue.Status.Active() || subjectOf(issue.Title) != subject {
			continue
		}
		issue.Status = models.IssueResolved
		issue.Resolution = resolution
		issue.UpdatedAt = now
		resolved = append(resolved, issue)
	}
	t.mu.Unlock()

	for _, issue := range resolved {
		t.logger.Info("Auto-resolved issue", "issue_id", issue.ID, "subject", subject)
		t.persist(ctx, issue)
	}
	return len(resolved)
}

// TrimResolved closes resolved issues that have gone untouched for
// olderThan. Recurrences past the trim open fresh issues; the closed
// records remain in the archive and the semantic store. Returns how
// many issues were closed.
func (t *Tracker) TrimResolved(ctx context.Context, olderThan time.Duration) int {
	cutoff := t.now().Add(-olderThan)

	t.mu.RLock()
	var stale []string
	for id, issue := range t.live {
		if issue.Status == models.IssueResolved && issue.UpdatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	t.mu.RUnlock()

	closed := 0
	for _, id := range stale {
		if err := t.Close(ctx, id); err != nil {
			// The issue reopened between the scan and the close; it
			// stays live.
			continue
		}
		closed++
	}
	return closed
}

// Get returns a copy of one live issue.
func (t *Tracker) Get(issueID string) (*models.Issue, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	issue, ok := t.live[issueID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, issueID)
	}
	return cloneIssue(issue), nil
}

// List returns copies of live issues, optionally filtered by status,
// newest update first.
func (t *Tracker) List(status models.IssueStatus) []*models.Issue {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*models.Issue, 0, len(t.live))
	for _, issue := range t.live {
		if status != "" && issue.Status != status {
			continue
		}
		out = append(out, cloneIssue(issue))
	}
	sortByUpdated(out)
	return out
}

// OpenCount returns how many issues still demand attention.
func (t *Tracker) OpenCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, issue := range t.live {
		if issue.Status.Active() {
			n++
		}
	}
	return n
}

// PreviousInvestigations renders past reasoning passes for a subject,
// newest first, for deep-analysis prompts.
func (t *Tracker) PreviousInvestigations(subject string) []models.Investigation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	issue := t.latestForSubject(subject)
	if issue == nil {
		return nil
	}
	out := make([]models.Investigation, len(issue.Investigations))
	copy(out, issue.Investigations)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// persist writes an issue through to the semantic store, best-effort.
func (t *Tracker) persist(ctx context.Context, issue *models.Issue) {
	if t.store == nil {
		return
	}
	t.mu.RLock()
	copied := cloneIssue(issue)
	t.mu.RUnlock()
	if err := t.store.UpsertIssue(ctx, copied); err != nil {
		t.logger.Warn("Issue store write failed", "issue_id", copied.ID, "error", err)
	}
}

func eventTitle(event models.TriggerEvent) string {
	title := fmt.Sprintf("%s: %s", event.Subject, event.Reason)
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen]
	}
	return title
}

// subjectOf recovers the event subject from an issue title.
func subjectOf(title string) string {
	if subject, _, found := strings.Cut(title, ":"); found {
		return subject
	}
	return title
}

// titleOverlap returns the share of a's words also present in b.
func titleOverlap(a, b string) float64 {
	wordsA := strings.Fields(strings.ToLower(a))
	if len(wordsA) == 0 {
		return 0
	}
	wordsB := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(b)) {
		wordsB[w] = true
	}
	shared := 0
	for _, w := range wordsA {
		if wordsB[w] {
			shared++
		}
	}
	return float64(shared) / float64(len(wordsA))
}

func sortByUpdated(issues []*models.Issue) {
	sort.Slice(issues, func(i, j int) bool {
		return issues[i].UpdatedAt.After(issues[j].UpdatedAt)
	})
}

// cloneIssue deep-copies an issue so callers can read it without holding
// the tracker lock.
func cloneIssue(issue *models.Issue) *models.Issue {
	copied := *issue
	copied.Fingerprints = append([]string(nil), issue.Fingerprints...)
	copied.Investigations = append([]models.Investigation(nil), issue.Investigations...)
	copied.Actions = append([]models.ActionRef(nil), issue.Actions...)
	return &copied
}
