package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wardenlabs/warden/pkg/api"
	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/issues"
	"github.com/wardenlabs/warden/pkg/models"
	"github.com/wardenlabs/warden/pkg/semantic"
)

var (
	flagIssueStatus   string
	flagIssueSeverity string
)

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "List and manage tracked issues",
	Long: `Issues correlate related trigger events into one long-lived record.
The daemon opens and resolves them on its own; these subcommands are
for operator bookkeeping. IDs may be abbreviated to a unique prefix.`,
	Args: cobra.NoArgs,
	RunE: runIssueList,
}

var issueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List issues",
	Args:  cobra.NoArgs,
	RunE:  runIssueList,
}

var issueShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one issue in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runIssueShow,
}

var issueCreateCmd = &cobra.Command{
	Use:   "create <title> <description>",
	Short: "Open an issue by hand",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runIssueCreate,
}

var issueResolveCmd = &cobra.Command{
	Use:   "resolve <id> [resolution...]",
	Short: "Mark an issue resolved",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIssueResolve,
}

var issueCloseCmd = &cobra.Command{
	Use:   "close <id>",
	Short: "Close a resolved issue",
	Args:  cobra.ExactArgs(1),
	RunE:  runIssueClose,
}

func init() {
	issuesCmd.PersistentFlags().StringVar(&flagIssueStatus, "status", "", "filter by status (open, investigating, resolved, closed)")
	issueCreateCmd.Flags().StringVar(&flagIssueSeverity, "severity", "warning", "issue severity (info, warning, critical)")

	issuesCmd.AddCommand(issueListCmd, issueShowCmd, issueCreateCmd, issueResolveCmd, issueCloseCmd)
	rootCmd.AddCommand(issuesCmd)
}

var issueStatuses = []models.IssueStatus{
	models.IssueOpen, models.IssueInvestigating, models.IssueResolved, models.IssueClosed,
}

func parseIssueStatus(s string) (models.IssueStatus, error) {
	if s == "" {
		return "", nil
	}
	for _, status := range issueStatuses {
		if s == string(status) {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown status %q (want open, investigating, resolved, or closed)", s)
}

func parseSeverity(s string) (models.Severity, error) {
	severity := models.Severity(s)
	if !severity.Valid() {
		return "", fmt.Errorf("unknown severity %q (want info, warning, or critical)", s)
	}
	return severity, nil
}

// issueTracker builds a tracker directly on the semantic store, for
// commands that run while the daemon is down or that mutate issues.
func issueTracker(ctx context.Context, cfg *config.Config) (*issues.Tracker, error) {
	if cfg.SemanticURL == "" {
		return nil, errors.New("no semantic store configured (semantic_url)")
	}
	return issues.NewTracker(ctx, issues.Options{
		Host:           cfg.Hostname,
		StateDir:       cfg.StateDir,
		ReopenCooldown: cfg.ReopenCooldown(),
		Store:          semantic.NewStore(cfg.SemanticURL),
	}), nil
}

// fetchIssues lists issues through the daemon, or straight from the
// semantic store when the daemon is down.
func fetchIssues(ctx context.Context, cfg *config.Config, status models.IssueStatus) ([]*models.Issue, error) {
	resp, err := api.NewClient(cfg.APIListen).Issues(ctx, string(status))
	if err == nil {
		return resp.Issues, nil
	}
	if !errors.Is(err, api.ErrDaemonDown) {
		return nil, err
	}
	tracker, terr := issueTracker(ctx, cfg)
	if terr != nil {
		return nil, fmt.Errorf("daemon is not running and %w", terr)
	}
	return tracker.List(status), nil
}

func runIssueList(_ *cobra.Command, _ []string) error {
	status, err := parseIssueStatus(flagIssueStatus)
	if err != nil {
		return err
	}
	ctx, cancel := opContext()
	defer cancel()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	list, err := fetchIssues(ctx, cfg, status)
	if err != nil {
		return runtimeErr(err)
	}
	if len(list) == 0 {
		fmt.Println("no issues")
		return nil
	}
	for _, issue := range list {
		fmt.Printf("[%s] %-13s %-8s %s  (%d events, updated %s)\n",
			shortID(issue.ID), issue.Status, issue.Severity, issue.Title,
			issue.EventCount, agoOrNever(issue.UpdatedAt))
	}
	return nil
}

func resolveIssueID(list []*models.Issue, prefix string) (*models.Issue, error) {
	var matches []*models.Issue
	for _, issue := range list {
		if issue.ID == prefix {
			return issue, nil
		}
		if strings.HasPrefix(issue.ID, prefix) {
			matches = append(matches, issue)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, fmt.Errorf("no issue matches %q", prefix)
	default:
		return nil, fmt.Errorf("%q is ambiguous, matches %d issues", prefix, len(matches))
	}
}

func runIssueShow(_ *cobra.Command, args []string) error {
	ctx, cancel := opContext()
	defer cancel()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	list, err := fetchIssues(ctx, cfg, "")
	if err != nil {
		return runtimeErr(err)
	}
	issue, err := resolveIssueID(list, args[0])
	if err != nil {
		return err
	}
	fmt.Print(renderIssue(issue))
	return nil
}

func renderIssue(issue *models.Issue) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s\n", shortID(issue.ID), issue.Title)
	fmt.Fprintf(&sb, "  status:   %s (%s)\n", issue.Status, issue.Severity)
	fmt.Fprintf(&sb, "  host:     %s\n", issue.Host)
	fmt.Fprintf(&sb, "  created:  %s, updated %s, %d events\n",
		issue.CreatedAt.Format(time.RFC3339), agoOrNever(issue.UpdatedAt), issue.EventCount)
	if issue.Description != "" {
		fmt.Fprintf(&sb, "  %s\n", issue.Description)
	}
	for _, inv := range issue.Investigations {
		fmt.Fprintf(&sb, "  investigated %s (%s): %s\n",
			inv.At.Format("2006-01-02 15:04"), inv.Origin, inv.Summary)
	}
	for _, ref := range issue.Actions {
		fmt.Fprintf(&sb, "  action [%s] %s: %s\n", shortID(ref.ActionID), ref.Status, ref.Summary)
	}
	if issue.Resolution != "" {
		fmt.Fprintf(&sb, "  resolution: %s\n", issue.Resolution)
	}
	return sb.String()
}

func runIssueCreate(_ *cobra.Command, args []string) error {
	severity, err := parseSeverity(flagIssueSeverity)
	if err != nil {
		return err
	}
	ctx, cancel := opContext()
	defer cancel()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.SemanticURL == "" {
		return runtimeErr(errors.New("no semantic store configured (semantic_url)"))
	}

	now := time.Now().UTC()
	issue := &models.Issue{
		ID:          uuid.NewString(),
		Host:        cfg.Hostname,
		Title:       args[0],
		Description: strings.Join(args[1:], " "),
		Severity:    severity,
		Status:      models.IssueOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
		EventCount:  1,
	}
	if err := semantic.NewStore(cfg.SemanticURL).UpsertIssue(ctx, issue); err != nil {
		return runtimeErr(fmt.Errorf("store issue: %w", err))
	}
	fmt.Printf("[%s] opened: %s\n", shortID(issue.ID), issue.Title)
	return nil
}

func runIssueResolve(_ *cobra.Command, args []string) error {
	resolution := "resolved by operator"
	if len(args) > 1 {
		resolution = strings.Join(args[1:], " ")
	}
	return settleIssue(args[0], func(ctx context.Context, tracker *issues.Tracker, id string) error {
		return tracker.Resolve(ctx, id, resolution)
	})
}

func runIssueClose(_ *cobra.Command, args []string) error {
	return settleIssue(args[0], func(ctx context.Context, tracker *issues.Tracker, id string) error {
		return tracker.Close(ctx, id)
	})
}

// settleIssue resolves an id prefix against the store-backed tracker
// and applies one state change. The daemon picks the change up from
// the store on its next restore; its in-memory copy is not rewritten.
func settleIssue(prefix string, apply func(context.Context, *issues.Tracker, string) error) error {
	ctx, cancel := opContext()
	defer cancel()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	tracker, err := issueTracker(ctx, cfg)
	if err != nil {
		return runtimeErr(err)
	}
	issue, err := resolveIssueID(tracker.List(""), prefix)
	if err != nil {
		return err
	}
	if err := apply(ctx, tracker, issue.ID); err != nil {
		return runtimeErr(err)
	}
	updated, err := tracker.Get(issue.ID)
	if err != nil {
		// Close archives the issue out of the live set.
		fmt.Printf("[%s] closed: %s\n", shortID(issue.ID), issue.Title)
		return nil
	}
	fmt.Printf("[%s] %s: %s\n", shortID(updated.ID), updated.Status, updated.Title)
	return nil
}
