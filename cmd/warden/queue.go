package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardenlabs/warden/pkg/api"
	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/executor"
	"github.com/wardenlabs/warden/pkg/models"
)

var (
	flagDecidedBy  string
	flagDecideNote string
	flagQueueAll   bool
)

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Review and decide queued actions",
	Long: `Without a subcommand, lists actions waiting for a decision.
Use 'approve <id>' / 'reject <id>' to settle one, or 'discuss <id>'
to have the deep model explain it first. IDs may be abbreviated to
any unique prefix.`,
	Args: cobra.NoArgs,
	RunE: runQueueList,
}

var approveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued actions",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

var approveGrantCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending action",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runDecide(args[0], true)
	},
}

var approveRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a pending action",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runDecide(args[0], false)
	},
}

var approveDiscussCmd = &cobra.Command{
	Use:   "discuss <id> [question...]",
	Short: "Ask the deep model about a queued action",
	Long: `Sends the action's details to the deep tier and prints its take.
Without a question it explains the action and its risks; with one it
answers that question in the action's context.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDiscuss,
}

func init() {
	approveCmd.PersistentFlags().StringVar(&flagDecidedBy, "by", decidingUser(), "who is deciding")
	approveGrantCmd.Flags().StringVar(&flagDecideNote, "note", "", "note to attach to the decision")
	approveRejectCmd.Flags().StringVar(&flagDecideNote, "note", "", "note to attach to the decision")
	approveCmd.PersistentFlags().BoolVarP(&flagQueueAll, "all", "a", false, "include settled actions")

	approveCmd.AddCommand(approveListCmd, approveGrantCmd, approveRejectCmd, approveDiscussCmd)
	rootCmd.AddCommand(approveCmd)
}

func decidingUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "operator"
}

// fetchQueue asks the daemon for the queue, falling back to a read-only
// restore from the state directory when the daemon is down.
func fetchQueue(ctx context.Context, cfg *config.Config) (actions []models.QueuedAction, pending int, offline bool, err error) {
	resp, err := api.NewClient(cfg.APIListen).Queue(ctx)
	if err == nil {
		return resp.Actions, resp.Pending, false, nil
	}
	if !errors.Is(err, api.ErrDaemonDown) {
		return nil, 0, false, err
	}
	queue, qerr := executor.NewQueue(cfg.StateDir)
	if qerr != nil {
		return nil, 0, true, fmt.Errorf("read queue state: %w", qerr)
	}
	return queue.List(), queue.PendingCount(), true, nil
}

func runQueueList(_ *cobra.Command, _ []string) error {
	ctx, cancel := opContext()
	defer cancel()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	actions, pending, offline, err := fetchQueue(ctx, cfg)
	if err != nil {
		return runtimeErr(err)
	}
	if offline {
		fmt.Println("daemon is not running; showing persisted queue state (read-only)")
	}
	fmt.Print(renderQueue(actions, pending, flagQueueAll))
	return nil
}

// renderQueue formats the queue listing. Pending actions always show;
// settled ones only with all set.
func renderQueue(actions []models.QueuedAction, pending int, all bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d pending of %d queued\n", pending, len(actions))
	shown := 0
	for _, action := range actions {
		if !all && action.Status != models.StatusPending {
			continue
		}
		shown++
		fmt.Fprintf(&sb, "\n[%s] %s  queued %s\n", shortID(action.ID), action.Status,
			action.QueuedAt.Format("2006-01-02 15:04 MST"))
		fmt.Fprintf(&sb, "  %s\n", action.Describe())
		if action.Rationale != "" {
			fmt.Fprintf(&sb, "  rationale: %s\n", action.Rationale)
		}
		if action.RollbackPlan != "" {
			fmt.Fprintf(&sb, "  rollback:  %s\n", action.RollbackPlan)
		}
		if action.Decision != nil {
			fmt.Fprintf(&sb, "  decided by %s at %s\n", action.Decision.By,
				action.Decision.At.Format("2006-01-02 15:04 MST"))
		}
		if action.Result != nil {
			fmt.Fprintf(&sb, "  result: exit %d in %s\n", action.Result.ExitStatus,
				action.Result.Duration.Round(time.Millisecond))
		}
	}
	if shown == 0 && !all {
		sb.WriteString("\nnothing awaiting approval\n")
	}
	return sb.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolveActionID expands an id prefix to the full action id. The
// prefix must match exactly one known action.
func resolveActionID(actions []models.QueuedAction, prefix string) (string, error) {
	var matches []string
	for _, action := range actions {
		if action.ID == prefix {
			return action.ID, nil
		}
		if strings.HasPrefix(action.ID, prefix) {
			matches = append(matches, action.ID)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("no queued action matches %q", prefix)
	default:
		return "", fmt.Errorf("%q is ambiguous, matches %d actions", prefix, len(matches))
	}
}

func runDecide(idPrefix string, approve bool) error {
	ctx, cancel := opContext()
	defer cancel()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	client := api.NewClient(cfg.APIListen)

	resp, err := client.Queue(ctx)
	if errors.Is(err, api.ErrDaemonDown) {
		return runtimeErr(fmt.Errorf("daemon is not running; approvals need a live daemon"))
	}
	if err != nil {
		return runtimeErr(err)
	}
	id, err := resolveActionID(resp.Actions, idPrefix)
	if err != nil {
		return err
	}

	var action *models.QueuedAction
	if approve {
		action, err = client.Approve(ctx, id, flagDecidedBy, flagDecideNote)
	} else {
		action, err = client.Reject(ctx, id, flagDecidedBy, flagDecideNote)
	}
	if err != nil {
		return runtimeErr(err)
	}
	fmt.Printf("[%s] %s\n  %s\n", shortID(action.ID), action.Status, action.Describe())
	return nil
}

func runDiscuss(_ *cobra.Command, args []string) error {
	ctx, cancel := chatContext()
	defer cancel()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	actions, _, _, err := fetchQueue(ctx, cfg)
	if err != nil {
		return runtimeErr(err)
	}
	id, err := resolveActionID(actions, args[0])
	if err != nil {
		return err
	}
	var action models.QueuedAction
	for _, a := range actions {
		if a.ID == id {
			action = a
		}
	}

	question := "Explain what this action does, what could go wrong, and whether you would approve it."
	if len(args) > 1 {
		question = strings.Join(args[1:], " ")
	}
	message := discussMessage(action, question)

	reply, _, err := chatTurn(ctx, cfg, "", message)
	if err != nil {
		return runtimeErr(err)
	}
	fmt.Println(reply)
	return nil
}

// discussMessage frames a queued action for the deep tier.
func discussMessage(action models.QueuedAction, question string) string {
	var sb strings.Builder
	sb.WriteString("An action is queued for operator approval.\n")
	fmt.Fprintf(&sb, "Action: %s\n", action.Describe())
	if action.Rationale != "" {
		fmt.Fprintf(&sb, "Rationale: %s\n", action.Rationale)
	}
	if action.RollbackPlan != "" {
		fmt.Fprintf(&sb, "Rollback plan: %s\n", action.RollbackPlan)
	}
	fmt.Fprintf(&sb, "\n%s", question)
	return sb.String()
}
