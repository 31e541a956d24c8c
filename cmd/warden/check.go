package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardenlabs/warden/pkg/api"
	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/executor"
	"github.com/wardenlabs/warden/pkg/window"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "One-shot daemon health check",
	Long: `Asks the running daemon for its status. When the daemon is down,
prints what the state directory still knows and exits nonzero.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(_ *cobra.Command, _ []string) error {
	ctx, cancel := opContext()
	defer cancel()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	status, err := api.NewClient(cfg.APIListen).Status(ctx)
	if errors.Is(err, api.ErrDaemonDown) {
		printOfflineState(cfg)
		return runtimeErr(fmt.Errorf("daemon is not running (%s)", cfg.APIListen))
	}
	if err != nil {
		return runtimeErr(err)
	}

	fmt.Printf("warden on %s: %s\n", status.Host, status.Health)
	fmt.Printf("  version:      %s\n", status.Version)
	fmt.Printf("  autonomy:     %s\n", status.Autonomy)
	fmt.Printf("  uptime:       %s\n", time.Since(status.StartedAt).Round(time.Second))
	fmt.Printf("  last review:  %s\n", agoOrNever(status.LastReviewAt))
	fmt.Printf("  window:       %d tokens in %d entries\n", status.WindowTokens, status.WindowEntries)
	fmt.Printf("  open issues:  %d\n", status.OpenIssues)
	fmt.Printf("  pending:      %d awaiting approval\n", status.PendingCount)
	fmt.Printf("  trigger:      %d ticks, %d events, %d debounced\n",
		status.TriggerStats.Ticks, status.TriggerStats.EventsAdmitted, status.TriggerStats.EventsDebounced)
	return nil
}

// printOfflineState reports what the state directory holds so `check`
// is still useful when the daemon is down.
func printOfflineState(cfg *config.Config) {
	fmt.Printf("warden daemon is not running\n")
	fmt.Printf("offline state from %s:\n", cfg.StateDir)

	if snap, savedAt, err := window.ReadSnapshot(cfg.StateDir); err == nil {
		fmt.Printf("  last snapshot:  %s (%d entries, %d tokens)\n",
			savedAt.Format(time.RFC3339), snap.Stats.Entries, snap.Stats.Tokens)
	} else {
		fmt.Printf("  last snapshot:  none\n")
	}
	if queue, err := executor.NewQueue(cfg.StateDir); err == nil {
		fmt.Printf("  pending:        %d awaiting approval\n", queue.PendingCount())
	}
}

func agoOrNever(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s ago", time.Since(t).Round(time.Second))
}
