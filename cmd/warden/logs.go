package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardenlabs/warden/pkg/models"
	"github.com/wardenlabs/warden/pkg/reason"
)

var flagLogLines int

var logsCmd = &cobra.Command{
	Use:   "logs <stream>",
	Short: "Read the daemon's audit logs",
	Long: `Streams:
  decisions   every review and deep-analysis verdict
  actions     every action state change, with results`,
	Args: cobra.ExactArgs(1),
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().IntVarP(&flagLogLines, "lines", "n", 20, "how many records to show")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(_ *cobra.Command, args []string) error {
	ctx, cancel := opContext()
	defer cancel()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	switch args[0] {
	case "decisions":
		records, err := reason.NewDecisionLog(cfg.StateDir).Tail(flagLogLines)
		if err != nil {
			return runtimeErr(fmt.Errorf("read decisions log: %w", err))
		}
		for _, record := range records {
			fmt.Println(renderDecision(record))
		}
		if len(records) == 0 {
			fmt.Println("no decisions recorded")
		}
		return nil
	case "actions":
		actions, err := tailActions(filepath.Join(cfg.StateDir, "actions.jsonl"), flagLogLines)
		if err != nil {
			return runtimeErr(fmt.Errorf("read actions log: %w", err))
		}
		for _, action := range actions {
			fmt.Println(renderActionRecord(action))
		}
		if len(actions) == 0 {
			fmt.Println("no actions recorded")
		}
		return nil
	default:
		return fmt.Errorf("unknown stream %q (want decisions or actions)", args[0])
	}
}

func renderDecision(record models.DecisionRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s  %s/%s", record.At.Format("2006-01-02 15:04:05"), record.Tier, record.Model)
	if record.Status != "" {
		fmt.Fprintf(&sb, "  %s", record.Status)
	}
	if record.Assessment != "" {
		fmt.Fprintf(&sb, "  %s", record.Assessment)
	}
	if len(record.ActionIDs) > 0 {
		fmt.Fprintf(&sb, "  (%d actions)", len(record.ActionIDs))
	}
	if record.Escalated {
		sb.WriteString("  [escalated]")
	}
	if record.Error != "" {
		fmt.Fprintf(&sb, "  error: %s", record.Error)
	}
	fmt.Fprintf(&sb, "  %dms", record.DurationMs)
	return sb.String()
}

func renderActionRecord(action models.QueuedAction) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s  [%s] %s", action.QueuedAt.Format("2006-01-02 15:04:05"),
		action.Status, action.Describe())
	if action.Decision != nil {
		fmt.Fprintf(&sb, "  by %s", action.Decision.By)
	}
	if action.Result != nil {
		fmt.Fprintf(&sb, "  exit %d in %s", action.Result.ExitStatus,
			action.Result.Duration.Round(time.Millisecond))
		if action.Result.Error != "" {
			fmt.Fprintf(&sb, " (%s)", action.Result.Error)
		}
	}
	return sb.String()
}

// tailActions reads the last n records of the actions journal, oldest
// first. Torn lines from a crash mid-append are skipped.
func tailActions(path string, n int) ([]models.QueuedAction, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []models.QueuedAction
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var record models.QueuedAction
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}
