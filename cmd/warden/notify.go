package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wardenlabs/warden/pkg/api"
	"github.com/wardenlabs/warden/pkg/notify"
)

var notifyCmd = &cobra.Command{
	Use:   "notify <title> <body> [priority]",
	Short: "Send a notification through warden's sinks",
	Long: `Delivers an operator-authored notification through the daemon. When
the daemon is down, sends directly to the configured backends instead.
Priority is low, medium, or high; default medium.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runNotify,
}

func init() {
	rootCmd.AddCommand(notifyCmd)
}

func runNotify(_ *cobra.Command, args []string) error {
	priority := notify.PriorityMedium
	if len(args) == 3 {
		priority = notify.Priority(args[2])
		if !priority.Valid() {
			return fmt.Errorf("unknown priority %q (want low, medium, or high)", args[2])
		}
	}

	ctx, cancel := opContext()
	defer cancel()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	err = api.NewClient(cfg.APIListen).Notify(ctx, args[0], args[1], string(priority))
	if err == nil {
		fmt.Println("notification sent")
		return nil
	}
	if !errors.Is(err, api.ErrDaemonDown) {
		return runtimeErr(err)
	}

	if cfg.Gotify.URL == "" && cfg.Slack.Token == "" {
		return runtimeErr(errors.New("daemon is not running and no notification backends are configured"))
	}
	notify.NewService(cfg.Gotify, cfg.Slack).Send(ctx, args[0], args[1], priority)
	fmt.Println("notification sent directly to configured backends")
	return nil
}
