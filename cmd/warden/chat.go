package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wardenlabs/warden/pkg/api"
	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/llm"
	"github.com/wardenlabs/warden/pkg/reason"
	"github.com/wardenlabs/warden/pkg/window"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the deep model about this host",
	Long: `Opens an interactive session with the deep tier. The conversation
carries the daemon's system header, so the model knows what host it is
speaking for. Works against a running daemon, or directly against the
LLM backend when the daemon is down.`,
	Args: cobra.NoArgs,
	RunE: runChatSession,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the deep model one question",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	rootCmd.AddCommand(chatCmd, askCmd)
}

// chatter routes conversational turns to the daemon when it runs, or
// drives the deep tier directly from this process when it does not.
// Once a turn falls back it stays local; a daemon starting mid-session
// would not know the session anyway.
type chatter struct {
	cfg     *config.Config
	client  *api.Client
	local   *reason.SessionManager
	offline bool
}

func newChatter(cfg *config.Config) *chatter {
	return &chatter{cfg: cfg, client: api.NewClient(cfg.APIListen)}
}

func (c *chatter) turn(ctx context.Context, sessionID, message string) (reply, sid string, err error) {
	if !c.offline {
		resp, err := c.client.Chat(ctx, sessionID, message)
		if err == nil {
			return resp.Reply, resp.SessionID, nil
		}
		if !errors.Is(err, api.ErrDaemonDown) {
			return "", "", err
		}
		c.offline = true
		fmt.Fprintln(os.Stderr, "daemon is not running; talking to the backend directly")
	}
	sid, reply, err = c.localManager().Chat(ctx, sessionID, message)
	return reply, sid, err
}

func (c *chatter) ask(ctx context.Context, question string) (string, error) {
	if !c.offline {
		resp, err := c.client.Chat(ctx, "", question)
		if err == nil {
			return resp.Reply, nil
		}
		if !errors.Is(err, api.ErrDaemonDown) {
			return "", err
		}
		c.offline = true
	}
	return c.localManager().Ask(ctx, question)
}

func (c *chatter) localManager() *reason.SessionManager {
	if c.local == nil {
		c.local = reason.NewSessionManager(reason.SessionOptions{
			Config: c.cfg,
			LLM:    llm.NewClient(),
			Window: snapshotHeader{stateDir: c.cfg.StateDir},
		})
	}
	return c.local
}

// chatTurn runs one turn without keeping the chatter around.
func chatTurn(ctx context.Context, cfg *config.Config, sessionID, message string) (string, string, error) {
	return newChatter(cfg).turn(ctx, sessionID, message)
}

// snapshotHeader serves the persisted system header to offline chat
// sessions. The session manager degrades to a bare instruction when
// the snapshot is unreadable.
type snapshotHeader struct {
	stateDir string
}

func (s snapshotHeader) Snapshot(context.Context) (window.Snapshot, error) {
	snap, _, err := window.ReadSnapshot(s.stateDir)
	return snap, err
}

func runChatSession(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig(context.Background())
	if err != nil {
		return err
	}
	ch := newChatter(cfg)

	fmt.Printf("Chatting with warden on %s. Type 'exit' to leave.\n", cfg.Hostname)
	scanner := bufio.NewScanner(os.Stdin)
	sessionID := ""
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		ctx, cancel := chatContext()
		reply, sid, err := ch.turn(ctx, sessionID, line)
		cancel()
		if err != nil {
			if errors.Is(err, llm.ErrBackendDown) {
				return runtimeErr(err)
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		sessionID = sid
		fmt.Printf("\n%s\n\n", reply)
	}
	return runtimeErr(scanner.Err())
}

func runAsk(_ *cobra.Command, args []string) error {
	ctx, cancel := chatContext()
	defer cancel()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	reply, err := newChatter(cfg).ask(ctx, strings.Join(args, " "))
	if err != nil {
		return runtimeErr(err)
	}
	fmt.Println(reply)
	return nil
}
