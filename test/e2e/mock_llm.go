package e2e

import (
	"context"
	"fmt"
	"sync"

	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/models"
)

// CompleterCall records one completion request: which tier it went to
// and the full message list, so tests can assert on prompt assembly.
type CompleterCall struct {
	Tier     string
	Messages []models.Message
}

// ScriptedCompleter satisfies the Completer contract shared by the
// trigger classifier, both reasoners, the chat sessions, and the window
// summarizer. Replies queue per tier name and are consumed in call
// order; a call against an exhausted script returns an error so a test
// that forgot to script a reply fails loudly instead of hanging on an
// invented response.
type ScriptedCompleter struct {
	mu      sync.Mutex
	scripts map[string][]string
	calls   []CompleterCall
}

// NewScriptedCompleter creates an empty completer; nothing answers
// until Script queues a reply.
func NewScriptedCompleter() *ScriptedCompleter {
	return &ScriptedCompleter{scripts: make(map[string][]string)}
}

// Script queues replies for one tier (config.TierTrigger, TierReview,
// or TierMeta), consumed in call order.
func (c *ScriptedCompleter) Script(tier string, replies ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[tier] = append(c.scripts[tier], replies...)
}

// Complete pops the next scripted reply for the tier.
func (c *ScriptedCompleter) Complete(_ context.Context, tier config.LLMTier, messages []models.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, CompleterCall{Tier: tier.Name, Messages: messages})

	queue := c.scripts[tier.Name]
	if len(queue) == 0 {
		return "", fmt.Errorf("scripted completer: no reply queued for tier %q (call %d)", tier.Name, len(c.calls))
	}
	reply := queue[0]
	c.scripts[tier.Name] = queue[1:]
	return reply, nil
}

// Calls returns every completion request made so far, oldest first.
func (c *ScriptedCompleter) Calls() []CompleterCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CompleterCall, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallCount returns how many completions went to one tier.
func (c *ScriptedCompleter) CallCount(tier string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, call := range c.calls {
		if call.Tier == tier {
			count++
		}
	}
	return count
}

// LastPrompt returns the user-role content of the most recent call to
// the tier, or "" when the tier was never called.
func (c *ScriptedCompleter) LastPrompt(tier string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.calls) - 1; i >= 0; i-- {
		if c.calls[i].Tier != tier {
			continue
		}
		for j := len(c.calls[i].Messages) - 1; j >= 0; j-- {
			if c.calls[i].Messages[j].Role == models.RoleUser {
				return c.calls[i].Messages[j].Content
			}
		}
		return ""
	}
	return ""
}
