// Package tokens provides token counting for context budget enforcement.
// Counts come from tiktoken's cl100k_base encoding, a close enough
// approximation for the local chat-completions models warden talks to;
// when the encoding cannot be loaded the counter degrades to a chars/4
// estimate rather than failing.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/wardenlabs/warden/pkg/models"
)

// perMessageOverhead approximates the chat-completions framing cost of one
// message (role markers and separators).
const perMessageOverhead = 4

// Counter counts tokens. The zero value is not usable; get one from
// Default or NewCounter.
type Counter struct {
	mu      sync.Mutex
	encoder *tiktoken.Tiktoken
}

var (
	defaultCounter *Counter
	defaultOnce    sync.Once
)

// Default returns the process-wide shared counter. Loading the encoding is
// expensive, so everyone shares one instance.
func Default() *Counter {
	defaultOnce.Do(func() {
		defaultCounter = NewCounter()
	})
	return defaultCounter
}

// NewCounter builds a counter backed by cl100k_base, or a chars/4
// estimator when the encoding is unavailable.
func NewCounter() *Counter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &Counter{}
	}
	return &Counter{encoder: enc}
}

// Count returns the token count of text.
func (c *Counter) Count(text string) int {
	if c.encoder == nil {
		return len(text) / 4
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.encoder.Encode(text, nil, nil))
}

// CountMessages returns the token count of a conversation including
// per-message framing overhead.
func (c *Counter) CountMessages(msgs []models.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead + c.Count(m.Content)
	}
	return total
}

// Count is a convenience wrapper over the shared counter.
func Count(text string) int {
	return Default().Count(text)
}

// CountMessages is a convenience wrapper over the shared counter.
func CountMessages(msgs []models.Message) int {
	return Default().CountMessages(msgs)
}

// Truncate cuts text down so it counts at most budget tokens, appending
// marker when anything was removed. Works on the encoded form when the
// encoder is available, so the cut lands on a token boundary.
func (c *Counter) Truncate(text string, budget int, marker string) string {
	if budget <= 0 {
		return marker
	}
	if c.Count(text) <= budget {
		return text
	}
	markerTokens := c.Count(marker)
	keep := budget - markerTokens
	if keep <= 0 {
		keep = budget
		marker = ""
	}
	if c.encoder == nil {
		if len(text) > keep*4 {
			text = text[:keep*4]
		}
		return text + marker
	}
	c.mu.Lock()
	ids := c.encoder.Encode(text, nil, nil)
	if len(ids) > keep {
		ids = ids[:keep]
	}
	out := c.encoder.Decode(ids)
	c.mu.Unlock()
	return out + marker
}
