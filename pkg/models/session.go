package models

import (
	"sync"
	"time"
)

// ChatSession is an operator conversation held outside the context window.
// Sessions are in-memory only; they do not survive a daemon restart.
type ChatSession struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	mu       sync.Mutex
	messages []Message
}

// NewChatSession creates an empty session seeded with a system message.
func NewChatSession(id string, system string) *ChatSession {
	return &ChatSession{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		messages:  []Message{SystemMessage(system)},
	}
}

// Append adds a message to the session history.
func (s *ChatSession) Append(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// DropLast removes the newest message, rolling back a turn whose
// completion never arrived. The system message always stays.
func (s *ChatSession) DropLast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) > 1 {
		s.messages = s.messages[:len(s.messages)-1]
	}
}

// Messages returns a copy of the session history.
func (s *ChatSession) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages in the session.
func (s *ChatSession) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Prune drops the oldest non-system messages until estimate(messages)
// reports at most budget tokens. The leading system message always stays.
func (s *ChatSession) Prune(budget int, estimate func([]Message) int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.messages) > 2 && estimate(s.messages) > budget {
		// index 0 is the system message
		s.messages = append(s.messages[:1], s.messages[2:]...)
	}
}
