package models

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatSession_Prune(t *testing.T) {
	s := NewChatSession("chat-1", "you are the host warden")
	for i := 0; i < 10; i++ {
		s.Append(UserMessage(fmt.Sprintf("question %d", i)))
		s.Append(AssistantMessage(fmt.Sprintf("answer %d", i)))
	}
	require.Equal(t, 21, s.Len())

	// One token per message makes the budget easy to reason about.
	countMessages := func(msgs []Message) int { return len(msgs) }
	s.Prune(7, countMessages)

	msgs := s.Messages()
	require.Len(t, msgs, 7)
	assert.Equal(t, RoleSystem, msgs[0].Role, "system message survives pruning")
	assert.Equal(t, "answer 9", msgs[len(msgs)-1].Content, "newest turns survive")
	assert.Equal(t, "question 7", msgs[1].Content, "oldest turns dropped first")
}

func TestChatSession_PruneKeepsLastExchange(t *testing.T) {
	s := NewChatSession("chat-2", "system")
	s.Append(UserMessage("only question"))
	s.Append(AssistantMessage("only answer"))

	// Even an impossible budget never drops below system + latest turn.
	s.Prune(1, func(msgs []Message) int { return len(msgs) * 100 })
	assert.Equal(t, 2, s.Len())
}

func TestChatSession_DropLast(t *testing.T) {
	s := NewChatSession("chat-4", "system")
	s.Append(UserMessage("unanswered"))

	s.DropLast()
	require.Equal(t, 1, s.Len())
	assert.Equal(t, RoleSystem, s.Messages()[0].Role)

	// The system seed is never dropped.
	s.DropLast()
	assert.Equal(t, 1, s.Len())
}

func TestChatSession_ConcurrentAppend(t *testing.T) {
	s := NewChatSession("chat-3", "system")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.Append(UserMessage(fmt.Sprintf("turn %d", n)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 21, s.Len())
}
