package reason

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/models"
	"github.com/wardenlabs/warden/pkg/tokens"
	"github.com/wardenlabs/warden/pkg/window"
)

// maxSessions bounds how many operator conversations stay in memory;
// past that the longest-idle session is evicted.
const maxSessions = 32

// HeaderSource exposes the window's system header for chat prompts,
// satisfied by the context window.
type HeaderSource interface {
	Snapshot(ctx context.Context) (window.Snapshot, error)
}

// SessionOptions wires a SessionManager. Window may be nil.
type SessionOptions struct {
	Config *config.Config
	LLM    Completer
	Window HeaderSource
}

// SessionManager holds interactive operator conversations with the deep
// tier. Histories live outside the context window; each prompt is the
// system header plus the session so far plus the new turn.
type SessionManager struct {
	cfgMu sync.RWMutex
	cfg   *config.Config

	llm    Completer
	window HeaderSource
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*models.ChatSession
	touched  map[string]time.Time
}

// NewSessionManager builds the chat session store.
func NewSessionManager(opts SessionOptions) *SessionManager {
	return &SessionManager{
		cfg:      opts.Config,
		llm:      opts.LLM,
		window:   opts.Window,
		logger:   slog.Default().With("component", "chat"),
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*models.ChatSession),
		touched:  make(map[string]time.Time),
	}
}

// UpdateConfig swaps the configuration used for tier and budget.
func (s *SessionManager) UpdateConfig(cfg *config.Config) {
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()
}

func (s *SessionManager) config() *config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// Chat runs one conversational turn. An empty sessionID opens a new
// session; the returned id is what the client reuses for follow-ups.
func (s *SessionManager) Chat(ctx context.Context, sessionID, message string) (string, string, error) {
	if message == "" {
		return sessionID, "", errors.New("empty chat message")
	}
	cfg := s.config()
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	session := s.session(ctx, sessionID)
	session.Append(models.UserMessage(message))
	session.Prune(cfg.MetaContextTokens, tokens.CountMessages)

	reply, err := s.llm.Complete(ctx, cfg.MetaTier(), session.Messages())
	if err != nil {
		// Roll the unanswered turn back so a retry does not stack it.
		session.DropLast()
		return sessionID, "", err
	}
	session.Append(models.AssistantMessage(reply))
	return sessionID, reply, nil
}

// session returns the live session for id, seeding a new one with the
// current system header on first use.
func (s *SessionManager) session(ctx context.Context, id string) *models.ChatSession {
	system := s.systemMessage(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = models.NewChatSession(id, system.Content)
		s.sessions[id] = sess
	}
	s.touched[id] = s.now()
	s.evictIdleLocked()
	return sess
}

// Ask is a one-turn session: one question, one answer, nothing kept.
func (s *SessionManager) Ask(ctx context.Context, question string) (string, error) {
	if question == "" {
		return "", errors.New("empty question")
	}
	cfg := s.config()
	return s.llm.Complete(ctx, cfg.MetaTier(), []models.Message{
		s.systemMessage(ctx),
		models.UserMessage(question),
	})
}

// End discards a session.
func (s *SessionManager) End(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	delete(s.touched, sessionID)
	s.mu.Unlock()
}

// systemMessage frames the conversation with the window's current
// system header. A header fetch failure degrades to the bare
// instruction.
func (s *SessionManager) systemMessage(ctx context.Context) models.Message {
	content := chatInstruction
	if s.window != nil {
		if snap, err := s.window.Snapshot(ctx); err == nil && snap.Header != nil {
			content += "\n\n" + snap.Header.Body
		}
	}
	return models.SystemMessage(content)
}

func (s *SessionManager) evictIdleLocked() {
	for len(s.sessions) > maxSessions {
		oldestID := ""
		var oldestAt time.Time
		for id, at := range s.touched {
			if oldestID == "" || at.Before(oldestAt) {
				oldestID = id
				oldestAt = at
			}
		}
		if oldestID == "" {
			return
		}
		delete(s.sessions, oldestID)
		delete(s.touched, oldestID)
		s.logger.Debug("Idle chat session evicted", "session_id", oldestID)
	}
}
