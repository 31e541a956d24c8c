// Package api is the daemon's control surface: a small JSON API on a
// localhost listener that the warden CLI talks to. It exposes daemon
// status, the action queue with approve/reject, tracked issues, chat
// sessions, and operator notifications.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wardenlabs/warden/pkg/models"
	"github.com/wardenlabs/warden/pkg/notify"
)

// StatusSource reports daemon-wide state, satisfied by the orchestrator.
type StatusSource interface {
	Status(ctx context.Context) models.StatusResponse
}

// ActionStore lists queued actions, satisfied by the executor queue.
type ActionStore interface {
	List() []models.QueuedAction
	PendingCount() int
}

// Decider settles pending actions, satisfied by the executor.
type Decider interface {
	Approve(ctx context.Context, id, by, note string) (*models.QueuedAction, error)
	Reject(ctx context.Context, id, by, note string) (*models.QueuedAction, error)
}

// IssueLister serves tracked issues, satisfied by the issue tracker.
type IssueLister interface {
	List(status models.IssueStatus) []*models.Issue
}

// ChatService runs conversational turns, satisfied by the session
// manager.
type ChatService interface {
	Chat(ctx context.Context, sessionID, message string) (string, string, error)
}

// Options wires a Server. Every dependency is required except Notify,
// which may be nil when no notification backend is configured.
type Options struct {
	Listen  string
	Status  StatusSource
	Actions ActionStore
	Decider Decider
	Issues  IssueLister
	Chat    ChatService
	Notify  *notify.Service
}

// Server is the HTTP control API.
type Server struct {
	listen  string
	status  StatusSource
	actions ActionStore
	decider Decider
	issues  IssueLister
	chat    ChatService
	notify  *notify.Service
	logger  *slog.Logger

	srv *http.Server
}

// NewServer builds the control API server. Call Start to begin serving.
func NewServer(opts Options) *Server {
	s := &Server{
		listen:  opts.Listen,
		status:  opts.Status,
		actions: opts.Actions,
		decider: opts.Decider,
		issues:  opts.Issues,
		chat:    opts.Chat,
		notify:  opts.Notify,
		logger:  slog.Default().With("component", "api"),
	}
	s.srv = &http.Server{
		Addr:              opts.Listen,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routed engine for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLog())

	engine.GET("/healthz", s.handleHealthz)

	v1 := engine.Group("/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/queue", s.handleQueueList)
	v1.POST("/queue/:id/approve", s.handleApprove)
	v1.POST("/queue/:id/reject", s.handleReject)
	v1.GET("/issues", s.handleIssueList)
	v1.POST("/chat", s.handleChat)
	v1.POST("/notify", s.handleNotify)

	return engine
}

// requestLog logs one line per request at debug, errors at warn.
func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start).Round(time.Millisecond),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Warn("Request failed", fields...)
			return
		}
		s.logger.Debug("Request served", fields...)
	}
}

// Start binds the listener and serves in the background. A bind failure
// surfaces immediately; serve errors after that are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	s.logger.Info("Control API listening", "addr", ln.Addr().String())

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Control API serve failed", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
