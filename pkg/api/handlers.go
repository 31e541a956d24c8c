package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wardenlabs/warden/pkg/executor"
	"github.com/wardenlabs/warden/pkg/llm"
	"github.com/wardenlabs/warden/pkg/models"
	"github.com/wardenlabs/warden/pkg/notify"
)

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status.Status(c.Request.Context()))
}

func (s *Server) handleQueueList(c *gin.Context) {
	c.JSON(http.StatusOK, models.QueueListResponse{
		Actions: s.actions.List(),
		Pending: s.actions.PendingCount(),
	})
}

func (s *Server) handleApprove(c *gin.Context) {
	s.decide(c, s.decider.Approve)
}

func (s *Server) handleReject(c *gin.Context) {
	s.decide(c, s.decider.Reject)
}

// decide runs one approve or reject. The request body is optional; a
// bare POST decides as "operator" without a note.
func (s *Server) decide(c *gin.Context, fn func(ctx context.Context, id, by, note string) (*models.QueuedAction, error)) {
	id := c.Param("id")

	req := models.DecideRequest{By: "operator"}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.By == "" {
			req.By = "operator"
		}
	}

	action, err := fn(c.Request.Context(), id, req.By, req.Note)
	switch {
	case errors.Is(err, executor.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, executor.ErrPolicyRejected):
		// The decision stood but the policy recheck settled the action
		// as rejected. The caller gets the settled record.
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "action": action})
	case err != nil:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, action)
	}
}

func (s *Server) handleIssueList(c *gin.Context) {
	var statuses []models.IssueStatus
	switch raw := c.Query("status"); raw {
	case "":
		statuses = []models.IssueStatus{
			models.IssueOpen, models.IssueInvestigating,
			models.IssueResolved, models.IssueClosed,
		}
	case string(models.IssueOpen), string(models.IssueInvestigating),
		string(models.IssueResolved), string(models.IssueClosed):
		statuses = []models.IssueStatus{models.IssueStatus(raw)}
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid status: must be open, investigating, resolved, or closed",
		})
		return
	}

	resp := models.IssueListResponse{Issues: []*models.Issue{}}
	for _, status := range statuses {
		resp.Issues = append(resp.Issues, s.issues.List(status)...)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleChat(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID, reply, err := s.chat.Chat(c.Request.Context(), req.SessionID, req.Message)
	switch {
	case errors.Is(err, llm.ErrBackendDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, models.ChatResponse{SessionID: sessionID, Reply: reply})
	}
}

func (s *Server) handleNotify(c *gin.Context) {
	var req models.NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	priority := notify.PriorityMedium
	if req.Priority != "" {
		priority = notify.Priority(strings.ToLower(req.Priority))
		if !priority.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid priority: must be low, medium, or high"})
			return
		}
	}

	s.notify.Send(c.Request.Context(), req.Title, req.Body, priority)
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}
