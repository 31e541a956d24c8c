package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/models"
)

type recordingBackend struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (r *recordingBackend) Name() string { return "recording" }

func (r *recordingBackend) Send(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *recordingBackend) notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

func TestNewService_NilWhenUnconfigured(t *testing.T) {
	svc := NewService(config.GotifyConfig{}, config.SlackConfig{})
	assert.Nil(t, svc)
}

func TestNilServiceIsSafe(t *testing.T) {
	var svc *Service
	// Must not panic.
	svc.Send(context.Background(), "title", "body", PriorityHigh)
	svc.IssueCreated(context.Background(), &models.Issue{})
	svc.Escalation(context.Background(), "reason", "")
}

func TestSend_FanOutAndFailOpen(t *testing.T) {
	healthy := &recordingBackend{}
	broken := &recordingBackend{err: errors.New("sink down")}
	svc := NewServiceWithBackends(broken, healthy)

	svc.Send(context.Background(), "Disk filling", "disk_pct 91.2 on /", PriorityMedium)

	require.Len(t, healthy.notifications(), 1)
	assert.Equal(t, "Disk filling", healthy.notifications()[0].Title)
	assert.Len(t, broken.notifications(), 1)
}

func TestSend_DefaultsUnknownPriority(t *testing.T) {
	backend := &recordingBackend{}
	svc := NewServiceWithBackends(backend)

	svc.Send(context.Background(), "t", "b", Priority("urgent"))

	require.Len(t, backend.notifications(), 1)
	assert.Equal(t, PriorityMedium, backend.notifications()[0].Priority)
}

func TestGotifyBackend_Send(t *testing.T) {
	var got gotifyMessage
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/message", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	backend := NewGotifyBackend(server.URL, "app-token")
	require.NotNil(t, backend)
	require.NoError(t, backend.Send(context.Background(), Notification{
		Title: "Action failed", Body: "systemctl restart nginx: exit 1", Priority: PriorityHigh,
	}))

	assert.Equal(t, "Bearer app-token", auth)
	assert.Equal(t, "Action failed", got.Title)
	assert.Equal(t, 8, got.Priority)
}

func TestGotifyBackend_PriorityMapping(t *testing.T) {
	tests := []struct {
		priority Priority
		want     int
	}{
		{PriorityLow, 2},
		{PriorityMedium, 5},
		{PriorityHigh, 8},
	}
	for _, tc := range tests {
		t.Run(string(tc.priority), func(t *testing.T) {
			assert.Equal(t, tc.want, gotifyPriorities[tc.priority])
		})
	}
}

func TestGotifyBackend_NilWhenUnconfigured(t *testing.T) {
	assert.Nil(t, NewGotifyBackend("", "token"))
	assert.Nil(t, NewGotifyBackend("http://gotify:8181", ""))
}

func TestGotifyBackend_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer server.Close()

	backend := NewGotifyBackend(server.URL, "wrong")
	err := backend.Send(context.Background(), Notification{Title: "t", Body: "b", Priority: PriorityLow})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestActionOutcome_PriorityBySuccess(t *testing.T) {
	backend := &recordingBackend{}
	svc := NewServiceWithBackends(backend)

	executed := &models.QueuedAction{
		ProposedAction: models.ProposedAction{
			ID: "a1", Subject: "nginx", Kind: models.ActionServiceRestart, Risk: models.RiskLow,
			Commands: []string{"systemctl restart nginx"},
		},
		Status: models.StatusExecuted,
		Result: &models.ActionResult{StartedAt: time.Now(), Duration: 1200 * time.Millisecond},
	}
	failed := &models.QueuedAction{
		ProposedAction: models.ProposedAction{
			ID: "a2", Subject: "nginx", Kind: models.ActionServiceRestart, Risk: models.RiskLow,
			Commands: []string{"systemctl restart nginx"},
		},
		Status: models.StatusFailed,
		Result: &models.ActionResult{Error: "exit status 1"},
	}

	svc.ActionOutcome(context.Background(), executed)
	svc.ActionOutcome(context.Background(), failed)

	sent := backend.notifications()
	require.Len(t, sent, 2)
	assert.Equal(t, PriorityLow, sent[0].Priority)
	assert.Equal(t, PriorityHigh, sent[1].Priority)
	assert.Contains(t, sent[1].Body, "exit status 1")
}
