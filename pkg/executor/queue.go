package executor

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/wardenlabs/warden/pkg/models"
)

const (
	journalFile  = "queue.jsonl"
	snapshotName = "queue_snapshot.json"

	// maxTerminal bounds how many settled actions stay in memory and in
	// the snapshot. The journal keeps the full history.
	maxTerminal = 200
)

// ErrNotFound reports an unknown action id.
var ErrNotFound = errors.New("action not found")

// Queue holds queued actions and persists every state change twice: an
// append-only journal line for audit, and a rewritten snapshot for fast
// restore. The mutex is never held across command execution.
type Queue struct {
	mu      sync.Mutex
	byID    map[string]*models.QueuedAction
	seq     uint64
	journal string
	snap    string
	logger  *slog.Logger
	now     func() time.Time
}

type queueSnapshot struct {
	Actions []models.QueuedAction `json:"actions"`
	Seq     uint64                `json:"seq"`
	SavedAt time.Time             `json:"saved_at"`
}

// NewQueue builds a queue persisting under stateDir, restoring any
// previous state: the snapshot first, then every journal record in
// order, so a snapshot torn by a crash is healed by the replay.
func NewQueue(stateDir string) (*Queue, error) {
	q := &Queue{
		byID:    make(map[string]*models.QueuedAction),
		journal: filepath.Join(stateDir, journalFile),
		snap:    filepath.Join(stateDir, snapshotName),
		logger:  slog.Default().With("component", "queue"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	if err := q.restore(); err != nil {
		return nil, fmt.Errorf("restore queue: %w", err)
	}
	return q, nil
}

func (q *Queue) restore() error {
	if data, err := os.ReadFile(q.snap); err == nil {
		var snap queueSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			q.logger.Warn("Queue snapshot unreadable, relying on journal", "error", err)
		} else {
			for i := range snap.Actions {
				action := snap.Actions[i]
				q.byID[action.ID] = &action
			}
			q.seq = snap.Seq
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read snapshot: %w", err)
	}

	f, err := os.Open(q.journal)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	replayed := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var action models.QueuedAction
		if err := json.Unmarshal(scanner.Bytes(), &action); err != nil {
			continue
		}
		record := action
		q.byID[record.ID] = &record
		if record.Seq > q.seq {
			q.seq = record.Seq
		}
		replayed++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan journal: %w", err)
	}
	if replayed > 0 {
		q.logger.Info("Queue restored", "actions", len(q.byID), "journal_records", replayed)
	}
	return nil
}

// Enqueue assigns the next sequence number and persists the action with
// the given initial status.
func (q *Queue) Enqueue(action models.ProposedAction, status models.QueueStatus) (*models.QueuedAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	queued := &models.QueuedAction{
		ProposedAction: action,
		Seq:            q.seq,
		QueuedAt:       q.now(),
		Status:         status,
	}
	q.byID[queued.ID] = queued
	if err := q.persistLocked(queued); err != nil {
		return nil, err
	}
	return q.cloneLocked(queued), nil
}

// Update persists a mutated action. The caller owns the state
// transition; Update only records it.
func (q *Queue) Update(action *models.QueuedAction) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, ok := q.byID[action.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, action.ID)
	}
	*stored = *action
	return q.persistLocked(stored)
}

// Get returns a copy of the action with the given id.
func (q *Queue) Get(id string) (*models.QueuedAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	action, ok := q.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return q.cloneLocked(action), nil
}

// List returns every known action in sequence order.
func (q *Queue) List() []models.QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	actions := make([]models.QueuedAction, 0, len(q.byID))
	for _, action := range q.byID {
		actions = append(actions, *q.cloneLocked(action))
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].Seq < actions[j].Seq })
	return actions
}

// Pending returns actions awaiting a decision, in sequence order.
func (q *Queue) Pending() []models.QueuedAction {
	all := q.List()
	pending := all[:0]
	for _, action := range all {
		if action.Status == models.StatusPending {
			pending = append(pending, action)
		}
	}
	return pending
}

// PendingCount returns the backpressure-relevant queue depth.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, action := range q.byID {
		if action.Status == models.StatusPending {
			count++
		}
	}
	return count
}

// FindDuplicate returns the pending action whose description reads the
// same as the proposal, if any.
func (q *Queue) FindDuplicate(action models.ProposedAction) *models.QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, existing := range q.byID {
		if existing.Status != models.StatusPending {
			continue
		}
		if existing.Subject == action.Subject && similarDescriptions(existing.Description, action.Description) {
			return q.cloneLocked(existing)
		}
	}
	return nil
}

// Persist rewrites the snapshot, for the shutdown path.
func (q *Queue) Persist() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.writeSnapshotLocked()
}

// persistLocked appends the journal record and rewrites the snapshot.
// Caller holds the mutex.
func (q *Queue) persistLocked(action *models.QueuedAction) error {
	line, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	f, err := os.OpenFile(q.journal, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("append journal: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}

	q.pruneLocked()
	return q.writeSnapshotLocked()
}

func (q *Queue) writeSnapshotLocked() error {
	snap := queueSnapshot{
		Actions: make([]models.QueuedAction, 0, len(q.byID)),
		Seq:     q.seq,
		SavedAt: q.now(),
	}
	for _, action := range q.byID {
		snap.Actions = append(snap.Actions, *action)
	}
	sort.Slice(snap.Actions, func(i, j int) bool { return snap.Actions[i].Seq < snap.Actions[j].Seq })

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmp := q.snap + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, q.snap); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// pruneLocked evicts the oldest settled actions once there are more than
// the in-memory cap. Their journal records remain.
func (q *Queue) pruneLocked() {
	var terminal []*models.QueuedAction
	for _, action := range q.byID {
		if action.Status.Terminal() {
			terminal = append(terminal, action)
		}
	}
	if len(terminal) <= maxTerminal {
		return
	}
	sort.Slice(terminal, func(i, j int) bool { return terminal[i].Seq < terminal[j].Seq })
	for _, action := range terminal[:len(terminal)-maxTerminal] {
		delete(q.byID, action.ID)
	}
}

func (q *Queue) cloneLocked(action *models.QueuedAction) *models.QueuedAction {
	clone := *action
	if action.Decision != nil {
		decision := *action.Decision
		clone.Decision = &decision
	}
	if action.Result != nil {
		result := *action.Result
		clone.Result = &result
	}
	clone.Commands = append([]string(nil), action.Commands...)
	return &clone
}
