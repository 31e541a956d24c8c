package reason

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/wardenlabs/warden/pkg/models"
)

const decisionsFile = "decisions.jsonl"

// DecisionLog is the append-only audit trail of reasoner verdicts.
// Appends are best-effort: a full disk must not stop the reasoning
// loop, it is what the reasoners are there to fix.
type DecisionLog struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewDecisionLog builds a log writing under stateDir.
func NewDecisionLog(stateDir string) *DecisionLog {
	return &DecisionLog{
		path:   filepath.Join(stateDir, decisionsFile),
		logger: slog.Default().With("component", "decisions"),
	}
}

// Append writes one record.
func (l *DecisionLog) Append(record models.DecisionRecord) {
	if l == nil {
		return
	}
	line, err := json.Marshal(record)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		l.logger.Warn("Decision log open failed", "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		l.logger.Warn("Decision log append failed", "error", err)
	}
}

// Tail returns the last n records, oldest first. A missing log is an
// empty history, not an error.
func (l *DecisionLog) Tail(n int) ([]models.DecisionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []models.DecisionRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var record models.DecisionRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}
