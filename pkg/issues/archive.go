package issues

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/wardenlabs/warden/pkg/models"
)

const archiveFile = "closed_issues.jsonl"

// archive is the append-only log of closed issues.
type archive struct {
	mu   sync.Mutex
	path string
}

func newArchive(stateDir string) *archive {
	return &archive{path: filepath.Join(stateDir, archiveFile)}
}

func (a *archive) append(issue *models.Issue) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	line, err := json.Marshal(issue)
	if err != nil {
		return fmt.Errorf("marshal issue: %w", err)
	}

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append archive: %w", err)
	}
	return nil
}

// read returns archived issues, oldest first. Undecodable lines are
// skipped. A missing archive yields an empty slice.
func (a *archive) read() ([]*models.Issue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	var issues []*models.Issue
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var issue models.Issue
		if err := json.Unmarshal(scanner.Bytes(), &issue); err != nil {
			continue
		}
		issues = append(issues, &issue)
	}
	if err := scanner.Err(); err != nil {
		return issues, fmt.Errorf("scan archive: %w", err)
	}
	return issues, nil
}

// Archived returns closed issues from the on-disk archive, oldest first.
func (t *Tracker) Archived() ([]*models.Issue, error) {
	return t.archive.read()
}
