package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce is how long file events must settle before a reload.
// Editors and provisioning tools fire several events per save.
const reloadDebounce = 500 * time.Millisecond

// ReloadFunc receives the freshly validated configuration after the file
// on disk changed.
type ReloadFunc func(*Config)

// Watcher re-reads the configuration file on change and hands validated
// results to a callback. A change that fails validation is logged and
// dropped; the running configuration stays in effect.
type Watcher struct {
	path     string
	onReload ReloadFunc
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for the given config file.
func NewWatcher(path string, onReload ReloadFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Watcher{
		path:     path,
		onReload: onReload,
		watcher:  fw,
		logger:   slog.Default().With("component", "config_watcher"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. The parent directory is watched rather than the
// file itself so atomic rename-style rewrites keep being seen.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("Watching configuration for changes", "path", w.path)
	go w.watchLoop(ctx)
	return nil
}

// Stop halts the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		<-w.doneCh
		_ = w.watcher.Close()
	})
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", "error", err)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(reloadDebounce, func() {
		w.reload(ctx)
	})
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := Initialize(ctx, w.path)
	if err != nil {
		w.logger.Error("Configuration change rejected, keeping previous configuration", "error", err)
		return
	}
	w.logger.Info("Configuration reloaded", "autonomy", cfg.AutonomyLevel)
	w.onReload(cfg)
}

// RestartRequired compares two configurations and returns the YAML keys
// whose changes only take effect after a daemon restart. Everything else
// is applied live by the orchestrator.
func RestartRequired(old, new *Config) []string {
	var fields []string
	if old.StateDir != new.StateDir {
		fields = append(fields, "state_dir")
	}
	if old.Database != new.Database {
		fields = append(fields, "database")
	}
	if old.SemanticURL != new.SemanticURL {
		fields = append(fields, "semantic_url")
	}
	if old.APIListen != new.APIListen {
		fields = append(fields, "api_listen")
	}
	if old.TriggerBackendURL != new.TriggerBackendURL ||
		old.ReviewBackendURL != new.ReviewBackendURL ||
		old.MetaBackendURL != new.MetaBackendURL {
		fields = append(fields, "backend_urls")
	}
	if old.ContextBudgetTokens != new.ContextBudgetTokens {
		fields = append(fields, "context_budget_tokens")
	}
	if !strings.EqualFold(old.Hostname, new.Hostname) {
		fields = append(fields, "hostname")
	}
	return fields
}
