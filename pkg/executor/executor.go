// Package executor gatekeeps every state-changing operation: policy
// check against the protected service set, autonomy gate, durable
// approval queue, and the runners that finally touch the host. Outcomes
// fan out to the context window, the issue tracker, the actions log,
// and notifications.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/models"
	"github.com/wardenlabs/warden/pkg/notify"
	"github.com/wardenlabs/warden/pkg/window"
)

const actionsLogFile = "actions.jsonl"

// ErrDuplicate reports a proposal suppressed because a pending action
// already says the same thing.
var ErrDuplicate = errors.New("duplicate of a pending action")

// Admitter receives action outcome entries, satisfied by the context
// window.
type Admitter interface {
	Append(ctx context.Context, entry models.ContextEntry) error
}

// IssueAnnotator links actions to the issues they address, satisfied by
// the issue tracker.
type IssueAnnotator interface {
	RecordAction(ctx context.Context, subject string, ref models.ActionRef)
}

// Observer is told about settled actions after the outcome fanout. The
// meta reasoner hangs its reflection pass off this.
type Observer interface {
	ActionSettled(ctx context.Context, action *models.QueuedAction)
}

// Options wires an Executor. Window, Issues, and Notify may be nil.
type Options struct {
	Config *config.Config
	Queue  *Queue
	Runner *Runner
	Window Admitter
	Issues IssueAnnotator
	Notify *notify.Service

	// Probe overrides the approval-time target re-validation. Nil
	// means `systemctl is-active`.
	Probe func(ctx context.Context, unit string) (string, error)
}

// Executor owns the action pipeline. Submissions and decisions are safe
// for concurrent use; execution happens on a single worker goroutine so
// actions run in the order they were admitted.
type Executor struct {
	mu  sync.RWMutex
	cfg *config.Config

	queue    *Queue
	runner   *Runner
	window   Admitter
	issues   IssueAnnotator
	notify   *notify.Service
	observer Observer
	logger   *slog.Logger

	actionsLog string

	// probe re-validates restart targets on approval; swapped by tests.
	probe func(ctx context.Context, unit string) (string, error)
	now   func() time.Time

	execCh chan string
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an executor.
func New(opts Options) *Executor {
	probe := opts.Probe
	if probe == nil {
		probe = probeUnit
	}
	return &Executor{
		cfg:        opts.Config,
		queue:      opts.Queue,
		runner:     opts.Runner,
		window:     opts.Window,
		issues:     opts.Issues,
		notify:     opts.Notify,
		logger:     slog.Default().With("component", "executor"),
		actionsLog: filepath.Join(opts.Config.StateDir, actionsLogFile),
		probe:      probe,
		now:        func() time.Time { return time.Now().UTC() },
		execCh:     make(chan string, 64),
		done:       make(chan struct{}),
	}
}

// SetObserver registers a settlement observer. Call before Start; the
// executor and the observer usually need each other, so this breaks the
// construction cycle.
func (e *Executor) SetObserver(obs Observer) {
	e.observer = obs
}

// Start launches the execution worker and re-dispatches actions that
// were approved but not yet run when the previous process exited.
func (e *Executor) Start(ctx context.Context) error {
	if e.cancel != nil {
		return nil
	}
	ctx, e.cancel = context.WithCancel(ctx)
	go e.work(ctx)

	resubmitted := 0
	for _, action := range e.queue.List() {
		if action.Status == models.StatusApproved {
			e.dispatch(action.ID)
			resubmitted++
		}
	}
	if resubmitted > 0 {
		e.logger.Info("Re-dispatched approved actions from restore", "count", resubmitted)
	}
	return nil
}

// Stop terminates the worker, letting an in-flight action's command be
// killed through context cancellation.
func (e *Executor) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.logger.Info("Executor stopped")
}

// UpdateConfig swaps the configuration: autonomy level, protected set,
// and allow-lists take effect for the next submission.
func (e *Executor) UpdateConfig(cfg *config.Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.runner.UpdateConfig(cfg)
}

func (e *Executor) config() *config.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Queue exposes the underlying queue for listings and status reporting.
func (e *Executor) Queue() *Queue {
	return e.queue
}

// Submit runs one proposal through the pipeline: policy, duplicate
// suppression, autonomy gate. The returned action reflects its queue
// state; a policy refusal returns the rejected record together with
// ErrPolicyRejected.
func (e *Executor) Submit(ctx context.Context, action models.ProposedAction) (*models.QueuedAction, error) {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	cfg := e.config()

	if perr := checkPolicy(action.Commands, cfg.ProtectedServices); perr != nil {
		queued, err := e.queue.Enqueue(action, models.StatusPending)
		if err != nil {
			return nil, err
		}
		if err := queued.Transition(models.StatusRejected); err != nil {
			return nil, err
		}
		queued.Decision = &models.Decision{At: e.now(), By: "policy", Note: perr.Error()}
		if err := e.queue.Update(queued); err != nil {
			return nil, err
		}

		e.logger.Warn("Action rejected by policy", "action_id", action.ID, "reason", perr)
		e.notify.PolicyRejected(ctx, &action, perr.Error())
		e.annotate(ctx, queued)
		e.appendWindowEntry(ctx, queued)
		return queued, perr
	}

	if dup := e.queue.FindDuplicate(action); dup != nil {
		e.logger.Info("Duplicate proposal suppressed",
			"action_id", action.ID, "pending_id", dup.ID, "subject", action.Subject)
		return nil, fmt.Errorf("%w: pending action %s", ErrDuplicate, dup.ID)
	}

	queued, err := e.queue.Enqueue(action, models.StatusPending)
	if err != nil {
		return nil, err
	}

	if autoExecutable(cfg.AutonomyLevel, action, e.queue.PendingCount(), cfg.QueueMaxPending) {
		if err := queued.Transition(models.StatusApproved); err != nil {
			return nil, err
		}
		queued.Decision = &models.Decision{
			At: e.now(),
			By: "autonomy:" + string(cfg.AutonomyLevel),
		}
		if err := e.queue.Update(queued); err != nil {
			return nil, err
		}
		e.logger.Info("Action auto-approved",
			"action_id", queued.ID, "kind", queued.Kind, "risk", queued.Risk)
		e.annotate(ctx, queued)
		e.dispatch(queued.ID)
		return queued, nil
	}

	e.logger.Info("Action queued for approval",
		"action_id", queued.ID, "kind", queued.Kind, "risk", queued.Risk)
	e.notify.ActionQueued(ctx, queued)
	e.annotate(ctx, queued)
	return queued, nil
}

// Approve settles a pending action and hands it to the worker. The
// target is re-validated first: a restart whose unit vanished fails
// without running, and other kinds re-pass the policy check against the
// current configuration.
func (e *Executor) Approve(ctx context.Context, id, by, note string) (*models.QueuedAction, error) {
	queued, err := e.queue.Get(id)
	if err != nil {
		return nil, err
	}
	if queued.Status != models.StatusPending {
		return nil, fmt.Errorf("action %s: already %s", id, queued.Status)
	}
	cfg := e.config()

	if queued.Kind == models.ActionServiceRestart {
		if gone, state := e.targetMissing(ctx, queued.ProposedAction); gone {
			if err := queued.Transition(models.StatusApproved); err != nil {
				return nil, err
			}
			queued.Decision = &models.Decision{At: e.now(), By: by, Note: note}
			if err := queued.Transition(models.StatusFailed); err != nil {
				return nil, err
			}
			queued.Result = &models.ActionResult{
				StartedAt: e.now(),
				Error:     "target no longer present",
			}
			if err := e.queue.Update(queued); err != nil {
				return nil, err
			}
			e.logger.Warn("Approved action target vanished",
				"action_id", id, "unit", restartUnit(queued.ProposedAction), "state", state)
			e.recordOutcome(ctx, queued)
			return queued, nil
		}
	} else if perr := checkPolicy(queued.Commands, cfg.ProtectedServices); perr != nil {
		if err := queued.Transition(models.StatusRejected); err != nil {
			return nil, err
		}
		queued.Decision = &models.Decision{At: e.now(), By: "policy", Note: perr.Error()}
		if err := e.queue.Update(queued); err != nil {
			return nil, err
		}
		e.notify.PolicyRejected(ctx, &queued.ProposedAction, perr.Error())
		e.annotate(ctx, queued)
		return queued, perr
	}

	if err := queued.Transition(models.StatusApproved); err != nil {
		return nil, err
	}
	queued.Decision = &models.Decision{At: e.now(), By: by, Note: note}
	if err := e.queue.Update(queued); err != nil {
		return nil, err
	}

	e.logger.Info("Action approved", "action_id", id, "by", by)
	e.dispatch(id)
	return queued, nil
}

// Reject settles a pending action as rejected, a terminal state.
func (e *Executor) Reject(ctx context.Context, id, by, note string) (*models.QueuedAction, error) {
	queued, err := e.queue.Get(id)
	if err != nil {
		return nil, err
	}
	if err := queued.Transition(models.StatusRejected); err != nil {
		return nil, err
	}
	queued.Decision = &models.Decision{At: e.now(), By: by, Note: note}
	if err := e.queue.Update(queued); err != nil {
		return nil, err
	}

	e.logger.Info("Action rejected", "action_id", id, "by", by)
	e.annotate(ctx, queued)
	e.appendWindowEntry(ctx, queued)
	return queued, nil
}

func (e *Executor) dispatch(id string) {
	select {
	case e.execCh <- id:
	case <-e.done:
		e.logger.Warn("Executor stopped, action left approved", "action_id", id)
	}
}

func (e *Executor) work(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-e.execCh:
			e.execute(ctx, id)
		}
	}
}

// execute runs one approved action and settles it. Runs on the worker
// goroutine only.
func (e *Executor) execute(ctx context.Context, id string) {
	queued, err := e.queue.Get(id)
	if err != nil {
		e.logger.Error("Dispatched action disappeared", "action_id", id, "error", err)
		return
	}
	if queued.Status != models.StatusApproved {
		return
	}

	result := e.runner.Run(ctx, queued.ProposedAction)
	next := models.StatusExecuted
	if result.Error != "" || result.ExitStatus != 0 {
		next = models.StatusFailed
	}
	if err := queued.Transition(next); err != nil {
		e.logger.Error("Result transition refused", "action_id", id, "error", err)
		return
	}
	queued.Result = &result
	if err := e.queue.Update(queued); err != nil {
		e.logger.Error("Result persistence failed", "action_id", id, "error", err)
	}

	e.logger.Info("Action settled",
		"action_id", id, "status", next, "exit", result.ExitStatus, "duration", result.Duration)
	e.recordOutcome(ctx, queued)
}

// recordOutcome fans a settled action out to the actions log, the
// context window, the issue tracker, notifications, and the observer.
func (e *Executor) recordOutcome(ctx context.Context, queued *models.QueuedAction) {
	e.appendActionsLog(queued)
	e.appendWindowEntry(ctx, queued)
	e.annotate(ctx, queued)
	e.notify.ActionOutcome(ctx, queued)
	if e.observer != nil {
		e.observer.ActionSettled(ctx, queued)
	}
}

func (e *Executor) annotate(ctx context.Context, queued *models.QueuedAction) {
	if e.issues == nil {
		return
	}
	summary := queued.Describe()
	if queued.Result != nil && queued.Result.Error != "" {
		summary += ": " + queued.Result.Error
	}
	e.issues.RecordAction(ctx, queued.Subject, models.ActionRef{
		ActionID: queued.ID,
		At:       e.now(),
		Status:   queued.Status,
		Summary:  summary,
	})
}

func (e *Executor) appendWindowEntry(ctx context.Context, queued *models.QueuedAction) {
	if e.window == nil {
		return
	}
	entry := window.NewEntry(models.EntryActionOutcome, outcomeBody(queued), "")
	if err := e.window.Append(ctx, entry); err != nil {
		e.logger.Warn("Outcome admission failed", "error", err)
	}
}

func (e *Executor) appendActionsLog(queued *models.QueuedAction) {
	line, err := json.Marshal(queued)
	if err != nil {
		return
	}
	f, err := os.OpenFile(e.actionsLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		e.logger.Warn("Actions log open failed", "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		e.logger.Warn("Actions log append failed", "error", err)
	}
}

// outcomeBody renders a settled or rejected action for the context
// window, so the reasoners see what was done and do not propose it
// again.
func outcomeBody(queued *models.QueuedAction) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", queued.Status, queued.Describe())
	if queued.Decision != nil && queued.Decision.By != "" {
		fmt.Fprintf(&sb, " (by %s)", queued.Decision.By)
	}
	if queued.Result != nil {
		if queued.Result.Error != "" {
			fmt.Fprintf(&sb, " error: %s", queued.Result.Error)
		} else {
			fmt.Fprintf(&sb, " exit %d in %s",
				queued.Result.ExitStatus, queued.Result.Duration.Round(time.Millisecond))
		}
	}
	return sb.String()
}

// targetMissing re-probes a restart target on approval. Probe errors and
// unit-not-found states mean the action must not run.
func (e *Executor) targetMissing(ctx context.Context, action models.ProposedAction) (bool, string) {
	unit := restartUnit(action)
	state, err := e.probe(ctx, unit)
	if err != nil {
		return true, "unreachable"
	}
	switch state {
	case "not-found", "unknown", "":
		return true, state
	}
	return false, state
}

// restartUnit extracts the unit a restart action targets.
func restartUnit(action models.ProposedAction) string {
	for _, command := range action.Commands {
		fields := strings.Fields(command)
		if len(fields) >= 3 && fields[0] == "systemctl" && fields[1] == "restart" {
			return fields[2]
		}
	}
	return action.Subject
}

// probeUnit asks systemctl for a unit's active state.
func probeUnit(ctx context.Context, unit string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out := runCommand(ctx, []string{"systemctl", "is-active", unit})
	if out.err != nil {
		return "", out.err
	}
	return strings.TrimSpace(strings.SplitN(out.stdout, "\n", 2)[0]), nil
}
