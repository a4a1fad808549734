package tasks

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yoshihiko555/takt/internal/core"
	"github.com/yoshihiko555/takt/internal/events"
	"github.com/yoshihiko555/takt/internal/logging"
)

// Runner executes one task inside its worktree and returns the final
// execution state. The scheduler owns all manifest transitions.
type Runner func(ctx context.Context, rec *core.TaskRecord, worktree string) (*core.ExecutionState, error)

// WorktreeProvider creates or reuses isolated working trees per task.
type WorktreeProvider interface {
	Ensure(ctx context.Context, taskName, branch string) (string, error)
	Remove(taskName string) error
}

// SchedulerOptions configure the worker pool.
type SchedulerOptions struct {
	Concurrency  int
	PollInterval time.Duration
	Worktrees    WorktreeProvider
	Runner       Runner
	Bus          *events.Bus
	Logger       *logging.Logger
	// DrainTimeout bounds the wait for workers after an abort.
	DrainTimeout time.Duration
}

// Scheduler polls the manifest for pending tasks and drives them through a
// bounded worker pool. Workers are independent; each owns its task for its
// lifetime.
type Scheduler struct {
	store *Store
	opts  SchedulerOptions
	wake  chan struct{}
}

// NewScheduler creates a scheduler over a manifest store.
func NewScheduler(store *Store, opts SchedulerOptions) (*Scheduler, error) {
	if opts.Runner == nil {
		return nil, core.ErrValidation("SCHEDULER_RUNNER_REQUIRED", "runner cannot be nil")
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Scheduler{
		store: store,
		opts:  opts,
		wake:  make(chan struct{}, 1),
	}, nil
}

// Wake nudges idle workers to poll immediately.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run starts the worker pool and blocks until the context is cancelled.
// Cancellation propagates the abort to all in-flight engines and waits a
// bounded time for workers to drain.
func (s *Scheduler) Run(ctx context.Context) error {
	watcher := s.startWatcher(ctx)
	if watcher != nil {
		defer watcher.Close()
	}

	var wg sync.WaitGroup
	for i := 0; i < s.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.workerLoop(ctx, i)
		}()
	}

	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(s.opts.DrainTimeout):
		s.opts.Logger.Warn("workers did not drain in time", "timeout", s.opts.DrainTimeout)
		return core.ErrExecution("SCHEDULER_DRAIN_TIMEOUT", "workers did not drain before the deadline")
	}
}

// startWatcher wires fsnotify so a manifest edit wakes the poll loop early.
// Polling remains the fallback when watching is unavailable.
func (s *Scheduler) startWatcher(ctx context.Context) *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.opts.Logger.Debug("manifest watcher unavailable", "error", err)
		return nil
	}
	if err := watcher.Add(filepath.Dir(s.store.Path())); err != nil {
		s.opts.Logger.Debug("manifest watch failed", "error", err)
		watcher.Close()
		return nil
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) == filepath.Base(s.store.Path()) {
					s.Wake()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return watcher
}

func (s *Scheduler) workerLoop(ctx context.Context, worker int) {
	logger := s.opts.Logger.With("worker", worker)
	for {
		if ctx.Err() != nil {
			return
		}
		rec, ok, err := s.store.ClaimNextPending()
		if err != nil {
			logger.Error("claim failed", "error", err)
			ok = false
		}
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			case <-time.After(s.opts.PollInterval):
			}
			continue
		}
		s.publish(events.NewTaskClaimed(rec.Name, worker))
		s.executeTask(ctx, rec, logger.WithTask(rec.Name))
	}
}

// executeTask owns one claimed task to its terminal transition.
func (s *Scheduler) executeTask(ctx context.Context, rec *core.TaskRecord, logger *logging.Logger) {
	worktree, err := s.ensureWorktree(ctx, rec)
	if err != nil {
		logger.Error("worktree setup failed", "error", err)
		s.finish(rec.Name, core.TaskError, err.Error())
		return
	}

	state, err := s.runGuarded(ctx, rec, worktree)
	switch {
	case err != nil:
		// Engine exceptions are an error outcome, distinct from a clean
		// piece failure.
		logger.Error("task errored", "error", err)
		s.finish(rec.Name, core.TaskError, err.Error())
	case state.Status == core.ExecutionCompleted:
		logger.Info("task completed", "iterations", state.Iteration)
		s.finish(rec.Name, core.TaskCompleted, "")
		s.cleanupWorktree(rec.Name, logger)
	case state.Status == core.ExecutionAborted:
		logger.Warn("task aborted")
		s.finish(rec.Name, core.TaskFailed, "aborted")
	default:
		logger.Warn("task failed", "reason", state.Reason, "movement", state.FinalMovement)
		s.finish(rec.Name, core.TaskFailed, state.Reason)
	}
}

// runGuarded converts engine panics into error outcomes so one broken task
// never takes the worker down.
func (s *Scheduler) runGuarded(ctx context.Context, rec *core.TaskRecord, worktree string) (state *core.ExecutionState, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	return s.opts.Runner(ctx, rec, worktree)
}

func (s *Scheduler) ensureWorktree(ctx context.Context, rec *core.TaskRecord) (string, error) {
	if s.opts.Worktrees == nil {
		return "", nil
	}
	worktree, err := s.opts.Worktrees.Ensure(ctx, rec.Name, rec.Branch)
	if err != nil {
		return "", err
	}
	if err := s.store.SetWorktree(rec.Name, worktree); err != nil {
		return "", err
	}
	return worktree, nil
}

// cleanupWorktree deletes a completed task's worktree. Failed and errored
// tasks keep theirs for inspection.
func (s *Scheduler) cleanupWorktree(taskName string, logger *logging.Logger) {
	if s.opts.Worktrees == nil {
		return
	}
	if err := s.opts.Worktrees.Remove(taskName); err != nil {
		logger.Warn("worktree cleanup failed", "error", err)
	}
}

func (s *Scheduler) finish(name string, status core.TaskStatus, reason string) {
	var err error
	switch status {
	case core.TaskCompleted:
		err = s.store.Complete(name)
	case core.TaskFailed:
		err = s.store.Fail(name)
	case core.TaskError:
		err = s.store.Error(name)
	}
	if err != nil {
		s.opts.Logger.Error("manifest transition failed", "task", name, "status", string(status), "error", err)
		return
	}
	s.publish(events.NewTaskFinished(name, status, reason))
}

func (s *Scheduler) publish(ev events.Event) {
	if s.opts.Bus != nil {
		s.opts.Bus.Publish(ev)
	}
}
