package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoshihiko555/takt/internal/core"
	"github.com/yoshihiko555/takt/internal/logging"
)

// fakeWorktrees tracks Ensure/Remove calls without touching git.
type fakeWorktrees struct {
	mu      sync.Mutex
	base    string
	removed []string
}

func (f *fakeWorktrees) Ensure(_ context.Context, taskName, _ string) (string, error) {
	return filepath.Join(f.base, taskName), nil
}

func (f *fakeWorktrees) Remove(taskName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, taskName)
	return nil
}

func (f *fakeWorktrees) removedTasks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.removed))
	copy(out, f.removed)
	return out
}

func runScheduler(t *testing.T, s *Scheduler, until func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for !until() {
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatalf("scheduler did not reach the expected state in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func completedState() *core.ExecutionState {
	st := core.NewExecutionState("work")
	_ = st.BeginMovement("work", 10)
	st.Complete()
	return st
}

func TestScheduler_RunsPendingTaskToCompletion(t *testing.T) {
	store := newStore(t)
	addTask(t, store, "t1")
	worktrees := &fakeWorktrees{base: t.TempDir()}

	var mu sync.Mutex
	var ranIn []string
	sched, err := NewScheduler(store, SchedulerOptions{
		PollInterval: 20 * time.Millisecond,
		Worktrees:    worktrees,
		Logger:       logging.NewNop(),
		Runner: func(_ context.Context, rec *core.TaskRecord, worktree string) (*core.ExecutionState, error) {
			mu.Lock()
			ranIn = append(ranIn, worktree)
			mu.Unlock()
			return completedState(), nil
		},
	})
	require.NoError(t, err)

	runScheduler(t, sched, func() bool {
		rec, err := store.Get("t1")
		return err == nil && rec.Status == core.TaskCompleted
	})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ranIn, 1)
	assert.Equal(t, filepath.Join(worktrees.base, "t1"), ranIn[0])
	assert.Equal(t, []string{"t1"}, worktrees.removedTasks(), "completed tasks drop their worktree")

	rec, err := store.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(worktrees.base, "t1"), rec.WorktreePath)
}

func TestScheduler_FailedTaskKeepsWorktree(t *testing.T) {
	store := newStore(t)
	addTask(t, store, "t1")
	worktrees := &fakeWorktrees{base: t.TempDir()}

	sched, err := NewScheduler(store, SchedulerOptions{
		PollInterval: 20 * time.Millisecond,
		Worktrees:    worktrees,
		Logger:       logging.NewNop(),
		Runner: func(_ context.Context, _ *core.TaskRecord, _ string) (*core.ExecutionState, error) {
			st := core.NewExecutionState("work")
			st.Fail(core.ReasonMaxMovements)
			return st, nil
		},
	})
	require.NoError(t, err)

	runScheduler(t, sched, func() bool {
		rec, err := store.Get("t1")
		return err == nil && rec.Status == core.TaskFailed
	})
	assert.Empty(t, worktrees.removedTasks(), "failed tasks keep their worktree for inspection")
}

func TestScheduler_EngineErrorBecomesErrorStatus(t *testing.T) {
	store := newStore(t)
	addTask(t, store, "t1")

	sched, err := NewScheduler(store, SchedulerOptions{
		PollInterval: 20 * time.Millisecond,
		Logger:       logging.NewNop(),
		Runner: func(_ context.Context, _ *core.TaskRecord, _ string) (*core.ExecutionState, error) {
			return nil, errors.New("engine exploded")
		},
	})
	require.NoError(t, err)

	runScheduler(t, sched, func() bool {
		rec, err := store.Get("t1")
		return err == nil && rec.Status == core.TaskError
	})
}

func TestScheduler_PanicBecomesErrorStatus(t *testing.T) {
	store := newStore(t)
	addTask(t, store, "t1")

	sched, err := NewScheduler(store, SchedulerOptions{
		PollInterval: 20 * time.Millisecond,
		Logger:       logging.NewNop(),
		Runner: func(_ context.Context, _ *core.TaskRecord, _ string) (*core.ExecutionState, error) {
			panic("unexpected")
		},
	})
	require.NoError(t, err)

	runScheduler(t, sched, func() bool {
		rec, err := store.Get("t1")
		return err == nil && rec.Status == core.TaskError
	})
}

func TestScheduler_ConcurrentWorkersShareTheQueue(t *testing.T) {
	store := newStore(t)
	for _, name := range []string{"a", "b", "c", "d"} {
		addTask(t, store, name)
	}

	var mu sync.Mutex
	seen := map[string]int{}
	sched, err := NewScheduler(store, SchedulerOptions{
		Concurrency:  3,
		PollInterval: 20 * time.Millisecond,
		Logger:       logging.NewNop(),
		Runner: func(_ context.Context, rec *core.TaskRecord, _ string) (*core.ExecutionState, error) {
			mu.Lock()
			seen[rec.Name]++
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			return completedState(), nil
		},
	})
	require.NoError(t, err)

	runScheduler(t, sched, func() bool {
		records, err := store.List()
		if err != nil {
			return false
		}
		for _, rec := range records {
			if rec.Status != core.TaskCompleted {
				return false
			}
		}
		return len(records) == 4
	})

	mu.Lock()
	defer mu.Unlock()
	for name, count := range seen {
		assert.Equal(t, 1, count, "task %s must run exactly once", name)
	}
	assert.Len(t, seen, 4)
}

func TestScheduler_AbortPropagatesToRunner(t *testing.T) {
	store := newStore(t)
	addTask(t, store, "t1")

	runnerStarted := make(chan struct{})
	sched, err := NewScheduler(store, SchedulerOptions{
		PollInterval: 20 * time.Millisecond,
		DrainTimeout: 2 * time.Second,
		Logger:       logging.NewNop(),
		Runner: func(ctx context.Context, _ *core.TaskRecord, _ string) (*core.ExecutionState, error) {
			close(runnerStarted)
			<-ctx.Done()
			st := core.NewExecutionState("work")
			st.Abort()
			return st, nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sched.Run(ctx)
		close(done)
	}()

	<-runnerStarted
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("scheduler did not drain after abort")
	}

	rec, err := store.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, core.TaskFailed, rec.Status, "aborted runs settle as failed")
}

func TestScheduler_WakeShortcutsThePoll(t *testing.T) {
	store := newStore(t)

	sched, err := NewScheduler(store, SchedulerOptions{
		PollInterval: 10 * time.Second, // would stall without a wake
		Logger:       logging.NewNop(),
		Runner: func(_ context.Context, _ *core.TaskRecord, _ string) (*core.ExecutionState, error) {
			return completedState(), nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sched.Run(ctx)
		close(done)
	}()

	// Give the worker time to enter its idle wait, then feed and wake.
	time.Sleep(50 * time.Millisecond)
	addTask(t, store, "t1")
	sched.Wake()

	deadline := time.After(3 * time.Second)
	for {
		rec, err := store.Get("t1")
		if err == nil && rec.Status == core.TaskCompleted {
			break
		}
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatalf("wake did not shortcut the poll interval")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
