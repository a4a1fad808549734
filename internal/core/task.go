package core

import (
	"fmt"
	"time"
)

// TaskStatus represents the lifecycle state of a task record.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskError     TaskStatus = "error"
)

// TaskRecord is one row of the task manifest.
// Invariants: StartedAt present iff status is not pending; CompletedAt
// present iff status is terminal; at most one record per Name.
type TaskRecord struct {
	Name         string     `yaml:"name"`
	Content      string     `yaml:"content"`
	Status       TaskStatus `yaml:"status"`
	Piece        string     `yaml:"piece,omitempty"`
	Branch       string     `yaml:"branch,omitempty"`
	WorktreePath string     `yaml:"worktree_path,omitempty"`
	CreatedAt    time.Time  `yaml:"created_at"`
	StartedAt    *time.Time `yaml:"started_at,omitempty"`
	CompletedAt  *time.Time `yaml:"completed_at,omitempty"`
	AutoPR       bool       `yaml:"auto_pr,omitempty"`
	Issue        *int       `yaml:"issue,omitempty"`
	OrderPath    string     `yaml:"order_path,omitempty"`
}

// IsTerminal reports whether the task has finished.
func (t *TaskRecord) IsTerminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed || t.Status == TaskError
}

// MarkRunning transitions pending to running.
func (t *TaskRecord) MarkRunning() error {
	if t.Status != TaskPending {
		return ErrState(CodeInvalidTransition,
			fmt.Sprintf("cannot start task %s in %s state", t.Name, t.Status))
	}
	t.Status = TaskRunning
	now := time.Now()
	t.StartedAt = &now
	return nil
}

// MarkReExecution transitions a terminal completed/failed task directly to
// running, bypassing pending so a concurrent poller cannot claim it.
func (t *TaskRecord) MarkReExecution() error {
	if t.Status != TaskCompleted && t.Status != TaskFailed {
		return ErrState(CodeInvalidTransition,
			fmt.Sprintf("cannot re-execute task %s in %s state", t.Name, t.Status))
	}
	t.Status = TaskRunning
	now := time.Now()
	t.StartedAt = &now
	t.CompletedAt = nil
	return nil
}

// MarkCompleted transitions running to completed.
func (t *TaskRecord) MarkCompleted() error {
	return t.finish(TaskCompleted)
}

// MarkFailed transitions running to failed (clean piece abort).
func (t *TaskRecord) MarkFailed() error {
	return t.finish(TaskFailed)
}

// MarkError transitions running to error (engine exception, not a clean
// piece outcome).
func (t *TaskRecord) MarkError() error {
	return t.finish(TaskError)
}

func (t *TaskRecord) finish(status TaskStatus) error {
	if t.Status != TaskRunning {
		return ErrState(CodeInvalidTransition,
			fmt.Sprintf("cannot finish task %s in %s state", t.Name, t.Status))
	}
	t.Status = status
	now := time.Now()
	t.CompletedAt = &now
	return nil
}

// Requeue returns a running or terminal task to pending.
func (t *TaskRecord) Requeue() error {
	if t.Status == TaskPending {
		return ErrState(CodeInvalidTransition,
			fmt.Sprintf("task %s is already pending", t.Name))
	}
	t.Status = TaskPending
	t.StartedAt = nil
	t.CompletedAt = nil
	return nil
}

// Validate checks record invariants.
func (t *TaskRecord) Validate() error {
	if t.Name == "" {
		return ErrValidation("TASK_NAME_REQUIRED", "task name cannot be empty")
	}
	if t.Content == "" && t.OrderPath == "" {
		return ErrValidation("TASK_CONTENT_REQUIRED",
			fmt.Sprintf("task %s needs content or an order file", t.Name))
	}
	switch t.Status {
	case TaskPending, TaskRunning, TaskCompleted, TaskFailed, TaskError:
	default:
		return ErrValidation("TASK_STATUS_INVALID",
			fmt.Sprintf("task %s has unknown status %q", t.Name, t.Status))
	}
	if t.Status == TaskPending && t.StartedAt != nil {
		return ErrValidation("TASK_STARTED_AT_UNEXPECTED",
			fmt.Sprintf("pending task %s must not carry started_at", t.Name))
	}
	if t.IsTerminal() && t.CompletedAt == nil {
		return ErrValidation("TASK_COMPLETED_AT_MISSING",
			fmt.Sprintf("terminal task %s must carry completed_at", t.Name))
	}
	return nil
}
