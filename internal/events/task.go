package events

import "github.com/yoshihiko555/takt/internal/core"

// Event type constants for the task scheduler.
const (
	TypeTaskQueued   = "task:queued"
	TypeTaskClaimed  = "task:claimed"
	TypeTaskFinished = "task:finished"
)

// TaskQueued signals a new pending task in the manifest.
type TaskQueued struct {
	BaseEvent
	Piece string `json:"piece,omitempty"`
}

// NewTaskQueued creates a task:queued event.
func NewTaskQueued(task, piece string) TaskQueued {
	return TaskQueued{
		BaseEvent: NewBaseEvent(TypeTaskQueued, task),
		Piece:     piece,
	}
}

// TaskClaimed signals a worker took ownership of a task.
type TaskClaimed struct {
	BaseEvent
	Worker int `json:"worker"`
}

// NewTaskClaimed creates a task:claimed event.
func NewTaskClaimed(task string, worker int) TaskClaimed {
	return TaskClaimed{
		BaseEvent: NewBaseEvent(TypeTaskClaimed, task),
		Worker:    worker,
	}
}

// TaskFinished signals a terminal task transition.
type TaskFinished struct {
	BaseEvent
	Status core.TaskStatus `json:"status"`
	Reason string          `json:"reason,omitempty"`
}

// NewTaskFinished creates a task:finished event.
func NewTaskFinished(task string, status core.TaskStatus, reason string) TaskFinished {
	return TaskFinished{
		BaseEvent: NewBaseEvent(TypeTaskFinished, task),
		Status:    status,
		Reason:    reason,
	}
}
