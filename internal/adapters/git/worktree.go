package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yoshihiko555/takt/internal/core"
	"github.com/yoshihiko555/takt/internal/logging"
)

const (
	removeRetries    = 3
	removeRetryDelay = 200 * time.Millisecond
)

// WorktreeManager creates and disposes isolated working trees, one per
// task, by shared clone of the project repository.
type WorktreeManager struct {
	git     *Client
	baseDir string
	logger  *logging.Logger
}

// NewWorktreeManager creates a worktree manager. baseDir defaults to
// .takt/worktrees under the repository root.
func NewWorktreeManager(git *Client, baseDir string, logger *logging.Logger) *WorktreeManager {
	if baseDir == "" {
		baseDir = filepath.Join(git.RepoPath(), ".takt", "worktrees")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &WorktreeManager{git: git, baseDir: baseDir, logger: logger}
}

// validateTaskName rejects names that would escape the worktree base
// directory.
func validateTaskName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return core.ErrValidation("WORKTREE_TASK_REQUIRED", "task name required for worktree")
	}
	if strings.Contains(trimmed, "..") || strings.ContainsAny(trimmed, "/\\") {
		return core.ErrValidation("WORKTREE_TASK_INVALID", "task name contains invalid path characters")
	}
	for _, r := range trimmed {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			continue
		}
		return core.ErrValidation("WORKTREE_TASK_INVALID", "task name contains invalid characters")
	}
	return nil
}

// Path returns the worktree location for a task.
func (m *WorktreeManager) Path(taskName string) string {
	return filepath.Join(m.baseDir, taskName)
}

// Ensure returns a working tree for the task, creating it by shared clone
// when absent and reusing it when still present from an earlier attempt.
func (m *WorktreeManager) Ensure(ctx context.Context, taskName, branch string) (string, error) {
	if err := validateTaskName(taskName); err != nil {
		return "", err
	}
	path := m.Path(taskName)

	if _, err := os.Stat(path); err == nil {
		m.logger.Debug("reusing existing worktree", "task", taskName, "path", path)
		return path, nil
	}

	if err := os.MkdirAll(m.baseDir, 0o750); err != nil {
		return "", fmt.Errorf("creating worktree base directory: %w", err)
	}
	if err := m.git.SharedClone(ctx, path); err != nil {
		return "", err
	}

	if branch == "" {
		branch = "takt/" + taskName
	}
	clone := NewClient(path, m.logger)
	if err := clone.Checkout(ctx, branch); err != nil {
		// A failed checkout leaves a useless clone behind; drop it so the
		// next attempt starts clean.
		_ = os.RemoveAll(path)
		return "", err
	}
	m.logger.Info("worktree created", "task", taskName, "path", path, "branch", branch)
	return path, nil
}

// Remove deletes a task's worktree. Retries tolerate transient file locks
// from editors or child processes that have not fully exited.
func (m *WorktreeManager) Remove(taskName string) error {
	if err := validateTaskName(taskName); err != nil {
		return err
	}
	path := m.Path(taskName)

	var lastErr error
	for attempt := 0; attempt < removeRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(removeRetryDelay)
		}
		lastErr = os.RemoveAll(path)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("removing worktree %s: %w", path, lastErr)
}
