package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yoshihiko555/takt/internal/adapters/git"
	"github.com/yoshihiko555/takt/internal/core"
	"github.com/yoshihiko555/takt/internal/engine"
	"github.com/yoshihiko555/takt/internal/events"
	"github.com/yoshihiko555/takt/internal/tasks"
)

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage the task queue",
	}
	cmd.AddCommand(newTasksAddCmd())
	cmd.AddCommand(newTasksListCmd())
	cmd.AddCommand(newTasksDeleteCmd())
	cmd.AddCommand(newTasksRequeueCmd())
	cmd.AddCommand(newTasksRerunCmd())
	cmd.AddCommand(newTasksWorkerCmd())
	return cmd
}

func manifestStore(a *app) *tasks.Store {
	return tasks.NewStore(filepath.Join(a.root, ".takt", "tasks.yaml"))
}

func newTasksAddCmd() *cobra.Command {
	var pieceRef, branch, orderPath string
	var issue int

	cmd := &cobra.Command{
		Use:   "add <name> [content...]",
		Short: "Queue a new task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			rec := &core.TaskRecord{
				Name:      args[0],
				Content:   strings.Join(args[1:], " "),
				Piece:     pieceRef,
				Branch:    branch,
				OrderPath: orderPath,
				AutoPR:    a.cfg.AutoPR,
				CreatedAt: time.Now(),
			}
			if issue > 0 {
				rec.Issue = &issue
			}
			if rec.Content == "" && orderPath != "" {
				data, err := os.ReadFile(orderPath)
				if err != nil {
					return fmt.Errorf("reading order file: %w", err)
				}
				rec.Content = string(data)
			}
			if err := manifestStore(a).Add(rec); err != nil {
				return err
			}
			a.bus.Publish(events.NewTaskQueued(rec.Name, rec.Piece))
			cmd.Printf("queued %s\n", rec.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&pieceRef, "piece", "", "piece to run the task with")
	cmd.Flags().StringVar(&branch, "branch", "", "branch for the task worktree")
	cmd.Flags().StringVar(&orderPath, "order", "", "file holding the long-form task spec")
	cmd.Flags().IntVar(&issue, "issue", 0, "linked issue number")
	return cmd
}

func newTasksListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			records, err := manifestStore(a).List()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				cmd.Println("no tasks")
				return nil
			}
			for _, rec := range records {
				line := fmt.Sprintf("%-10s %s", rec.Status, rec.Name)
				if rec.Piece != "" {
					line += " (piece: " + rec.Piece + ")"
				}
				cmd.Println(line)
			}
			return nil
		},
	}
}

func newTasksDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a finished task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := manifestStore(a).DeleteCompleted(args[0]); err != nil {
				return err
			}
			cmd.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}

func newTasksRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <name>",
		Short: "Return a task to the pending queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := manifestStore(a).Requeue(args[0]); err != nil {
				return err
			}
			cmd.Printf("requeued %s\n", args[0])
			return nil
		},
	}
}

func newTasksRerunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rerun <name>",
		Short: "Re-execute a completed or failed task immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			store := manifestStore(a)
			rec, err := store.StartReExecution(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			state, err := a.runTask(ctx, rec)
			if err != nil {
				_ = store.Error(rec.Name)
				return err
			}
			switch state.Status {
			case core.ExecutionCompleted:
				_ = store.Complete(rec.Name)
			default:
				_ = store.Fail(rec.Name)
			}
			printOutcome(cmd, state)
			return nil
		},
	}
}

func newTasksWorkerCmd() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Poll for pending tasks and execute them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			if concurrency < 1 {
				concurrency = a.cfg.Concurrency
			}

			gitClient := git.NewClient(a.root, a.logger)
			worktrees := git.NewWorktreeManager(gitClient, "", a.logger)

			sched, err := tasks.NewScheduler(manifestStore(a), tasks.SchedulerOptions{
				Concurrency:  concurrency,
				PollInterval: a.cfg.TaskPollInterval,
				Worktrees:    worktrees,
				Bus:          a.bus,
				Logger:       a.logger,
				Runner: func(ctx context.Context, rec *core.TaskRecord, worktree string) (*core.ExecutionState, error) {
					return a.runTaskIn(ctx, rec, worktree, concurrency > 1)
				},
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.logger.Info("worker started", "concurrency", concurrency,
				"poll_interval", a.cfg.TaskPollInterval.String())
			return sched.Run(ctx)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "worker pool size (defaults to config)")
	return cmd
}

// runTask executes a task in its recorded worktree, or the project root
// when it has none.
func (a *app) runTask(ctx context.Context, rec *core.TaskRecord) (*core.ExecutionState, error) {
	cwd := rec.WorktreePath
	if cwd == "" {
		cwd = a.root
	}
	return a.runTaskIn(ctx, rec, cwd, false)
}

// runTaskIn builds an engine for a task and runs its piece in the given
// working tree. With prefixed output, each worker's log lines carry the
// task name in a stable color.
func (a *app) runTaskIn(ctx context.Context, rec *core.TaskRecord, cwd string, prefixed bool) (*core.ExecutionState, error) {
	if cwd == "" {
		cwd = a.root
	}
	p, err := a.loadPiece(rec.Piece)
	if err != nil {
		return nil, err
	}

	log := a.sessionLogWriter(cwd, rec.Name)
	defer log.Close()

	opts := a.engineOptions(rec.Name, rec.Content, cwd, log)
	if prefixed {
		opts.Logger = prefixedLogger(rec.Name, a.cfg)
	}

	eng, err := engine.New(p, opts)
	if err != nil {
		return nil, err
	}
	return eng.Run(ctx), nil
}
