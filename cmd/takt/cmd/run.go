package cmd

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yoshihiko555/takt/internal/core"
	"github.com/yoshihiko555/takt/internal/engine"
)

func newRunCmd() *cobra.Command {
	var pieceRef string

	cmd := &cobra.Command{
		Use:   "run [task...]",
		Short: "Run a task through a piece in the current directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			task := strings.Join(args, " ")

			p, err := a.loadPiece(pieceRef)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := a.sessionLogWriter(a.root, "run")
			defer log.Close()

			eng, err := engine.New(p, a.engineOptions("run", task, a.root, log))
			if err != nil {
				return err
			}

			state := eng.Run(ctx)
			printOutcome(cmd, state)
			if state.Status != core.ExecutionCompleted {
				return fmt.Errorf("piece %s ended %s (%s)", p.Name, state.Status, state.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pieceRef, "piece", "", "piece name or absolute descriptor path")
	return cmd
}

func printOutcome(cmd *cobra.Command, state *core.ExecutionState) {
	cmd.Printf("status: %s\n", state.Status)
	if state.Reason != "" {
		cmd.Printf("reason: %s\n", state.Reason)
	}
	cmd.Printf("movements: %d\n", state.Iteration)
	if state.FinalMovement != "" {
		cmd.Printf("final movement: %s\n", state.FinalMovement)
	}
	if last := state.LastWorkResponse(); last != nil {
		cmd.Printf("\n%s\n", last.Content)
	}
}
