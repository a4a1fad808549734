// Package cmd implements the takt CLI.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "takt",
	Short: "Multi-agent orchestration over pieces and movements",
	Long: `takt drives LLM-backed personas through configurable graphs of
movements (pieces) to complete coding tasks, multiplexing concurrent tasks
over isolated git worktrees.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
	rootCmd.PersistentFlags().String("log-format", "auto", "log format: auto, text, json")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newTasksCmd())
	rootCmd.AddCommand(newPiecesCmd())
	rootCmd.AddCommand(newEjectCmd())
	rootCmd.AddCommand(newVersionCmd())
}
