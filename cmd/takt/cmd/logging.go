package cmd

import (
	"os"

	"github.com/yoshihiko555/takt/internal/config"
	"github.com/yoshihiko555/takt/internal/logging"
	"github.com/yoshihiko555/takt/internal/tasks"
)

// prefixedLogger builds a worker logger whose lines carry the task name in
// a deterministic color. Used only when concurrency > 1; single-worker runs
// log unprefixed.
func prefixedLogger(taskName string, cfg *config.Config) *logging.Logger {
	level := cfg.Log.Level
	if cfg.Verbose {
		level = "debug"
	}
	writer := tasks.NewPrefixWriter(os.Stderr, taskName, true)
	return logging.New(logging.Config{
		Level:  level,
		Format: "text",
		Output: writer,
	})
}
