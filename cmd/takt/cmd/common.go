package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yoshihiko555/takt/internal/adapters/provider"
	"github.com/yoshihiko555/takt/internal/config"
	"github.com/yoshihiko555/takt/internal/core"
	"github.com/yoshihiko555/takt/internal/engine"
	"github.com/yoshihiko555/takt/internal/events"
	"github.com/yoshihiko555/takt/internal/facet"
	"github.com/yoshihiko555/takt/internal/logging"
	"github.com/yoshihiko555/takt/internal/piece"
	"github.com/yoshihiko555/takt/internal/session"
	"github.com/yoshihiko555/takt/internal/trace"
)

// app bundles the wired components every command needs.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	facets    *facet.Store
	pieces    *piece.Loader
	providers *provider.Registry
	sessions  *session.Registry
	bus       *events.Bus
	root      string
}

// newApp loads configuration and wires the component graph for the current
// working directory.
func newApp(cmd *cobra.Command) (*app, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}

	cfg, err := config.NewLoader(root).Load()
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		cfg.Verbose = true
	}

	level := cfg.Log.Level
	if cfg.Verbose {
		level = "debug"
	}
	format, _ := cmd.Flags().GetString("log-format")
	if format == "" {
		format = cfg.Log.Format
	}
	logger := logging.New(logging.Config{Level: level, Format: format})

	projectDir := config.ProjectConfigDir(root)
	userDir := config.UserConfigDir()
	facets := facet.NewStore(projectDir, userDir)

	registry := provider.NewRegistry(logger)
	for name, opts := range cfg.ProviderOptions {
		registry.Configure(name, opts)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		facets:    facets,
		pieces:    piece.NewLoader(projectDir, userDir, facets),
		providers: registry,
		sessions:  session.NewRegistry(filepath.Join(userDir, "sessions")),
		bus:       events.New(256),
		root:      root,
	}, nil
}

// loadPiece resolves the piece reference, falling back to the configured
// default, and applies the piece's provider options on top of the
// configured ones.
func (a *app) loadPiece(ref string) (*core.Piece, error) {
	if ref == "" {
		ref = a.cfg.DefaultPiece
	}
	p, err := a.pieces.Load(ref)
	if err != nil {
		return nil, err
	}
	a.applyPieceOptions(p)
	return p, nil
}

// applyPieceOptions layers a piece's provider_options over the configured
// defaults for the default provider.
func (a *app) applyPieceOptions(p *core.Piece) {
	if len(p.ProviderOptions) == 0 {
		return
	}
	merged := make(map[string]interface{})
	for k, v := range a.cfg.ProviderOptions[a.cfg.DefaultProvider] {
		merged[k] = v
	}
	for k, v := range p.ProviderOptions {
		merged[k] = v
	}
	a.providers.Configure(a.cfg.DefaultProvider, merged)
}

// engineOptions assembles the per-run engine options for a task executing
// in cwd.
func (a *app) engineOptions(taskName, taskText, cwd string, log trace.Writer) engine.Options {
	judge := ""
	if f, err := a.facets.Resolve(core.FacetPersona, "judge"); err == nil {
		judge = f.Text
	}
	return engine.Options{
		TaskName:           taskName,
		Task:               taskText,
		Cwd:                cwd,
		Language:           a.cfg.Language,
		DefaultProvider:    a.cfg.DefaultProvider,
		Providers:          a.providers,
		Sessions:           a.sessions,
		ResolvePermission:  a.cfg.ResolvePermissionMode,
		MCPServers:         a.cfg.MCPServers,
		Bus:                a.bus,
		SessionLog:         log,
		Logger:             a.logger,
		ReportRoot:         filepath.Join(cwd, ".takt", "reports", taskName),
		JudgePersona:       judge,
		CycleWindow:        a.cfg.CycleWindow,
		FixMovementPattern: a.cfg.FixMovementPattern,
	}
}

// sessionLogWriter opens the per-run NDJSON session log at
// <cwd>/.takt/logs/<task>.ndjson.
func (a *app) sessionLogWriter(cwd, taskName string) trace.Writer {
	path := filepath.Join(cwd, ".takt", "logs", taskName+".ndjson")
	w, err := trace.NewWriter(path, a.logger)
	if err != nil {
		a.logger.Warn("session log unavailable", "error", err)
		w, _ = trace.NewWriter("", a.logger)
	}
	return w
}
