package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/yoshihiko555/takt/internal/core"
)

// Config is the normalized runtime configuration.
type Config struct {
	Language         string        `mapstructure:"language" yaml:"language"`
	Verbose          bool          `mapstructure:"verbose" yaml:"verbose"`
	Concurrency      int           `mapstructure:"concurrency" yaml:"concurrency"`
	TaskPollInterval time.Duration `mapstructure:"task_poll_interval_ms" yaml:"task_poll_interval_ms"`
	AutoPR           bool          `mapstructure:"auto_pr" yaml:"auto_pr"`
	BaseBranch       string        `mapstructure:"base_branch" yaml:"base_branch"`
	DefaultPiece     string        `mapstructure:"default_piece" yaml:"default_piece"`
	DefaultProvider  string        `mapstructure:"default_provider" yaml:"default_provider"`

	// CycleWindow is the number of recent review/fix fingerprint pairs the
	// cycle detector remembers. The production history oscillated between 2
	// and 3, so it stays configurable.
	CycleWindow int `mapstructure:"cycle_window" yaml:"cycle_window"`

	// FixMovementPattern matches movement names that count as fix movements
	// for cycle detection.
	FixMovementPattern string `mapstructure:"fix_movement_pattern" yaml:"fix_movement_pattern"`

	Log LogConfig `mapstructure:"log" yaml:"log"`

	// ProviderOptions holds per-provider option maps
	// (piece-level options override these).
	ProviderOptions map[string]map[string]interface{} `mapstructure:"provider_options" yaml:"provider_options"`

	// ProviderProfiles are the project-level permission profiles.
	// GlobalProviderProfiles are the user-global ones; the loader fills both
	// so permission resolution can honor the full precedence chain.
	ProviderProfiles       map[string]ProviderProfile `mapstructure:"provider_profiles" yaml:"provider_profiles"`
	GlobalProviderProfiles map[string]ProviderProfile `mapstructure:"-" yaml:"-"`

	MCPServers map[string]core.MCPServer `mapstructure:"mcp_servers" yaml:"mcp_servers"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ProviderProfile overrides permission modes for one provider.
type ProviderProfile struct {
	Default   core.PermissionMode            `mapstructure:"default" yaml:"default"`
	Movements map[string]core.PermissionMode `mapstructure:"movements" yaml:"movements"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Language:           "en",
		Concurrency:        1,
		TaskPollInterval:   3 * time.Second,
		BaseBranch:         "main",
		DefaultPiece:       "default",
		DefaultProvider:    "claude",
		CycleWindow:        3,
		FixMovementPattern: `(^|_)ai_fix($|_)`,
		Log:                LogConfig{Level: "info", Format: "auto"},
	}
}

// UserConfigDir returns the user-global configuration directory.
// TAKT_CONFIG_DIR overrides the default of ~/.config/takt.
func UserConfigDir() string {
	if dir := os.Getenv("TAKT_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".takt")
	}
	return filepath.Join(home, ".config", "takt")
}

// ProjectConfigDir returns the project-local configuration directory.
func ProjectConfigDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".takt")
}

// ResolvePermissionMode resolves the effective permission mode for a
// movement. Precedence (highest first): project per-movement override,
// global per-movement override, project provider default, global provider
// default, then the movement's own floor. The resolved mode is never below
// the floor.
func (c *Config) ResolvePermissionMode(provider, movement string, floor core.PermissionMode) core.PermissionMode {
	mode, ok := lookupMode(c.ProviderProfiles, provider, movement)
	if !ok {
		mode, ok = lookupMode(c.GlobalProviderProfiles, provider, movement)
	}
	if !ok {
		mode, ok = lookupDefault(c.ProviderProfiles, provider)
	}
	if !ok {
		mode, ok = lookupDefault(c.GlobalProviderProfiles, provider)
	}
	if !ok {
		return floorOrReadonly(floor)
	}
	if !mode.AtLeast(floor) {
		return floorOrReadonly(floor)
	}
	return mode
}

func floorOrReadonly(floor core.PermissionMode) core.PermissionMode {
	if floor.Rank() == 0 {
		return core.PermissionReadonly
	}
	return floor
}

func lookupMode(profiles map[string]ProviderProfile, provider, movement string) (core.PermissionMode, bool) {
	p, ok := profiles[provider]
	if !ok {
		return "", false
	}
	m, ok := p.Movements[movement]
	return m, ok
}

func lookupDefault(profiles map[string]ProviderProfile, provider string) (core.PermissionMode, bool) {
	p, ok := profiles[provider]
	if !ok || p.Default == "" {
		return "", false
	}
	return p.Default, true
}
