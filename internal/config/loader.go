package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/yoshihiko555/takt/internal/core"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	projectDir string
	mu         sync.Mutex // Protects concurrent access to viper operations
}

// NewLoader creates a new configuration loader rooted at the project
// directory.
func NewLoader(projectDir string) *Loader {
	return &Loader{
		v:          viper.New(),
		projectDir: projectDir,
	}
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. Environment variables (TAKT_*)
// 2. Project config (.takt/config.yaml)
// 3. User config ($TAKT_CONFIG_DIR or ~/.config/takt/config.yaml)
// 4. Defaults
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.setDefaults()

	l.v.SetEnvPrefix("TAKT")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	// User config first; project config merges on top of it.
	userPath := filepath.Join(UserConfigDir(), "config.yaml")
	if _, err := os.Stat(userPath); err == nil {
		l.v.SetConfigFile(userPath)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectPath := filepath.Join(ProjectConfigDir(l.projectDir), "config.yaml")
	if _, err := os.Stat(projectPath); err == nil {
		l.v.SetConfigFile(projectPath)
		if err := l.v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.TaskPollInterval = time.Duration(l.v.GetInt("task_poll_interval_ms")) * time.Millisecond

	// Permission profiles keep their project/global split for the
	// five-level resolution, so read the raw files separately.
	cfg.GlobalProviderProfiles = readProfiles(userPath)
	cfg.ProviderProfiles = readProfiles(projectPath)

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) setDefaults() {
	def := Default()
	l.v.SetDefault("language", def.Language)
	l.v.SetDefault("verbose", def.Verbose)
	l.v.SetDefault("concurrency", def.Concurrency)
	l.v.SetDefault("task_poll_interval_ms", int(def.TaskPollInterval/time.Millisecond))
	l.v.SetDefault("auto_pr", def.AutoPR)
	l.v.SetDefault("base_branch", def.BaseBranch)
	l.v.SetDefault("default_piece", def.DefaultPiece)
	l.v.SetDefault("default_provider", def.DefaultProvider)
	l.v.SetDefault("cycle_window", def.CycleWindow)
	l.v.SetDefault("fix_movement_pattern", def.FixMovementPattern)
	l.v.SetDefault("log.level", def.Log.Level)
	l.v.SetDefault("log.format", def.Log.Format)
}

// profilesFile mirrors the provider_profiles section of a config file.
type profilesFile struct {
	ProviderProfiles map[string]ProviderProfile `yaml:"provider_profiles"`
}

func readProfiles(path string) map[string]ProviderProfile {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var f profilesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil
	}
	return f.ProviderProfiles
}

func validate(cfg *Config) error {
	if cfg.Concurrency < 1 {
		return core.ErrValidation("CONFIG_CONCURRENCY", "concurrency must be at least 1")
	}
	if cfg.TaskPollInterval <= 0 {
		return core.ErrValidation("CONFIG_POLL_INTERVAL", "task_poll_interval_ms must be positive")
	}
	if cfg.CycleWindow < 1 {
		return core.ErrValidation("CONFIG_CYCLE_WINDOW", "cycle_window must be at least 1")
	}
	switch cfg.Language {
	case "en", "ja":
	default:
		return core.ErrValidation("CONFIG_LANGUAGE",
			fmt.Sprintf("unsupported language %q", cfg.Language))
	}
	for provider, opts := range cfg.ProviderOptions {
		if provider == "" {
			return core.ErrValidation("CONFIG_PROVIDER_OPTIONS", "provider name cannot be empty")
		}
		if opts == nil {
			return core.ErrValidation("CONFIG_PROVIDER_OPTIONS",
				fmt.Sprintf("options for provider %s cannot be null", provider))
		}
	}
	return nil
}

// ErrStrictBool is returned when a strict boolean env var carries anything
// but "true" or "false".
var ErrStrictBool = errors.New("must be exactly \"true\" or \"false\"")
