package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoshihiko555/takt/internal/core"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TAKT_CONFIG_DIR", t.TempDir())
	cfg, err := NewLoader(t.TempDir()).Load()
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, 3*time.Second, cfg.TaskPollInterval)
	assert.Equal(t, "default", cfg.DefaultPiece)
	assert.Equal(t, 3, cfg.CycleWindow)
	assert.False(t, cfg.AutoPR)
}

func TestLoad_ProjectOverridesUser(t *testing.T) {
	userDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("TAKT_CONFIG_DIR", userDir)

	writeConfig(t, userDir, "concurrency: 4\nbase_branch: develop\n")
	writeConfig(t, filepath.Join(projectDir, ".takt"), "concurrency: 2\n")

	cfg, err := NewLoader(projectDir).Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Concurrency, "project config wins over user config")
	assert.Equal(t, "develop", cfg.BaseBranch, "user config still applies where project is silent")
}

func TestLoad_StrictVerbose(t *testing.T) {
	t.Setenv("TAKT_CONFIG_DIR", t.TempDir())

	t.Setenv("TAKT_VERBOSE", "true")
	cfg, err := NewLoader(t.TempDir()).Load()
	require.NoError(t, err)
	assert.True(t, cfg.Verbose)

	for _, bad := range []string{"1", "yes", "TRUE", "0"} {
		t.Setenv("TAKT_VERBOSE", bad)
		_, err := NewLoader(t.TempDir()).Load()
		require.Error(t, err, "TAKT_VERBOSE=%s must be rejected", bad)
	}
}

func TestLoad_ProviderOptionEnvOverrides(t *testing.T) {
	t.Setenv("TAKT_CONFIG_DIR", t.TempDir())
	t.Setenv("TAKT_PROVIDER_OPTIONS_CLAUDE_SKIP_PERMISSIONS", "true")
	t.Setenv("TAKT_PROVIDER_OPTIONS_CLAUDE_MAX_TURNS", "30")

	cfg, err := NewLoader(t.TempDir()).Load()
	require.NoError(t, err)

	opts := cfg.ProviderOptions["claude"]
	require.NotNil(t, opts)
	assert.Equal(t, true, opts["skip_permissions"])
	assert.Equal(t, 30, opts["max_turns"])
}

func TestLoad_InvalidValues(t *testing.T) {
	userDir := t.TempDir()
	t.Setenv("TAKT_CONFIG_DIR", userDir)

	writeConfig(t, userDir, "concurrency: 0\n")
	_, err := NewLoader(t.TempDir()).Load()
	require.Error(t, err)

	writeConfig(t, userDir, "language: fr\n")
	_, err = NewLoader(t.TempDir()).Load()
	require.Error(t, err)
}

func TestResolvePermissionMode(t *testing.T) {
	cfg := &Config{
		ProviderProfiles: map[string]ProviderProfile{
			"claude": {
				Default:   core.PermissionEdit,
				Movements: map[string]core.PermissionMode{"review": core.PermissionReadonly},
			},
		},
		GlobalProviderProfiles: map[string]ProviderProfile{
			"claude": {
				Default:   core.PermissionFull,
				Movements: map[string]core.PermissionMode{"deploy": core.PermissionFull},
			},
		},
	}

	cases := []struct {
		name     string
		movement string
		floor    core.PermissionMode
		want     core.PermissionMode
	}{
		{"project movement override wins", "review", core.PermissionReadonly, core.PermissionReadonly},
		{"global movement override when project silent", "deploy", core.PermissionReadonly, core.PermissionFull},
		{"project default fallback", "implement", core.PermissionReadonly, core.PermissionEdit},
		{"floor raises resolved mode", "review", core.PermissionEdit, core.PermissionEdit},
		{"unknown provider falls back to floor", "anything", core.PermissionEdit, core.PermissionEdit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider := "claude"
			if tc.name == "unknown provider falls back to floor" {
				provider = "gemini"
			}
			got := cfg.ResolvePermissionMode(provider, tc.movement, tc.floor)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolvePermissionMode_NoProfilesNoFloor(t *testing.T) {
	cfg := &Config{}
	got := cfg.ResolvePermissionMode("claude", "plan", "")
	assert.Equal(t, core.PermissionReadonly, got)
}
