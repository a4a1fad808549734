package provider

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoshihiko555/takt/internal/core"
	"github.com/yoshihiko555/takt/internal/logging"
)

func TestRegistry_GetCachesInstances(t *testing.T) {
	r := NewRegistry(logging.NewNop())

	a, err := r.Get("mock")
	require.NoError(t, err)
	b, err := r.Get("mock")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = r.Get("nonexistent")
	require.Error(t, err)
}

func TestRegistry_ConfigureClearsCache(t *testing.T) {
	r := NewRegistry(logging.NewNop())
	a, err := r.Get("mock")
	require.NoError(t, err)

	r.Configure("mock", map[string]interface{}{})
	b, err := r.Get("mock")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestMock_ScriptedSteps(t *testing.T) {
	m := NewScriptedMock(
		MockStep{Content: "first"},
		MockStep{Content: "second", Status: "blocked"},
	)
	runner, err := m.Setup(core.PersonaSpec{Name: "p"})
	require.NoError(t, err)

	resp, err := runner.Run(context.Background(), "prompt 1", core.CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)
	assert.Equal(t, core.ResponseDone, resp.Status)
	assert.NotEmpty(t, resp.SessionID)

	resp, err = runner.Run(context.Background(), "prompt 2", core.CallOptions{SessionID: "keep"})
	require.NoError(t, err)
	assert.Equal(t, core.ResponseBlocked, resp.Status)
	assert.Equal(t, "keep", resp.SessionID, "existing session is preserved")

	// Exhausted scripts answer done.
	resp, err = runner.Run(context.Background(), "prompt 3", core.CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)

	calls := m.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "prompt 1", calls[0].Prompt)
}

func TestMock_ScenarioFile(t *testing.T) {
	steps := []MockStep{{Content: "from file", Structured: map[string]interface{}{"step": 1.0}}}
	data, err := json.Marshal(steps)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "scenario.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	t.Setenv("TAKT_MOCK_SCENARIO", path)

	p, err := NewMockProvider(nil, logging.NewNop())
	require.NoError(t, err)
	runner, err := p.Setup(core.PersonaSpec{Name: "p"})
	require.NoError(t, err)

	resp, err := runner.Run(context.Background(), "x", core.CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "from file", resp.Content)
	step, ok := resp.StructuredStep()
	require.True(t, ok)
	assert.Equal(t, 1, step)
}

func TestMock_InterruptOnCancel(t *testing.T) {
	m := NewScriptedMock(MockStep{Content: "slow", DelayMS: 5000})
	runner, err := m.Setup(core.PersonaSpec{Name: "p"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = runner.Run(ctx, "x", core.CallOptions{SessionID: "s1"})
	require.Error(t, err)
	assert.Equal(t, core.ProviderErrInterrupted, core.ProviderErrorKindOf(err))
	assert.Contains(t, m.Interrupted(), "s1")
}

func TestClaude_PermissionArgs(t *testing.T) {
	assert.Equal(t, []string{"--permission-mode", "plan"}, permissionArgs(core.PermissionReadonly))
	assert.Equal(t, []string{"--permission-mode", "acceptEdits"}, permissionArgs(core.PermissionEdit))
	assert.Equal(t, []string{"--permission-mode", "bypassPermissions"}, permissionArgs(core.PermissionFull))
}

func TestClaude_ClassifyExit(t *testing.T) {
	err := classifyExit("Error: permission denied by policy", nil)
	assert.Equal(t, core.ProviderErrBlocked, err.Kind)

	err = classifyExit("request timed out", nil)
	assert.Equal(t, core.ProviderErrTimeout, err.Kind)

	err = classifyExit("connection refused", nil)
	assert.Equal(t, core.ProviderErrTransport, err.Kind)
}
