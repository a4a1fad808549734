package facet

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoshihiko555/takt/internal/core"
)

func newTestStore(t *testing.T) (*Store, string, string) {
	t.Helper()
	projectDir := t.TempDir()
	userDir := t.TempDir()
	return NewStore(projectDir, userDir), projectDir, userDir
}

func writeFacet(t *testing.T, base, dir, name, text string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(base, dir), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(base, dir, name+".md"), []byte(text), 0o600))
}

func TestResolve_LayerPrecedence(t *testing.T) {
	store, projectDir, userDir := newTestStore(t)

	// Built-in only.
	f, err := store.Resolve(core.FacetPersona, "judge")
	require.NoError(t, err)
	assert.Contains(t, f.Text, "Status Judge")

	// User layer shadows built-in.
	writeFacet(t, userDir, "personas", "judge", "user judge")
	f, err = store.Resolve(core.FacetPersona, "judge")
	require.NoError(t, err)
	assert.Equal(t, "user judge", f.Text)

	// Project layer shadows user.
	writeFacet(t, projectDir, "personas", "judge", "project judge")
	f, err = store.Resolve(core.FacetPersona, "judge")
	require.NoError(t, err)
	assert.Equal(t, "project judge", f.Text)
}

func TestResolve_NotFound(t *testing.T) {
	store, _, _ := newTestStore(t)
	_, err := store.Resolve(core.FacetPolicy, "nonexistent")
	require.Error(t, err)

	var domErr *core.DomainError
	require.True(t, errors.As(err, &domErr))
	assert.Equal(t, core.CodeFacetNotFound, domErr.Code)
}

func TestResolve_Idempotent(t *testing.T) {
	store, _, _ := newTestStore(t)
	a, err := store.Resolve(core.FacetPersona, "reviewer")
	require.NoError(t, err)
	b, err := store.Resolve(core.FacetPersona, "reviewer")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestResolveAll_FailsFast(t *testing.T) {
	store, _, _ := newTestStore(t)
	_, err := store.ResolveAll(core.FacetPersona, []string{"reviewer", "missing"})
	require.Error(t, err)
}

func TestEject_RoundTrip(t *testing.T) {
	store, projectDir, _ := newTestStore(t)

	path, err := store.Eject(core.FacetPersona, "reviewer", LayerProject)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(projectDir, "personas", "reviewer.md"), path)

	ejected, err := os.ReadFile(path)
	require.NoError(t, err)
	builtin, err := builtinFS.ReadFile("builtin/personas/reviewer.md")
	require.NoError(t, err)
	assert.Equal(t, builtin, ejected, "ejected copy must be byte-identical")

	// Second ejection refuses to overwrite and leaves the file untouched.
	_, err = store.Eject(core.FacetPersona, "reviewer", LayerProject)
	var domErr *core.DomainError
	require.True(t, errors.As(err, &domErr))
	assert.Equal(t, core.CodeAlreadyExists, domErr.Code)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ejected, after)
}

func TestEject_UnknownFacet(t *testing.T) {
	store, _, _ := newTestStore(t)
	_, err := store.Eject(core.FacetPersona, "missing", LayerProject)
	require.Error(t, err)
}

func TestListBuiltin(t *testing.T) {
	store, _, _ := newTestStore(t)
	names, err := store.ListBuiltin(core.FacetPersona)
	require.NoError(t, err)
	assert.Contains(t, names, "lead")
	assert.Contains(t, names, "reviewer")
	assert.Contains(t, names, "judge")
}
