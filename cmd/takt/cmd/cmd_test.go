package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoshihiko555/takt/internal/core"
)

func TestParseFacetType(t *testing.T) {
	for _, valid := range []string{"persona", "policy", "knowledge", "instruction", "output_contract"} {
		got, ok := parseFacetType(valid)
		require.True(t, ok, "type %s must parse", valid)
		assert.Equal(t, core.FacetType(valid), got)
	}
	_, ok := parseFacetType("piece")
	assert.False(t, ok, "pieces take the dedicated eject path")
	_, ok = parseFacetType("nonsense")
	assert.False(t, ok)
}

func TestVersionCommand(t *testing.T) {
	cmd := newVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "takt dev")
}

func TestPiecesListCommand(t *testing.T) {
	cmd := newPiecesListCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "default")
	assert.Contains(t, out.String(), "review-fix")
}
