package facet

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/yoshihiko555/takt/internal/core"
)

// Layer identifies an ejection target.
type Layer string

const (
	LayerProject Layer = "project"
	LayerUser    Layer = "user"
)

// Eject copies a built-in facet to the project or user layer so it can be
// customised. The copy preserves the text verbatim. Refuses to overwrite an
// existing file.
func (s *Store) Eject(t core.FacetType, name string, layer Layer) (string, error) {
	data, err := builtinFS.ReadFile("builtin/" + typeDir(t) + "/" + name + ".md")
	if err != nil {
		notFound := core.ErrNotFound("facet", fmt.Sprintf("%s/%s", t, name))
		notFound.Code = core.CodeFacetNotFound
		return "", notFound
	}

	base := s.projectDir
	if layer == LayerUser {
		base = s.userDir
	}
	if base == "" {
		return "", core.ErrValidation("EJECT_LAYER", fmt.Sprintf("no %s layer configured", layer))
	}

	dir := filepath.Join(base, typeDir(t))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating facet directory: %w", err)
	}

	target := filepath.Join(dir, name+".md")
	if _, err := os.Stat(target); err == nil {
		exists := core.ErrValidation(core.CodeAlreadyExists,
			fmt.Sprintf("facet %s/%s already exists at %s", t, name, target))
		return target, exists
	}

	if err := os.WriteFile(target, data, 0o600); err != nil {
		return "", fmt.Errorf("writing ejected facet: %w", err)
	}
	return target, nil
}
