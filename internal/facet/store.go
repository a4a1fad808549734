// Package facet resolves reusable prompt fragments (personas, policies,
// knowledge, instructions, output contracts) across three layers:
// project-local, user-global, and built-in.
package facet

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yoshihiko555/takt/internal/core"
)

//go:embed builtin
var builtinFS embed.FS

// Store resolves facet references to materialized text.
type Store struct {
	projectDir string // .takt directory of the project
	userDir    string // user-global config directory
}

// NewStore creates a facet store.
func NewStore(projectDir, userDir string) *Store {
	return &Store{projectDir: projectDir, userDir: userDir}
}

// typeDir maps a facet type to its directory name.
func typeDir(t core.FacetType) string {
	switch t {
	case core.FacetPersona:
		return "personas"
	case core.FacetPolicy:
		return "policies"
	case core.FacetKnowledge:
		return "knowledge"
	case core.FacetInstruction:
		return "instructions"
	case core.FacetOutputContract:
		return "output_contracts"
	default:
		return string(t) + "s"
	}
}

// Resolve looks a facet up: project layer first, then user, then built-in.
// Idempotent; no side effects beyond filesystem reads.
func (s *Store) Resolve(t core.FacetType, name string) (*core.Facet, error) {
	filename := name + ".md"

	for _, base := range []string{s.projectDir, s.userDir} {
		if base == "" {
			continue
		}
		path := filepath.Join(base, typeDir(t), filename)
		data, err := os.ReadFile(path)
		if err == nil {
			return &core.Facet{Type: t, Name: name, Path: path, Text: string(data)}, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading facet %s/%s: %w", t, name, err)
		}
	}

	builtinPath := "builtin/" + typeDir(t) + "/" + filename
	if data, err := builtinFS.ReadFile(builtinPath); err == nil {
		return &core.Facet{Type: t, Name: name, Path: builtinPath, Text: string(data)}, nil
	}

	err := core.ErrNotFound("facet", fmt.Sprintf("%s/%s", t, name))
	err.Code = core.CodeFacetNotFound
	return nil, err
}

// ResolveAll resolves a list of references of one type.
func (s *Store) ResolveAll(t core.FacetType, names []string) ([]*core.Facet, error) {
	out := make([]*core.Facet, 0, len(names))
	for _, name := range names {
		f, err := s.Resolve(t, name)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// ListBuiltin returns the names of built-in facets of one type.
func (s *Store) ListBuiltin(t core.FacetType) ([]string, error) {
	entries, err := builtinFS.ReadDir("builtin/" + typeDir(t))
	if err != nil {
		return nil, nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, trimMD(e.Name()))
	}
	return names, nil
}

func trimMD(name string) string {
	if filepath.Ext(name) == ".md" {
		return name[:len(name)-3]
	}
	return name
}
