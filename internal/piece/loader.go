package piece

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yoshihiko555/takt/internal/core"
	"github.com/yoshihiko555/takt/internal/facet"
)

//go:embed builtin
var builtinFS embed.FS

// Loader resolves and loads piece descriptors.
type Loader struct {
	projectDir string // project .takt directory
	userDir    string // user-global config directory
	facets     *facet.Store
}

// NewLoader creates a piece loader.
func NewLoader(projectDir, userDir string, facets *facet.Store) *Loader {
	return &Loader{projectDir: projectDir, userDir: userDir, facets: facets}
}

// Load resolves a piece reference and returns the normalized immutable
// Piece. Resolution order: absolute path, project layer, user layer,
// repertoire packages, built-ins. The first layer containing the name wins;
// two matches inside one layer fail with AmbiguousPiece.
func (l *Loader) Load(ref string) (*core.Piece, error) {
	if filepath.IsAbs(ref) {
		data, err := os.ReadFile(ref)
		if err != nil {
			return nil, notFoundErr(ref)
		}
		return l.normalize(data, filepath.Dir(ref))
	}

	dirs := []string{
		filepath.Join(l.projectDir, "pieces"),
		filepath.Join(l.userDir, "pieces"),
	}
	if scope, pkg, name, ok := splitRepertoireRef(ref); ok {
		dirs = []string{filepath.Join(l.projectDir, "repertoire", scope, pkg, "pieces")}
		ref = name
	}

	for _, dir := range dirs {
		path, err := findInLayer(dir, ref)
		if err != nil {
			return nil, err
		}
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading piece %s: %w", path, err)
		}
		return l.normalize(data, filepath.Dir(path))
	}

	if data, err := builtinFS.ReadFile("builtin/" + ref + ".yaml"); err == nil {
		return l.normalize(data, "")
	}
	return nil, notFoundErr(ref)
}

func notFoundErr(ref string) *core.DomainError {
	err := core.ErrNotFound("piece", ref)
	err.Code = core.CodePieceNotFound
	return err
}

// splitRepertoireRef parses "@scope/package/name" references.
func splitRepertoireRef(ref string) (scope, pkg, name string, ok bool) {
	if !strings.HasPrefix(ref, "@") {
		return "", "", "", false
	}
	parts := strings.SplitN(ref, "/", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// findInLayer looks for <name>.yaml or <name>.yml in one directory.
// Both present at once is a collision inside the layer.
func findInLayer(dir, name string) (string, error) {
	var matches []string
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			matches = append(matches, path)
		}
	}
	switch len(matches) {
	case 0:
		return "", nil
	case 1:
		return matches[0], nil
	default:
		ambiguous := core.ErrValidation(core.CodeAmbiguousPiece,
			fmt.Sprintf("piece %s matches multiple files in %s", name, dir))
		return "", ambiguous
	}
}

// normalize parses, validates, and resolves a descriptor into a Piece.
// baseDir anchors relative schema and data-source paths; empty for
// built-ins.
func (l *Loader) normalize(data []byte, baseDir string) (*core.Piece, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var d descriptor
	if err := dec.Decode(&d); err != nil {
		return nil, core.ErrValidation("PIECE_PARSE", "invalid piece descriptor").WithCause(err)
	}

	if err := validateDescriptor(&d); err != nil {
		return nil, err
	}

	p := &core.Piece{
		Name:            d.Name,
		Description:     d.Description,
		MaxMovements:    d.MaxMovements,
		InitialMovement: d.InitialMovement,
		MinVersion:      d.MinVersion,
		ProviderOptions: mergedProviderOptions(&d),
	}
	if d.PieceConfig != nil {
		p.RuntimePrepare = d.PieceConfig.RuntimePrepare
	}

	for i := range d.Movements {
		m, err := l.normalizeMovement(&d.Movements[i], baseDir)
		if err != nil {
			return nil, err
		}
		p.Movements = append(p.Movements, m)
	}
	p.BuildIndex()
	return p, nil
}

// mergedProviderOptions folds piece_config.provider_options under the
// piece-level map. The piece-level map wins; piece_config is the
// lowest-priority piece-scoped fallback.
func mergedProviderOptions(d *descriptor) map[string]interface{} {
	var fallback map[string]interface{}
	if d.PieceConfig != nil {
		fallback = d.PieceConfig.ProviderOptions
	}
	if len(fallback) == 0 {
		return d.ProviderOptions
	}
	merged := make(map[string]interface{}, len(fallback)+len(d.ProviderOptions))
	for k, v := range fallback {
		merged[k] = v
	}
	for k, v := range d.ProviderOptions {
		merged[k] = v
	}
	return merged
}

func (l *Loader) normalizeMovement(d *movementDescriptor, baseDir string) (*core.Movement, error) {
	m := &core.Movement{
		Name:                   d.Name,
		Description:            d.Description,
		AllowedTools:           d.AllowedTools,
		RequiredPermissionMode: core.PermissionMode(d.RequiredPermissionMode),
		Provider:               d.Provider,
		Model:                  d.Model,
		Edit:                   d.Edit,
		PassPreviousResponse:   d.PassPreviousResponse,
		InstructionTemplate:    d.Instruction,
	}

	if err := l.resolveFacets(m, d); err != nil {
		return nil, err
	}

	for i, rd := range d.Rules {
		m.Rules = append(m.Rules, &core.Rule{
			Ordinal:         i + 1,
			Condition:       rd.Condition,
			Next:            rd.Next,
			AICondition:     rd.AI,
			Aggregate:       core.AggregateKind(rd.Aggregate),
			InteractiveOnly: rd.InteractiveOnly,
			Appendix:        rd.Appendix,
		})
	}

	if d.OutputSchema != "" {
		schema, err := loadSchema(baseDir, d.OutputSchema)
		if err != nil {
			return nil, err
		}
		m.OutputSchema = schema
	}

	switch {
	case d.Parallel != nil:
		spec := &core.ParallelSpec{}
		for i := range d.Parallel.SubMovements {
			sub, err := l.normalizeMovement(&d.Parallel.SubMovements[i], baseDir)
			if err != nil {
				return nil, err
			}
			spec.SubMovements = append(spec.SubMovements, sub)
		}
		m.Parallel = spec
	case d.TeamLeader != nil:
		m.TeamLeader = &core.TeamLeaderSpec{
			MaxParts:      d.TeamLeader.MaxParts,
			PartTimeoutMS: d.TeamLeader.PartTimeoutMS,
			LeadTemplate:  d.TeamLeader.LeadTemplate,
		}
	case d.Arpeggio != nil:
		source := d.Arpeggio.Source
		if source != "" && !filepath.IsAbs(source) && baseDir != "" {
			source = filepath.Join(baseDir, source)
		}
		m.Arpeggio = &core.ArpeggioSpec{
			SourcePath:     source,
			BatchSize:      d.Arpeggio.BatchSize,
			MaxConcurrency: d.Arpeggio.MaxConcurrency,
			Template:       d.Arpeggio.Template,
			MergeSeparator: d.Arpeggio.MergeSeparator,
			HasHeader:      d.Arpeggio.HasHeader,
		}
	}
	return m, nil
}

func (l *Loader) resolveFacets(m *core.Movement, d *movementDescriptor) error {
	if d.Persona != "" {
		persona, err := l.facets.Resolve(core.FacetPersona, d.Persona)
		if err != nil {
			return err
		}
		m.Persona = persona
	}

	policies, err := l.facets.ResolveAll(core.FacetPolicy, d.Policies)
	if err != nil {
		return err
	}
	m.Policies = policies

	knowledge, err := l.facets.ResolveAll(core.FacetKnowledge, d.Knowledge)
	if err != nil {
		return err
	}
	m.Knowledge = knowledge

	if d.Instruction == "" && d.InstructionRef != "" {
		inst, err := l.facets.Resolve(core.FacetInstruction, d.InstructionRef)
		if err != nil {
			return err
		}
		m.InstructionTemplate = inst.Text
	}

	m.OutputContracts = d.OutputContracts
	if d.Report != nil {
		rs := &core.ReportSpec{Filename: d.Report.Filename}
		if d.Report.Contract != "" {
			contract, err := l.facets.Resolve(core.FacetOutputContract, d.Report.Contract)
			if err != nil {
				return err
			}
			rs.Contract = contract
		}
		m.Report = rs
	}
	return nil
}

// loadSchema reads and parses a structured-output JSON schema at
// normalization time so the movement carries it bound.
func loadSchema(baseDir, ref string) (map[string]interface{}, error) {
	path := ref
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, ref)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		notFound := core.ErrNotFound("schema", ref)
		notFound.Code = core.CodeSchemaNotFound
		return nil, notFound
	}
	var schema map[string]interface{}
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, core.ErrValidation("SCHEMA_PARSE",
			fmt.Sprintf("schema %s is not valid JSON", ref)).WithCause(err)
	}
	return schema, nil
}

// ListBuiltin returns the names of the built-in pieces.
func ListBuiltin() []string {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	return names
}

// Eject copies a built-in piece descriptor to the project or user layer.
// Refuses to overwrite an existing file.
func (l *Loader) Eject(name string, layer facet.Layer) (string, error) {
	data, err := builtinFS.ReadFile("builtin/" + name + ".yaml")
	if err != nil {
		return "", notFoundErr(name)
	}

	base := l.projectDir
	if layer == facet.LayerUser {
		base = l.userDir
	}
	dir := filepath.Join(base, "pieces")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating pieces directory: %w", err)
	}

	target := filepath.Join(dir, name+".yaml")
	if _, err := os.Stat(target); err == nil {
		return target, core.ErrValidation(core.CodeAlreadyExists,
			fmt.Sprintf("piece %s already exists at %s", name, target))
	}
	if err := os.WriteFile(target, data, 0o600); err != nil {
		return "", fmt.Errorf("writing ejected piece: %w", err)
	}
	return target, nil
}
