// Package piece loads piece descriptors, validates them, resolves facet
// references and produces immutable core.Piece records.
package piece

// descriptor mirrors the piece YAML schema. Facet references are still
// names here; normalization resolves them to text.
type descriptor struct {
	Name            string                 `yaml:"name"`
	Description     string                 `yaml:"description"`
	MaxMovements    int                    `yaml:"max_movements"`
	InitialMovement string                 `yaml:"initial_movement"`
	MinVersion      string                 `yaml:"min_version"`
	Movements       []movementDescriptor   `yaml:"movements"`
	ProviderOptions map[string]interface{} `yaml:"provider_options"`
	PieceConfig     *pieceConfigDescriptor `yaml:"piece_config"`
}

type pieceConfigDescriptor struct {
	ProviderOptions map[string]interface{} `yaml:"provider_options"`
	RuntimePrepare  []string               `yaml:"runtime_prepare"`
}

type movementDescriptor struct {
	Name                   string   `yaml:"name"`
	Description            string   `yaml:"description"`
	AllowedTools           []string `yaml:"allowed_tools"`
	RequiredPermissionMode string   `yaml:"required_permission_mode"`
	Provider               string   `yaml:"provider"`
	Model                  string   `yaml:"model"`
	Edit                   bool     `yaml:"edit"`
	PassPreviousResponse   bool     `yaml:"pass_previous_response"`
	Instruction            string   `yaml:"instruction"`
	InstructionRef         string   `yaml:"instruction_ref"`
	OutputContracts        []string `yaml:"output_contracts"`
	Persona                string   `yaml:"persona"`
	Policies               []string `yaml:"policies"`
	Knowledge              []string `yaml:"knowledge"`
	OutputSchema           string   `yaml:"output_schema"`

	Report *reportDescriptor `yaml:"report"`
	Rules  []ruleDescriptor  `yaml:"rules"`

	Parallel   *parallelDescriptor   `yaml:"parallel"`
	TeamLeader *teamLeaderDescriptor `yaml:"team_leader"`
	Arpeggio   *arpeggioDescriptor   `yaml:"arpeggio"`
}

type reportDescriptor struct {
	Filename string `yaml:"filename"`
	Contract string `yaml:"contract"`
}

type ruleDescriptor struct {
	Condition       string `yaml:"condition"`
	Next            string `yaml:"next"`
	AI              string `yaml:"ai"`
	Aggregate       string `yaml:"aggregate"` // "", "all", "any"
	InteractiveOnly bool   `yaml:"interactive_only"`
	Appendix        string `yaml:"appendix"`
}

type parallelDescriptor struct {
	SubMovements []movementDescriptor `yaml:"sub_movements"`
}

type teamLeaderDescriptor struct {
	MaxParts      int    `yaml:"max_parts"`
	PartTimeoutMS int    `yaml:"part_timeout_ms"`
	LeadTemplate  string `yaml:"lead_template"`
}

type arpeggioDescriptor struct {
	Source         string `yaml:"source"`
	BatchSize      int    `yaml:"batch_size"`
	MaxConcurrency int    `yaml:"max_concurrency"`
	Template       string `yaml:"template"`
	MergeSeparator string `yaml:"merge_separator"`
	HasHeader      bool   `yaml:"has_header"`
}
