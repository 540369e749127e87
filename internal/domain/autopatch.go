package domain

// ActionType enumerates resolution action kinds proposed by agents and the builder.
type ActionType string

const (
	ActionAutopatchPlan  ActionType = "autopatch_plan"
	ActionSupabaseQuery  ActionType = "supabase_query"
	ActionHetznerCommand ActionType = "hetzner_command"
	ActionUXUpdate       ActionType = "ux_update"
	ActionManualFollowup ActionType = "manual_followup"
)

// ResolutionAction is one typed step of a fix or plan.
type ResolutionAction struct {
	Type        ActionType     `json:"type"`
	Description string         `json:"description"`
	FixID       string         `json:"fixId,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// AutopatchCandidate is a proposed fix pending verification and application.
type AutopatchCandidate struct {
	PatternID           string
	Summary             string
	Actions             []ResolutionAction
	CustomerMessage     string
	AutoFixInstructions []AutoFixInstruction
	// Source names the cascade stage that produced the candidate.
	Source string
	// ProblemLabel is the short customer-facing name of the problem,
	// e.g. "PDF-Upload-Problem".
	ProblemLabel string
}

// HasInstructions reports whether the candidate can be applied automatically.
func (c *AutopatchCandidate) HasInstructions() bool {
	return c != nil && len(c.AutoFixInstructions) > 0
}

// InstructionOperation is the verb of an auto-fix instruction.
type InstructionOperation string

const (
	OpCreateFile    InstructionOperation = "create_file"
	OpModifyCode    InstructionOperation = "modify_code"
	OpRemoveCode    InstructionOperation = "remove_code"
	OpSetEnv        InstructionOperation = "set_env"
	OpRunMigration  InstructionOperation = "run_migration"
	OpRemoteCommand InstructionOperation = "remote_command"
)

// MatcherKind selects how an instruction locates code inside its target.
type MatcherKind string

const (
	MatchLiteral      MatcherKind = "literal"
	MatchRegex        MatcherKind = "regex"
	MatchLineContains MatcherKind = "line_contains"
)

// InstructionMatcher locates the region an instruction operates on.
type InstructionMatcher struct {
	Kind  MatcherKind `json:"kind" yaml:"kind"`
	Value string      `json:"value" yaml:"value"`
}

// AutoFixInstruction is a declarative fix step for the external executor:
// operation + target + optional matcher.
type AutoFixInstruction struct {
	Operation   InstructionOperation `json:"operation" yaml:"operation"`
	Target      string               `json:"target" yaml:"target"`
	Matcher     *InstructionMatcher  `json:"matcher,omitempty" yaml:"matcher,omitempty"`
	Content     string               `json:"content,omitempty" yaml:"content,omitempty"`
	Template    string               `json:"template,omitempty" yaml:"template,omitempty"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
}
