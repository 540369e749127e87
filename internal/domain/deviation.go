package domain

// Severity ranks how bad a detected problem is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities: critical > high > medium > low > unknown.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Deviation is a mismatch between live state and one configuration item,
// computed for a single ticket and never persisted.
type Deviation struct {
	Item           *ConfigurationItem
	Deviation      string
	Severity       Severity
	Evidence       []string
	RelevanceScore float64
	// SuggestedInstructions are synthesized from the live state or the
	// ticket text while detecting (e.g. a restart for a named service).
	SuggestedInstructions []AutoFixInstruction
}
