// Package autopatch assembles fix candidates and caches detection results.
package autopatch

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/internal/textscore"
)

// Candidate sources, also the first segment of every pattern id.
const (
	SourcePattern   = "pattern"
	SourceBlueprint = "blueprint"
	SourceSemantic  = "semantic"
	SourceLLM       = "llm"
	SourceCommon    = "common"
)

// Issue is a known problem that is not tied to a single catalog item:
// a fast-path signature or a derived common issue.
type Issue struct {
	ID              string
	Label           string
	Summary         string
	CustomerMessage string
	Actions         []domain.ResolutionAction
	Instructions    []domain.AutoFixInstruction
	FixStrategies   []string
}

// PatternID derives the stable idempotency key for a catalog item.
func PatternID(source string, item *domain.ConfigurationItem) string {
	return source + ":" + string(item.Type) + ":" + Slug(item.Name)
}

// IssuePatternID derives the stable idempotency key for an issue.
func IssuePatternID(source, issueID string) string {
	return source + ":" + Slug(issueID)
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases s and collapses every non-alphanumeric run into "-".
func Slug(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// BuildFromItem turns a catalog item (optionally with the deviation that
// surfaced it) into a candidate. Instructions are taken from the item's
// universal fix instructions, then from the deviation, then derived from
// the item's fix strategies.
func BuildFromItem(source string, item *domain.ConfigurationItem, dev *domain.Deviation, ticket *domain.Ticket) *domain.AutopatchCandidate {
	patternID := PatternID(source, item)
	label := ProblemLabel(item, ticket)

	instructions := cloneInstructions(item.UniversalFixInstructions)
	if len(instructions) == 0 && dev != nil {
		instructions = cloneInstructions(dev.SuggestedInstructions)
	}
	if len(instructions) == 0 {
		instructions = DeriveInstructions(item)
	}

	summary := fmt.Sprintf("%s: %s", label, item.Name)
	if dev != nil && dev.Deviation != "" {
		summary = fmt.Sprintf("%s: %s", label, dev.Deviation)
	}

	return &domain.AutopatchCandidate{
		PatternID:           patternID,
		Summary:             summary,
		Actions:             actionsFor(item, patternID, instructions),
		CustomerMessage:     SuccessMessage(label),
		AutoFixInstructions: instructions,
		Source:              source,
		ProblemLabel:        label,
	}
}

// BuildFromIssue turns a known issue into a candidate.
func BuildFromIssue(source string, issue Issue, ticket *domain.Ticket) *domain.AutopatchCandidate {
	label := issue.Label
	if label == "" && ticket != nil {
		label = labelFromText(ticket.Text())
	}
	instructions := cloneInstructions(issue.Instructions)
	if len(instructions) == 0 && len(issue.FixStrategies) > 0 {
		instructions = deriveFromStrategies(issue.ID, issue.FixStrategies, nil)
	}
	patternID := IssuePatternID(source, issue.ID)

	actions := append([]domain.ResolutionAction(nil), issue.Actions...)
	if len(actions) == 0 {
		actions = []domain.ResolutionAction{{Type: domain.ActionAutopatchPlan, Description: issue.Summary, FixID: patternID}}
	}
	if len(instructions) == 0 {
		actions = append(actions, manualFollowup(issue.Summary))
	}
	message := issue.CustomerMessage
	if message == "" {
		message = SuccessMessage(label)
	}
	return &domain.AutopatchCandidate{
		PatternID:           patternID,
		Summary:             issue.Summary,
		Actions:             actions,
		CustomerMessage:     message,
		AutoFixInstructions: instructions,
		Source:              source,
		ProblemLabel:        label,
	}
}

// ProblemLabel names the problem in customer-facing German.
func ProblemLabel(item *domain.ConfigurationItem, ticket *domain.Ticket) string {
	text := item.Name + " " + item.Description
	if ticket != nil {
		text += " " + ticket.Text()
	}
	if textscore.ContainsAny(text, "pdf") {
		return labelFromText(text)
	}
	switch item.Type {
	case domain.ConfigEnvVar:
		return "Konfigurationsproblem"
	case domain.ConfigAPIEndpoint:
		return "API-Problem"
	case domain.ConfigDatabaseSetting:
		return "Datenbank-Problem"
	case domain.ConfigDeploymentConfig:
		return "Server-Problem"
	case domain.ConfigFrontendConfig:
		return "Darstellungsproblem"
	}
	return labelFromText(text)
}

func labelFromText(text string) string {
	switch {
	case textscore.ContainsAny(text, "pdf"):
		return "PDF-Upload-Problem"
	case textscore.ContainsAny(text, "login", "anmeld", "session"):
		return "Login-Problem"
	case textscore.ContainsAny(text, "upload", "hochlad", "hochgeladen"):
		return "Upload-Problem"
	case textscore.ContainsAny(text, "server", "502", "pm2"):
		return "Server-Problem"
	}
	return "technisches Problem"
}

// InitialMessage is the customer-facing "working on it" text.
func InitialMessage(c *domain.AutopatchCandidate) string {
	return fmt.Sprintf("Wir haben ein %s erkannt und arbeiten bereits an einer automatischen Lösung. Wir melden uns, sobald alles wieder funktioniert.", c.ProblemLabel)
}

// SuccessMessage is sent only after a passing post-fix check.
func SuccessMessage(label string) string {
	return fmt.Sprintf("Gute Nachrichten: Das %s wurde behoben. Bitte versuchen Sie es noch einmal und geben Sie uns Bescheid, falls weiterhin etwas nicht klappt.", label)
}

func actionsFor(item *domain.ConfigurationItem, patternID string, instructions []domain.AutoFixInstruction) []domain.ResolutionAction {
	var actions []domain.ResolutionAction
	switch item.Type {
	case domain.ConfigDatabaseSetting:
		actions = append(actions, domain.ResolutionAction{
			Type:        domain.ActionSupabaseQuery,
			Description: "Datenbank-Einstellung prüfen: " + item.Name,
			Payload:     map[string]any{"location": item.Location},
		})
	case domain.ConfigDeploymentConfig:
		actions = append(actions, domain.ResolutionAction{
			Type:        domain.ActionHetznerCommand,
			Description: "Server-Konfiguration prüfen: " + item.Name,
		})
	case domain.ConfigFrontendConfig:
		actions = append(actions, domain.ResolutionAction{
			Type:        domain.ActionUXUpdate,
			Description: "Frontend-Datei korrigieren: " + item.Location,
			FixID:       patternID,
		})
	}
	actions = append(actions, domain.ResolutionAction{
		Type:        domain.ActionAutopatchPlan,
		Description: "Autopatch für " + item.Name,
		FixID:       patternID,
		Payload:     map[string]any{"configurationType": string(item.Type), "location": item.Location},
	})
	if len(instructions) == 0 {
		actions = append(actions, manualFollowup(item.Name))
	}
	return actions
}

func manualFollowup(subject string) domain.ResolutionAction {
	return domain.ResolutionAction{
		Type:        domain.ActionManualFollowup,
		Description: "Manuelle Prüfung erforderlich: " + subject,
	}
}

func cloneInstructions(in []domain.AutoFixInstruction) []domain.AutoFixInstruction {
	if len(in) == 0 {
		return nil
	}
	return append([]domain.AutoFixInstruction(nil), in...)
}
