package autopatch

import (
	"regexp"
	"strings"

	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/internal/textscore"
)

var (
	restartWords  = []string{"pm2", "restart", "neu starten", "neustart", "systemctl"}
	policyWords   = []string{"policy", "rls", "row level security"}
	removeWords   = []string{"remove", "entfernen", "delete the", "drop the"}
	envAssignment = regexp.MustCompile(`\b([A-Z][A-Z0-9_]*[A-Z0-9])=(\S+)`)
	serviceName   = regexp.MustCompile(`(?i)\b(?:pm2|systemctl)\s+(?:restart|reload)\s+([a-z0-9][\w\-.]*)`)
)

// DeriveInstructions recognizes known strategy phrasings on an item.
func DeriveInstructions(item *domain.ConfigurationItem) []domain.AutoFixInstruction {
	return deriveFromStrategies(item.Name, item.FixStrategies, item)
}

func deriveFromStrategies(subject string, strategies []string, item *domain.ConfigurationItem) []domain.AutoFixInstruction {
	var out []domain.AutoFixInstruction
	seen := make(map[string]bool)
	add := func(in domain.AutoFixInstruction) {
		key := string(in.Operation) + "|" + in.Target + "|" + in.Content
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, in)
	}

	for _, strategy := range strategies {
		switch {
		case textscore.ContainsAny(strategy, restartWords...):
			add(domain.AutoFixInstruction{
				Operation:   domain.OpRemoteCommand,
				Target:      restartTarget(strategy, subject),
				Content:     "pm2 restart " + restartTarget(strategy, subject),
				Description: strategy,
			})
		case textscore.ContainsAny(strategy, policyWords...):
			add(domain.AutoFixInstruction{
				Operation:   domain.OpRunMigration,
				Target:      "supabase/migrations/" + Slug(subject) + ".sql",
				Template:    "rls_policy",
				Description: strategy,
			})
		case envAssignment.MatchString(strategy):
			m := envAssignment.FindStringSubmatch(strategy)
			add(domain.AutoFixInstruction{
				Operation:   domain.OpSetEnv,
				Target:      m[1],
				Content:     strings.TrimRight(m[2], ".,;"),
				Description: strategy,
			})
		case item != nil && item.Type == domain.ConfigFrontendConfig && textscore.ContainsAny(strategy, removeWords...):
			for _, marker := range item.ProblemMarkers {
				add(domain.AutoFixInstruction{
					Operation:   domain.OpRemoveCode,
					Target:      item.Location,
					Matcher:     &domain.InstructionMatcher{Kind: domain.MatchLineContains, Value: marker},
					Description: strategy,
				})
			}
		}
	}
	return out
}

// ServiceFromText extracts a process name from "pm2 restart <name>" style
// text, returning fallback when none is present.
func ServiceFromText(text, fallback string) string {
	if m := serviceName.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return fallback
}

func restartTarget(strategy, subject string) string {
	fallback := Slug(subject)
	if fallback == "" {
		fallback = "app"
	}
	return ServiceFromText(strategy, fallback)
}
