// Package matcher maps ticket text to autopatch candidates: a fast
// signature library and the tiered semantic matcher over the catalog.
package matcher

import (
	"github.com/spec-kit/support-dispatch/internal/autopatch"
	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/internal/textscore"
)

// Signature is one known problem in the fast-path library.
type Signature struct {
	Issue    autopatch.Issue
	Triggers []string
	// MinHits is how many distinct triggers must appear in the ticket.
	MinHits int
}

func (s Signature) hits(text string) int {
	n := 0
	for _, trigger := range s.Triggers {
		if textscore.ContainsAny(text, trigger) {
			n++
		}
	}
	return n
}

// PatternMatcher is a pure keyword matcher over a fixed signature
// library. It does no I/O.
type PatternMatcher struct {
	signatures []Signature
}

// NewPatternMatcher uses the given signatures, or the default library
// when none are passed.
func NewPatternMatcher(signatures ...Signature) *PatternMatcher {
	if len(signatures) == 0 {
		signatures = DefaultSignatures()
	}
	return &PatternMatcher{signatures: signatures}
}

// Match returns a candidate for the signature with the most trigger hits
// at or above its threshold, or nil.
func (m *PatternMatcher) Match(ticket *domain.Ticket) *domain.AutopatchCandidate {
	text := ticket.Text()
	if text == "" {
		return nil
	}
	best, bestHits := -1, 0
	for i, sig := range m.signatures {
		need := sig.MinHits
		if need <= 0 {
			need = 1
		}
		h := sig.hits(text)
		if h >= need && h > bestHits {
			best, bestHits = i, h
		}
	}
	if best < 0 {
		return nil
	}
	return autopatch.BuildFromIssue(autopatch.SourcePattern, m.signatures[best].Issue, ticket)
}

// DefaultSignatures is the built-in library of recurring problems.
func DefaultSignatures() []Signature {
	return []Signature{
		{
			Issue: autopatch.Issue{
				ID:      "auth-session-expired",
				Label:   "Login-Problem",
				Summary: "Sitzung läuft ab oder Login schlägt fehl",
				Actions: []domain.ResolutionAction{{
					Type:        domain.ActionSupabaseQuery,
					Description: "Auth-Konfiguration und Session-Dauer prüfen",
				}},
			},
			Triggers: []string{"login", "einlogg", "anmeld", "session", "sitzung", "abgemeldet", "logged out"},
			MinHits:  2,
		},
		{
			Issue: autopatch.Issue{
				ID:      "cors-blocked",
				Label:   "Verbindungsproblem",
				Summary: "Anfragen werden durch CORS blockiert",
				Actions: []domain.ResolutionAction{{
					Type:        domain.ActionHetznerCommand,
					Description: "Reverse-Proxy-Header prüfen und nginx neu laden",
				}},
				Instructions: []domain.AutoFixInstruction{{
					Operation:   domain.OpRemoteCommand,
					Target:      "nginx",
					Content:     "nginx -s reload",
					Description: "nginx neu laden",
				}},
			},
			Triggers: []string{"cors", "access-control-allow-origin", "cross-origin"},
			MinHits:  1,
		},
		{
			Issue: autopatch.Issue{
				ID:      "supabase-env-missing",
				Label:   "Konfigurationsproblem",
				Summary: "Supabase-Zugangsdaten fehlen oder sind ungültig",
				Actions: []domain.ResolutionAction{{
					Type:        domain.ActionSupabaseQuery,
					Description: "Supabase-URL und Anon-Key in der Umgebung prüfen",
				}},
			},
			Triggers: []string{"supabase_url", "supabase url", "anon key", "anon_key", "invalid api key"},
			MinHits:  1,
		},
		{
			Issue: autopatch.Issue{
				ID:      "rate-limited",
				Label:   "Überlastungsproblem",
				Summary: "Anfragen werden mit 429 abgewiesen",
				Actions: []domain.ResolutionAction{{
					Type:        domain.ActionManualFollowup,
					Description: "Rate-Limits des Upstream-Dienstes prüfen",
				}},
			},
			Triggers: []string{"429", "too many requests", "rate limit", "zu viele anfragen"},
			MinHits:  1,
		},
		{
			Issue: autopatch.Issue{
				ID:            "app-process-down",
				Label:         "Server-Problem",
				Summary:       "App-Prozess antwortet nicht (502/503)",
				FixStrategies: []string{"pm2 restart app"},
				Actions: []domain.ResolutionAction{{
					Type:        domain.ActionHetznerCommand,
					Description: "pm2-Status prüfen und App neu starten",
				}},
			},
			Triggers: []string{"502", "503", "bad gateway", "service unavailable", "server nicht erreichbar", "server down"},
			MinHits:  1,
		},
		{
			Issue: autopatch.Issue{
				ID:      "stale-frontend-cache",
				Label:   "Darstellungsproblem",
				Summary: "Browser zeigt eine veraltete Version",
				Actions: []domain.ResolutionAction{{
					Type:        domain.ActionUXUpdate,
					Description: "Cache-Header der statischen Assets prüfen",
				}},
			},
			Triggers: []string{"cache", "alte version", "old version", "veraltet", "hard refresh"},
			MinHits:  2,
		},
	}
}
