package matcher

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/support-dispatch/internal/autopatch"
	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/internal/textscore"
)

const (
	keywordThreshold  = 5
	semanticThreshold = 0.5
	llmShortlist      = 10
)

// ItemSource yields the configuration catalog.
type ItemSource interface {
	Items() []*domain.ConfigurationItem
}

// LLMSelector picks the most relevant item for a ticket, or nil when
// none fits.
type LLMSelector interface {
	SelectConfiguration(ctx context.Context, ticket *domain.Ticket, items []*domain.ConfigurationItem) (*domain.ConfigurationItem, error)
}

// synonyms expand ticket tokens to catalog vocabulary.
var synonyms = map[string][]string{
	"hochladen":    {"upload"},
	"hochgeladen":  {"upload"},
	"upload":       {"hochladen", "file", "datei"},
	"anmelden":     {"login", "auth", "session"},
	"einloggen":    {"login", "auth", "session"},
	"login":        {"auth", "session", "signin"},
	"passwort":     {"password", "auth"},
	"datei":        {"file", "upload"},
	"fehler":       {"error"},
	"langsam":      {"timeout", "performance"},
	"absturz":      {"crash"},
	"server":       {"pm2", "nginx", "deployment"},
	"datenbank":    {"database", "supabase", "policy"},
	"berechtigung": {"permission", "policy", "rls"},
	"zahlung":      {"payment", "stripe"},
	"mail":         {"email", "smtp"},
}

// SemanticMatcher runs the tiered matching cascade against the catalog:
// keyword and synonym scoring, token-vector similarity, an optional LLM
// pick, and finally the common-issue patterns.
type SemanticMatcher struct {
	items  ItemSource
	llm    LLMSelector
	logger *zap.Logger
}

// Option configures a SemanticMatcher.
type Option func(*SemanticMatcher)

// WithLLM enables the LLM tier.
func WithLLM(selector LLMSelector) Option {
	return func(m *SemanticMatcher) { m.llm = selector }
}

// NewSemanticMatcher creates a matcher over the catalog.
func NewSemanticMatcher(items ItemSource, logger *zap.Logger, opts ...Option) *SemanticMatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &SemanticMatcher{items: items, logger: logger.Named("semantic_matcher")}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type scored struct {
	item  *domain.ConfigurationItem
	score float64
}

// MatchTicketToConfiguration returns the first confident hit of the
// cascade, or nil.
func (m *SemanticMatcher) MatchTicketToConfiguration(ctx context.Context, ticket *domain.Ticket) (*domain.AutopatchCandidate, error) {
	items := m.items.Items()
	text := ticket.Text()
	if len(items) == 0 || text == "" {
		return nil, nil
	}
	log := m.logger.With(zap.String("ticket_id", ticket.ID))

	keyword := rank(items, func(item *domain.ConfigurationItem) float64 { return float64(KeywordScore(text, item)) })
	if len(keyword) > 0 && keyword[0].score >= keywordThreshold {
		log.Debug("keyword tier matched", zap.String("item", keyword[0].item.Key()), zap.Float64("score", keyword[0].score))
		return autopatch.BuildFromItem(autopatch.SourceSemantic, keyword[0].item, nil, ticket), nil
	}

	semantic := rank(items, func(item *domain.ConfigurationItem) float64 { return SemanticScore(text, item) })
	if len(semantic) > 0 && semantic[0].score >= semanticThreshold {
		log.Debug("semantic tier matched", zap.String("item", semantic[0].item.Key()), zap.Float64("score", semantic[0].score))
		return autopatch.BuildFromItem(autopatch.SourceSemantic, semantic[0].item, nil, ticket), nil
	}

	if m.llm != nil {
		pick, err := m.llm.SelectConfiguration(ctx, ticket, shortlist(semantic, items, llmShortlist))
		switch {
		case err != nil:
			log.Warn("llm tier failed", zap.Error(err))
		case pick != nil:
			log.Debug("llm tier matched", zap.String("item", pick.Key()))
			return autopatch.BuildFromItem(autopatch.SourceLLM, pick, nil, ticket), nil
		}
	}

	for _, issue := range DeriveCommonIssues(items) {
		if issue.Pattern.MatchString(text) {
			log.Debug("common issue matched", zap.String("issue", issue.ID))
			return autopatch.BuildFromIssue(autopatch.SourceCommon, issue.Issue(), ticket), nil
		}
	}
	return nil, nil
}

// Rank scores every item for the ticket with the semantic metric, best
// first. Used by the CLI to explain matches.
func (m *SemanticMatcher) Rank(ticket *domain.Ticket) []ScoredItem {
	text := ticket.Text()
	var out []ScoredItem
	for _, s := range rank(m.items.Items(), func(item *domain.ConfigurationItem) float64 { return SemanticScore(text, item) }) {
		out = append(out, ScoredItem{Item: s.item, Keyword: KeywordScore(text, s.item), Semantic: s.score})
	}
	return out
}

// ScoredItem is one row of Rank.
type ScoredItem struct {
	Item     *domain.ConfigurationItem
	Keyword  int
	Semantic float64
}

func rank(items []*domain.ConfigurationItem, score func(*domain.ConfigurationItem) float64) []scored {
	out := make([]scored, 0, len(items))
	for _, item := range items {
		if s := score(item); s > 0 {
			out = append(out, scored{item: item, score: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

// shortlist takes the best ranked items and pads with unranked catalog
// items up to n.
func shortlist(ranked []scored, all []*domain.ConfigurationItem, n int) []*domain.ConfigurationItem {
	out := make([]*domain.ConfigurationItem, 0, n)
	taken := make(map[*domain.ConfigurationItem]bool)
	for _, s := range ranked {
		if len(out) == n {
			return out
		}
		out = append(out, s.item)
		taken[s.item] = true
	}
	for _, item := range all {
		if len(out) == n {
			break
		}
		if !taken[item] {
			out = append(out, item)
		}
	}
	return out
}

func itemText(item *domain.ConfigurationItem) string {
	return strings.Join(append([]string{item.Name, item.Description, item.Location}, item.PotentialIssues...), " ")
}

// KeywordScore counts direct vocabulary hits (2 points), synonym hits
// (1 point) and whole documented symptoms found in the ticket (3 points).
func KeywordScore(ticketText string, item *domain.ConfigurationItem) int {
	vocabulary := textscore.Set(itemText(item))
	score := 0
	for tok := range textscore.Set(ticketText) {
		if vocabulary[tok] {
			score += 2
			continue
		}
		for _, syn := range synonyms[tok] {
			if vocabulary[syn] {
				score++
				break
			}
		}
	}
	lowered := strings.ToLower(ticketText)
	for _, issue := range item.PotentialIssues {
		if issue != "" && strings.Contains(lowered, strings.ToLower(issue)) {
			score += 3
		}
	}
	return score
}

// SemanticScore averages keyword overlap and term-vector cosine.
func SemanticScore(ticketText string, item *domain.ConfigurationItem) float64 {
	text := itemText(item)
	overlap := textscore.KeywordOverlap(textscore.Set(ticketText), textscore.Set(text))
	return textscore.Clamp01(0.5*overlap + 0.5*textscore.Cosine(ticketText, text))
}

// CommonIssue groups catalog items that share a symptom family.
type CommonIssue struct {
	ID      string
	Summary string
	Pattern *regexp.Regexp
	Items   []*domain.ConfigurationItem
}

// Issue converts the group into a buildable issue, pooling the items'
// fix instructions and strategies.
func (c CommonIssue) Issue() autopatch.Issue {
	issue := autopatch.Issue{ID: c.ID, Summary: c.Summary}
	for _, item := range c.Items {
		issue.Instructions = append(issue.Instructions, item.UniversalFixInstructions...)
		issue.FixStrategies = append(issue.FixStrategies, item.FixStrategies...)
	}
	return issue
}

type issueFamily struct {
	id      string
	summary string
	pattern *regexp.Regexp
}

var issueFamilies = []issueFamily{
	{"auth", "Anmeldung schlägt fehl", regexp.MustCompile(`(?i)\b(login|log in|anmeld\w*|einlogg\w*|session|passwort|password|auth\w*)\b`)},
	{"upload", "Datei-Upload schlägt fehl", regexp.MustCompile(`(?i)(upload|hochlad\w*|hochgeladen|datei)`)},
	{"permissions", "Fehlende Datenbank-Berechtigung", regexp.MustCompile(`(?i)\b(rls|policy|permission denied|berechtigung\w*)\b`)},
	{"network", "Netzwerk- oder CORS-Fehler", regexp.MustCompile(`(?i)\b(cors|failed to fetch|network error|netzwerk\w*)\b`)},
	{"availability", "Dienst nicht erreichbar", regexp.MustCompile(`(?i)\b(502|503|bad gateway|pm2|nicht erreichbar|offline)\b`)},
}

// DeriveCommonIssues correlates catalog items into symptom families. A
// family becomes a common issue when at least one item documents it.
func DeriveCommonIssues(items []*domain.ConfigurationItem) []CommonIssue {
	var out []CommonIssue
	for _, family := range issueFamilies {
		issue := CommonIssue{ID: "common-" + family.id, Summary: family.summary, Pattern: family.pattern}
		for _, item := range items {
			if family.pattern.MatchString(strings.Join(item.PotentialIssues, " ")) {
				issue.Items = append(issue.Items, item)
			}
		}
		if len(issue.Items) > 0 {
			out = append(out, issue)
		}
	}
	return out
}
