package catalog

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/internal/knowledge"
	"github.com/spec-kit/support-dispatch/internal/textscore"
)

const extractQueryLimit = 25

var (
	envVarPattern   = regexp.MustCompile(`\b[A-Z][A-Z0-9]*_[A-Z0-9_]*[A-Z0-9]\b`)
	endpointPattern = regexp.MustCompile(`/api/[A-Za-z0-9_\-/\[\]]*[A-Za-z0-9_\]]`)
	frontendPattern = regexp.MustCompile(`\b(?:app|components|lib|pages|src|hooks)/[\w\-./\[\]]+\.(?:tsx|ts|jsx|js)\b`)
	sentenceSplit   = regexp.MustCompile(`[.!?\n]+`)
)

var problemWords = []string{
	"error", "fail", "broken", "not ", "missing", "timeout", "cannot", "can't", "crash",
	"fehler", "nicht", "kaputt", "fehlt", "problem", "lädt", "hängt",
}

var fixWords = []string{
	"fix", "restart", "set ", "ensure", "add ", "create", "remove", "run ", "enable", "policy",
	"neu starten", "setzen", "prüfen", "anlegen", "entfernen",
}

var databaseWords = []string{"policy", "rls", "row level security", "migration", "index", "trigger"}

var deploymentWords = []string{"pm2", "nginx", "docker", "systemd", "deploy", "hetzner"}

// extractQueries drives one corpus lookup per configuration type.
var extractQueries = map[domain.ConfigurationType]string{
	domain.ConfigEnvVar:           "environment variable env config key secret url",
	domain.ConfigAPIEndpoint:      "api endpoint route handler request",
	domain.ConfigFrontendConfig:   "frontend component page file upload ui",
	domain.ConfigDatabaseSetting:  "database policy rls supabase table migration",
	domain.ConfigDeploymentConfig: "deployment pm2 nginx docker server restart",
}

// extractOrder keeps extraction deterministic.
var extractOrder = []domain.ConfigurationType{
	domain.ConfigEnvVar,
	domain.ConfigAPIEndpoint,
	domain.ConfigFrontendConfig,
	domain.ConfigDatabaseSetting,
	domain.ConfigDeploymentConfig,
}

// ExtractFromCorpus scans the knowledge corpus for documented
// configuration facts.
func ExtractFromCorpus(ctx context.Context, corpus knowledge.Corpus) ([]domain.ConfigurationItem, error) {
	seen := make(map[string]int)
	var items []domain.ConfigurationItem
	add := func(item domain.ConfigurationItem) {
		key := item.Key()
		if idx, ok := seen[key]; ok {
			items[idx].PotentialIssues = appendUnique(items[idx].PotentialIssues, item.PotentialIssues...)
			items[idx].FixStrategies = appendUnique(items[idx].FixStrategies, item.FixStrategies...)
			return
		}
		seen[key] = len(items)
		items = append(items, item)
	}

	for _, typ := range extractOrder {
		docs, err := corpus.Query(ctx, extractQueries[typ], extractQueryLimit)
		if err != nil {
			return nil, fmt.Errorf("query corpus for %s: %w", typ, err)
		}
		for _, doc := range docs {
			for _, item := range extractItems(typ, doc) {
				add(item)
			}
		}
	}
	return items, nil
}

func extractItems(typ domain.ConfigurationType, doc knowledge.Document) []domain.ConfigurationItem {
	body := doc.Text()
	issues := sentencesWith(body, problemWords)
	fixes := sentencesWith(body, fixWords)
	base := func(name, location string) domain.ConfigurationItem {
		return domain.ConfigurationItem{
			Type:            typ,
			Name:            name,
			Description:     describe(body, name, doc.Title),
			Location:        location,
			PotentialIssues: issues,
			FixStrategies:   fixes,
		}
	}

	var out []domain.ConfigurationItem
	switch typ {
	case domain.ConfigEnvVar:
		for _, name := range uniqueMatches(envVarPattern, body) {
			out = append(out, base(name, ".env"))
		}
	case domain.ConfigAPIEndpoint:
		for _, endpoint := range uniqueMatches(endpointPattern, body) {
			out = append(out, base(endpoint, "app"+endpoint+"/route.ts"))
		}
	case domain.ConfigFrontendConfig:
		for _, path := range uniqueMatches(frontendPattern, body) {
			out = append(out, base(path, path))
		}
	case domain.ConfigDatabaseSetting:
		if textscore.ContainsAny(body, databaseWords...) {
			out = append(out, base(doc.Title, "supabase/"+slug(doc.Title)))
		}
	case domain.ConfigDeploymentConfig:
		if textscore.ContainsAny(body, deploymentWords...) {
			out = append(out, base(doc.Title, "deploy/"+slug(doc.Title)))
		}
	}
	return out
}

// BuildOptions controls catalog construction.
type BuildOptions struct {
	BlueprintPath string
	Corpus        knowledge.Corpus
	Logger        *zap.Logger
}

// Build creates the store from corpus extraction overridden by the
// YAML blueprint.
func Build(ctx context.Context, opts BuildOptions) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var extracted []domain.ConfigurationItem
	if opts.Corpus != nil {
		var err error
		extracted, err = ExtractFromCorpus(ctx, opts.Corpus)
		if err != nil {
			return nil, err
		}
	}
	var declared []domain.ConfigurationItem
	if opts.BlueprintPath != "" {
		var err error
		declared, err = LoadBlueprint(opts.BlueprintPath)
		if err != nil {
			return nil, err
		}
	}
	store := Merge(extracted, declared)
	logger.Info("configuration catalog built",
		zap.Int("extracted", len(extracted)),
		zap.Int("declared", len(declared)),
		zap.Int("items", store.Len()))
	return store, nil
}

func uniqueMatches(re *regexp.Regexp, text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range re.FindAllString(text, -1) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

func sentencesWith(text string, words []string) []string {
	var out []string
	for _, sentence := range sentenceSplit.Split(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) < 8 {
			continue
		}
		if textscore.ContainsAny(sentence+" ", words...) {
			out = appendUnique(out, sentence)
		}
	}
	return out
}

func describe(text, name, fallback string) string {
	for _, sentence := range sentenceSplit.Split(text, -1) {
		if strings.Contains(sentence, name) {
			return strings.TrimSpace(sentence)
		}
	}
	return fallback
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		dup := false
		for _, existing := range dst {
			if existing == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	return strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
