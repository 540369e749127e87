// Package deviation compares live system state against the
// configuration catalog and reports ranked deviations for a ticket.
package deviation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/spec-kit/support-dispatch/internal/autopatch"
	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/internal/textscore"
	"github.com/spec-kit/support-dispatch/pkg/util"
)

// Catalog is the slice of the configuration store the detector needs.
type Catalog interface {
	Items() []*domain.ConfigurationItem
	AttachFixInstructions(item *domain.ConfigurationItem, instructions []domain.AutoFixInstruction) *domain.ConfigurationItem
}

// envFiles are read in order; later files override earlier ones.
var envFiles = []string{".env", ".env.production", ".env.local"}

// DefaultProblemMarkers apply to frontend items that declare none.
var DefaultProblemMarkers = []string{
	"GlobalWorkerOptions.workerSrc",
	"pdf.worker",
	"http://localhost",
}

const (
	nameMentionBonus = 0.2
	keywordWeight    = 0.6
	semanticWeight   = 0.4
	issueMatchShare  = 0.6
)

var placeholderValues = map[string]bool{
	"changeme": true, "change-me": true, "placeholder": true, "todo": true,
	"xxx": true, "null": true, "undefined": true, "none": true, "replace-me": true,
}

var processHint = regexp.MustCompile(`(?i)\b(?:service|dienst|prozess|process)\s+["'` + "`" + `]?([a-z0-9][\w\-.]*)`)

// Detector checks catalog items against files and environment under a
// root directory. It returns every deviation it finds; thresholding on
// relevance is up to the caller.
type Detector struct {
	catalog Catalog
	lookup  func(string) (string, bool)
	logger  *zap.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithEnvLookup replaces the process environment fallback used after the
// env files have been consulted.
func WithEnvLookup(lookup func(string) (string, bool)) Option {
	return func(d *Detector) { d.lookup = lookup }
}

// New creates a detector over the catalog.
func New(catalog Catalog, logger *zap.Logger, opts ...Option) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Detector{catalog: catalog, lookup: os.LookupEnv, logger: logger.Named("deviation_detector")}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect evaluates every catalog item for the ticket. Results are sorted
// by relevance, ties broken by severity.
func (d *Detector) Detect(ctx context.Context, ticket *domain.Ticket, rootDir string) ([]domain.Deviation, error) {
	text := ticket.Text()
	ticketTokens := textscore.Set(text)
	env := d.readEnv(rootDir)

	var out []domain.Deviation
	for _, item := range d.catalog.Items() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if dev := d.check(item, text, ticketTokens, env, rootDir); dev != nil {
			out = append(out, *dev)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RelevanceScore != out[j].RelevanceScore {
			return out[i].RelevanceScore > out[j].RelevanceScore
		}
		return out[i].Severity.Rank() > out[j].Severity.Rank()
	})
	return out, nil
}

// CheckItem evaluates a single item, as the verifier does before and
// after a fix. It returns nil when the item matches the live state.
func (d *Detector) CheckItem(ctx context.Context, ticket *domain.Ticket, item *domain.ConfigurationItem, rootDir string) (*domain.Deviation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := ticket.Text()
	return d.check(item, text, textscore.Set(text), d.readEnv(rootDir), rootDir), nil
}

func (d *Detector) check(item *domain.ConfigurationItem, text string, ticketTokens map[string]bool, env map[string]string, rootDir string) *domain.Deviation {
	var dev *domain.Deviation
	switch item.Type {
	case domain.ConfigEnvVar:
		dev = d.checkEnv(item, env)
	case domain.ConfigAPIEndpoint:
		dev = d.checkEndpoint(item, rootDir)
	case domain.ConfigFrontendConfig:
		dev = d.checkFrontend(item, rootDir)
	case domain.ConfigDatabaseSetting:
		dev = checkVocabulary(item, text, ticketTokens)
	case domain.ConfigDeploymentConfig:
		dev = checkVocabulary(item, text, ticketTokens)
		if dev != nil {
			dev.SuggestedInstructions = restartInstructions(item, text)
		}
	}
	if dev != nil {
		dev.RelevanceScore = Relevance(text, ticketTokens, dev.Item)
	}
	return dev
}

// Relevance weighs keyword overlap and cosine similarity between ticket
// and item, adding a bonus when the ticket names the item directly.
func Relevance(text string, ticketTokens map[string]bool, item *domain.ConfigurationItem) float64 {
	itemText := strings.Join(append([]string{item.Name, item.Description, item.Location}, item.PotentialIssues...), " ")
	score := keywordWeight*textscore.KeywordOverlap(ticketTokens, textscore.Set(itemText)) +
		semanticWeight*textscore.Cosine(text, itemText)
	for tok := range textscore.Set(item.Name) {
		if ticketTokens[tok] {
			score += nameMentionBonus
			break
		}
	}
	return textscore.Clamp01(score)
}

func (d *Detector) readEnv(rootDir string) map[string]string {
	values := make(map[string]string)
	for _, name := range envFiles {
		path := filepath.Join(rootDir, name)
		file, err := godotenv.Read(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				d.logger.Warn("env file unreadable", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		for k, v := range file {
			values[k] = v
		}
	}
	return values
}

func (d *Detector) checkEnv(item *domain.ConfigurationItem, env map[string]string) *domain.Deviation {
	value, ok := env[item.Name]
	source := "env file"
	if !ok && d.lookup != nil {
		value, ok = d.lookup(item.Name)
		source = "process environment"
	}
	switch {
	case !ok || strings.TrimSpace(value) == "":
		return &domain.Deviation{
			Item:      item,
			Deviation: fmt.Sprintf("Umgebungsvariable %s fehlt oder ist leer", item.Name),
			Severity:  domain.SeverityHigh,
			Evidence:  []string{fmt.Sprintf("%s not set in %s", item.Name, strings.Join(envFiles, ", "))},
		}
	case isPlaceholder(value):
		return &domain.Deviation{
			Item:      item,
			Deviation: fmt.Sprintf("Umgebungsvariable %s enthält einen Platzhalter", item.Name),
			Severity:  domain.SeverityMedium,
			Evidence:  []string{fmt.Sprintf("%s has placeholder value in %s", item.Name, source)},
		}
	}
	return nil
}

func isPlaceholder(value string) bool {
	v := strings.ToLower(strings.Trim(strings.TrimSpace(value), `"'`))
	return placeholderValues[v] ||
		strings.HasPrefix(v, "your-") || strings.HasPrefix(v, "your_") ||
		strings.Contains(v, "<") || strings.Contains(v, "example")
}

// RoutePath returns the expected route file for an endpoint item.
func RoutePath(item *domain.ConfigurationItem) string {
	if item.Location != "" {
		return item.Location
	}
	return "app/" + strings.Trim(item.Name, "/") + "/route.ts"
}

func (d *Detector) checkEndpoint(item *domain.ConfigurationItem, rootDir string) *domain.Deviation {
	rel := RoutePath(item)
	for _, candidate := range routeVariants(rel) {
		path, err := util.ResolveUnder(rootDir, candidate)
		if err != nil {
			d.logger.Warn("endpoint location rejected", zap.String("item", item.Key()), zap.Error(err))
			return nil
		}
		if _, err := os.Stat(path); err == nil {
			return nil
		}
	}

	if len(item.UniversalFixInstructions) == 0 {
		item = d.catalog.AttachFixInstructions(item, []domain.AutoFixInstruction{{
			Operation:   domain.OpCreateFile,
			Target:      rel,
			Template:    "api_route",
			Description: fmt.Sprintf("API-Route %s anlegen", item.Name),
		}})
	}
	return &domain.Deviation{
		Item:      item,
		Deviation: fmt.Sprintf("API-Endpunkt %s existiert nicht", item.Name),
		Severity:  domain.SeverityCritical,
		Evidence:  []string{fmt.Sprintf("route file %s missing", rel)},
	}
}

func routeVariants(rel string) []string {
	ext := filepath.Ext(rel)
	if ext == "" {
		return []string{rel}
	}
	base := strings.TrimSuffix(rel, ext)
	return []string{rel, base + ".ts", base + ".js", base + ".tsx"}
}

func (d *Detector) checkFrontend(item *domain.ConfigurationItem, rootDir string) *domain.Deviation {
	rel := item.Location
	if rel == "" {
		rel = item.Name
	}
	path, err := util.ResolveUnder(rootDir, rel)
	if err != nil {
		d.logger.Warn("frontend location rejected", zap.String("item", item.Key()), zap.Error(err))
		return nil
	}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return &domain.Deviation{
			Item:      item,
			Deviation: fmt.Sprintf("Frontend-Datei %s fehlt", rel),
			Severity:  domain.SeverityHigh,
			Evidence:  []string{fmt.Sprintf("file %s not found", rel)},
		}
	case err != nil:
		return &domain.Deviation{
			Item:      item,
			Deviation: fmt.Sprintf("Frontend-Datei %s ist nicht lesbar", rel),
			Severity:  domain.SeverityMedium,
			Evidence:  []string{err.Error()},
		}
	}

	markers := item.ProblemMarkers
	if len(markers) == 0 {
		markers = DefaultProblemMarkers
	}
	var (
		evidence     []string
		instructions []domain.AutoFixInstruction
	)
	for n, line := range strings.Split(string(raw), "\n") {
		for _, marker := range markers {
			if !strings.Contains(line, marker) {
				continue
			}
			evidence = append(evidence, fmt.Sprintf("%s:%d contains %q", rel, n+1, marker))
			instructions = append(instructions, domain.AutoFixInstruction{
				Operation:   domain.OpRemoveCode,
				Target:      rel,
				Matcher:     &domain.InstructionMatcher{Kind: domain.MatchLineContains, Value: marker},
				Description: fmt.Sprintf("Problematische Referenz %q entfernen", marker),
			})
			break
		}
	}
	if len(evidence) == 0 {
		return nil
	}
	return &domain.Deviation{
		Item:                  item,
		Deviation:             fmt.Sprintf("Frontend-Datei %s enthält bekannte Problemstellen", rel),
		Severity:              domain.SeverityHigh,
		Evidence:              evidence,
		SuggestedInstructions: dedupeInstructions(instructions),
	}
}

func dedupeInstructions(in []domain.AutoFixInstruction) []domain.AutoFixInstruction {
	seen := make(map[string]bool)
	var out []domain.AutoFixInstruction
	for _, instr := range in {
		key := instr.Target + "|" + instr.Matcher.Value
		if !seen[key] {
			seen[key] = true
			out = append(out, instr)
		}
	}
	return out
}

// checkVocabulary flags an item when the ticket describes one of its
// documented symptoms.
func checkVocabulary(item *domain.ConfigurationItem, text string, ticketTokens map[string]bool) *domain.Deviation {
	lowered := strings.ToLower(text)
	for _, issue := range item.PotentialIssues {
		issueTokens := textscore.Set(issue)
		if len(issueTokens) == 0 {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(issue)) ||
			textscore.KeywordOverlap(issueTokens, ticketTokens) >= issueMatchShare {
			return &domain.Deviation{
				Item:      item,
				Deviation: fmt.Sprintf("Ticket beschreibt ein bekanntes Symptom von %s", item.Name),
				Severity:  domain.SeverityHigh,
				Evidence:  []string{fmt.Sprintf("ticket matches documented issue %q", issue)},
			}
		}
	}
	return nil
}

func restartInstructions(item *domain.ConfigurationItem, text string) []domain.AutoFixInstruction {
	service := autopatch.ServiceFromText(text, "")
	if service == "" {
		if m := processHint.FindStringSubmatch(text); m != nil {
			service = m[1]
		}
	}
	if service == "" {
		service = autopatch.ServiceFromText(strings.Join(item.FixStrategies, "\n"), "app")
	}
	return []domain.AutoFixInstruction{{
		Operation:   domain.OpRemoteCommand,
		Target:      service,
		Content:     "pm2 restart " + service,
		Description: fmt.Sprintf("Dienst %s neu starten", service),
	}}
}
