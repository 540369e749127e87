// Package verify re-checks the live system for a candidate's problem
// before and after a fix is applied.
package verify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/support-dispatch/internal/autopatch"
	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/pkg/util"
)

// ItemSource yields catalog items.
type ItemSource interface {
	Items() []*domain.ConfigurationItem
}

// ItemChecker re-evaluates one catalog item against the live state.
type ItemChecker interface {
	CheckItem(ctx context.Context, ticket *domain.Ticket, item *domain.ConfigurationItem, rootDir string) (*domain.Deviation, error)
}

// BlueprintVerifier resolves a pattern id back to its catalog item and
// asks the detector whether the deviation is still present. Patterns
// without a catalog item cannot be observed directly: they count as
// present before a fix. After it, targets of remote commands must pass
// their health check; otherwise the executor verdict stands.
type BlueprintVerifier struct {
	items   ItemSource
	checker ItemChecker
	targets TargetChecker
	rootDir string
	logger  *zap.Logger
}

// Option configures a BlueprintVerifier.
type Option func(*BlueprintVerifier)

// WithTargetChecker health-checks remote_command targets after a fix.
func WithTargetChecker(c TargetChecker) Option {
	return func(v *BlueprintVerifier) { v.targets = c }
}

// NewBlueprintVerifier creates a verifier rooted at rootDir.
func NewBlueprintVerifier(items ItemSource, checker ItemChecker, rootDir string, logger *zap.Logger, opts ...Option) *BlueprintVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &BlueprintVerifier{items: items, checker: checker, rootDir: rootDir, logger: logger.Named("verifier")}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyProblem confirms the problem exists before a fix is attempted.
func (v *BlueprintVerifier) VerifyProblem(ctx context.Context, ticket *domain.Ticket, patternID string) (domain.VerificationResult, error) {
	item := v.resolve(patternID)
	if item == nil {
		return domain.VerificationResult{
			ProblemExists: true,
			Evidence:      []string{fmt.Sprintf("no live check for %s; reported symptoms accepted", patternID)},
			Severity:      domain.SeverityMedium,
		}, nil
	}
	dev, err := v.checker.CheckItem(ctx, ticket, item, v.rootDir)
	if err != nil {
		return domain.VerificationResult{}, fmt.Errorf("check %s: %w", item.Key(), err)
	}
	if dev == nil {
		return domain.VerificationResult{
			ProblemExists: false,
			Evidence:      []string{fmt.Sprintf("%s matches the blueprint", item.Key())},
			Severity:      domain.SeverityLow,
		}, nil
	}
	return domain.VerificationResult{ProblemExists: true, Evidence: dev.Evidence, Severity: dev.Severity}, nil
}

// VerifyPostFix decides whether the problem is gone after the executor
// ran. Files the instructions were meant to create must exist.
func (v *BlueprintVerifier) VerifyPostFix(ctx context.Context, ticket *domain.Ticket, patternID string, fix domain.FixResult, instructions []domain.AutoFixInstruction) (domain.VerificationResult, error) {
	if !fix.Success {
		return domain.VerificationResult{
			ProblemExists: true,
			Evidence:      []string{"fix was not applied: " + fix.Error},
			Severity:      domain.SeverityHigh,
		}, nil
	}

	var evidence, healthy []string
	for _, in := range instructions {
		switch in.Operation {
		case domain.OpCreateFile:
			path, err := util.ResolveUnder(v.rootDir, in.Target)
			if err != nil {
				evidence = append(evidence, err.Error())
				continue
			}
			if _, err := os.Stat(path); err != nil {
				evidence = append(evidence, fmt.Sprintf("expected file %s was not created", in.Target))
			}
		case domain.OpRemoteCommand:
			if v.targets == nil {
				continue
			}
			err := v.targets.CheckTarget(ctx, in.Target)
			switch {
			case errors.Is(err, ErrNoHealthEndpoint):
				// unchecked; the executor verdict stands
			case err != nil:
				evidence = append(evidence, fmt.Sprintf("target %s unhealthy after fix: %v", in.Target, err))
			default:
				healthy = append(healthy, fmt.Sprintf("target %s healthy after fix", in.Target))
			}
		}
	}
	if len(evidence) > 0 {
		v.logger.Info("fix left the system unhealthy",
			zap.String("ticket_id", ticket.ID),
			zap.String("pattern_id", patternID),
			zap.Strings("evidence", evidence))
		return domain.VerificationResult{ProblemExists: true, Evidence: evidence, Severity: domain.SeverityHigh}, nil
	}

	item := v.resolve(patternID)
	if item == nil || !observable(item.Type) {
		return domain.VerificationResult{
			ProblemExists: false,
			Evidence:      append(healthy, fmt.Sprintf("executor reported success for %s", patternID)),
			Severity:      domain.SeverityLow,
		}, nil
	}
	dev, err := v.checker.CheckItem(ctx, ticket, item, v.rootDir)
	if err != nil {
		return domain.VerificationResult{}, fmt.Errorf("re-check %s: %w", item.Key(), err)
	}
	if dev != nil {
		v.logger.Info("deviation persists after fix",
			zap.String("ticket_id", ticket.ID),
			zap.String("pattern_id", patternID),
			zap.Strings("evidence", dev.Evidence))
		return domain.VerificationResult{ProblemExists: true, Evidence: dev.Evidence, Severity: dev.Severity}, nil
	}
	return domain.VerificationResult{
		ProblemExists: false,
		Evidence:      []string{fmt.Sprintf("%s matches the blueprint after fix", item.Key())},
		Severity:      domain.SeverityLow,
	}, nil
}

// observable reports whether re-running the check after a fix can tell
// a difference. Vocabulary-based items only look at ticket text.
func observable(t domain.ConfigurationType) bool {
	switch t {
	case domain.ConfigEnvVar, domain.ConfigAPIEndpoint, domain.ConfigFrontendConfig:
		return true
	}
	return false
}

func (v *BlueprintVerifier) resolve(patternID string) *domain.ConfigurationItem {
	parts := strings.SplitN(patternID, ":", 3)
	if len(parts) != 3 {
		return nil
	}
	switch parts[0] {
	case autopatch.SourceBlueprint, autopatch.SourceSemantic, autopatch.SourceLLM:
	default:
		return nil
	}
	typ := domain.ConfigurationType(parts[1])
	for _, item := range v.items.Items() {
		if item.Type == typ && autopatch.Slug(item.Name) == parts[2] {
			return item
		}
	}
	return nil
}
