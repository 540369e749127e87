package verify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/support-dispatch/internal/catalog"
	"github.com/spec-kit/support-dispatch/internal/deviation"
	"github.com/spec-kit/support-dispatch/internal/domain"
)

const pdfPattern = "blueprint:frontend_config:lib-pdf-parsepdf-ts"

func setup(t *testing.T, opts ...Option) (*BlueprintVerifier, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "lib/pdf"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "lib/pdf/parsePdf.ts"), []byte("pdfjs.GlobalWorkerOptions.workerSrc = '/pdf.worker.js'\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := catalog.NewStore([]domain.ConfigurationItem{{
		Type:     domain.ConfigFrontendConfig,
		Name:     "lib/pdf/parsePdf.ts",
		Location: "lib/pdf/parsePdf.ts",
	}})
	logger := zaptest.NewLogger(t)
	return NewBlueprintVerifier(store, deviation.New(store, logger), root, logger, opts...), root
}

func TestVerifyBeforeAndAfterFix(t *testing.T) {
	v, root := setup(t)
	ctx := context.Background()
	ticket := &domain.Ticket{ID: "t-1", Title: "PDF Upload Problem"}

	pre, err := v.VerifyProblem(ctx, ticket, pdfPattern)
	if err != nil {
		t.Fatal(err)
	}
	if !pre.ProblemExists || pre.Severity != domain.SeverityHigh {
		t.Fatalf("pre-check = %+v, want high problem", pre)
	}

	post, err := v.VerifyPostFix(ctx, ticket, pdfPattern, domain.FixResult{Success: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !post.ProblemExists {
		t.Fatal("post-check passed although the marker is still present")
	}

	if err := os.WriteFile(filepath.Join(root, "lib/pdf/parsePdf.ts"), []byte("export const parse = () => {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	post, err = v.VerifyPostFix(ctx, ticket, pdfPattern, domain.FixResult{Success: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if post.ProblemExists {
		t.Errorf("post-check = %+v, want resolved", post)
	}
}

func TestVerifyUnobservablePattern(t *testing.T) {
	v, _ := setup(t)
	ctx := context.Background()
	ticket := &domain.Ticket{ID: "t-2", Title: "502"}

	pre, err := v.VerifyProblem(ctx, ticket, "pattern:app-process-down")
	if err != nil || !pre.ProblemExists {
		t.Fatalf("pre-check = %+v, %v; want problem assumed", pre, err)
	}
	post, err := v.VerifyPostFix(ctx, ticket, "pattern:app-process-down", domain.FixResult{Success: false, Error: "ssh refused"}, nil)
	if err != nil || !post.ProblemExists {
		t.Fatalf("post-check after failed fix = %+v, %v", post, err)
	}
	post, err = v.VerifyPostFix(ctx, ticket, "pattern:app-process-down", domain.FixResult{Success: true}, nil)
	if err != nil || post.ProblemExists {
		t.Fatalf("post-check after successful fix = %+v, %v", post, err)
	}
}

func TestVerifyPostFixRequiresCreatedFiles(t *testing.T) {
	v, _ := setup(t)
	instructions := []domain.AutoFixInstruction{{Operation: domain.OpCreateFile, Target: "app/api/upload/route.ts"}}
	post, err := v.VerifyPostFix(context.Background(), &domain.Ticket{ID: "t-3"}, "pattern:upload", domain.FixResult{Success: true}, instructions)
	if err != nil {
		t.Fatal(err)
	}
	if !post.ProblemExists {
		t.Error("missing created file was not reported")
	}
}

type targetHealth map[string]error

func (h targetHealth) CheckTarget(_ context.Context, target string) error {
	err, ok := h[target]
	if !ok {
		return ErrNoHealthEndpoint
	}
	return err
}

func TestVerifyPostFixChecksRemoteTargets(t *testing.T) {
	restart := func(target string) []domain.AutoFixInstruction {
		return []domain.AutoFixInstruction{{Operation: domain.OpRemoteCommand, Target: target, Content: "pm2 restart " + target}}
	}
	v, _ := setup(t, WithTargetChecker(targetHealth{
		"app":    nil,
		"worker": errors.New("status 502"),
	}))
	ctx := context.Background()
	ticket := &domain.Ticket{ID: "t-4", Title: "502"}

	tests := []struct {
		name       string
		target     string
		wantExists bool
	}{
		{name: "healthy target", target: "app"},
		{name: "unhealthy target", target: "worker", wantExists: true},
		{name: "target without health endpoint", target: "cron"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			post, err := v.VerifyPostFix(ctx, ticket, "pattern:app-process-down", domain.FixResult{Success: true}, restart(tt.target))
			if err != nil {
				t.Fatal(err)
			}
			if post.ProblemExists != tt.wantExists {
				t.Errorf("post-check = %+v, want problem %v", post, tt.wantExists)
			}
		})
	}
}
