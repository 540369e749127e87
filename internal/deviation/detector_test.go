package deviation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/support-dispatch/internal/autopatch"
	"github.com/spec-kit/support-dispatch/internal/catalog"
	"github.com/spec-kit/support-dispatch/internal/domain"
)

func noEnv(string) (string, bool) { return "", false }

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDetectPDFWorkerReference(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "lib/pdf/parsePdf.ts", "import * as pdfjs from 'pdfjs-dist'\npdfjs.GlobalWorkerOptions.workerSrc = '/pdf.worker.min.js'\nexport const parse = () => {}\n")
	store := catalog.NewStore([]domain.ConfigurationItem{
		{Type: domain.ConfigEnvVar, Name: "UNRELATED_SECRET"},
		{
			Type:            domain.ConfigFrontendConfig,
			Name:            "lib/pdf/parsePdf.ts",
			Location:        "lib/pdf/parsePdf.ts",
			PotentialIssues: []string{"PDF kann nicht hochgeladen werden"},
		},
	})
	d := New(store, zaptest.NewLogger(t), WithEnvLookup(noEnv))
	ticket := &domain.Ticket{ID: "t-a", Title: "PDF Upload Problem", Description: "PDF kann nicht hochgeladen werden", Status: domain.TicketStatusNew}

	devs, err := d.Detect(context.Background(), ticket, root)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(devs) != 2 {
		t.Fatalf("got %d deviations, want 2", len(devs))
	}
	top := devs[0]
	if top.Item.Name != "lib/pdf/parsePdf.ts" {
		t.Fatalf("top deviation is %s, want the pdf helper", top.Item.Name)
	}
	if top.Severity != domain.SeverityHigh {
		t.Errorf("severity = %s, want high", top.Severity)
	}
	if top.RelevanceScore < 0.5 {
		t.Errorf("relevance = %.2f, want >= 0.5", top.RelevanceScore)
	}
	want := []domain.AutoFixInstruction{{
		Operation:   domain.OpRemoveCode,
		Target:      "lib/pdf/parsePdf.ts",
		Matcher:     &domain.InstructionMatcher{Kind: domain.MatchLineContains, Value: "GlobalWorkerOptions.workerSrc"},
		Description: `Problematische Referenz "GlobalWorkerOptions.workerSrc" entfernen`,
	}}
	if diff := cmp.Diff(want, top.SuggestedInstructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}

	candidate := autopatch.BuildFromItem(autopatch.SourceBlueprint, top.Item, &top, ticket)
	if !candidate.HasInstructions() || candidate.AutoFixInstructions[0].Operation != domain.OpRemoveCode {
		t.Errorf("candidate instructions = %+v", candidate.AutoFixInstructions)
	}
}

func TestDetectEnvVars(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".env", "PLACEHOLDER_KEY=your-api-key\nGOOD_KEY=abc123\nLOCAL_ONLY=\n")
	writeFile(t, root, ".env.local", "LOCAL_ONLY=set-locally\n")
	store := catalog.NewStore([]domain.ConfigurationItem{
		{Type: domain.ConfigEnvVar, Name: "MISSING_KEY"},
		{Type: domain.ConfigEnvVar, Name: "PLACEHOLDER_KEY"},
		{Type: domain.ConfigEnvVar, Name: "GOOD_KEY"},
		{Type: domain.ConfigEnvVar, Name: "LOCAL_ONLY"},
		{Type: domain.ConfigEnvVar, Name: "PROCESS_KEY"},
	})
	lookup := func(name string) (string, bool) {
		if name == "PROCESS_KEY" {
			return "from-process", true
		}
		return "", false
	}
	d := New(store, zaptest.NewLogger(t), WithEnvLookup(lookup))

	devs, err := d.Detect(context.Background(), &domain.Ticket{Title: "Fehler"}, root)
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[string]domain.Severity)
	for _, dev := range devs {
		got[dev.Item.Name] = dev.Severity
	}
	want := map[string]domain.Severity{
		"MISSING_KEY":     domain.SeverityHigh,
		"PLACEHOLDER_KEY": domain.SeverityMedium,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("env deviations mismatch (-want +got):\n%s", diff)
	}
}

func TestDetectMissingEndpointMemoizesInstructions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/api/health/route.ts", "export function GET() {}\n")
	store := catalog.NewStore([]domain.ConfigurationItem{
		{Type: domain.ConfigAPIEndpoint, Name: "/api/upload"},
		{Type: domain.ConfigAPIEndpoint, Name: "/api/health"},
	})
	d := New(store, zaptest.NewLogger(t), WithEnvLookup(noEnv))
	ticket := &domain.Ticket{Title: "Upload", Description: "API upload liefert 404"}

	devs, err := d.Detect(context.Background(), ticket, root)
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 1 || devs[0].Severity != domain.SeverityCritical {
		t.Fatalf("deviations = %+v, want one critical", devs)
	}
	want := []domain.AutoFixInstruction{{
		Operation:   domain.OpCreateFile,
		Target:      "app/api/upload/route.ts",
		Template:    "api_route",
		Description: "API-Route /api/upload anlegen",
	}}
	if diff := cmp.Diff(want, devs[0].Item.UniversalFixInstructions); diff != "" {
		t.Errorf("attached instructions mismatch (-want +got):\n%s", diff)
	}
	stored, _ := store.Lookup(domain.ConfigAPIEndpoint, "/api/upload")
	if diff := cmp.Diff(want, stored.UniversalFixInstructions); diff != "" {
		t.Errorf("store not updated (-want +got):\n%s", diff)
	}

	again, err := d.Detect(context.Background(), ticket, root)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, again[0].Item.UniversalFixInstructions); diff != "" {
		t.Errorf("second detection changed instructions (-want +got):\n%s", diff)
	}
}

func TestDetectDeploymentSynthesizesRestart(t *testing.T) {
	store := catalog.NewStore([]domain.ConfigurationItem{
		{
			Type:            domain.ConfigDeploymentConfig,
			Name:            "pm2 ecosystem",
			PotentialIssues: []string{"Server nicht erreichbar"},
		},
		{
			Type:            domain.ConfigDatabaseSetting,
			Name:            "tickets RLS",
			PotentialIssues: []string{"permission denied for table tickets"},
		},
	})
	d := New(store, zaptest.NewLogger(t), WithEnvLookup(noEnv))
	ticket := &domain.Ticket{Title: "Server nicht erreichbar", Description: "Dienst billing-worker hängt seit heute morgen"}

	devs, err := d.Detect(context.Background(), ticket, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 1 {
		t.Fatalf("got %d deviations, want only the deployment item", len(devs))
	}
	want := []domain.AutoFixInstruction{{
		Operation:   domain.OpRemoteCommand,
		Target:      "billing-worker",
		Content:     "pm2 restart billing-worker",
		Description: "Dienst billing-worker neu starten",
	}}
	if diff := cmp.Diff(want, devs[0].SuggestedInstructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
}

func TestDetectRejectsEscapingLocation(t *testing.T) {
	store := catalog.NewStore([]domain.ConfigurationItem{
		{Type: domain.ConfigFrontendConfig, Name: "evil", Location: "../../etc/passwd"},
	})
	d := New(store, zaptest.NewLogger(t), WithEnvLookup(noEnv))
	devs, err := d.Detect(context.Background(), &domain.Ticket{Title: "x"}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 0 {
		t.Errorf("deviations = %+v, want none", devs)
	}
}

func TestDetectHonoursCancellation(t *testing.T) {
	store := catalog.NewStore([]domain.ConfigurationItem{{Type: domain.ConfigEnvVar, Name: "A_KEY"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(store, zaptest.NewLogger(t)).Detect(ctx, &domain.Ticket{Title: "x"}, t.TempDir()); err == nil {
		t.Error("expected context error")
	}
}
