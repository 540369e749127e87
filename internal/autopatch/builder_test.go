package autopatch

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/spec-kit/support-dispatch/internal/domain"
)

func pdfTicket() *domain.Ticket {
	return &domain.Ticket{
		ID:          "t-pdf",
		Title:       "PDF Upload Problem",
		Description: "PDF kann nicht hochgeladen werden",
		Status:      domain.TicketStatusNew,
	}
}

func TestPatternIDStable(t *testing.T) {
	item := &domain.ConfigurationItem{Type: domain.ConfigFrontendConfig, Name: "lib/pdf/parsePdf.ts"}
	first := BuildFromItem(SourceBlueprint, item, nil, pdfTicket())
	second := BuildFromItem(SourceBlueprint, item, nil, pdfTicket())

	if first.PatternID != second.PatternID {
		t.Fatalf("pattern ids differ: %q vs %q", first.PatternID, second.PatternID)
	}
	if want := "blueprint:frontend_config:lib-pdf-parsepdf-ts"; first.PatternID != want {
		t.Errorf("PatternID = %q, want %q", first.PatternID, want)
	}
}

func TestBuildFromItemPrefersUniversalInstructions(t *testing.T) {
	universal := []domain.AutoFixInstruction{{Operation: domain.OpCreateFile, Target: "app/api/upload/route.ts", Template: "api_route"}}
	item := &domain.ConfigurationItem{
		Type:                     domain.ConfigAPIEndpoint,
		Name:                     "/api/upload",
		FixStrategies:            []string{"pm2 restart web"},
		UniversalFixInstructions: universal,
	}
	dev := &domain.Deviation{SuggestedInstructions: []domain.AutoFixInstruction{{Operation: domain.OpRemoteCommand, Target: "web"}}}

	got := BuildFromItem(SourceBlueprint, item, dev, pdfTicket())
	if diff := cmp.Diff(universal, got.AutoFixInstructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildFromItemUsesDeviationSuggestions(t *testing.T) {
	item := &domain.ConfigurationItem{
		Type:           domain.ConfigFrontendConfig,
		Name:           "lib/pdf/parsePdf.ts",
		Location:       "lib/pdf/parsePdf.ts",
		ProblemMarkers: []string{"GlobalWorkerOptions.workerSrc"},
	}
	suggested := []domain.AutoFixInstruction{{
		Operation: domain.OpRemoveCode,
		Target:    "lib/pdf/parsePdf.ts",
		Matcher:   &domain.InstructionMatcher{Kind: domain.MatchLineContains, Value: "GlobalWorkerOptions.workerSrc"},
	}}
	dev := &domain.Deviation{Deviation: "worker path set explicitly", Severity: domain.SeverityHigh, SuggestedInstructions: suggested}

	got := BuildFromItem(SourceBlueprint, item, dev, pdfTicket())
	if diff := cmp.Diff(suggested, got.AutoFixInstructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
	if got.ProblemLabel != "PDF-Upload-Problem" {
		t.Errorf("ProblemLabel = %q", got.ProblemLabel)
	}
	if !strings.Contains(InitialMessage(got), "PDF-Upload-Problem") {
		t.Errorf("initial message lacks label: %q", InitialMessage(got))
	}
	if !strings.Contains(got.CustomerMessage, "behoben") {
		t.Errorf("customer message lacks success wording: %q", got.CustomerMessage)
	}
}

func TestDeriveInstructions(t *testing.T) {
	tests := []struct {
		name string
		item domain.ConfigurationItem
		want []domain.AutoFixInstruction
	}{
		{
			name: "process manager restart",
			item: domain.ConfigurationItem{
				Type:          domain.ConfigDeploymentConfig,
				Name:          "api server",
				FixStrategies: []string{"Run pm2 restart api-server after deploy"},
			},
			want: []domain.AutoFixInstruction{{
				Operation:   domain.OpRemoteCommand,
				Target:      "api-server",
				Content:     "pm2 restart api-server",
				Description: "Run pm2 restart api-server after deploy",
			}},
		},
		{
			name: "rls policy",
			item: domain.ConfigurationItem{
				Type:          domain.ConfigDatabaseSetting,
				Name:          "tickets RLS",
				FixStrategies: []string{"Add the missing RLS policy for tickets"},
			},
			want: []domain.AutoFixInstruction{{
				Operation:   domain.OpRunMigration,
				Target:      "supabase/migrations/tickets-rls.sql",
				Template:    "rls_policy",
				Description: "Add the missing RLS policy for tickets",
			}},
		},
		{
			name: "env assignment",
			item: domain.ConfigurationItem{
				Type:          domain.ConfigEnvVar,
				Name:          "NEXT_PUBLIC_APP_URL",
				FixStrategies: []string{"Set NEXT_PUBLIC_APP_URL=https://app.example.com."},
			},
			want: []domain.AutoFixInstruction{{
				Operation:   domain.OpSetEnv,
				Target:      "NEXT_PUBLIC_APP_URL",
				Content:     "https://app.example.com",
				Description: "Set NEXT_PUBLIC_APP_URL=https://app.example.com.",
			}},
		},
		{
			name: "nothing recognizable",
			item: domain.ConfigurationItem{
				Type:          domain.ConfigEnvVar,
				Name:          "SECRET",
				FixStrategies: []string{"Ask the customer for details"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveInstructions(&tt.item)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("DeriveInstructions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildWithoutInstructionsAddsManualFollowup(t *testing.T) {
	item := &domain.ConfigurationItem{Type: domain.ConfigEnvVar, Name: "SECRET"}
	got := BuildFromItem(SourceSemantic, item, nil, pdfTicket())
	if got.HasInstructions() {
		t.Fatalf("unexpected instructions: %+v", got.AutoFixInstructions)
	}
	last := got.Actions[len(got.Actions)-1]
	if last.Type != domain.ActionManualFollowup {
		t.Errorf("last action = %s, want manual_followup", last.Type)
	}
}

func TestBuildFromIssue(t *testing.T) {
	issue := Issue{
		ID:            "server-down",
		Summary:       "App-Prozess antwortet nicht",
		FixStrategies: []string{"pm2 restart web"},
	}
	got := BuildFromIssue(SourcePattern, issue, &domain.Ticket{Title: "502 Bad Gateway"})
	if got.PatternID != "pattern:server-down" {
		t.Errorf("PatternID = %q", got.PatternID)
	}
	if got.ProblemLabel != "Server-Problem" {
		t.Errorf("ProblemLabel = %q", got.ProblemLabel)
	}
	if len(got.AutoFixInstructions) != 1 || got.AutoFixInstructions[0].Target != "web" {
		t.Errorf("instructions = %+v", got.AutoFixInstructions)
	}
}
