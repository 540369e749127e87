package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/spec-kit/support-dispatch/internal/autopatch"
	"github.com/spec-kit/support-dispatch/internal/catalog"
	"github.com/spec-kit/support-dispatch/internal/deviation"
	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/internal/guarantee"
	"github.com/spec-kit/support-dispatch/internal/observability"
)

func TestDispatchSkipsTerminalTickets(t *testing.T) {
	for _, status := range []domain.TicketStatus{domain.TicketStatusResolved, domain.TicketStatusClosed} {
		t.Run(string(status), func(t *testing.T) {
			ticket := newTicket("t-c", "Login geht nicht", "Internal Server Error beim Login")
			ticket.Status = status
			ticket.SourceMetadata.SetErrorCount(5)
			h := newHarness(t, nil, ticket)
			h.fast.candidate = fixableCandidate()

			res, err := h.router.DispatchTicket(context.Background(), ticket)
			if err != nil {
				t.Fatalf("DispatchTicket: %v", err)
			}
			if res.Outcome != observability.OutcomeTerminalSkip {
				t.Errorf("outcome = %s, want terminal skip", res.Outcome)
			}
			if n := h.tickets.updateCount(); n != 0 {
				t.Errorf("%d ticket updates, want none", n)
			}
			if n := len(h.messages.all()); n != 0 {
				t.Errorf("%d messages, want none", n)
			}
			if h.fast.calls != 0 || h.detector.calls != 0 {
				t.Error("detectors ran for a terminal ticket")
			}
			if n := h.logs.FilterMessage("Ticket bereits abgeschlossen").Len(); n != 1 {
				t.Errorf("got %d terminal-skip debug entries, want 1", n)
			}
		})
	}
}

func TestDispatchPDFUploadDeviation(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "lib", "pdf", "parsePdf.ts")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	src := "import * as pdfjs from 'pdfjs-dist'\npdfjs.GlobalWorkerOptions.workerSrc = '/pdf.worker.min.js'\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	item := domain.ConfigurationItem{
		Type:            domain.ConfigFrontendConfig,
		Name:            "lib/pdf/parsePdf.ts",
		Location:        "lib/pdf/parsePdf.ts",
		PotentialIssues: []string{"PDF kann nicht hochgeladen werden"},
	}
	store := catalog.NewStore([]domain.ConfigurationItem{item})
	noEnv := func(string) (string, bool) { return "", false }

	ticket := newTicket("t-a", "PDF Upload Problem", "PDF kann nicht hochgeladen werden")
	h := newHarness(t, func(d *RouterDependencies) {
		d.Detector = deviation.New(store, zap.NewNop(), deviation.WithEnvLookup(noEnv))
		d.Config.RootDir = root
	}, ticket)
	h.verifier.post = domain.VerificationResult{ProblemExists: false}

	res, err := h.router.Dispatch(context.Background(), "t-a")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	wantPattern := autopatch.PatternID(autopatch.SourceBlueprint, &item)
	if res.Outcome != observability.OutcomeAutopatch || res.PatternID != wantPattern {
		t.Fatalf("result = %+v, want autopatch %s", res, wantPattern)
	}
	if len(h.executor.got) == 0 || h.executor.got[0].Operation != domain.OpRemoveCode {
		t.Fatalf("executor instructions = %+v, want a remove_code first", h.executor.got)
	}

	visible := h.messages.visible()
	if len(visible) != 2 {
		t.Fatalf("got %d customer-visible messages, want 2: %+v", len(visible), visible)
	}
	if !strings.Contains(visible[0].Message, "PDF-Upload-Problem") {
		t.Errorf("initial message %q does not name the PDF-Upload-Problem", visible[0].Message)
	}
	if visible[1].AuthorType != domain.AuthorTypeSupport || !strings.Contains(visible[1].Message, "behoben") {
		t.Errorf("success message = %+v, want support message containing behoben", visible[1])
	}

	final := h.tickets.ticket("t-a")
	if final.Status != domain.TicketStatusWaitingCustomer {
		t.Errorf("status = %s, want waiting_customer", final.Status)
	}
	state := final.SourceMetadata.Autopatch()
	if state.Status != domain.AutopatchStatusApplied || state.PatternID != wantPattern {
		t.Errorf("autopatch state = %+v", state)
	}
	if !final.AssignedTo(domain.AgentAutopatch) {
		t.Errorf("assigned agent = %v, want autopatch agent", final.AssignedAgent)
	}
	if !h.automation.has(domain.EventAutopatchApplied) {
		t.Error("no autopatch_applied automation event")
	}
}

func TestNoSuccessMessageWhenPostFixCheckFails(t *testing.T) {
	ticket := newTicket("t-p3", "CORS Fehler", "Access-Control-Allow-Origin fehlt")
	h := newHarness(t, nil, ticket)
	h.fast.candidate = fixableCandidate()
	h.verifier.post = domain.VerificationResult{ProblemExists: true, Evidence: []string{"header still missing"}}

	if _, err := h.router.Dispatch(context.Background(), "t-p3"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := h.messages.supportVisible(); len(got) != 0 {
		t.Fatalf("customer-visible support messages = %+v, want none", got)
	}
	if !h.messages.internalContaining("header still missing") {
		t.Error("internal note does not carry the verification evidence")
	}
	if diff := cmp.Diff([]int{1}, h.guarantee.attempts); diff != "" {
		t.Errorf("guarantee attempts mismatch (-want +got):\n%s", diff)
	}
	final := h.tickets.ticket("t-p3")
	state := final.SourceMetadata.Autopatch()
	if state.Status != domain.AutopatchStatusFailed || state.RetryCount != 1 {
		t.Errorf("autopatch state = %+v, want failed/1", state)
	}
	if final.Status != domain.TicketStatusInvestigating {
		t.Errorf("status = %s, want the guarantee's investigating", final.Status)
	}
}

func TestVerifiedCandidateTakesPriority(t *testing.T) {
	ticket := newTicket("t-p4", "Button CORS", "fatal error beim Laden")
	ticket.Category = "escalation"
	ticket.SourceMetadata.SetErrorCount(5)
	h := newHarness(t, nil, ticket)
	h.fast.candidate = fixableCandidate()
	h.verifier.post = domain.VerificationResult{ProblemExists: false}

	res, err := h.router.Dispatch(context.Background(), "t-p4")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Outcome != observability.OutcomeAutopatch {
		t.Fatalf("outcome = %s, want autopatch", res.Outcome)
	}
	for _, u := range h.tickets.updates {
		if u.AssignedAgent != nil && *u.AssignedAgent != domain.AgentAutopatch {
			t.Errorf("ticket reassigned to %s during an autopatch dispatch", *u.AssignedAgent)
		}
	}
	if h.automation.has(domain.EventErrorHandlerRun) || h.automation.has(domain.EventAgentAssigned) {
		t.Error("error handler or tier-1 assignment ran despite a verified candidate")
	}
	if h.detector.calls != 0 {
		t.Error("deviation detector ran after a verified fast match")
	}
}

func TestDetectionResultIsCachedForTTL(t *testing.T) {
	ticket := newTicket("t-d", "Rechnung falsch", "Der Betrag auf der Rechnung stimmt nicht")
	h := newHarness(t, nil, ticket)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := h.router.Dispatch(ctx, "t-d"); err != nil {
			t.Fatalf("Dispatch %d: %v", i, err)
		}
		h.clock.Advance(500 * time.Millisecond)
	}
	if h.detector.calls != 1 {
		t.Fatalf("detector ran %d times within the TTL, want 1", h.detector.calls)
	}
	if got := h.metrics.Dispatches(observability.OutcomeCacheHit); got != 1 {
		t.Errorf("cache hits = %d, want 1", got)
	}

	h.clock.Advance(5 * time.Minute)
	if _, err := h.router.Dispatch(ctx, "t-d"); err != nil {
		t.Fatalf("Dispatch after TTL: %v", err)
	}
	if h.detector.calls != 2 {
		t.Errorf("detector ran %d times after TTL expiry, want 2", h.detector.calls)
	}
}

func TestCandidateWithoutInstructionsOnlyPostsInternalNote(t *testing.T) {
	ticket := newTicket("t-e", "Upload kaputt", "Dateien lassen sich nicht hochladen")
	h := newHarness(t, nil, ticket)
	h.fast.candidate = autopatch.BuildFromIssue(autopatch.SourcePattern, autopatch.Issue{
		ID:      "upload-manual",
		Label:   "Upload-Problem",
		Summary: "Upload schlägt fehl",
	}, nil)

	res, err := h.router.Dispatch(context.Background(), "t-e")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Outcome != observability.OutcomeAutopatch {
		t.Fatalf("outcome = %s, want autopatch", res.Outcome)
	}
	if got := h.messages.visible(); len(got) != 0 {
		t.Fatalf("customer-visible messages = %+v, want none", got)
	}
	internal := h.messages.internal()
	if len(internal) != 1 || !strings.Contains(internal[0].Message, "keine automatischen Fix-Instructions verfügbar") {
		t.Fatalf("internal notes = %+v", internal)
	}
	if h.executor.calls != 0 {
		t.Error("executor ran without instructions")
	}
	final := h.tickets.ticket("t-e")
	if final.SourceMetadata.Autopatch().Status != domain.AutopatchStatusPlanned {
		t.Errorf("autopatch status = %s, want planned", final.SourceMetadata.Autopatch().Status)
	}
	if final.Status != domain.TicketStatusWaitingCustomer {
		t.Errorf("status = %s, want waiting_customer", final.Status)
	}
}

func TestExecutorFailureInvokesGuarantee(t *testing.T) {
	ticket := newTicket("t-f", "CORS", "cors blockiert")
	h := newHarness(t, nil, ticket)
	h.fast.candidate = fixableCandidate()
	h.executor.result = domain.FixResult{Success: false, Error: "permission denied"}

	if _, err := h.router.Dispatch(context.Background(), "t-f"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if h.verifier.postCalls != 0 {
		t.Error("post-fix verification ran after a failed fix")
	}
	if !h.messages.internalContaining("permission denied") {
		t.Error("failure note missing")
	}
	if len(h.messages.supportVisible()) != 0 {
		t.Error("customer saw a support message after a failed fix")
	}
	if diff := cmp.Diff([]int{1}, h.guarantee.attempts); diff != "" {
		t.Errorf("guarantee attempts mismatch (-want +got):\n%s", diff)
	}
}

func TestRepeatedFailureEscalatesThroughGuarantee(t *testing.T) {
	candidate := fixableCandidate()
	ticket := newTicket("t-g", "CORS", "cors blockiert")
	ticket.SourceMetadata.SetAutopatch(domain.AutopatchState{
		Status:     domain.AutopatchStatusFailed,
		PatternID:  candidate.PatternID,
		RetryCount: 1,
	})
	h := newHarness(t, func(d *RouterDependencies) {
		d.Guarantee = guarantee.NewPolicy(2)
	}, ticket)
	h.fast.candidate = candidate
	h.executor.result = domain.FixResult{Success: false, Error: "nginx not found"}

	if _, err := h.router.Dispatch(context.Background(), "t-g"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	final := h.tickets.ticket("t-g")
	if !final.AssignedTo(domain.AgentEscalation) || final.Priority != domain.TicketPriorityHigh {
		t.Errorf("final agent/priority = %v/%s, want escalation/high", final.AssignedAgent, final.Priority)
	}
	if got := final.SourceMetadata.Autopatch().RetryCount; got != 2 {
		t.Errorf("retry count = %d, want 2", got)
	}
	last := final.EscalationPath[len(final.EscalationPath)-1]
	if last.Agent != domain.AgentEscalation {
		t.Errorf("last escalation entry = %+v", last)
	}
	if !h.automation.has(domain.EventTicketEscalated) {
		t.Error("no ticket_escalated automation event")
	}
}

func TestUnconfirmedCandidateIsDiscarded(t *testing.T) {
	ticket := newTicket("t-v", "CORS", "cors blockiert")
	h := newHarness(t, nil, ticket)
	h.fast.candidate = fixableCandidate()
	h.verifier.pre = domain.VerificationResult{ProblemExists: false}

	res, err := h.router.Dispatch(context.Background(), "t-v")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Outcome != observability.OutcomeTier1 {
		t.Errorf("outcome = %s, want tier1", res.Outcome)
	}
	if h.detector.calls != 1 || h.matcher.calls != 1 {
		t.Errorf("cascade did not continue: detector=%d matcher=%d", h.detector.calls, h.matcher.calls)
	}
	if got := h.metrics.Dispatches(observability.OutcomeVerifyRejects); got != 1 {
		t.Errorf("verify rejections = %d, want 1", got)
	}
}

func TestVerifierErrorAssumesProblemExists(t *testing.T) {
	ticket := newTicket("t-ve", "CORS", "cors blockiert")
	h := newHarness(t, nil, ticket)
	h.fast.candidate = fixableCandidate()
	h.verifier.preErr = errors.New("ssh timeout")
	h.verifier.postErr = errors.New("ssh timeout")

	res, err := h.router.Dispatch(context.Background(), "t-ve")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Outcome != observability.OutcomeAutopatch {
		t.Fatalf("outcome = %s, want autopatch", res.Outcome)
	}
	if len(h.messages.supportVisible()) != 0 {
		t.Error("success message sent although post-fix verification errored")
	}
}

func TestSettledPatternIsNotReapplied(t *testing.T) {
	candidate := fixableCandidate()
	ticket := newTicket("t-s", "CORS", "cors blockiert")
	ticket.SourceMetadata.SetAutopatch(domain.AutopatchState{Status: domain.AutopatchStatusApplied, PatternID: candidate.PatternID})
	h := newHarness(t, nil, ticket)
	h.fast.candidate = candidate

	res, err := h.router.Dispatch(context.Background(), "t-s")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Outcome == observability.OutcomeAutopatch {
		t.Fatal("applied pattern was processed again")
	}
	if h.verifier.preCalls != 0 || h.executor.calls != 0 {
		t.Error("applied pattern reached verification or execution")
	}
}

func TestSlowFastPathFallsThrough(t *testing.T) {
	ticket := newTicket("t-slow", "CORS", "cors blockiert")
	h := newHarness(t, nil, ticket)
	h.fast.candidate = fixableCandidate()
	h.fast.onMatch = func() { h.clock.Advance(200 * time.Millisecond) }

	res, err := h.router.Dispatch(context.Background(), "t-slow")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Outcome == observability.OutcomeAutopatch {
		t.Fatal("slow fast-path match was accepted")
	}
	if h.detector.calls != 1 {
		t.Errorf("detector calls = %d, want 1", h.detector.calls)
	}
	if got := h.metrics.Dispatches(observability.OutcomeFastTooSlow); got != 1 {
		t.Errorf("fast-path timeouts = %d, want 1", got)
	}
}

func TestLowRelevanceDeviationIsLoggedAndSkipped(t *testing.T) {
	item := &domain.ConfigurationItem{Type: domain.ConfigEnvVar, Name: "SMTP_HOST"}
	ticket := newTicket("t-low", "Rechnung", "Rechnung falsch")
	h := newHarness(t, nil, ticket)
	h.detector.deviations = []domain.Deviation{{Item: item, Severity: domain.SeverityHigh, RelevanceScore: 0.2}}

	res, err := h.router.Dispatch(context.Background(), "t-low")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Outcome != observability.OutcomeTier1 {
		t.Errorf("outcome = %s, want tier1", res.Outcome)
	}
	if n := h.logs.FilterMessage("deviation below relevance threshold").Len(); n != 1 {
		t.Errorf("discarded deviation logged %d times, want 1", n)
	}
}

func TestPanicInDetectionIsRecovered(t *testing.T) {
	ticket := newTicket("t-panic", "CORS", "cors blockiert")
	h := newHarness(t, nil, ticket)
	h.fast.onMatch = func() { panic("signature table corrupt") }

	res, err := h.router.Dispatch(context.Background(), "t-panic")
	if err == nil {
		t.Fatal("expected an error from a panicking dispatch")
	}
	if res.Outcome != observability.OutcomeFailed {
		t.Errorf("outcome = %s, want failed", res.Outcome)
	}
	if h.logs.FilterMessage("dispatch panicked").Len() != 1 {
		t.Error("panic not logged")
	}
}

func TestStoreFailureAbortsAutopatch(t *testing.T) {
	ticket := newTicket("t-db", "CORS", "cors blockiert")
	h := newHarness(t, nil, ticket)
	h.fast.candidate = fixableCandidate()
	h.tickets.failUpdate = errors.New("connection reset")

	if _, err := h.router.Dispatch(context.Background(), "t-db"); err == nil {
		t.Fatal("expected the store failure to surface")
	}
	if h.executor.calls != 0 || len(h.messages.all()) != 0 {
		t.Error("autopatch continued after the claim failed")
	}
}

func TestEscalationPathOnlyGrows(t *testing.T) {
	ticket := newTicket("t-p7", "Speichern", "Internal Server Error beim Speichern")
	ticket.SourceMetadata.SetErrorCount(1)
	h := newHarness(t, nil, ticket)
	ctx := context.Background()

	var previous []domain.EscalationEntry
	for i := 0; i < 4; i++ {
		if _, err := h.router.Dispatch(ctx, "t-p7"); err != nil {
			t.Fatalf("Dispatch %d: %v", i, err)
		}
		current := h.tickets.ticket("t-p7").EscalationPath
		if len(current) < len(previous) {
			t.Fatalf("escalation path shrank from %d to %d", len(previous), len(current))
		}
		if diff := cmp.Diff(previous, current[:len(previous)]); diff != "" {
			t.Fatalf("existing escalation entries changed (-before +after):\n%s", diff)
		}
		previous = current
		h.clock.Advance(time.Minute)
	}
	if !h.tickets.ticket("t-p7").AssignedTo(domain.AgentEscalation) {
		t.Error("ticket never reached the escalation agent")
	}
}

func TestHeartbeatMeta(t *testing.T) {
	ticket := newTicket("t-hb", "Rechnung", "Rechnung falsch")
	h := newHarness(t, nil, ticket)
	h.router.AttachRealtime(fakeChannel{})

	before := h.router.HeartbeatMeta()
	if before.ProcessedTickets != 0 || before.LastDispatchAt != nil {
		t.Fatalf("fresh heartbeat = %+v", before)
	}
	if _, err := h.router.Dispatch(context.Background(), "t-hb"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	meta := h.router.HeartbeatMeta()
	if meta.ProcessedTickets != 1 || meta.LastDispatchAt == nil || !meta.LastDispatchAt.Equal(epoch) {
		t.Errorf("heartbeat after dispatch = %+v", meta)
	}
	if meta.RealtimeStatus != "subscribed" || meta.RealtimeReconnects != 2 {
		t.Errorf("realtime = %s/%d", meta.RealtimeStatus, meta.RealtimeReconnects)
	}
	if meta.CachedDetections != 1 {
		t.Errorf("cached detections = %d, want 1", meta.CachedDetections)
	}
}
