package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/support-dispatch/internal/autofix"
	"github.com/spec-kit/support-dispatch/internal/autopatch"
	"github.com/spec-kit/support-dispatch/internal/clock"
	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/internal/events"
	"github.com/spec-kit/support-dispatch/internal/observability"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeTickets struct {
	mu         sync.Mutex
	clock      clock.Clock
	order      []string
	rows       map[string]*domain.Ticket
	updates    []domain.TicketUpdate
	gets       int
	failUpdate error
}

func newFakeTickets(clk clock.Clock, tickets ...*domain.Ticket) *fakeTickets {
	f := &fakeTickets{clock: clk, rows: make(map[string]*domain.Ticket)}
	for _, t := range tickets {
		f.order = append(f.order, t.ID)
		f.rows[t.ID] = t.Clone()
	}
	return f
}

func (f *fakeTickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	t, ok := f.rows[id]
	if !ok {
		return nil, fmt.Errorf("get ticket: %w", pgx.ErrNoRows)
	}
	return t.Clone(), nil
}

func (f *fakeTickets) ListByStatuses(_ context.Context, statuses []domain.TicketStatus, limit int) ([]domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Ticket
	for _, id := range f.order {
		t := f.rows[id]
		for _, s := range statuses {
			if t.Status == s {
				out = append(out, *t.Clone())
				break
			}
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeTickets) Update(_ context.Context, id string, update domain.TicketUpdate) (*domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdate != nil {
		return nil, f.failUpdate
	}
	t, ok := f.rows[id]
	if !ok {
		return nil, fmt.Errorf("update ticket: %w", pgx.ErrNoRows)
	}
	f.updates = append(f.updates, update)
	update.Apply(t)
	t.UpdatedAt = f.clock.Now()
	return t.Clone(), nil
}

func (f *fakeTickets) ticket(id string) *domain.Ticket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id].Clone()
}

func (f *fakeTickets) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type fakeMessages struct {
	mu      sync.Mutex
	clock   clock.Clock
	stored  []domain.TicketMessage
	pending map[string]bool
}

func newFakeMessages(clk clock.Clock) *fakeMessages {
	return &fakeMessages{clock: clk, pending: make(map[string]bool)}
}

func (f *fakeMessages) Create(_ context.Context, msg *domain.TicketMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg.ID = fmt.Sprintf("m-%d", len(f.stored)+1)
	msg.CreatedAt = f.clock.Now()
	f.stored = append(f.stored, *msg)
	return nil
}

func (f *fakeMessages) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TicketMessage
	for _, m := range f.stored {
		if m.TicketID == ticketID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMessages) ExistsSince(_ context.Context, ticketID string, author domain.MessageAuthorType, text string, since time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.stored {
		if m.TicketID == ticketID && m.AuthorType == author && m.Message == text && !m.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeMessages) HasPendingApproval(_ context.Context, ticketID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[ticketID], nil
}

func (f *fakeMessages) all() []domain.TicketMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TicketMessage(nil), f.stored...)
}

func (f *fakeMessages) filter(keep func(domain.TicketMessage) bool) []domain.TicketMessage {
	var out []domain.TicketMessage
	for _, m := range f.all() {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeMessages) visible() []domain.TicketMessage {
	return f.filter(func(m domain.TicketMessage) bool { return !m.InternalOnly })
}

func (f *fakeMessages) supportVisible() []domain.TicketMessage {
	return f.filter(func(m domain.TicketMessage) bool {
		return m.AuthorType == domain.AuthorTypeSupport && !m.InternalOnly
	})
}

func (f *fakeMessages) internal() []domain.TicketMessage {
	return f.filter(func(m domain.TicketMessage) bool { return m.InternalOnly })
}

func (f *fakeMessages) internalContaining(s string) bool {
	for _, m := range f.internal() {
		if strings.Contains(m.Message, s) {
			return true
		}
	}
	return false
}

type fakeAutomation struct {
	mu     sync.Mutex
	events []domain.AutomationEvent
}

func (f *fakeAutomation) Create(_ context.Context, event *domain.AutomationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeAutomation) ListByTicket(_ context.Context, ticketID string) ([]domain.AutomationEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AutomationEvent
	for _, e := range f.events {
		if e.TicketID == ticketID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeAutomation) has(eventType domain.AutomationEventType) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}

type fakeFast struct {
	candidate *domain.AutopatchCandidate
	onMatch   func()
	calls     int
}

func (f *fakeFast) Match(*domain.Ticket) *domain.AutopatchCandidate {
	f.calls++
	if f.onMatch != nil {
		f.onMatch()
	}
	return f.candidate
}

type fakeDetector struct {
	deviations []domain.Deviation
	err        error
	calls      int
}

func (f *fakeDetector) Detect(context.Context, *domain.Ticket, string) ([]domain.Deviation, error) {
	f.calls++
	return f.deviations, f.err
}

type fakeMatcher struct {
	candidate *domain.AutopatchCandidate
	err       error
	calls     int
}

func (f *fakeMatcher) MatchTicketToConfiguration(context.Context, *domain.Ticket) (*domain.AutopatchCandidate, error) {
	f.calls++
	return f.candidate, f.err
}

type fakeVerifier struct {
	pre       domain.VerificationResult
	preErr    error
	post      domain.VerificationResult
	postErr   error
	preCalls  int
	postCalls int
}

func (f *fakeVerifier) VerifyProblem(context.Context, *domain.Ticket, string) (domain.VerificationResult, error) {
	f.preCalls++
	return f.pre, f.preErr
}

func (f *fakeVerifier) VerifyPostFix(context.Context, *domain.Ticket, string, domain.FixResult, []domain.AutoFixInstruction) (domain.VerificationResult, error) {
	f.postCalls++
	return f.post, f.postErr
}

type fakeExecutor struct {
	result domain.FixResult
	err    error
	calls  int
	got    []domain.AutoFixInstruction
}

func (f *fakeExecutor) Execute(_ context.Context, _ string, instructions []domain.AutoFixInstruction, _ autofix.RunContext) (domain.FixResult, error) {
	f.calls++
	f.got = append(f.got, instructions...)
	return f.result, f.err
}

type fakeGuarantee struct {
	outcome  domain.ResolutionOutcome
	err      error
	attempts []int
}

func (f *fakeGuarantee) EnsureTicketResolution(_ context.Context, _ *domain.Ticket, _ domain.FixResult, attempt int) (domain.ResolutionOutcome, error) {
	f.attempts = append(f.attempts, attempt)
	return f.outcome, f.err
}

type fakePlanner struct {
	plans    map[domain.AgentID]domain.ResolutionPlan
	requests []domain.PlanRequest
}

func (f *fakePlanner) GeneratePlan(_ context.Context, req domain.PlanRequest) (domain.ResolutionPlan, error) {
	f.requests = append(f.requests, req)
	return f.plans[req.Agent], nil
}

type fakeChannel struct{}

func (fakeChannel) Status() string    { return events.ChannelSubscribed }
func (fakeChannel) Reconnects() int64 { return 2 }

type harness struct {
	clock      *clock.FakeClock
	tickets    *fakeTickets
	messages   *fakeMessages
	automation *fakeAutomation
	fast       *fakeFast
	detector   *fakeDetector
	matcher    *fakeMatcher
	verifier   *fakeVerifier
	executor   *fakeExecutor
	guarantee  *fakeGuarantee
	metrics    *observability.Metrics
	logs       *observer.ObservedLogs
	router     *Router
}

// newHarness wires a router over fakes. The verifier confirms problems
// and the executor succeeds unless a test says otherwise.
func newHarness(t *testing.T, configure func(*RouterDependencies), tickets ...*domain.Ticket) *harness {
	t.Helper()
	clk := clock.Fake(epoch)
	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{
		clock:      clk,
		tickets:    newFakeTickets(clk, tickets...),
		messages:   newFakeMessages(clk),
		automation: &fakeAutomation{},
		fast:       &fakeFast{},
		detector:   &fakeDetector{},
		matcher:    &fakeMatcher{},
		verifier:   &fakeVerifier{pre: domain.VerificationResult{ProblemExists: true}},
		executor:   &fakeExecutor{result: domain.FixResult{Success: true, Message: "1 Anweisung(en) angewendet"}},
		guarantee: &fakeGuarantee{outcome: domain.ResolutionOutcome{
			Status:  domain.TicketStatusInvestigating,
			Message: "Fix fehlgeschlagen (Versuch 1 von 2)",
		}},
		metrics: observability.NewMetrics(),
		logs:    logs,
	}
	deps := RouterDependencies{
		TicketRepo:     h.tickets,
		MessageRepo:    h.messages,
		AutomationRepo: h.automation,
		Dispatcher:     events.NewInMemoryDispatcher(zap.NewNop()),
		FastMatcher:    h.fast,
		Detector:       h.detector,
		Matcher:        h.matcher,
		Verifier:       h.verifier,
		Executor:       h.executor,
		Guarantee:      h.guarantee,
		Metrics:        h.metrics,
		Clock:          clk,
		Logger:         zap.New(core),
	}
	if configure != nil {
		configure(&deps)
	}
	h.router = NewRouter(deps)
	return h
}

func fixableCandidate() *domain.AutopatchCandidate {
	return autopatch.BuildFromIssue(autopatch.SourcePattern, autopatch.Issue{
		ID:      "cors-blocked",
		Label:   "Verbindungsproblem",
		Summary: "Anfragen werden durch CORS blockiert",
		Instructions: []domain.AutoFixInstruction{{
			Operation: domain.OpRemoteCommand,
			Target:    "nginx",
			Content:   "nginx -s reload",
		}},
	}, nil)
}

func newTicket(id, title, description string) *domain.Ticket {
	return &domain.Ticket{
		ID:             id,
		Title:          title,
		Description:    description,
		Status:         domain.TicketStatusNew,
		Priority:       domain.TicketPriorityMedium,
		SourceMetadata: domain.SourceMetadata{},
		CreatedAt:      epoch.Add(-time.Hour),
		UpdatedAt:      epoch.Add(-time.Hour),
	}
}
