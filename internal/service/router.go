package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-dispatch/internal/autopatch"
	"github.com/spec-kit/support-dispatch/internal/clock"
	"github.com/spec-kit/support-dispatch/internal/config"
	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/internal/events"
	"github.com/spec-kit/support-dispatch/internal/guarantee"
	"github.com/spec-kit/support-dispatch/internal/knowledge"
	"github.com/spec-kit/support-dispatch/internal/observability"
	"github.com/spec-kit/support-dispatch/internal/repository"
)

// Router owns the ticket lifecycle. Every trigger (poller, change
// notification, HTTP) ends up in Dispatch, which must tolerate being
// called twice in quick succession for the same ticket.
type Router struct {
	tickets     repository.TicketRepository
	written     *ownWrites
	messageRepo repository.TicketMessageRepository
	messages    *MessageWriter
	audit       auditor
	fast        FastMatcher
	detector    DeviationDetector
	matcher     ConfigurationMatcher
	verifier    ProblemVerifier
	executor    AutofixExecutor
	guarantee   ResolutionGuarantee
	assignment  *AssignmentService
	tier2       *Tier2Service
	cache       *autopatch.Cache
	metrics     *observability.Metrics
	clock       clock.Clock
	logger      *zap.Logger
	cfg         config.DispatchConfig
	beat        *heartbeat
}

// RouterDependencies bundles collaborators. Matcher, Planner, Knowledge,
// Dispatcher and Metrics are optional.
type RouterDependencies struct {
	TicketRepo     repository.TicketRepository
	MessageRepo    repository.TicketMessageRepository
	AutomationRepo repository.AutomationEventRepository
	Dispatcher     events.Dispatcher
	FastMatcher    FastMatcher
	Detector       DeviationDetector
	Matcher        ConfigurationMatcher
	Verifier       ProblemVerifier
	Executor       AutofixExecutor
	Guarantee      ResolutionGuarantee
	Planner        Planner
	Knowledge      knowledge.Corpus
	Cache          *autopatch.Cache
	Metrics        *observability.Metrics
	Clock          clock.Clock
	Logger         *zap.Logger
	Config         config.DispatchConfig
}

// DispatchResult reports which branch of the cascade handled a ticket.
type DispatchResult struct {
	TicketID  string         `json:"ticketId"`
	Outcome   string         `json:"outcome"`
	PatternID string         `json:"patternId,omitempty"`
	Agent     domain.AgentID `json:"agent,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// NewRouter creates the router.
func NewRouter(deps RouterDependencies) *Router {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cache := deps.Cache
	if cache == nil {
		cache = autopatch.NewCache(clk, deps.Config.CacheTTL(), deps.Config.CacheMaxEntries)
	}
	var guard ResolutionGuarantee = deps.Guarantee
	if guard == nil {
		guard = guarantee.NewPolicy(autopatchRetryLimit)
	}
	audit := auditor{
		automation: deps.AutomationRepo,
		dispatcher: deps.Dispatcher,
		clock:      clk,
		logger:     logger,
	}
	messages := NewMessageWriter(deps.MessageRepo, clk, deps.Config.DedupWindow(), logger.Named("messages"))
	tickets := trackOwnWrites(deps.TicketRepo, clk, deps.Config.ProcessingWindow())
	return &Router{
		tickets:     tickets,
		written:     tickets,
		messageRepo: deps.MessageRepo,
		messages:    messages,
		audit:       audit,
		fast:        deps.FastMatcher,
		detector:    deps.Detector,
		matcher:     deps.Matcher,
		verifier:    deps.Verifier,
		executor:    deps.Executor,
		guarantee:   guard,
		assignment: NewAssignmentService(AssignmentDependencies{
			TicketRepo: tickets,
			Audit:      audit,
			Clock:      clk,
			Logger:     logger.Named("assignment"),
		}),
		tier2: NewTier2Service(Tier2Dependencies{
			TicketRepo: tickets,
			Messages:   messages,
			Audit:      audit,
			Planner:    deps.Planner,
			Knowledge:  deps.Knowledge,
			Clock:      clk,
			Logger:     logger.Named("tier2"),
		}),
		cache:   cache,
		metrics: deps.Metrics,
		clock:   clk,
		logger:  logger.Named("router"),
		cfg:     deps.Config,
		beat:    newHeartbeat(),
	}
}

// Dispatch reloads the ticket and runs the decision cascade on it.
func (r *Router) Dispatch(ctx context.Context, ticketID string) (DispatchResult, error) {
	ticket, err := r.tickets.GetByID(ctx, ticketID)
	if err != nil {
		r.metrics.RecordDispatch(observability.OutcomeFailed)
		return DispatchResult{TicketID: ticketID, Outcome: observability.OutcomeFailed}, fmt.Errorf("load ticket %s: %w", ticketID, err)
	}
	return r.DispatchTicket(ctx, ticket)
}

// DispatchTicket runs the cascade on an already loaded ticket: autopatch,
// then the error handler, then tier-1 assignment. The first branch that
// applies handles the ticket. Errors are returned only when a store write
// had to be aborted; panics are recovered so a batch can continue.
func (r *Router) DispatchTicket(ctx context.Context, ticket *domain.Ticket) (res DispatchResult, err error) {
	res.TicketID = ticket.ID
	logger := r.logger.With(zap.String("ticket_id", ticket.ID))
	if ticket.Status.IsTerminal() {
		logger.Debug("Ticket bereits abgeschlossen", zap.String("status", string(ticket.Status)))
		res.Outcome = observability.OutcomeTerminalSkip
		r.metrics.RecordDispatch(res.Outcome)
		return res, nil
	}

	r.beat.dispatched(r.clock.Now())
	defer func() {
		if p := recover(); p != nil {
			logger.Error("dispatch panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("dispatch ticket %s: panic: %v", ticket.ID, p)
		}
		if err != nil {
			res.Outcome = observability.OutcomeFailed
			logger.Error("dispatch failed", zap.Error(err))
		}
		r.metrics.RecordDispatch(res.Outcome)
	}()

	ticket = ticket.Clone()
	if candidate := r.detectCandidate(ctx, ticket, logger); candidate != nil {
		res.Outcome = observability.OutcomeAutopatch
		res.PatternID = candidate.PatternID
		res.Agent = domain.AgentAutopatch
		return res, r.processAutopatch(ctx, ticket, candidate, logger)
	}

	if triggered, reason := ShouldUseErrorHandler(ticket); triggered {
		res.Outcome = observability.OutcomeErrorHandler
		res.Agent = domain.AgentErrorHandler
		res.Reason = reason
		return res, r.runErrorHandler(ctx, ticket, reason, logger)
	}

	res.Outcome = observability.OutcomeTier1
	res.Agent, err = r.assignTier1(ctx, ticket, logger)
	return res, err
}

// detectCandidate runs the autopatch cascade behind the content-hash cache.
// Both hits and misses are cached.
func (r *Router) detectCandidate(ctx context.Context, ticket *domain.Ticket, logger *zap.Logger) *domain.AutopatchCandidate {
	key := autopatch.ContentKey(ticket)
	if cached, found := r.cache.Get(key); found {
		r.metrics.RecordDispatch(observability.OutcomeCacheHit)
		if cached == nil || settled(ticket, cached) {
			return nil
		}
		logger.Debug("autopatch candidate served from cache", zap.String("pattern_id", cached.PatternID))
		return cached
	}
	r.metrics.RecordDispatch(observability.OutcomeCacheMiss)

	candidate := r.runDetectors(ctx, ticket, logger)
	if ctx.Err() != nil {
		return candidate
	}
	r.cache.Set(key, candidate)
	return candidate
}

func (r *Router) runDetectors(ctx context.Context, ticket *domain.Ticket, logger *zap.Logger) *domain.AutopatchCandidate {
	if candidate := r.fastMatch(ticket, logger); candidate != nil && r.confirm(ctx, ticket, candidate, logger) {
		return candidate
	}
	if candidate := r.topDeviation(ctx, ticket, logger); candidate != nil && r.confirm(ctx, ticket, candidate, logger) {
		return candidate
	}
	if r.matcher == nil || ctx.Err() != nil {
		return nil
	}
	candidate, err := r.matcher.MatchTicketToConfiguration(ctx, ticket)
	if err != nil {
		logger.Warn("configuration matcher failed", zap.Error(err))
		return nil
	}
	if candidate == nil || settled(ticket, candidate) {
		return nil
	}
	if r.confirm(ctx, ticket, candidate, logger) {
		return candidate
	}
	return nil
}

// fastMatch accepts the signature match only inside the time budget.
func (r *Router) fastMatch(ticket *domain.Ticket, logger *zap.Logger) *domain.AutopatchCandidate {
	if r.fast == nil {
		return nil
	}
	start := r.clock.Now()
	candidate := r.fast.Match(ticket)
	elapsed := r.clock.Now().Sub(start)
	if candidate == nil {
		return nil
	}
	if budget := r.cfg.FastPathBudget(); elapsed > budget {
		logger.Debug("fast path match exceeded budget",
			zap.String("pattern_id", candidate.PatternID),
			zap.Duration("elapsed", elapsed),
			zap.Duration("budget", budget))
		r.metrics.RecordDispatch(observability.OutcomeFastTooSlow)
		return nil
	}
	if settled(ticket, candidate) {
		return nil
	}
	return candidate
}

// topDeviation builds a candidate from the most relevant deviation at or
// above the threshold. Deviations below it are logged and dropped.
func (r *Router) topDeviation(ctx context.Context, ticket *domain.Ticket, logger *zap.Logger) *domain.AutopatchCandidate {
	if r.detector == nil || ctx.Err() != nil {
		return nil
	}
	deviations, err := r.detector.Detect(ctx, ticket, r.cfg.RootDir)
	if err != nil {
		logger.Warn("deviation detection failed", zap.Error(err))
		return nil
	}
	threshold := r.deviationThreshold()
	var chosen *domain.AutopatchCandidate
	for i := range deviations {
		dev := deviations[i]
		if dev.RelevanceScore < threshold {
			logger.Debug("deviation below relevance threshold",
				zap.String("item", dev.Item.Key()),
				zap.String("severity", string(dev.Severity)),
				zap.Float64("relevance", dev.RelevanceScore),
				zap.Float64("threshold", threshold))
			continue
		}
		if chosen != nil {
			continue
		}
		candidate := autopatch.BuildFromItem(autopatch.SourceBlueprint, dev.Item, &dev, ticket)
		if settled(ticket, candidate) {
			continue
		}
		chosen = candidate
	}
	return chosen
}

func (r *Router) deviationThreshold() float64 {
	if r.cfg.DeviationThreshold <= 0 {
		return 0.5
	}
	return r.cfg.DeviationThreshold
}

// confirm runs the pre-fix verification gate. A verifier error counts as
// a confirmed problem.
func (r *Router) confirm(ctx context.Context, ticket *domain.Ticket, candidate *domain.AutopatchCandidate, logger *zap.Logger) bool {
	if r.verifier == nil {
		return true
	}
	result, err := r.verifier.VerifyProblem(ctx, ticket, candidate.PatternID)
	if err != nil {
		logger.Warn("pre-fix verification failed, assuming problem exists",
			zap.String("pattern_id", candidate.PatternID), zap.Error(err))
		return true
	}
	if !result.ProblemExists {
		logger.Info("candidate discarded, problem not confirmed",
			zap.String("pattern_id", candidate.PatternID),
			zap.Strings("evidence", result.Evidence))
		r.metrics.RecordDispatch(observability.OutcomeVerifyRejects)
		return false
	}
	return true
}

// settled reports whether the ticket already carries a final autopatch
// record for the candidate's pattern.
func settled(ticket *domain.Ticket, candidate *domain.AutopatchCandidate) bool {
	state := ticket.SourceMetadata.Autopatch()
	if state.PatternID == "" || state.PatternID != candidate.PatternID {
		return false
	}
	switch state.Status {
	case domain.AutopatchStatusApplied, domain.AutopatchStatusPlanned:
		return true
	case domain.AutopatchStatusFailed:
		return state.Exhausted(autopatchRetryLimit)
	}
	return false
}

func (r *Router) now() time.Time {
	return r.clock.Now()
}
