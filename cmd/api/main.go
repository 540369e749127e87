package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/support-dispatch/internal/api/http"
	"github.com/spec-kit/support-dispatch/internal/api/http/handlers"
	"github.com/spec-kit/support-dispatch/internal/auth"
	"github.com/spec-kit/support-dispatch/internal/autofix"
	"github.com/spec-kit/support-dispatch/internal/catalog"
	"github.com/spec-kit/support-dispatch/internal/clock"
	"github.com/spec-kit/support-dispatch/internal/config"
	"github.com/spec-kit/support-dispatch/internal/deviation"
	"github.com/spec-kit/support-dispatch/internal/events"
	"github.com/spec-kit/support-dispatch/internal/guarantee"
	"github.com/spec-kit/support-dispatch/internal/knowledge"
	"github.com/spec-kit/support-dispatch/internal/llm"
	"github.com/spec-kit/support-dispatch/internal/matcher"
	"github.com/spec-kit/support-dispatch/internal/observability"
	"github.com/spec-kit/support-dispatch/internal/persistence"
	"github.com/spec-kit/support-dispatch/internal/repository"
	"github.com/spec-kit/support-dispatch/internal/service"
	"github.com/spec-kit/support-dispatch/internal/verify"
	"github.com/spec-kit/support-dispatch/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.App, cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()
	if pg.Pool == nil {
		logger.Fatal("POSTGRES_DSN is required, the router has no ticket store")
	}

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.Pool, cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	ticketRepo := repository.NewTicketRepository(pg.Pool)
	messageRepo := repository.NewTicketMessageRepository(pg.Pool)
	automationRepo := repository.NewAutomationEventRepository(pg.Pool)

	dispatcher := events.NewInMemoryDispatcher(logger)
	service.NewNotificationService(dispatcher, logger.Named("notifications"), cfg.Notification).RegisterHandlers()

	buildOpts := catalog.BuildOptions{
		BlueprintPath: cfg.Dispatch.BlueprintPath,
		Logger:        logger.Named("catalog"),
	}
	corpus := loadCorpus(cfg.Dispatch.KnowledgeDir, logger)
	if corpus != nil {
		buildOpts.Corpus = corpus
	}
	store, err := catalog.Build(ctx, buildOpts)
	if err != nil {
		logger.Fatal("failed to build configuration catalog", zap.Error(err))
	}
	logger.Info("configuration catalog ready", zap.Int("items", store.Len()))

	detector := deviation.New(store, logger.Named("deviation"))
	var verifyOpts []verify.Option
	if len(cfg.Dispatch.HealthURLs) > 0 {
		verifyOpts = append(verifyOpts, verify.WithTargetChecker(verify.NewHealthEndpoints(cfg.Dispatch.HealthURLs, 0)))
	}
	var semanticOpts []matcher.Option
	deps := service.RouterDependencies{
		TicketRepo:     ticketRepo,
		MessageRepo:    messageRepo,
		AutomationRepo: automationRepo,
		Dispatcher:     dispatcher,
		FastMatcher:    matcher.NewPatternMatcher(),
		Detector:       detector,
		Verifier:       verify.NewBlueprintVerifier(store, detector, cfg.Dispatch.RootDir, logger, verifyOpts...),
		Executor:       autofix.New(logger, autofix.WithMigrationRunner(persistence.NewSQLRunner(pg.Pool, logger))),
		Guarantee:      guarantee.NewPolicy(guarantee.DefaultMaxAttempts),
		Metrics:        observability.NewMetrics(),
		Clock:          clock.Real(),
		Logger:         logger,
		Config:         cfg.Dispatch,
	}
	if corpus != nil {
		deps.Knowledge = corpus
	}
	if cfg.LLM.Enabled() {
		client := llm.NewClient(cfg.LLM.AnthropicAPIKey, cfg.LLM.Model, cfg.LLM.Timeout(), logger)
		semanticOpts = append(semanticOpts, matcher.WithLLM(client))
		deps.Planner = client
		logger.Info("llm capability enabled", zap.String("model", cfg.LLM.Model))
	}
	deps.Matcher = matcher.NewSemanticMatcher(store, logger, semanticOpts...)
	router := service.NewRouter(deps)

	changeSource := events.NewRedisChangeSource(redis.Client, redis.Channel, logger)
	router.AttachRealtime(changeSource)
	realtime := worker.NewRealtimeConsumer(router.HandleChange, 0, logger)
	poller := worker.NewPoller(router, clock.Real(), cfg.Dispatch.PollInterval(), logger)

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, deps.Metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, router, deps.Metrics,
			handlers.Dependency{Name: "postgres", Pinger: pg},
			handlers.Dependency{Name: "redis", Pinger: redis},
		),
		Tickets: handlers.NewTicketsHandler(router, ticketRepo, detector, cfg.Dispatch.RootDir, logger.Named("http")),
		Changes: handlers.NewChangesHandler(realtime, logger.Named("http")),
		Guard:   auth.NewServiceGuard(auth.NewTokenManager(cfg.Auth.ServiceTokenSecret, cfg.Auth.ServiceTokenIssuer, 0)),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return realtime.Run(gctx, changeSource) })
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			return fmt.Errorf("fiber listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
	}
}

// loadCorpus returns nil when the knowledge directory is missing; the
// catalog then comes from the blueprint alone.
func loadCorpus(dir string, logger *zap.Logger) *knowledge.Index {
	if dir == "" {
		return nil
	}
	corpus, err := knowledge.LoadDir(dir)
	if err != nil {
		logger.Warn("knowledge corpus not loaded", zap.String("dir", dir), zap.Error(err))
		return nil
	}
	logger.Info("knowledge corpus loaded", zap.Int("documents", len(corpus.All())))
	return corpus
}
