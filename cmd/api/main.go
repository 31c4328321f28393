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

	httptransport "github.com/safedesk/safety-orchestrator/internal/api/http"
	"github.com/safedesk/safety-orchestrator/internal/api/http/handlers"
	"github.com/safedesk/safety-orchestrator/internal/auth"
	"github.com/safedesk/safety-orchestrator/internal/classifier"
	"github.com/safedesk/safety-orchestrator/internal/config"
	"github.com/safedesk/safety-orchestrator/internal/events"
	"github.com/safedesk/safety-orchestrator/internal/observability"
	"github.com/safedesk/safety-orchestrator/internal/persistence"
	"github.com/safedesk/safety-orchestrator/internal/policy"
	"github.com/safedesk/safety-orchestrator/internal/repository"
	"github.com/safedesk/safety-orchestrator/internal/router"
	"github.com/safedesk/safety-orchestrator/internal/service"
	"github.com/safedesk/safety-orchestrator/internal/tracker"
	"github.com/safedesk/safety-orchestrator/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// forwardedEvents leave the process through Pub/Sub. Tracker step events
// stay local.
var forwardedEvents = []events.EventType{
	events.EventCaseCreated,
	events.EventCaseAssigned,
	events.EventCaseClosed,
	events.EventCaseSLABreached,
	events.EventAgentError,
	events.EventAnalytics,
}

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("service stopped")
}

type repositories struct {
	cases      repository.CaseRepository
	executions repository.ExecutionRepository
	audit      repository.AuditRepository
	staff      repository.StaffRepository
}

func newRepositories(pg *persistence.Postgres, logger *zap.Logger) repositories {
	if !pg.Enabled() {
		logger.Warn("using in-memory repositories; data is lost on restart")
		return repositories{
			cases:      repository.NewMemoryCaseRepository(),
			executions: repository.NewMemoryExecutionRepository(),
			audit:      repository.NewMemoryAuditRepository(),
			staff:      repository.NewMemoryStaffRepository(),
		}
	}
	pool := pg.PoolHandle()
	return repositories{
		cases:      repository.NewCaseRepository(pool),
		executions: repository.NewExecutionRepository(pool),
		audit:      repository.NewAuditRepository(pool),
		staff:      repository.NewStaffRepository(pool),
	}
}

func newCapability(ctx context.Context, cfg config.ClassifierConfig, logger *zap.Logger) (classifier.Capability, func()) {
	if cfg.GeminiAPIKey == "" {
		logger.Warn("CLASSIFIER_GEMINI_API_KEY not set; every request escalates to a human")
		return classifier.Unavailable{}, func() {}
	}
	gemini, err := classifier.NewGeminiCapability(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		logger.Error("gemini unavailable; every request escalates to a human", zap.Error(err))
		return classifier.Unavailable{}, func() {}
	}
	logger.Info("gemini classifier ready", zap.String("model", cfg.GeminiModel))
	return gemini, func() { _ = gemini.Close() }
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(cfg.Postgres.DSN, logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}
	repos := newRepositories(pg, logger)

	rds := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer rds.Close()
	var locker service.CaseLocker
	if rds.Enabled() {
		locker = persistence.NewRedisLocker(rds.Client, cfg.Redis.LockTTL, logger)
	}

	bus := events.Configure(logger)
	events.NewAuditLogger(repos.audit, logger).Register(bus)
	if cfg.PubSub.Enabled() {
		forwarder, err := events.NewPubSubForwarder(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicID, logger)
		if err != nil {
			logger.Warn("pubsub forwarding disabled", zap.Error(err))
		} else {
			forwarder.Register(bus, forwardedEvents...)
			defer forwarder.Close() //nolint:errcheck
		}
	}

	metrics := observability.NewMetrics()
	engine := policy.NewEngine(
		policy.WithK(cfg.Policy.K),
		policy.WithCrisisExperiments(cfg.Policy.DenyCrisisExperiments),
	)
	execTracker := tracker.Setup(repos.executions, bus, logger)

	capability, closeCapability := newCapability(ctx, cfg.Classifier, logger)
	defer closeCapability()
	adapter := classifier.NewAdapter(capability, classifier.Policy{
		Attempts:  cfg.Classifier.Attempts,
		BaseDelay: cfg.Classifier.BaseDelay,
		MaxDelay:  cfg.Classifier.MaxDelay,
		Jitter:    cfg.Classifier.Jitter,
		Timeout:   cfg.Classifier.Timeout,
	}, logger)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL())
	authService := service.NewAuthService(repos.staff, tokens, cfg.Auth.BcryptCost)
	if created, err := authService.EnsureBootstrapAdmin(ctx, cfg.Auth.BootstrapAdminEmail, cfg.Auth.BootstrapAdminPassword); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	} else if created {
		logger.Info("bootstrap admin created", zap.String("email", cfg.Auth.BootstrapAdminEmail))
	}

	caseService := service.NewCaseService(service.CaseDependencies{
		CaseRepo:   repos.cases,
		StaffRepo:  repos.staff,
		Locker:     locker,
		Dispatcher: bus,
		SLA:        service.SLAPolicyFromConfig(cfg.SLA),
		Logger:     logger,
	})
	worker.StartNotificationWorker(service.NewNotificationService(bus, logger, cfg.Notification))

	orchestrator := router.New(router.Dependencies{
		Classifier:    adapter,
		Cases:         caseService,
		Coach:         router.NewLoggingCoach(logger),
		Tracker:       execTracker,
		Dispatcher:    bus,
		Policy:        engine,
		Pseudonymizer: router.NewPseudonymizer(cfg.Auth.PseudonymKey),
		Metrics:       metrics,
		Logger:        logger,
	})

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, rds, metrics),
		Classify:       handlers.NewClassifyHandler(orchestrator),
		Cases:          handlers.NewCasesHandler(caseService),
		Executions:     handlers.NewExecutionsHandler(execTracker),
		Analytics:      handlers.NewAnalyticsHandler(service.NewAnalyticsService(repos.cases, engine, bus, logger)),
		Staff:          handlers.NewStaffHandler(authService, service.NewStaffService(repos.staff, authService)),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, repos.staff),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.App.Addr()))
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
	g.Go(func() error {
		worker.StartSLASweeper(gctx, caseService, cfg.SLA.SweepInterval, logger)
		return nil
	})
	return g.Wait()
}
