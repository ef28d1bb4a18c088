package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/breakdown-service/internal/api/http"
	"github.com/spec-kit/breakdown-service/internal/api/http/handlers"
	"github.com/spec-kit/breakdown-service/internal/auth"
	"github.com/spec-kit/breakdown-service/internal/config"
	"github.com/spec-kit/breakdown-service/internal/events"
	"github.com/spec-kit/breakdown-service/internal/notify"
	"github.com/spec-kit/breakdown-service/internal/observability"
	"github.com/spec-kit/breakdown-service/internal/persistence"
	"github.com/spec-kit/breakdown-service/internal/projector"
	"github.com/spec-kit/breakdown-service/internal/repository"
	"github.com/spec-kit/breakdown-service/internal/repository/memory"
	"github.com/spec-kit/breakdown-service/internal/service"
	"github.com/spec-kit/breakdown-service/internal/session"
	"github.com/spec-kit/breakdown-service/internal/worker"
	"github.com/spec-kit/breakdown-service/internal/workflow"
)

const shutdownTimeout = 10 * time.Second

type stores struct {
	tickets  repository.TicketRepository
	updates  repository.UpdateRepository
	profiles repository.ProfileRepository
}

func serve(parent context.Context, cfg *config.Config, logger *zap.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect postgres", zap.Error(err))
		return err
	}
	defer pg.Close()

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), persistence.DefaultMigrationsDir, logger); err != nil {
			logger.Error("failed to run migrations", zap.Error(err))
			return err
		}
	}

	var repos stores
	if pg.Enabled() {
		pool := pg.PoolHandle()
		repos = stores{
			tickets:  repository.NewTicketRepository(pool),
			updates:  repository.NewUpdateRepository(pool),
			profiles: repository.NewProfileRepository(pool),
		}
	} else {
		mem := memory.NewStore()
		repos = stores{tickets: mem.Tickets(), updates: mem.Updates(), profiles: mem.Profiles()}
	}

	metrics := observability.NewMetrics()

	var (
		redis       *persistence.Redis
		dispatcher  events.Dispatcher
		revocations auth.RevocationList
	)
	if cfg.Events.Backend == "redis" {
		redis = persistence.NewRedis(ctx, cfg.Redis, logger)
		defer redis.Close()
		relay := events.NewRedisDispatcher(redis.Client, cfg.Events.Channel, logger)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("change relay stopped", zap.Error(err))
			}
		}()
		dispatcher = relay
		revocations = auth.NewRedisRevocationList(redis.Client)
	} else {
		dispatcher = events.NewInMemoryDispatcher(logger)
		revocations = auth.NewMemoryRevocationList()
	}
	defer dispatcher.Close() //nolint:errcheck

	notifier := service.NewNotificationService(cfg.Notification, logger, metrics)
	mailer := notify.NewMailer(cfg.Notification.SMTP, logger)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.NewNotificationWorker(notifier.Queue(), mailer, cfg.Notification.Workers, logger, metrics).Run(ctx)
	}()

	updateLog := service.NewUpdateLog(repos.updates)
	gateway := service.NewGateway(service.GatewayDependencies{
		TicketRepo: repos.tickets,
		UpdateLog:  updateLog,
		Dispatcher: dispatcher,
		Policy:     workflow.Policy{RequireAssignment: cfg.Workflow.RequireAssignment},
		Hooks:      []service.PostCommitHook{service.AssignmentNotificationHook(notifier, logger)},
		Logger:     logger,
		Metrics:    metrics,
	})
	proj := projector.New(projector.Dependencies{
		TicketRepo:  repos.tickets,
		ProfileRepo: repos.profiles,
		UpdateLog:   updateLog,
		Dispatcher:  dispatcher,
		Logger:      logger,
		Metrics:     metrics,
	})
	sessions := session.NewRegistry(proj)

	authService := service.NewAuthService(*cfg, service.AuthDependencies{
		ProfileRepo: repos.profiles,
		Revocations: revocations,
		Sessions:    sessions,
		Dispatcher:  dispatcher,
		Logger:      logger,
	})
	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), repos.profiles, revocations)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, metrics),
		Auth:           handlers.NewAuthHandler(authService),
		Breakdowns:     handlers.NewBreakdownsHandler(gateway, proj, authService),
		Stream:         handlers.NewStreamHandler(sessions, logger, 0),
		AuthMiddleware: authMiddleware,
	})

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(cfg.App.Addr())
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			logger.Error("fiber listen", zap.Error(err))
			return err
		}
	case sig := <-waitForSignal():
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	// open streams hold the server until their views close
	sessions.Close()
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	gateway.Wait()
	notifier.Close()
	select {
	case <-workerDone:
	case <-time.After(shutdownTimeout):
		logger.Warn("notification worker did not drain in time")
	}
	cancel()
	return nil
}

func waitForSignal() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	return sigCh
}
