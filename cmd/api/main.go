package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"backoffice/internal/auth"
	"backoffice/internal/cache"
	"backoffice/internal/config"
	"backoffice/internal/database"
	"backoffice/internal/handlers"
	"backoffice/internal/jobs"
	"backoffice/internal/log"
	"backoffice/internal/oauth"
	"backoffice/internal/queue"
	"backoffice/internal/rbac"
	"backoffice/internal/repository"
	"backoffice/internal/security"
	"backoffice/internal/server"
	"backoffice/internal/service"
	"backoffice/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment)

	ctx := context.Background()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	if err := database.EnsureSchema(ctx, dbPool); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply schema")
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}

	users := repository.NewUserRepository(dbPool)
	sessions := repository.NewSessionRepository(dbPool)
	credentials := repository.NewCredentialRepository(dbPool)

	codec, err := security.NewCodec(cfg.Security.JWTSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid token secret")
	}
	states, err := security.NewStateSigner(cfg.Security.StateSecret, cfg.Security.StateTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid state secret")
	}
	issuer, err := oauth.NewIssuer(codec, cfg.Security.AccessTTL, cfg.Security.RefreshTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid token lifetimes")
	}

	oauthClient := oauth.NewClient(cfg.OAuth, issuer, states, sessions, users, logger,
		oauth.WithHTTPClient(&http.Client{Timeout: cfg.OAuth.RequestTimeout}))

	if err := queue.EnsureGroup(ctx, redisClient, cfg.Worker.Stream, cfg.Worker.Group); err != nil {
		logger.Warn().Err(err).Msg("ensure revocation consumer group failed")
	}
	revocations := tasks.NewEnqueuer(queue.NewPublisher(redisClient, cfg.Worker.Stream))

	defaultRole, err := rbac.ParseRole(cfg.OAuth.DefaultRole)
	if err != nil {
		logger.Warn().Str("role", cfg.OAuth.DefaultRole).Msg("unknown oauth default role, using customer")
		defaultRole = rbac.RoleCustomer
	}

	authService := service.NewAuthService(
		users,
		sessions,
		credentials,
		oauthClient,
		cache.NewStateGuard(redisClient),
		revocations,
		service.AuthOptions{
			MaxSessions:    cfg.Security.MaxSessions,
			DefaultRole:    defaultRole,
			RequestTimeout: cfg.OAuth.RequestTimeout,
		},
		logger,
	)
	userService := service.NewUserService(users, sessions, logger)

	checks := map[string]handlers.HealthCheck{
		"postgres": database.Probe(dbPool),
		"redis":    cache.Probe(redisClient),
	}

	handlerSet := handlers.NewHandlerSet(logger, cfg, authService, userService, auth.NewResolver(codec), checks)
	httpServer, err := server.NewHTTPServer(cfg, logger, handlerSet)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build http server")
	}

	scheduler := jobs.NewScheduler(cfg.Jobs.PurgeSchedule, sessions, credentials, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, dbPool, redisClient)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	scheduler.Stop()

	db.Close()
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("redis close error")
	}

	logger.Info().Msg("server exited cleanly")
}
