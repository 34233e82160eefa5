package main

import (
	"context"
	"errors"
	"time"

	"github.com/rryowa/basicauth/internal/api"
	"github.com/rryowa/basicauth/internal/controller"
	"github.com/rryowa/basicauth/internal/metrics"
	"github.com/rryowa/basicauth/internal/migrations"
	"github.com/rryowa/basicauth/internal/ratelimit"
	"github.com/rryowa/basicauth/internal/service"
	"github.com/rryowa/basicauth/internal/storage"
	"github.com/rryowa/basicauth/internal/storage/memory"
	"github.com/rryowa/basicauth/internal/storage/postgres"
	"github.com/rryowa/basicauth/internal/util"
)

func main() {
	ctx := context.Background()

	serverConfig := util.NewServerConfig()
	logger := util.NewZapLogger(serverConfig.LogLevel, serverConfig.Production)
	defer func() { _ = logger.Sync() }()

	authConfig := util.NewAuthConfig()
	diagnostics := util.ValidateAuthConfig(authConfig)
	for _, w := range diagnostics.Warnings {
		logger.Warnf("[%s] %s", util.ProviderID, w)
	}
	if !diagnostics.Valid() {
		switch {
		case authConfig.Strict:
			logger.Fatalf("[%s] %v", util.ProviderID, diagnostics.Err())
		case !authConfig.EscapeHatch:
			logger.Fatalf("[%s] %v (set AUTH_INSECURE_DEV_ESCAPE_HATCH=true to start anyway)", util.ProviderID, diagnostics.Err())
		default:
			logger.Errorf("[%s] %v; auth endpoints will answer 503", util.ProviderID, diagnostics.Err())
		}
	}

	var cleanupFuncs []func()

	var store storage.Storage
	switch util.GetStorageBackend() {
	case util.StorageBackendMemory:
		logger.Warn("Using in-memory storage; accounts and sessions are lost on restart")
		store = memory.NewStorage(logger, time.Now)
	default:
		dbConfig, err := util.NewDBConfig()
		if err != nil {
			logger.Fatalf("Failed to read database config: %v", err)
		}
		db, dbCleanup, err := util.NewDBConnection(logger, dbConfig)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		cleanupFuncs = append(cleanupFuncs, dbCleanup)

		if err := migrations.RunMigrations(db, logger); err != nil {
			logger.Fatalf("Failed to run migrations: %v", err)
		}
		store = postgres.NewStorage(db, time.Now)
	}

	rateLimiterConfig := util.NewRateLimiterConfig()
	var limiter ratelimit.Limiter
	switch rateLimiterConfig.Backend {
	case util.RateLimitBackendRedis:
		redisConfig, err := util.NewRedisConfig()
		if err != nil {
			logger.Fatalf("Failed to read Redis config: %v", err)
		}
		redisClient, redisCleanup, err := util.NewRedisClient(logger, redisConfig)
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		cleanupFuncs = append(cleanupFuncs, redisCleanup)
		limiter = ratelimit.NewRedisLimiter(redisClient, ratelimit.DefaultRules(), time.Now)
	default:
		limiter = ratelimit.NewMemoryLimiter(ratelimit.DefaultRules(), rateLimiterConfig.SweepInterval, time.Now)
	}

	hasher, err := service.NewPasswordHasher(service.PasswordCost)
	if err != nil {
		logger.Fatalf("Failed to initialize password hasher: %v", err)
	}

	m := metrics.New()
	webhookService := service.NewWebhookService(logger, util.GetWebhookURL())
	cleanupFuncs = append(cleanupFuncs, webhookService.Close)

	tokenService := service.NewTokenService(authConfig, time.Now)
	authService := service.NewAuthService(logger, authConfig, store, tokenService, hasher, webhookService, m, time.Now)

	if authService.Ready() == nil {
		err := authService.EnsureBootstrapAccount(ctx)
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			logger.Errorf("[%s] Bootstrap account skipped: %v", util.ProviderID, err)
		case err != nil:
			logger.Fatalf("Failed to create bootstrap account: %v", err)
		}
	}

	proxyConfig := util.NewProxyConfig()
	ctrl := controller.NewController(logger, authService, proxyConfig, serverConfig.Production)

	apiServer := api.NewAPI(ctrl, authService, limiter, proxyConfig, m, serverConfig, logger, cleanupFuncs)
	apiServer.Run(ctx)
}
