package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	middleware "github.com/oapi-codegen/echo-middleware"
	"go.uber.org/zap"

	"github.com/rryowa/basicauth/internal/controller"
	"github.com/rryowa/basicauth/internal/metrics"
	"github.com/rryowa/basicauth/internal/ratelimit"
	"github.com/rryowa/basicauth/internal/service"
	"github.com/rryowa/basicauth/internal/util"
)

const (
	shutdownTimeout = 5 * time.Second

	authBasePath = "/api/basic-auth"
)

type API struct {
	server          *echo.Echo
	controller      *controller.Controller
	authService     *service.AuthService
	limiter         ratelimit.Limiter
	proxy           *util.ProxyConfig
	metrics         *metrics.Metrics
	log             *zap.SugaredLogger
	gracefulTimeout time.Duration
	cleanupFuncs    []func()
}

func NewAPI(
	c *controller.Controller,
	authService *service.AuthService,
	limiter ratelimit.Limiter,
	proxy *util.ProxyConfig,
	m *metrics.Metrics,
	sc *util.ServerConfig,
	l *zap.SugaredLogger,
	cleanupFuncs []func(),
) *API {
	e := echo.New()
	e.HideBanner = true

	e.Server.Addr = sc.ServerAddr
	e.Server.WriteTimeout = sc.WriteTimeout
	e.Server.ReadTimeout = sc.ReadTimeout
	e.Server.IdleTimeout = sc.IdleTimeout
	e.HTTPErrorHandler = ErrorHandler(l)

	return &API{
		server:          e,
		controller:      c,
		authService:     authService,
		limiter:         limiter,
		proxy:           proxy,
		metrics:         m,
		log:             l,
		gracefulTimeout: sc.GracefulTimeout,
		cleanupFuncs:    cleanupFuncs,
	}
}

// Setup registers middleware and routes. Middleware on the /api group runs in
// order: readiness, no-store, origin policy, rate limit, request validation.
func (a *API) Setup() error {
	swagger, err := controller.GetSwagger()
	if err != nil {
		return fmt.Errorf("load OpenAPI specification: %w", err)
	}
	swagger.Servers = nil

	a.server.Use(echomiddleware.Recover())
	a.server.Use(echomiddleware.RequestLoggerWithConfig(GetLoggerMiddlewareConfig(a)))

	a.server.GET("/metrics", echo.WrapHandler(a.metrics.Handler()))

	g := a.server.Group("/api")
	g.Use(
		ReadinessMiddleware(a.authService),
		NoStoreMiddleware(),
		OriginPolicyMiddleware(a.proxy),
		RateLimitMiddleware(a.limiter, a.proxy, a.metrics, a.log),
		middleware.OapiRequestValidatorWithOptions(swagger, &middleware.Options{
			Skipper: skipSchemaValidation,
		}),
	)

	controller.RegisterHandlersWithBaseURL(g, a.controller, "")

	return nil
}

// skipSchemaValidation exempts change-password, whose handler must report a
// missing session before looking at the body.
func skipSchemaValidation(c echo.Context) bool {
	return c.Path() == authBasePath+"/change-password"
}

// Handler exposes the configured router, mostly for tests.
func (a *API) Handler() http.Handler {
	return a.server
}

func (a *API) Run(ctxBackground context.Context) {
	ctx, stop := signal.NotifyContext(ctxBackground, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defer func() {
		for _, cleanup := range a.cleanupFuncs {
			cleanup()
		}
	}()

	if err := a.Setup(); err != nil {
		a.log.Errorf("Failed to set up HTTP server: %v", err)
		return
	}

	a.ListenGracefulShutdown(ctx)
}

func (a *API) ListenGracefulShutdown(ctx context.Context) {
	go func() {
		err := a.server.Start(a.server.Server.Addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()
	a.log.Infof("Listening on: %s", a.server.Server.Addr)

	<-ctx.Done()
	a.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := a.server.Shutdown(shutdownCtx)
	if err != nil {
		a.log.Errorf("shutdown: %v", err)
	}

	longShutdown := make(chan struct{}, 1)

	go func() {
		time.Sleep(a.gracefulTimeout)
		longShutdown <- struct{}{}
	}()

	select {
	case <-shutdownCtx.Done():
		if errors.Is(shutdownCtx.Err(), context.Canceled) {
			a.log.Info("server shutdown completed")
		} else {
			a.log.Errorf("server shutdown: %v", shutdownCtx.Err())
		}
	case <-longShutdown:
		a.log.Infof("finished")
	}
}
