package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/rryowa/basicauth/internal/metrics"
	"github.com/rryowa/basicauth/internal/models"
	"github.com/rryowa/basicauth/internal/ratelimit"
	"github.com/rryowa/basicauth/internal/service"
	"github.com/rryowa/basicauth/internal/util"
)

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
)

//nolint:gochecknoglobals // route table
var operationsByRoute = map[string]models.Operation{
	authBasePath + "/sign-in":         models.OpSignIn,
	authBasePath + "/register":        models.OpRegister,
	authBasePath + "/refresh":         models.OpRefresh,
	authBasePath + "/sign-out":        models.OpSignOut,
	authBasePath + "/change-password": models.OpChangePassword,
}

type readinessChecker interface {
	Ready() error
}

func isAuthRoute(c echo.Context) bool {
	return strings.HasPrefix(c.Path(), authBasePath+"/")
}

// ReadinessMiddleware answers ErrAuthNotConfigured on auth routes while the
// provider is disabled or misconfigured.
func ReadinessMiddleware(auth readinessChecker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isAuthRoute(c) {
				if err := auth.Ready(); err != nil {
					return err
				}
			}
			return next(c)
		}
	}
}

func NoStoreMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isAuthRoute(c) {
				c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
			}
			return next(c)
		}
	}
}

// OriginPolicyMiddleware rejects cross-origin mutations. Requests carrying neither
// Origin nor Referer pass, so non-browser clients are unaffected.
func OriginPolicyMiddleware(proxy *util.ProxyConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !isAuthRoute(c) {
				return next(c)
			}
			if err := checkMutationOrigin(c.Request(), proxy); err != nil {
				return err
			}
			return next(c)
		}
	}
}

func checkMutationOrigin(r *http.Request, proxy *util.ProxyConfig) error {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return nil
	}

	source := r.Header.Get(echo.HeaderOrigin)
	if source == "" {
		source = r.Header.Get("Referer")
	}
	if source == "" {
		return nil
	}

	parsed, err := url.Parse(source)
	if err != nil || parsed.Host == "" {
		return service.ErrForbidden
	}

	host := ratelimit.RequestHost(r, proxy)
	if host == "" || !strings.EqualFold(parsed.Host, host) {
		return service.ErrForbidden
	}
	return nil
}

// RateLimitMiddleware charges one request against the route's operation bucket,
// keyed by client identity, and reports the quota in response headers.
func RateLimitMiddleware(
	limiter ratelimit.Limiter,
	proxy *util.ProxyConfig,
	m *metrics.Metrics,
	log *zap.SugaredLogger,
) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			op, ok := operationsByRoute[c.Path()]
			if !ok {
				return next(c)
			}

			subject := ratelimit.ClientIP(c.Request(), proxy)
			decision, err := limiter.Allow(c.Request().Context(), subject, op)
			if err != nil {
				log.Errorw("Rate limiter failed", "operation", op, "error", err)
				return err
			}

			header := c.Response().Header()
			header.Set(HeaderRateLimitLimit, strconv.Itoa(decision.Limit))
			header.Set(HeaderRateLimitRemaining, strconv.Itoa(decision.Remaining))

			if !decision.Allowed {
				m.ObserveRateLimited(op)
				return &service.RateLimitError{
					Limit:      decision.Limit,
					RetryAfter: decision.RetryAfter,
				}
			}
			return next(c)
		}
	}
}

func GetLoggerMiddlewareConfig(a *API) echomiddleware.RequestLoggerConfig {
	return echomiddleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogError:   true,
		LogLatency: true,
		// The error handler runs before logging so the final status is recorded.
		HandleError: true,

		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := []interface{}{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			if v.Status >= http.StatusInternalServerError {
				a.log.Errorw("Request", fields...)
			} else {
				a.log.Infow("Request", fields...)
			}
			return nil
		},
	}
}
