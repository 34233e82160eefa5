package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rryowa/basicauth/internal/models"
	"github.com/rryowa/basicauth/internal/ratelimit"
	"github.com/rryowa/basicauth/internal/service"
	"github.com/rryowa/basicauth/internal/util"
)

type Controller struct {
	zapLogger     *zap.SugaredLogger
	authService   *service.AuthService
	proxy         *util.ProxyConfig
	secureCookies bool
}

var _ ServerInterface = (*Controller)(nil)

func NewController(
	logger *zap.SugaredLogger,
	authService *service.AuthService,
	proxy *util.ProxyConfig,
	secureCookies bool,
) *Controller {
	return &Controller{
		zapLogger:     logger,
		authService:   authService,
		proxy:         proxy,
		secureCookies: secureCookies,
	}
}

// (GET /api/ping).
func (c *Controller) CheckServer(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, "ok")
}

// (POST /api/basic-auth/sign-in).
func (c *Controller) SignIn(ctx echo.Context) error {
	var req models.SignInRequest
	if err := ctx.Bind(&req); err != nil {
		return service.ErrInvalidRequest
	}

	issued, err := c.authService.SignIn(ctx.Request().Context(), req.Email, req.Password, c.sessionMetadata(ctx))
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.clearAuthCookies(ctx)
		}
		return err
	}

	c.setAuthCookies(ctx, issued)
	return ctx.JSON(http.StatusOK, models.OKResponse{OK: true})
}

// (POST /api/basic-auth/register).
func (c *Controller) Register(ctx echo.Context) error {
	var req models.RegisterRequest
	if err := ctx.Bind(&req); err != nil {
		c.clearAuthCookies(ctx)
		return service.ErrInvalidRequest
	}

	issued, err := c.authService.Register(ctx.Request().Context(), req, c.sessionMetadata(ctx))
	if err != nil {
		c.clearAuthCookies(ctx)
		return err
	}

	c.setAuthCookies(ctx, issued)
	return ctx.JSON(http.StatusOK, models.OKResponse{OK: true})
}

// (POST /api/basic-auth/refresh).
// With silent=1 or silent=true an expired session answers {"ok": false} instead of 401.
func (c *Controller) Refresh(ctx echo.Context, params RefreshParams) error {
	silent := params.Silent != nil && (*params.Silent == "1" || *params.Silent == "true")

	issued, err := c.authService.Refresh(ctx.Request().Context(), readCookie(ctx, models.RefreshCookieName), c.sessionMetadata(ctx))
	if err != nil {
		if !errors.Is(err, service.ErrSessionExpired) {
			return err
		}
		c.clearAuthCookies(ctx)
		if silent {
			return ctx.JSON(http.StatusOK, models.OKResponse{OK: false})
		}
		return err
	}

	c.setAuthCookies(ctx, issued)
	return ctx.JSON(http.StatusOK, models.OKResponse{OK: true})
}

// (POST /api/basic-auth/sign-out).
func (c *Controller) SignOut(ctx echo.Context) error {
	err := c.authService.SignOut(
		ctx.Request().Context(),
		readCookie(ctx, models.RefreshCookieName),
		readCookie(ctx, models.AccessCookieName),
	)
	if err != nil {
		return err
	}

	c.clearAuthCookies(ctx)
	return ctx.JSON(http.StatusOK, models.OKResponse{OK: true})
}

// (POST /api/basic-auth/change-password).
func (c *Controller) ChangePassword(ctx echo.Context) error {
	// This route is exempt from schema validation. A body that fails to bind is
	// passed on empty, and the service rejects it only after the session check.
	var req models.ChangePasswordRequest
	if err := ctx.Bind(&req); err != nil {
		c.zapLogger.Debugw("Change password body rejected", "error", err)
		req = models.ChangePasswordRequest{}
	}

	err := c.authService.ChangePassword(ctx.Request().Context(), readCookie(ctx, models.AccessCookieName), req)
	if err != nil {
		if errors.Is(err, service.ErrSessionExpired) {
			c.clearAuthCookies(ctx)
		}
		return err
	}

	c.clearAuthCookies(ctx)
	return ctx.JSON(http.StatusOK, models.OKResponse{OK: true})
}

// (GET /api/basic-auth/session).
func (c *Controller) GetSession(ctx echo.Context) error {
	session, err := c.authService.GetSession(ctx.Request().Context(), readCookie(ctx, models.AccessCookieName))
	if err != nil {
		if errors.Is(err, service.ErrSessionExpired) {
			c.clearAuthCookies(ctx)
		}
		return err
	}

	resp := models.SessionResponse{
		ID:        session.AccountID,
		Email:     session.Email,
		SessionID: session.SessionID,
		ExpiresAt: session.ExpiresAt.Unix(),
	}
	if session.DisplayName != nil {
		resp.DisplayName = *session.DisplayName
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (c *Controller) sessionMetadata(ctx echo.Context) models.SessionMetadata {
	ip := ratelimit.ClientIP(ctx.Request(), c.proxy)
	if ip == ratelimit.UnknownSubject {
		ip = ""
	}
	return models.SessionMetadata{
		IPAddress: ip,
		UserAgent: ctx.Request().UserAgent(),
	}
}
