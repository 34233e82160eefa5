package controller

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rryowa/basicauth/internal/models"
	"github.com/rryowa/basicauth/internal/service"
)

func (c *Controller) setAuthCookies(ctx echo.Context, issued *service.IssuedSession) {
	ctx.SetCookie(c.authCookie(models.AccessCookieName, issued.AccessToken, models.AccessCookiePath, issued.AccessTTL))
	ctx.SetCookie(c.authCookie(models.RefreshCookieName, issued.RefreshToken, models.RefreshCookiePath, issued.RefreshTTL))
}

func (c *Controller) clearAuthCookies(ctx echo.Context) {
	for _, cookie := range []*http.Cookie{
		c.authCookie(models.AccessCookieName, "", models.AccessCookiePath, 0),
		c.authCookie(models.RefreshCookieName, "", models.RefreshCookiePath, 0),
	} {
		cookie.MaxAge = -1
		cookie.Expires = time.Unix(0, 0)
		ctx.SetCookie(cookie)
	}
}

func (c *Controller) authCookie(name, value, path string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   c.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

func readCookie(ctx echo.Context, name string) string {
	cookie, err := ctx.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
