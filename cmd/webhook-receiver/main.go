// Command webhook-receiver prints refresh replay alerts posted by the auth server.
// Point WEBHOOK_URL at it during development.
package main

import (
	"errors"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"github.com/rryowa/basicauth/internal/service"
	"github.com/rryowa/basicauth/internal/util"
)

const defaultAddr = ":9090"

func main() {
	logger := util.NewZapLogger(os.Getenv("LOG_LEVEL"), false)

	addr := os.Getenv("WEBHOOK_RECEIVER_ADDRESS")
	if addr == "" {
		addr = defaultAddr
	}

	e := echo.New()
	e.HideBanner = true

	e.POST("/", func(c echo.Context) error {
		var alert service.ReplayAlert
		if err := c.Bind(&alert); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Error parsing JSON")
		}

		logger.Infow("Received webhook",
			"event", alert.Event,
			"accountID", alert.AccountID,
			"sessionID", alert.SessionID,
			"ip", alert.IPAddress,
			"userAgent", alert.UserAgent,
			"detectedAt", alert.DetectedAt,
		)

		return c.String(http.StatusOK, "Webhook received!")
	})

	logger.Infof("Webhook receiver listening on %s", addr)
	if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
