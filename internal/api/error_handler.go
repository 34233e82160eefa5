package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rryowa/basicauth/internal/controller"
	"github.com/rryowa/basicauth/internal/service"
	"github.com/rryowa/basicauth/internal/util"
)

const (
	msgInvalidCredentials = "Invalid credentials"
	msgSessionExpired     = "Session expired"
	msgInvalidRequest     = "Invalid request"
	msgNotConfigured      = "Authentication provider is not configured"
	msgForbidden          = "Forbidden"
	msgTooManyRequests    = "Too many requests"
	msgInternal           = "internal server error"
)

func ErrorHandler(log *zap.SugaredLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		respErr, ok := toResponseError(err)
		if !ok {
			respErr = genericResponseError(err)
		}

		if respErr.Status >= http.StatusInternalServerError {
			log.Errorw("HTTP error", "error", err, "uri", c.Request().RequestURI)
		}

		if respErr.Status == http.StatusTooManyRequests {
			c.Response().Header().Set(echo.HeaderRetryAfter, strconv.FormatInt(int64(respErr.RetryAfter/time.Second), 10))
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(respErr.Status)
		} else {
			err = c.JSON(respErr.Status, controller.ErrorResponse{Reason: respErr.Msg})
		}
		if err != nil {
			log.Errorw("failed to write json response", "error", err)
		}
	}
}

// toResponseError maps the service error taxonomy onto HTTP statuses.
func toResponseError(err error) (util.ResponseError, bool) {
	var rateErr *service.RateLimitError
	switch {
	case errors.As(err, &rateErr):
		return util.ResponseError{
			Status:     http.StatusTooManyRequests,
			Msg:        msgTooManyRequests,
			RetryAfter: rateErr.RetryAfter,
		}, true
	case errors.Is(err, service.ErrInvalidCredentials):
		return util.ResponseError{Status: http.StatusUnauthorized, Msg: msgInvalidCredentials}, true
	case errors.Is(err, service.ErrSessionExpired):
		return util.ResponseError{Status: http.StatusUnauthorized, Msg: msgSessionExpired}, true
	case errors.Is(err, service.ErrInvalidRequest):
		return util.ResponseError{Status: http.StatusBadRequest, Msg: msgInvalidRequest}, true
	case errors.Is(err, service.ErrAuthNotConfigured):
		return util.ResponseError{Status: http.StatusServiceUnavailable, Msg: msgNotConfigured}, true
	case errors.Is(err, service.ErrForbidden):
		return util.ResponseError{Status: http.StatusForbidden, Msg: msgForbidden}, true
	case errors.Is(err, service.ErrRegistrationDisabled):
		return util.ResponseError{Status: http.StatusForbidden, Msg: "Registration is currently disabled. Please contact an administrator."}, true
	case errors.Is(err, service.ErrInviteRequired):
		return util.ResponseError{Status: http.StatusForbidden, Msg: "A valid invite is required to register."}, true
	}
	return util.ResponseError{}, false
}

func genericResponseError(err error) util.ResponseError {
	var respErr util.ResponseError
	if errors.As(err, &respErr) {
		return respErr
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Code == http.StatusBadRequest {
			// Schema validation failures carry kin-openapi detail that stays out of responses.
			return util.ResponseError{Status: he.Code, Msg: msgInvalidRequest}
		}
		return util.ResponseError{Status: he.Code, Msg: fmt.Sprint(he.Message)}
	}

	return util.ResponseError{Status: http.StatusInternalServerError, Msg: msgInternal}
}
