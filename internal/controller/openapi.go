package controller

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

//go:embed openapi/openapi.yaml
var openAPIDocument []byte

type ErrorResponse struct {
	Reason string `json:"reason"`
}

// RefreshParams defines parameters for Refresh.
type RefreshParams struct {
	Silent *string `form:"silent,omitempty" json:"silent,omitempty"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (GET /api/ping)
	CheckServer(ctx echo.Context) error
	// (POST /api/basic-auth/sign-in)
	SignIn(ctx echo.Context) error
	// (POST /api/basic-auth/register)
	Register(ctx echo.Context) error
	// (POST /api/basic-auth/refresh)
	Refresh(ctx echo.Context, params RefreshParams) error
	// (POST /api/basic-auth/sign-out)
	SignOut(ctx echo.Context) error
	// (POST /api/basic-auth/change-password)
	ChangePassword(ctx echo.Context) error
	// (GET /api/basic-auth/session)
	GetSession(ctx echo.Context) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func (w *ServerInterfaceWrapper) CheckServer(ctx echo.Context) error {
	return w.Handler.CheckServer(ctx)
}

func (w *ServerInterfaceWrapper) SignIn(ctx echo.Context) error {
	return w.Handler.SignIn(ctx)
}

func (w *ServerInterfaceWrapper) Register(ctx echo.Context) error {
	return w.Handler.Register(ctx)
}

func (w *ServerInterfaceWrapper) Refresh(ctx echo.Context) error {
	var params RefreshParams

	err := runtime.BindQueryParameter("form", true, false, "silent", ctx.QueryParams(), &params.Silent)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter silent: %s", err))
	}

	return w.Handler.Refresh(ctx, params)
}

func (w *ServerInterfaceWrapper) SignOut(ctx echo.Context) error {
	return w.Handler.SignOut(ctx)
}

func (w *ServerInterfaceWrapper) ChangePassword(ctx echo.Context) error {
	return w.Handler.ChangePassword(ctx)
}

func (w *ServerInterfaceWrapper) GetSession(ctx echo.Context) error {
	return w.Handler.GetSession(ctx)
}

// EchoRouter is satisfied by both *echo.Echo and *echo.Group.
type EchoRouter interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlersWithBaseURL adds each server route to the router. Paths are
// relative to baseURL, so a router already mounted at /api passes "".
func RegisterHandlersWithBaseURL(router EchoRouter, si ServerInterface, baseURL string) {
	wrapper := ServerInterfaceWrapper{Handler: si}

	router.GET(baseURL+"/ping", wrapper.CheckServer)
	router.POST(baseURL+"/basic-auth/sign-in", wrapper.SignIn)
	router.POST(baseURL+"/basic-auth/register", wrapper.Register)
	router.POST(baseURL+"/basic-auth/refresh", wrapper.Refresh)
	router.POST(baseURL+"/basic-auth/sign-out", wrapper.SignOut)
	router.POST(baseURL+"/basic-auth/change-password", wrapper.ChangePassword)
	router.GET(baseURL+"/basic-auth/session", wrapper.GetSession)
}

// GetSwagger returns the embedded OpenAPI document.
func GetSwagger() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	swagger, err := loader.LoadFromData(openAPIDocument)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err = swagger.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	return swagger, nil
}
