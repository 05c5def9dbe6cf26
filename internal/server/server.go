package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mohammad-safakhou/proposer/config"
	"github.com/mohammad-safakhou/proposer/internal/runs"
	"github.com/mohammad-safakhou/proposer/internal/runtime"
)

// Token scopes checked on the run routes when auth is enabled.
const (
	ScopeRunsRead  = "runs:read"
	ScopeRunsWrite = "runs:write"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Config    *config.Config
	Runs      *runs.Manager
	Archive   EventReader
	Telemetry *runtime.Telemetry
	Logger    *log.Logger
}

// New builds the echo instance with every route registered.
func New(d Deps) (*echo.Echo, error) {
	if d.Config == nil {
		return nil, errors.New("server: config is nil")
	}
	if d.Runs == nil {
		return nil, errors.New("server: run manager is nil")
	}
	baseLogger := d.Logger
	if baseLogger == nil {
		baseLogger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	origins := d.Config.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(d.Telemetry.MetricsHandler()))

	api := e.Group("/api")
	secret, err := runtime.LoadJWTSecret(d.Config)
	if err != nil {
		return nil, err
	}
	var read, write []echo.MiddlewareFunc
	if secret != nil {
		api.Use(runtime.EchoAuthMiddleware(secret))
		read = []echo.MiddlewareFunc{runtime.RequireScopes(ScopeRunsRead)}
		write = []echo.MiddlewareFunc{runtime.RequireScopes(ScopeRunsWrite)}
	} else {
		baseLogger.Printf("server.jwt_secret not set; /api is unauthenticated")
	}

	rh := NewRunsHandler(d.Runs, d.Config.Orchestration, d.Archive, baseLogger)
	rh.Register(api.Group("/runs"), read, write)
	return e, nil
}

// Serve runs e on addr until ctx is done, then shuts it down gracefully.
func Serve(ctx context.Context, e *echo.Echo, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
