// Package server assembles the engine components and serves the HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/platewise/platewise/assistant/metrics"
	"github.com/platewise/platewise/assistant/platform"
	"github.com/platewise/platewise/assistant/runner"
	"github.com/platewise/platewise/assistant/session"
	"github.com/platewise/platewise/assistant/tools"
	"github.com/platewise/platewise/backend"
	"github.com/platewise/platewise/internal/profile"
	apiv1 "github.com/platewise/platewise/server/router/api/v1"
	"github.com/platewise/platewise/store"
)

// Server is the platewise HTTP server.
type Server struct {
	echo    *echo.Echo
	profile *profile.Profile
	store   *store.Store
}

// NewServer wires the conversation engine and mounts the API.
func NewServer(_ context.Context, p *profile.Profile, storeInstance *store.Store) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	exporter := metrics.NewExporter(metrics.DefaultConfig())

	backendClient := backend.NewClient(p.BackendBaseURL, p.BackendTimeout)
	platformClient := platform.NewOpenAIClient(platform.OpenAIConfig{
		APIKey:  p.PlatformAPIKey,
		BaseURL: p.PlatformBaseURL,
		Timeout: p.BackendTimeout,
	})

	registry := tools.NewDietRegistry(backendClient)
	dispatcher := tools.NewDispatcher(registry, exporter)
	controller := runner.NewController(platformClient, platformClient, dispatcher, exporter, runner.Config{
		AssistantID:      p.AssistantID,
		GuestAssistantID: p.GuestAssistantID,
		PollInterval:     p.PollInterval,
		TurnTimeout:      p.TurnTimeout,
	})
	sessions := session.NewManager(backendClient, platformClient, storeInstance)

	v1 := apiv1.NewAPIV1Service(p, controller, sessions, backendClient, exporter)
	v1.RegisterRoutes(e.Group("/api/v1"))

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(exporter.Handler()))

	slog.Info("server: engine wired",
		"tools", registry.Names(),
		"assistant_id", p.AssistantID,
		"guest_assistant_id", p.GuestAssistantID,
	)

	return &Server{
		echo:    e,
		profile: p,
		store:   storeInstance,
	}, nil
}

// Start begins serving. It returns once the listener stops.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
	slog.Info("server: listening", "addr", addr, "mode", s.profile.Mode, "version", s.profile.Version)
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests and closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		slog.Error("server: shutdown", "error", err)
	}
	if err := s.store.Close(); err != nil {
		slog.Error("server: closing store", "error", err)
	}
	slog.Info("server: stopped")
}

// requestLogger logs one line per request through slog.
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogMethod:  true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			slog.Default().Log(context.Background(), level, "http: request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	})
}
