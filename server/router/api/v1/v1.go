// Package v1 is the dashboard-facing HTTP API of the assistant
// conversation engine.
package v1

import (
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/semaphore"

	"github.com/platewise/platewise/assistant/metrics"
	"github.com/platewise/platewise/assistant/runner"
	"github.com/platewise/platewise/assistant/session"
	"github.com/platewise/platewise/backend"
	"github.com/platewise/platewise/internal/profile"
	"github.com/platewise/platewise/plugin/markdown"
	"github.com/platewise/platewise/server/auth"
)

// APIV1Service bundles the engine components behind the v1 routes.
type APIV1Service struct {
	Profile    *profile.Profile
	Controller *runner.Controller
	Sessions   *session.Manager
	Backend    *backend.Client
	Markdown   markdown.Service
	Metrics    *metrics.Exporter

	// turnSemaphore bounds turns executing concurrently across all
	// sessions.
	turnSemaphore *semaphore.Weighted
	limiter       *callerLimiter
}

// NewAPIV1Service wires the v1 service.
func NewAPIV1Service(
	p *profile.Profile,
	controller *runner.Controller,
	sessions *session.Manager,
	backendClient *backend.Client,
	exporter *metrics.Exporter,
) *APIV1Service {
	return &APIV1Service{
		Profile:       p,
		Controller:    controller,
		Sessions:      sessions,
		Backend:       backendClient,
		Markdown:      markdown.NewService(),
		Metrics:       exporter,
		turnSemaphore: semaphore.NewWeighted(p.MaxConcurrentTurns),
		limiter:       newCallerLimiter(20, 5), // 20 turns/min, burst 5
	}
}

// RegisterRoutes mounts the v1 API under the given group.
func (s *APIV1Service) RegisterRoutes(g *echo.Group) {
	g.Use(auth.Middleware(s.Profile.Secret))

	g.POST("/assistant/chat", s.Chat)
	g.POST("/assistant/chat/stream", s.ChatStream)
	g.POST("/assistant/conversations/new", s.NewConversation)
	g.GET("/assistant/conversations/current", s.CurrentConversation)
	g.POST("/assistant/threads/resolve", s.ResolveThread)
}
