// Package api is the orchestrator's client-facing HTTP surface: the chat
// endpoint (SSE or JSON), explicit cache warmup, conversation reset, and
// health. Handlers stay thin; the conversation pipeline lives in services.
package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/convobank/orchestrator/pkg/audit"
	"github.com/convobank/orchestrator/pkg/auth"
	"github.com/convobank/orchestrator/pkg/cache"
	"github.com/convobank/orchestrator/pkg/config"
	"github.com/convobank/orchestrator/pkg/services"
)

// Server is the HTTP server.
type Server struct {
	echo     *echo.Echo
	srv      *http.Server
	cfg      *config.Config
	resolver *auth.Resolver
	service  *services.ConversationService
	store    *cache.Store
	auditLog audit.Auditor
}

// NewServer creates the API server and registers its routes.
func NewServer(
	cfg *config.Config,
	resolver *auth.Resolver,
	service *services.ConversationService,
	store *cache.Store,
	auditLog audit.Auditor,
) *Server {
	s := &Server{
		echo:     echo.New(),
		cfg:      cfg,
		resolver: resolver,
		service:  service,
		store:    store,
		auditLog: auditLog,
	}
	s.echo.HTTPErrorHandler = s.errorHandler
	s.srv = &http.Server{Handler: s.echo}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.Use(requestID(), securityHeaders())

	s.echo.GET("/healthz", s.healthHandler)

	authed := s.echo.Group("", s.requireAuth())
	authed.POST("/chat", s.chatHandler)
	authed.POST("/cache/initialize", s.cacheInitializeHandler)
	authed.POST("/conversation/reset", s.conversationResetHandler)
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start(addr string) error {
	s.srv.Addr = addr
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// healthHandler always answers 200 so probes stay simple; component trouble
// shows up in the body.
func (s *Server) healthHandler(c *echo.Context) error {
	components := map[string]string{"cache": "ok", "audit": "ok"}
	if err := s.store.Check(); err != nil {
		components["cache"] = err.Error()
	}
	if hc, ok := s.auditLog.(interface{ Healthy() bool }); ok && !hc.Healthy() {
		components["audit"] = "writer stopped"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":     "ok",
		"components": components,
	})
}
