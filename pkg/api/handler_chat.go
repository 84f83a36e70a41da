package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/convobank/orchestrator/pkg/cache"
	"github.com/convobank/orchestrator/pkg/models"
	"github.com/convobank/orchestrator/pkg/services"
	"github.com/convobank/orchestrator/pkg/stream"
)

// chatHandler handles POST /chat. stream=true answers as server-sent
// events; stream=false collects the same pipeline into one JSON body equal
// to the terminal event payload.
func (s *Server) chatHandler(c *echo.Context) error {
	var req models.ConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.LastUserMessage() == "" {
		// Reject before the stream commits a 200.
		return services.ErrEmptyMessage
	}
	principal := principalFrom(c)

	if !req.Stream {
		collector := stream.NewCollector()
		if err := s.service.Handle(c.Request().Context(), principal, req, collector); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, collector.TerminalEvent())
	}

	emitter, err := stream.NewSSE(c.Response(), principal.CustomerID,
		s.cfg.Stream.ThinkingDropBytes, s.auditLog)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}

	// The stream is committed; failures from here on are narrated in-band
	// by the service (failed thinking step, plain-language terminal, [DONE]).
	if err := s.service.Handle(c.Request().Context(), principal, req, emitter); err != nil {
		return nil
	}
	return nil
}

// cacheInitializeHandler handles POST /cache/initialize: explicit warmup
// for the authenticated customer.
func (s *Server) cacheInitializeHandler(c *echo.Context) error {
	status := s.store.EnsurePopulated(principalFrom(c))

	// A freshly scheduled populate reports "ok"; the caller asked for
	// warmup and warmup is underway.
	reported := string(status)
	if status == cache.StatusScheduled {
		reported = "ok"
	}
	return c.JSON(http.StatusOK, map[string]string{"status": reported})
}

// conversationResetHandler handles POST /conversation/reset: drops the
// customer's conversation entry and escalation pin.
func (s *Server) conversationResetHandler(c *echo.Context) error {
	s.service.Reset(principalFrom(c).CustomerID)
	return c.JSON(http.StatusOK, map[string]string{"status": "reset"})
}
