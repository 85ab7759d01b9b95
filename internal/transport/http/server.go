// Package http provides the HTTP server for sync-scribe: the document API,
// the realtime WebSocket endpoint and health.
package http

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/auth"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/hub"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/service"
	v1 "github.com/vishnu-mouli-102408/sync-scribe/internal/transport/http/v1"
)

// Server is the public HTTP server.
type Server struct {
	echo *echo.Echo
	hub  *hub.Hub
}

// NewServer wires the routes. A nil verifier accepts dev identity headers.
func NewServer(svc *service.Service, h *hub.Hub, wsHandler echo.HandlerFunc, verifier *auth.Verifier) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo: e,
		hub:  h,
	}

	authenticate := auth.Middleware(verifier, svc.EnsureUser)

	e.GET("/health", s.handleHealth)
	e.GET("/ws", wsHandler, authenticate)

	v1Handler := v1.NewHandler(svc)
	v1Handler.RegisterRoutes(e.Group("/v1", authenticate))

	return s
}

// Echo exposes the underlying router.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"node":        s.hub.NodeID(),
		"subscribers": s.hub.GetSubscriberCount(),
		"topics":      s.hub.GetTopicCount(),
	})
}
