// Package v1 serves the document API.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers the document routes on an authenticated group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/documents", h.CreateDocument)
	g.GET("/documents", h.ListDocuments)
	g.GET("/documents/:id", h.GetDocument)
	g.PUT("/documents/:id", h.SaveDocument)
	g.DELETE("/documents/:id", h.DeleteDocument)

	g.GET("/documents/:id/shares", h.ListShares)
	g.POST("/documents/:id/shares", h.ShareDocument)
	g.DELETE("/documents/:id/shares/:user_id", h.RemoveShare)
}

func unauthenticated(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthenticated"})
}

// fail maps domain errors to status codes.
func fail(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
