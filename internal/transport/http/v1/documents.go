package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/auth"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
)

// CreateDocument handles POST /v1/documents.
func (h *Handler) CreateDocument(c echo.Context) error {
	user := auth.UserFromContext(c)
	if user == nil {
		return unauthenticated(c)
	}

	var req domain.CreateDocumentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	doc, err := h.service.CreateDocument(c.Request().Context(), user.ID, req.Content)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, doc)
}

// ListDocuments handles GET /v1/documents.
func (h *Handler) ListDocuments(c echo.Context) error {
	user := auth.UserFromContext(c)
	if user == nil {
		return unauthenticated(c)
	}

	docs, err := h.service.ListDocuments(c.Request().Context(), user.ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"documents": docs,
	})
}

// GetDocument handles GET /v1/documents/:id.
func (h *Handler) GetDocument(c echo.Context) error {
	user := auth.UserFromContext(c)
	if user == nil {
		return unauthenticated(c)
	}

	doc, err := h.service.GetDocument(c.Request().Context(), c.Param("id"), user.ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, doc)
}

// SaveDocument handles PUT /v1/documents/:id. It responds with the new
// content state; the version is bumped on every call.
func (h *Handler) SaveDocument(c echo.Context) error {
	user := auth.UserFromContext(c)
	if user == nil {
		return unauthenticated(c)
	}

	var req domain.UpdateDocumentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Content == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "content is required"})
	}

	state, err := h.service.Save(c.Request().Context(), c.Param("id"), user.ID, *req.Content)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

// DeleteDocument handles DELETE /v1/documents/:id.
func (h *Handler) DeleteDocument(c echo.Context) error {
	user := auth.UserFromContext(c)
	if user == nil {
		return unauthenticated(c)
	}

	if err := h.service.DeleteDocument(c.Request().Context(), c.Param("id"), user.ID); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListShares handles GET /v1/documents/:id/shares.
func (h *Handler) ListShares(c echo.Context) error {
	user := auth.UserFromContext(c)
	if user == nil {
		return unauthenticated(c)
	}

	shares, err := h.service.ListShares(c.Request().Context(), c.Param("id"), user.ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"shares": shares,
	})
}

// ShareDocument handles POST /v1/documents/:id/shares.
func (h *Handler) ShareDocument(c echo.Context) error {
	user := auth.UserFromContext(c)
	if user == nil {
		return unauthenticated(c)
	}

	var req domain.ShareDocumentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Email) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "email is required"})
	}

	share, err := h.service.ShareDocument(c.Request().Context(), c.Param("id"), user.ID, req.Email)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, share)
}

// RemoveShare handles DELETE /v1/documents/:id/shares/:user_id.
func (h *Handler) RemoveShare(c echo.Context) error {
	user := auth.UserFromContext(c)
	if user == nil {
		return unauthenticated(c)
	}

	err := h.service.RemoveShare(c.Request().Context(), c.Param("id"), user.ID, c.Param("user_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
