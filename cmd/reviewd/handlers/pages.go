package handlers

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/openwiki/flaggedrevs/cmd/reviewd/service"
	"github.com/openwiki/flaggedrevs/common/logger"
)

// PageHandler serves the read paths and page settings
type PageHandler struct {
	query     *service.QueryService
	stability *service.StabilityService
	edits     *service.EditService
	resolver  *service.StableResolver
	log       *logger.Logger
}

// NewPageHandler creates a new page handler
func NewPageHandler(query *service.QueryService, stability *service.StabilityService, edits *service.EditService, resolver *service.StableResolver, log *logger.Logger) *PageHandler {
	return &PageHandler{
		query:     query,
		stability: stability,
		edits:     edits,
		resolver:  resolver,
		log:       log,
	}
}

// GetStable resolves the stable revision of a page
// GET /api/v1/pages/:id/stable?precedence=latest|quality|pristine
func (h *PageHandler) GetStable(c echo.Context) error {
	pageID, err := pageParam(c)
	if err != nil {
		return err
	}
	prec, err := service.ParsePrecedence(c.QueryParam("precedence"), h.resolver.SitePrecedence())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	view, err := h.query.Stable(c.Request().Context(), pageID, prec)
	if err != nil {
		h.log.Error("stable resolution failed", "page_id", pageID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "stable resolution failed")
	}
	if view.Stable == nil {
		return echo.NewHTTPError(http.StatusNotFound, "page has no stable version")
	}
	return c.JSON(http.StatusOK, view)
}

// GetState returns the page's review state and live pending inclusions
// GET /api/v1/pages/:id/state
func (h *PageHandler) GetState(c echo.Context) error {
	pageID, err := pageParam(c)
	if err != nil {
		return err
	}
	view, err := h.query.State(c.Request().Context(), pageID)
	if err != nil {
		h.log.Error("state lookup failed", "page_id", pageID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "state lookup failed")
	}
	return c.JSON(http.StatusOK, view)
}

// GetConfig returns the page's stability settings
// GET /api/v1/pages/:id/config
func (h *PageHandler) GetConfig(c echo.Context) error {
	pageID, err := pageParam(c)
	if err != nil {
		return err
	}
	pc, err := h.stability.Get(c.Request().Context(), pageID)
	if err != nil {
		h.log.Error("config lookup failed", "page_id", pageID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "config lookup failed")
	}
	return c.JSON(http.StatusOK, pc)
}

// PatchConfig applies a JSON merge patch to the stability settings
// PATCH /api/v1/pages/:id/config
func (h *PageHandler) PatchConfig(c echo.Context) error {
	pageID, err := pageParam(c)
	if err != nil {
		return err
	}
	patch, err := io.ReadAll(c.Request().Body)
	if err != nil || len(patch) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "missing patch body")
	}

	pc, err := h.stability.Patch(c.Request().Context(), pageID, patch)
	if err != nil {
		h.log.Error("config patch failed", "page_id", pageID, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pc)
}

// NotifyEdit ingests an edit notification
// POST /api/v1/pages/:id/edits
func (h *PageHandler) NotifyEdit(c echo.Context) error {
	pageID, err := pageParam(c)
	if err != nil {
		return err
	}

	notice := &service.EditNotice{}
	if err := c.Bind(notice); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	notice.Page.ID = pageID

	st, err := h.edits.NotifyEdit(c.Request().Context(), notice)
	if err != nil {
		h.log.Error("edit notification failed", "page_id", pageID, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	resp := map[string]interface{}{"page_id": pageID}
	if st != nil {
		resp["state"] = st
		resp["status"] = st.Status()
	}
	return c.JSON(http.StatusOK, resp)
}
