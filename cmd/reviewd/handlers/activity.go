package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/openwiki/flaggedrevs/cmd/reviewd/service"
	"github.com/openwiki/flaggedrevs/common/logger"
)

// ActivityHandler handles the advisory "who is reviewing this" registry
type ActivityHandler struct {
	tracker *service.ActivityTracker
	log     *logger.Logger
}

// NewActivityHandler creates a new activity handler
func NewActivityHandler(tracker *service.ActivityTracker, log *logger.Logger) *ActivityHandler {
	return &ActivityHandler{tracker: tracker, log: log}
}

type activityRequest struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
}

// Claim marks the page as being reviewed by the user
// PUT /api/v1/pages/:id/activity
func (h *ActivityHandler) Claim(c echo.Context) error {
	pageID, err := pageParam(c)
	if err != nil {
		return err
	}
	req := &activityRequest{}
	if err := c.Bind(req); err != nil || req.UserID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	claimed, err := h.tracker.ClaimPage(c.Request().Context(), pageID, req.UserID, req.Name)
	if err != nil {
		h.log.Error("activity claim failed", "page_id", pageID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "activity claim failed")
	}
	if !claimed {
		holder, _ := h.tracker.WhoIsReviewingPage(c.Request().Context(), pageID)
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"claimed": false,
			"holder":  holder,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"claimed": true})
}

// Clear drops the user's claim on the page
// DELETE /api/v1/pages/:id/activity
func (h *ActivityHandler) Clear(c echo.Context) error {
	pageID, err := pageParam(c)
	if err != nil {
		return err
	}
	req := &activityRequest{}
	if err := c.Bind(req); err != nil || req.UserID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := h.tracker.ClearPage(c.Request().Context(), pageID, req.UserID); err != nil {
		h.log.Error("activity clear failed", "page_id", pageID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "activity clear failed")
	}
	return c.NoContent(http.StatusNoContent)
}

// Who returns the live claim on the page
// GET /api/v1/pages/:id/activity
func (h *ActivityHandler) Who(c echo.Context) error {
	pageID, err := pageParam(c)
	if err != nil {
		return err
	}
	holder, err := h.tracker.WhoIsReviewingPage(c.Request().Context(), pageID)
	if err != nil {
		h.log.Error("activity lookup failed", "page_id", pageID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "activity lookup failed")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"holder": holder})
}
