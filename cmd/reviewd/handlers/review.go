package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/openwiki/flaggedrevs/cmd/reviewd/service"
	"github.com/openwiki/flaggedrevs/common/clients"
	"github.com/openwiki/flaggedrevs/common/logger"
	"github.com/openwiki/flaggedrevs/common/models"
)

// ReviewHandler handles review submissions
type ReviewHandler struct {
	reviews *service.ReviewService
	wiki    *clients.WikiClient
	log     *logger.Logger
}

// NewReviewHandler creates a new review handler. wiki may be nil when no
// wiki core endpoint is configured; rejects then report the revert target
// in the response only.
func NewReviewHandler(reviews *service.ReviewService, wiki *clients.WikiClient, log *logger.Logger) *ReviewHandler {
	return &ReviewHandler{reviews: reviews, wiki: wiki, log: log}
}

// snapshotTemplate is one captured template version in a review request
type snapshotTemplate struct {
	Namespace int    `json:"namespace"`
	Title     string `json:"title"`
	RevID     int64  `json:"rev_id"`
}

// snapshotFile is one captured file version in a review request
type snapshotFile struct {
	Name      string     `json:"name"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	SHA1      string     `json:"sha1,omitempty"`
}

type reviewRequest struct {
	RevID   int64          `json:"rev_id"`
	Action  string         `json:"action"`
	Flags   map[string]int `json:"flags"`
	UserID  int64          `json:"user_id"`
	Rights  []string       `json:"rights"`
	Comment string         `json:"comment"`
	// Conflict token: the last_change value the client observed
	LastChange time.Time `json:"last_change"`

	Templates []snapshotTemplate `json:"templates,omitempty"`
	Files     []snapshotFile     `json:"files,omitempty"`

	FileName      *string    `json:"file_name,omitempty"`
	FileSHA1      *string    `json:"file_sha1,omitempty"`
	FileTimestamp *time.Time `json:"file_timestamp,omitempty"`
}

// Submit handles a review submission
// POST /api/v1/pages/:id/review
func (h *ReviewHandler) Submit(c echo.Context) error {
	pageID, err := pageParam(c)
	if err != nil {
		return err
	}

	req := &reviewRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	sub := &service.ReviewSubmission{
		PageID:        pageID,
		RevID:         req.RevID,
		Action:        models.ReviewAction(req.Action),
		Flags:         req.Flags,
		UserID:        req.UserID,
		Rights:        req.Rights,
		Comment:       req.Comment,
		Token:         req.LastChange,
		FileName:      req.FileName,
		FileSHA1:      req.FileSHA1,
		FileTimestamp: req.FileTimestamp,
	}
	switch sub.Action {
	case models.ActionApprove, models.ActionUnapprove, models.ActionReject:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown action")
	}

	if req.Templates != nil {
		sub.Templates = make(map[models.TemplateKey]int64, len(req.Templates))
		for _, t := range req.Templates {
			sub.Templates[models.TemplateKey{Namespace: t.Namespace, Title: t.Title}] = t.RevID
		}
	}
	if req.Files != nil {
		sub.Files = make(map[string]models.FileIdentity, len(req.Files))
		for _, f := range req.Files {
			var fi models.FileIdentity
			if f.Timestamp != nil {
				fi.Timestamp = *f.Timestamp
			}
			fi.SHA1 = f.SHA1
			sub.Files[f.Name] = fi
		}
	}

	outcome, err := h.reviews.Submit(c.Request().Context(), sub)
	if err != nil {
		if outcome != nil {
			// Taxonomy failure: the outcome carries the status code
			return c.JSON(reviewFailureStatus(err), map[string]interface{}{
				"status": outcome.Status,
				"error":  err.Error(),
			})
		}
		h.log.Error("review submission failed", "page_id", pageID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "review submission failed")
	}

	if outcome.RevertRequested != nil && h.wiki != nil {
		// Hand the content revert to the wiki core. The unapprove is
		// already committed, so failures only get logged.
		target := outcome.RevertRequested.ToRevID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := h.wiki.RequestRevert(ctx, pageID, target, req.Comment); err != nil {
				h.log.Error("revert hand-off failed", "page_id", pageID, "to_rev_id", target, "error", err)
			}
		}()
	}

	return c.JSON(http.StatusOK, outcome)
}

// reviewFailureStatus maps the review failure taxonomy to HTTP statuses
func reviewFailureStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, models.ErrRevisionNotFound), errors.Is(err, models.ErrNotFlagged):
		return http.StatusNotFound
	case errors.Is(err, models.ErrRevisionSuppressed):
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

// pageParam parses the :id path parameter
func pageParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid page id")
	}
	return id, nil
}
