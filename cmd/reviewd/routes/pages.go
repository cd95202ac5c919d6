package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/openwiki/flaggedrevs/cmd/reviewd/container"
	"github.com/openwiki/flaggedrevs/cmd/reviewd/handlers"
	"github.com/openwiki/flaggedrevs/common/middleware"
)

// RegisterPageRoutes registers all per-page routes
func RegisterPageRoutes(e *echo.Echo, c *container.Container) {
	review := handlers.NewReviewHandler(c.ReviewService, c.WikiClient, c.Components.Logger)
	page := handlers.NewPageHandler(c.QueryService, c.StabilityService, c.EditService, c.StableResolver, c.Components.Logger)
	activity := handlers.NewActivityHandler(c.ActivityTracker, c.Components.Logger)

	// Review submissions carry a per-reviewer quota on top of the
	// service-wide limit applied in main
	var reviewGuards []echo.MiddlewareFunc
	if c.RateLimiter != nil {
		rl := c.Components.Config.RateLimit
		reviewGuards = append(reviewGuards,
			middleware.ReviewerRateLimitMiddleware(c.RateLimiter, rl.ReviewerLimit, rl.WindowSeconds))
	}

	pages := e.Group("/api/v1/pages")
	{
		pages.POST("/:id/review", review.Submit, reviewGuards...) // POST /api/v1/pages/7/review
		pages.GET("/:id/stable", page.GetStable)                  // GET /api/v1/pages/7/stable?precedence=quality
		pages.GET("/:id/state", page.GetState)                    // GET /api/v1/pages/7/state
		pages.GET("/:id/config", page.GetConfig)                  // GET /api/v1/pages/7/config
		pages.PATCH("/:id/config", page.PatchConfig)              // PATCH /api/v1/pages/7/config
		pages.POST("/:id/edits", page.NotifyEdit)                 // POST /api/v1/pages/7/edits
		pages.PUT("/:id/activity", activity.Claim)                // PUT /api/v1/pages/7/activity
		pages.GET("/:id/activity", activity.Who)                  // GET /api/v1/pages/7/activity
		pages.DELETE("/:id/activity", activity.Clear)             // DELETE /api/v1/pages/7/activity
	}
}
