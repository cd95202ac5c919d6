package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/openwiki/flaggedrevs/cmd/reviewd/container"
	"github.com/openwiki/flaggedrevs/cmd/reviewd/handlers"
)

// RegisterSiteRoutes registers site-wide routes
func RegisterSiteRoutes(e *echo.Echo, c *container.Container) {
	flagConfig := handlers.NewFlagConfigHandler(c.Components.Tags)

	e.GET("/api/v1/flagconfig", flagConfig.Get)
}
