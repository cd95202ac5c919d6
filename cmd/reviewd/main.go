package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/openwiki/flaggedrevs/cmd/reviewd/container"
	"github.com/openwiki/flaggedrevs/cmd/reviewd/repository"
	"github.com/openwiki/flaggedrevs/cmd/reviewd/routes"
	"github.com/openwiki/flaggedrevs/common/bootstrap"
	"github.com/openwiki/flaggedrevs/common/config"
	"github.com/openwiki/flaggedrevs/common/db"
	commonmw "github.com/openwiki/flaggedrevs/common/middleware"
	"github.com/openwiki/flaggedrevs/common/server"
	"github.com/openwiki/flaggedrevs/common/telemetry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := bootstrap.Setup(ctx, "reviewd",
		bootstrap.WithDBInitHook(func(database *db.DB) error {
			return repository.EnsureSchema(database)
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap reviewd: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	// Deferred dependency refreshes run in a background consumer
	if components.Config.Review.DepsMode == config.DepsDeferred {
		go func() {
			if err := serviceContainer.DepsUpdater.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				components.Logger.Error("dependency worker stopped", "error", err)
			}
		}()
	}

	if components.Config.Service.PprofPort > 0 {
		tel := telemetry.New(components.Config.Service.PprofPort, components.Logger)
		if err := tel.Start(ctx); err != nil {
			components.Logger.Warn("telemetry start failed", "error", err)
		}
	}

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, components)

	// Service-wide throttle ahead of all API routes
	if serviceContainer.RateLimiter != nil {
		rl := components.Config.RateLimit
		e.Use(commonmw.GlobalRateLimitMiddleware(serviceContainer.RateLimiter, rl.GlobalLimit, rl.WindowSeconds))
	}

	registerRoutes(e, serviceContainer)

	srv := server.New("reviewd", components.Config.Service.Port, e, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "reviewd",
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterPageRoutes(e, serviceContainer)
	routes.RegisterSiteRoutes(e, serviceContainer)
}
