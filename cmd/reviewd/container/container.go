package container

import (
	"fmt"

	"github.com/openwiki/flaggedrevs/cmd/reviewd/repository"
	"github.com/openwiki/flaggedrevs/cmd/reviewd/service"
	"github.com/openwiki/flaggedrevs/common/bootstrap"
	"github.com/openwiki/flaggedrevs/common/cache"
	"github.com/openwiki/flaggedrevs/common/clients"
	"github.com/openwiki/flaggedrevs/common/config"
	"github.com/openwiki/flaggedrevs/common/queue"
	"github.com/openwiki/flaggedrevs/common/ratelimit"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	Components *bootstrap.Components

	// Repositories
	FlaggedRevRepo *repository.FlaggedRevRepository
	PageStateRepo  *repository.PageStateRepository
	LinkRepo       *repository.LinkRepository
	DepsRepo       *repository.DepsRepository
	PageConfigRepo *repository.PageConfigRepository
	ReviewLogRepo  *repository.ReviewLogRepository

	// Services
	StableResolver    *service.StableResolver
	InclusionResolver *service.InclusionResolver
	PageStateService  *service.PageStateService
	DepsUpdater       *service.DependencyUpdater
	ReviewService     *service.ReviewService
	AutoReviewer      *service.AutoReviewer
	EditService       *service.EditService
	StabilityService  *service.StabilityService
	QueryService      *service.QueryService
	ActivityTracker   *service.ActivityTracker
	ParseCache        *cache.ParseCache
	DepsQueue         queue.Queue
	RateLimiter       *ratelimit.RateLimiter
	WikiClient        *clients.WikiClient
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger
	model := components.Tags

	// Repositories
	frRepo := repository.NewFlaggedRevRepository(components.DB, model)
	stateRepo := repository.NewPageStateRepository(components.DB)
	linkRepo := repository.NewLinkRepository(components.DB)
	depsRepo := repository.NewDepsRepository(components.DB)
	pageCfgRepo := repository.NewPageConfigRepository(components.DB)
	logRepo := repository.NewReviewLogRepository(components.DB)

	// Deferred dependency work goes over a redis stream so it survives
	// restarts; a memory queue backs immediate mode and tests
	var depsQueue queue.Queue
	if cfg.Review.DepsMode == config.DepsDeferred && components.Redis != nil {
		depsQueue = queue.NewRedisStreamQueue(components.Redis, "reviewd", cfg.Service.Name, log)
	} else {
		depsQueue = queue.NewMemoryQueue(log)
	}

	var parseCache *cache.ParseCache
	if components.Cache != nil {
		parseCache = cache.NewParseCache(components.Cache, cfg.Cache.DefaultTTL)
	}

	// Services (bottom-up: dependencies first)
	resolver := service.NewStableResolver(frRepo, stateRepo, pageCfgRepo, model, cfg, log)
	inclusion := service.NewInclusionResolver(linkRepo, frRepo, cfg, log)
	pageState := service.NewPageStateService(stateRepo, linkRepo, pageCfgRepo, inclusion, cfg, log)
	deps := service.NewDependencyUpdater(components.DB, depsRepo, linkRepo, frRepo, stateRepo, depsQueue, cfg, log)
	purger := service.NewRedisPurger(components.Redis, parseCache, log)

	reviews := service.NewReviewService(
		components.DB,
		frRepo,
		stateRepo,
		linkRepo,
		logRepo,
		resolver,
		pageState,
		deps,
		purger,
		model,
		cfg,
		log,
	)

	auto, err := service.NewAutoReviewer(reviews, resolver, pageCfgRepo, components.DB, model, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auto-reviewer: %w", err)
	}

	edits := service.NewEditService(
		components.DB,
		linkRepo,
		stateRepo,
		frRepo,
		resolver,
		pageState,
		auto,
		deps,
		purger,
		cfg,
		log,
	)

	stability := service.NewStabilityService(components.DB, pageCfgRepo, linkRepo, frRepo, resolver, pageState, purger, log)
	query := service.NewQueryService(components.DB, stateRepo, linkRepo, frRepo, resolver, inclusion, parseCache, log)
	activity := service.NewActivityTracker(components.Redis, cfg.Review.ActivityTTL, log)

	var limiter *ratelimit.RateLimiter
	if cfg.RateLimit.Enabled && components.Redis != nil {
		limiter = ratelimit.NewRateLimiter(components.Redis.GetUnderlying(), log)
	}

	// Rejects hand the actual content revert back to the wiki core
	var wiki *clients.WikiClient
	if cfg.Review.WikiBaseURL != "" {
		wiki = clients.NewWikiClient(cfg.Review.WikiBaseURL, log)
	}

	return &Container{
		Components:        components,
		FlaggedRevRepo:    frRepo,
		PageStateRepo:     stateRepo,
		LinkRepo:          linkRepo,
		DepsRepo:          depsRepo,
		PageConfigRepo:    pageCfgRepo,
		ReviewLogRepo:     logRepo,
		StableResolver:    resolver,
		InclusionResolver: inclusion,
		PageStateService:  pageState,
		DepsUpdater:       deps,
		ReviewService:     reviews,
		AutoReviewer:      auto,
		EditService:       edits,
		StabilityService:  stability,
		QueryService:      query,
		ActivityTracker:   activity,
		ParseCache:        parseCache,
		DepsQueue:         depsQueue,
		RateLimiter:       limiter,
		WikiClient:        wiki,
	}, nil
}
