package service

import (
	"context"
	"encoding/json"

	"github.com/openwiki/flaggedrevs/common/cache"
	"github.com/openwiki/flaggedrevs/common/logger"
	"github.com/openwiki/flaggedrevs/common/models"
)

// StateView is the read model served for a page: the stored projection
// plus the live pending-inclusion list
type StateView struct {
	PageID  int64                     `json:"page_id"`
	Status  models.SyncStatus         `json:"status"`
	State   *models.PageReviewState   `json:"state,omitempty"`
	Pending []models.PendingInclusion `json:"pending_inclusions,omitempty"`
}

// StableView is the resolved stable revision served to viewers
type StableView struct {
	PageID int64                   `json:"page_id"`
	Stable *models.FlaggedRevision `json:"stable"`
}

// QueryService serves the lock-free read paths: resolving the stable
// revision for viewers and reporting page state. Stable resolutions under
// the site default precedence are cached; concurrent cache misses for one
// page share a single recomputation.
type QueryService struct {
	db       Database
	states   PageStateStore
	links    LinkStore
	frs      FlaggedRevStore
	resolver *StableResolver
	incl     *InclusionResolver
	parse    *cache.ParseCache
	log      *logger.Logger
}

// NewQueryService creates a new query service
func NewQueryService(database Database, states PageStateStore, links LinkStore, frs FlaggedRevStore, resolver *StableResolver, incl *InclusionResolver, parse *cache.ParseCache, log *logger.Logger) *QueryService {
	return &QueryService{
		db:       database,
		states:   states,
		links:    links,
		frs:      frs,
		resolver: resolver,
		incl:     incl,
		parse:    parse,
		log:      log,
	}
}

// Stable resolves the stable revision of a page. Results for the site
// default precedence come from the single-flight cache; explicit
// precedences always recompute. Returns nil when the page has no stable
// version.
func (s *QueryService) Stable(ctx context.Context, pageID int64, prec Precedence) (*StableView, error) {
	if s.parse == nil || prec != s.resolver.SitePrecedence() {
		return s.resolveStable(ctx, pageID, prec)
	}

	key := cache.Key(pageID, 0, stableCacheFingerprint)
	raw, err := s.parse.GetOrRender(ctx, key, func(ctx context.Context) ([]byte, error) {
		view, err := s.resolveStable(ctx, pageID, prec)
		if err != nil {
			return nil, err
		}
		return json.Marshal(view)
	})
	if err != nil {
		return nil, err
	}
	view := &StableView{}
	if err := json.Unmarshal(raw, view); err != nil {
		return nil, err
	}
	return view, nil
}

func (s *QueryService) resolveStable(ctx context.Context, pageID int64, prec Precedence) (*StableView, error) {
	page, err := s.links.GetPage(ctx, s.db.Querier(), pageID)
	if err != nil {
		return nil, err
	}
	view := &StableView{PageID: pageID}
	if page == nil {
		return view, nil
	}
	view.Stable, err = s.resolver.DetermineStable(ctx, s.db.Querier(), page, prec)
	if err != nil {
		return nil, err
	}
	return view, nil
}

// State returns the stored projection together with the live
// pending-inclusion list computed against the current link tables
func (s *QueryService) State(ctx context.Context, pageID int64) (*StateView, error) {
	view := &StateView{PageID: pageID, Status: models.SyncUnreviewed}

	st, err := s.states.Get(ctx, s.db.Querier(), pageID)
	if err != nil {
		return nil, err
	}
	if st == nil || st.StableRev == 0 {
		return view, nil
	}
	view.State = st
	view.Status = st.Status()

	page, err := s.links.GetPage(ctx, s.db.Querier(), pageID)
	if err != nil {
		return nil, err
	}
	stable, err := s.frs.Get(ctx, s.db.Querier(), pageID, st.StableRev)
	if err != nil {
		return nil, err
	}
	if page == nil || stable == nil {
		return view, nil
	}

	view.Pending, err = s.incl.PendingChanges(ctx, s.db.Querier(), page, stable)
	if err != nil {
		return nil, err
	}
	if len(view.Pending) > 0 {
		view.Status = models.SyncPending
	}
	return view, nil
}
