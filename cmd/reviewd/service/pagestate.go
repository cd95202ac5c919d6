package service

import (
	"context"
	"time"

	"github.com/openwiki/flaggedrevs/common/config"
	"github.com/openwiki/flaggedrevs/common/db"
	"github.com/openwiki/flaggedrevs/common/logger"
	"github.com/openwiki/flaggedrevs/common/models"
)

// PageStateService maintains the per-page review state projection. Both
// mutations must run on the same transaction as the flagged-revision write
// that triggered them, so the projection is never observed torn.
type PageStateService struct {
	states  PageStateStore
	links   LinkStore
	pageCfg PageConfigStore
	incl    *InclusionResolver
	cfg     *config.Config
	log     *logger.Logger
}

// NewPageStateService creates a new page-state service
func NewPageStateService(states PageStateStore, links LinkStore, pageCfg PageConfigStore, incl *InclusionResolver, cfg *config.Config, log *logger.Logger) *PageStateService {
	return &PageStateService{
		states:  states,
		links:   links,
		pageCfg: pageCfg,
		incl:    incl,
		cfg:     cfg,
		log:     log,
	}
}

// UpdateStableVersion rewrites the state row for the given stable
// revision. Pending-since is anchored to the earliest revision newer than
// the stable one and never moves later once set; a sync (stable pointer
// catching up with the latest revision, no pending inclusions) clears it.
func (s *PageStateService) UpdateStableVersion(ctx context.Context, q db.Querier, page *models.Page, stable *models.FlaggedRevision) (*models.PageReviewState, error) {
	prev, err := s.states.Get(ctx, q, page.ID)
	if err != nil {
		return nil, err
	}

	pending, err := s.incl.PendingChanges(ctx, q, page, stable)
	if err != nil {
		return nil, err
	}

	defaultStable := s.cfg.Review.StableDefault
	pc, err := s.pageCfg.Get(ctx, q, page.ID)
	if err != nil {
		return nil, err
	}
	if pc != nil {
		defaultStable = pc.Override
	}

	now := time.Now().UTC()
	st := &models.PageReviewState{
		PageID:        page.ID,
		StableRev:     stable.RevID,
		Tier:          stable.Tier,
		DefaultStable: defaultStable,
		LastChange:    now,
	}

	synced := stable.RevID == page.LatestRev && len(pending) == 0
	if !synced {
		since := now
		if stable.RevID != page.LatestRev {
			ts, err := s.links.MinRevTimestampAfter(ctx, q, page.ID, stable.RevTimestamp)
			if err != nil {
				return nil, err
			}
			if ts != nil {
				since = *ts
			}
		}
		if prev != nil && prev.PendingSince != nil && prev.PendingSince.Before(since) {
			since = *prev.PendingSince
		}
		st.PendingSince = &since
	}

	if err := s.states.Upsert(ctx, q, st); err != nil {
		return nil, err
	}

	s.log.Debug("page state updated",
		"page_id", page.ID,
		"stable_rev", st.StableRev,
		"tier", st.Tier.String(),
		"status", string(st.Status()),
	)
	return st, nil
}

// ClearStableVersion removes the state row entirely, returning the page to
// unreviewed
func (s *PageStateService) ClearStableVersion(ctx context.Context, q db.Querier, pageID int64) error {
	if err := s.states.Delete(ctx, q, pageID); err != nil {
		return err
	}
	s.log.Debug("page state cleared", "page_id", pageID)
	return nil
}
