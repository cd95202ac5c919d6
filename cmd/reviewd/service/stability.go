package service

import (
	"context"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/jackc/pgx/v5"
	"github.com/openwiki/flaggedrevs/common/logger"
	"github.com/openwiki/flaggedrevs/common/models"
)

// StabilityService manages per-page stability settings. Changing them can
// add or remove the page's stable version entirely (protection mode), so
// every change recomputes the review state transactionally.
type StabilityService struct {
	db        Database
	pageCfg   PageConfigStore
	links     LinkStore
	frs       FlaggedRevStore
	resolver  *StableResolver
	pageState *PageStateService
	purger    Purger
	log       *logger.Logger
}

// NewStabilityService creates a new stability service
func NewStabilityService(database Database, pageCfg PageConfigStore, links LinkStore, frs FlaggedRevStore, resolver *StableResolver, pageState *PageStateService, purger Purger, log *logger.Logger) *StabilityService {
	return &StabilityService{
		db:        database,
		pageCfg:   pageCfg,
		links:     links,
		frs:       frs,
		resolver:  resolver,
		pageState: pageState,
		purger:    purger,
		log:       log,
	}
}

// Get returns the page's stability settings, a default document when the
// page has none
func (s *StabilityService) Get(ctx context.Context, pageID int64) (*models.PageStabilityConfig, error) {
	pc, err := s.pageCfg.Get(ctx, s.db.Querier(), pageID)
	if err != nil {
		return nil, err
	}
	if pc == nil {
		pc = &models.PageStabilityConfig{PageID: pageID}
	}
	return pc, nil
}

// Patch applies a JSON merge patch to the settings document, stores the
// result, and recomputes the page's review state under the new settings
func (s *StabilityService) Patch(ctx context.Context, pageID int64, patch []byte) (*models.PageStabilityConfig, error) {
	current, err := s.Get(ctx, pageID)
	if err != nil {
		return nil, err
	}
	original, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}
	merged, err := jsonpatch.MergePatch(original, patch)
	if err != nil {
		return nil, fmt.Errorf("invalid merge patch: %w", err)
	}
	next := &models.PageStabilityConfig{}
	if err := json.Unmarshal(merged, next); err != nil {
		return nil, fmt.Errorf("invalid settings document: %w", err)
	}
	next.PageID = pageID

	var change models.StableChange
	var stale bool
	err = s.db.WithinTx(ctx, func(tx pgx.Tx) error {
		if err := s.pageCfg.Upsert(ctx, tx, next); err != nil {
			return err
		}

		page, err := s.links.GetPage(ctx, tx, pageID)
		if err != nil || page == nil {
			return err
		}
		prev, err := s.pageState.states.GetForUpdate(ctx, tx, pageID)
		if err != nil {
			return err
		}
		var oldRev int64
		var oldFile models.FileIdentity
		if prev != nil && prev.StableRev != 0 {
			oldRev = prev.StableRev
			if oldFR, err := s.frs.Get(ctx, tx, pageID, oldRev); err != nil {
				return err
			} else if oldFR != nil {
				oldFile = oldFR.FileIdentityOf()
			}
		}

		stable, err := s.resolver.DetermineStable(ctx, tx, page, s.resolver.SitePrecedence())
		if err != nil {
			return err
		}
		if stable != nil {
			if _, err := s.pageState.UpdateStableVersion(ctx, tx, page, stable); err != nil {
				return err
			}
		} else if prev != nil {
			if err := s.pageState.ClearStableVersion(ctx, tx, pageID); err != nil {
				return err
			}
		}

		change, stale = s.resolver.StableVersionUpdates(pageID, oldRev, oldFile, stable)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if stale && s.purger != nil {
		if err := s.purger.PublishStableChange(ctx, change); err != nil {
			s.log.Error("failed to publish stable change", "page_id", pageID, "error", err)
		}
	}

	s.log.Info("page stability settings changed",
		"page_id", pageID,
		"override", next.Override,
		"autoreview", next.AutoReviewRestriction,
	)
	return next, nil
}
