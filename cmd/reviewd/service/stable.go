package service

import (
	"context"
	"fmt"
	"time"

	"github.com/openwiki/flaggedrevs/common/config"
	"github.com/openwiki/flaggedrevs/common/db"
	"github.com/openwiki/flaggedrevs/common/logger"
	"github.com/openwiki/flaggedrevs/common/models"
	"github.com/openwiki/flaggedrevs/common/tags"
)

// Precedence is the tier search order used when resolving the stable
// revision
type Precedence string

const (
	// PrecedenceLatest: newest flagged revision of any tier
	PrecedenceLatest Precedence = "latest"
	// PrecedenceQuality: prefer quality-or-better tiers, newest wins within
	// a tier
	PrecedenceQuality Precedence = "quality"
	// PrecedencePristine: a pristine revision short-circuits the search
	PrecedencePristine Precedence = "pristine"
)

// ParsePrecedence parses a precedence name ("" falls back to def)
func ParsePrecedence(s string, def Precedence) (Precedence, error) {
	switch Precedence(s) {
	case PrecedenceLatest, PrecedenceQuality, PrecedencePristine:
		return Precedence(s), nil
	case "":
		return def, nil
	default:
		return def, fmt.Errorf("unknown precedence %q", s)
	}
}

// StableResolver determines the current stable revision of a page under
// the tiered precedence policy
type StableResolver struct {
	frs     FlaggedRevStore
	states  PageStateStore
	pageCfg PageConfigStore
	model   *tags.Model
	cfg     *config.Config
	log     *logger.Logger
}

// NewStableResolver creates a new stable-version resolver
func NewStableResolver(frs FlaggedRevStore, states PageStateStore, pageCfg PageConfigStore, model *tags.Model, cfg *config.Config, log *logger.Logger) *StableResolver {
	return &StableResolver{
		frs:     frs,
		states:  states,
		pageCfg: pageCfg,
		model:   model,
		cfg:     cfg,
		log:     log,
	}
}

// SitePrecedence returns the configured default precedence
func (r *StableResolver) SitePrecedence() Precedence {
	p, _ := ParsePrecedence(r.cfg.Review.Precedence, PrecedenceQuality)
	return p
}

// Reviewable reports whether the page can have a stable version at all.
// Under protection mode a page must be explicitly configured.
func (r *StableResolver) Reviewable(ctx context.Context, q db.Querier, page *models.Page) (bool, error) {
	if !r.cfg.InReviewNamespace(page.Namespace) {
		return false, nil
	}
	if r.cfg.Review.ProtectionMode {
		pc, err := r.pageCfg.Get(ctx, q, page.ID)
		if err != nil {
			return false, err
		}
		if pc == nil || !pc.Override {
			return false, nil
		}
	}
	return true, nil
}

// DetermineStable recomputes the stable revision from scratch, ignoring
// the cached pointer. Tiered candidates are searched newest-first; a
// pristine candidate wins outright under pristine precedence, a quality
// candidate must be newer than the best pristine one to displace it, and
// when no tiered candidate exists (or precedence is latest) the newest
// flagged revision of any tier is used. Returns nil when the page has no
// flagged revision or is not reviewable.
func (r *StableResolver) DetermineStable(ctx context.Context, q db.Querier, page *models.Page, prec Precedence) (*models.FlaggedRevision, error) {
	ok, err := r.Reviewable(ctx, q, page)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var pristine *models.FlaggedRevision
	if prec != PrecedenceLatest && r.model.PristineTiers() {
		pristine, err = r.frs.Newest(ctx, q, page.ID, tags.TierPristine, time.Time{})
		if err != nil {
			return nil, err
		}
		if pristine != nil && prec == PrecedencePristine {
			return pristine, nil
		}
	}

	if prec != PrecedenceLatest && r.model.QualityTiers() {
		var after time.Time
		if pristine != nil {
			after = pristine.RevTimestamp
		}
		quality, err := r.frs.Newest(ctx, q, page.ID, tags.TierQuality, after)
		if err != nil {
			return nil, err
		}
		if quality != nil {
			return quality, nil
		}
	}
	if pristine != nil {
		return pristine, nil
	}

	return r.frs.Newest(ctx, q, page.ID, tags.TierUnrated, time.Time{})
}

// GetStable returns the flagged revision the cached state pointer refers
// to, or nil when the page has none
func (r *StableResolver) GetStable(ctx context.Context, q db.Querier, pageID int64) (*models.FlaggedRevision, error) {
	st, err := r.states.Get(ctx, q, pageID)
	if err != nil {
		return nil, err
	}
	if st == nil || st.StableRev == 0 {
		return nil, nil
	}
	return r.frs.Get(ctx, q, pageID, st.StableRev)
}

// StableVersionUpdates compares the previous stable pointer against the
// newly resolved one and reports whether externally cached renderings are
// now stale: the revision id changed, or the stable file identity changed
// while the inclusion policy lets file versions affect the rendering.
func (r *StableResolver) StableVersionUpdates(pageID, oldRev int64, oldFile models.FileIdentity, newFR *models.FlaggedRevision) (models.StableChange, bool) {
	var newRev int64
	var newFile models.FileIdentity
	if newFR != nil {
		newRev = newFR.RevID
		newFile = newFR.FileIdentityOf()
	}

	fileChanged := r.cfg.Review.Inclusions != config.IncludesCurrent && !oldFile.Equal(newFile)
	stale := oldRev != newRev || fileChanged
	return models.StableChange{
		PageID:      pageID,
		OldRev:      oldRev,
		NewRev:      newRev,
		FileChanged: fileChanged,
	}, stale
}
