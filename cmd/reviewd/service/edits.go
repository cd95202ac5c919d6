package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/openwiki/flaggedrevs/common/config"
	"github.com/openwiki/flaggedrevs/common/logger"
	"github.com/openwiki/flaggedrevs/common/models"
)

// FileUpload carries the current identity of a file for edits to file
// pages
type FileUpload struct {
	Name     string              `json:"name"`
	Identity models.FileIdentity `json:"identity"`
}

// EditNotice is the wiki's notification of a new revision: the page, the
// revision, who made it, and the link sets of the new parse
type EditNotice struct {
	Page          models.Page          `json:"page"`
	Revision      models.Revision      `json:"revision"`
	Actor         EditActor            `json:"actor"`
	TemplateLinks []models.TemplateKey `json:"template_links"`
	FileLinks     []string             `json:"file_links"`
	File          *FileUpload          `json:"file,omitempty"`
}

// EditService ingests edit notifications: it mirrors the page, revision
// and link-table rows, moves the page's review state to pending, attempts
// auto-review, and invalidates the stable caches of pages that depend on
// the edited target
type EditService struct {
	db        Database
	links     LinkStore
	states    PageStateStore
	frs       FlaggedRevStore
	resolver  *StableResolver
	pageState *PageStateService
	auto      *AutoReviewer
	deps      *DependencyUpdater
	purger    Purger
	cfg       *config.Config
	log       *logger.Logger
}

// NewEditService creates a new edit service
func NewEditService(
	database Database,
	links LinkStore,
	states PageStateStore,
	frs FlaggedRevStore,
	resolver *StableResolver,
	pageState *PageStateService,
	auto *AutoReviewer,
	deps *DependencyUpdater,
	purger Purger,
	cfg *config.Config,
	log *logger.Logger,
) *EditService {
	return &EditService{
		db:        database,
		links:     links,
		states:    states,
		frs:       frs,
		resolver:  resolver,
		pageState: pageState,
		auto:      auto,
		deps:      deps,
		purger:    purger,
		cfg:       cfg,
		log:       log,
	}
}

// NotifyEdit records a new revision and recomputes the page's review
// state. Pages outside the review namespaces still get their page,
// revision and link rows mirrored (they may be templates of reviewed
// pages) but carry no review state.
func (s *EditService) NotifyEdit(ctx context.Context, n *EditNotice) (*models.PageReviewState, error) {
	if n.Page.ID == 0 || n.Revision.ID == 0 {
		return nil, fmt.Errorf("edit notice missing page or revision id")
	}
	n.Revision.PageID = n.Page.ID

	var st *models.PageReviewState
	var prevLatest int64

	err := s.db.WithinTx(ctx, func(tx pgx.Tx) error {
		old, err := s.links.GetPage(ctx, tx, n.Page.ID)
		if err != nil {
			return err
		}
		if old != nil {
			prevLatest = old.LatestRev
		}

		n.Page.LatestRev = n.Revision.ID
		if err := s.links.UpsertPage(ctx, tx, &n.Page); err != nil {
			return err
		}
		if err := s.links.InsertRevision(ctx, tx, &n.Revision); err != nil {
			return err
		}
		if err := s.links.ReplaceTemplateLinks(ctx, tx, n.Page.ID, n.TemplateLinks); err != nil {
			return err
		}
		if err := s.links.ReplaceFileLinks(ctx, tx, n.Page.ID, n.FileLinks); err != nil {
			return err
		}
		if n.File != nil {
			if err := s.links.UpsertFileVersion(ctx, tx, n.File.Name, n.Page.ID, n.File.Identity); err != nil {
				return err
			}
		}

		// The edit moves a reviewed page to pending unless the new
		// revision is already the stable one
		cur, err := s.states.GetForUpdate(ctx, tx, n.Page.ID)
		if err != nil {
			return err
		}
		if cur == nil || cur.StableRev == 0 {
			return nil
		}
		stable, err := s.frs.Get(ctx, tx, n.Page.ID, cur.StableRev)
		if err != nil {
			return err
		}
		if stable == nil {
			return s.pageState.ClearStableVersion(ctx, tx, n.Page.ID)
		}
		st, err = s.pageState.UpdateStableVersion(ctx, tx, &n.Page, stable)
		return err
	})
	if err != nil {
		return nil, err
	}

	reviewable, err := s.resolver.Reviewable(ctx, s.db.Querier(), &n.Page)
	if err != nil {
		return nil, err
	}
	if reviewable && s.auto != nil {
		prevWasStable := st != nil && st.StableRev == prevLatest && prevLatest != 0
		outcome, err := s.auto.MaybeReview(ctx, &n.Page, &n.Revision, n.Actor, prevWasStable)
		if err != nil {
			s.log.Error("auto-review failed", "page_id", n.Page.ID, "rev_id", n.Revision.ID, "error", err)
		} else if outcome != nil && outcome.Status == models.StatusApproved {
			st = outcome.State
		}
	}

	s.invalidateDependents(ctx, &n.Page)

	if s.deps != nil {
		if err := s.deps.Sync(ctx, n.Page.ID); err != nil {
			s.log.Error("failed to refresh dependencies", "page_id", n.Page.ID, "error", err)
		}
	}

	return st, nil
}

// invalidateDependents purges pages whose stable rendering uses the edited
// target through a stable-only link. Their stable pointer is unchanged;
// only the cached rendering is stale.
func (s *EditService) invalidateDependents(ctx context.Context, page *models.Page) {
	if s.deps == nil || s.purger == nil {
		return
	}
	if s.cfg.Review.Inclusions == config.IncludesCurrent {
		return
	}
	dependents, err := s.deps.Dependents(ctx, page.Namespace, page.Title)
	if err != nil {
		s.log.Error("failed to list dependents", "page_id", page.ID, "error", err)
		return
	}
	for _, dep := range dependents {
		st, err := s.states.Get(ctx, s.db.Querier(), dep)
		if err != nil || st == nil {
			continue
		}
		change := models.StableChange{PageID: dep, OldRev: st.StableRev, NewRev: st.StableRev}
		if err := s.purger.PublishStableChange(ctx, change); err != nil {
			s.log.Error("failed to purge dependent", "page_id", dep, "error", err)
		}
	}
}
