package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/openwiki/flaggedrevs/common/config"
	"github.com/openwiki/flaggedrevs/common/logger"
	"github.com/openwiki/flaggedrevs/common/models"
	"github.com/openwiki/flaggedrevs/common/tags"
)

// ReviewSubmission is one review request
type ReviewSubmission struct {
	PageID  int64
	RevID   int64
	Action  models.ReviewAction
	Flags   tags.Flags
	UserID  int64
	Rights  []string
	Comment string
	// Optimistic-concurrency token: the last state change the client
	// observed. Zero skips the check (automatic reviews).
	Token time.Time
	Auto  bool

	// Inclusion snapshot captured when the revision was parsed for review;
	// taken from the live link tables when nil
	Templates map[models.TemplateKey]int64
	Files     map[string]models.FileIdentity

	// File identity for file-page revisions
	FileName      *string
	FileSHA1      *string
	FileTimestamp *time.Time
}

// RevertRequest asks the edit collaborator to restore the page content to
// the given revision. Emitted by reject; the unapprove it performed stays
// committed even if the external revert later fails.
type RevertRequest struct {
	ToRevID int64 `json:"to_rev_id"`
}

// ReviewOutcome is the typed result of a review submission
type ReviewOutcome struct {
	Status          models.ReviewStatus     `json:"status"`
	Tier            tags.Tier               `json:"tier"`
	OldStable       int64                   `json:"old_stable"`
	NewStable       int64                   `json:"new_stable"`
	State           *models.PageReviewState `json:"state,omitempty"`
	RevertRequested *RevertRequest          `json:"revert_requested,omitempty"`
}

// ReviewService runs review transactions: the concurrency-controlled
// approve/unapprove/reject operation over the flagged-revision store and
// the page state projection
type ReviewService struct {
	db        Database
	frs       FlaggedRevStore
	states    PageStateStore
	links     LinkStore
	logStore  ReviewLogStore
	resolver  *StableResolver
	pageState *PageStateService
	deps      *DependencyUpdater
	purger    Purger
	model     *tags.Model
	cfg       *config.Config
	log       *logger.Logger
}

// NewReviewService creates a new review service
func NewReviewService(
	database Database,
	frs FlaggedRevStore,
	states PageStateStore,
	links LinkStore,
	logStore ReviewLogStore,
	resolver *StableResolver,
	pageState *PageStateService,
	deps *DependencyUpdater,
	purger Purger,
	model *tags.Model,
	cfg *config.Config,
	log *logger.Logger,
) *ReviewService {
	return &ReviewService{
		db:        database,
		frs:       frs,
		states:    states,
		links:     links,
		logStore:  logStore,
		resolver:  resolver,
		pageState: pageState,
		deps:      deps,
		purger:    purger,
		model:     model,
		cfg:       cfg,
		log:       log,
	}
}

// Submit runs one review transaction. All precondition checks and the
// stable recomputation run on the same transaction as the write, under the
// page's state row lock, so concurrent submissions for one page serialize.
// Taxonomy errors come back alongside an outcome carrying the status code;
// storage errors roll the transaction back and are returned as-is.
func (s *ReviewService) Submit(ctx context.Context, sub *ReviewSubmission) (*ReviewOutcome, error) {
	outcome := &ReviewOutcome{}
	var change models.StableChange
	var stale bool

	err := s.db.WithinTx(ctx, func(tx pgx.Tx) error {
		page, rev, prev, err := s.checkPreconditions(ctx, tx, sub)
		if err != nil {
			return err
		}
		if prev != nil {
			outcome.OldStable = prev.StableRev
		}

		existing, err := s.frs.Get(ctx, tx, sub.PageID, sub.RevID)
		if err != nil {
			return err
		}

		var oldFile models.FileIdentity
		if prev != nil && prev.StableRev != 0 {
			if oldFR, err := s.frs.Get(ctx, tx, sub.PageID, prev.StableRev); err != nil {
				return err
			} else if oldFR != nil {
				oldFile = oldFR.FileIdentityOf()
			}
		}

		switch sub.Action {
		case models.ActionApprove:
			dup, err := s.approve(ctx, tx, sub, rev, existing, outcome)
			if err != nil {
				return err
			}
			if dup {
				outcome.Status = models.StatusDuplicate
				outcome.State = prev
				return nil
			}
			outcome.Status = models.StatusApproved
		case models.ActionUnapprove, models.ActionReject:
			if existing == nil {
				return models.ErrNotFlagged
			}
			// Removal drops every tag to zero, so it requires the same
			// permission over the existing values that setting them would
			if !s.model.UserCanSetFlags(sub.Rights, existing.Flags, existing.Flags) {
				return models.ErrPermissionDenied
			}
			if err := s.frs.Delete(ctx, tx, sub.PageID, sub.RevID); err != nil {
				return err
			}
			outcome.Status = models.StatusUnapproved
		default:
			return fmt.Errorf("unknown review action %q", sub.Action)
		}

		newStable, err := s.resolver.DetermineStable(ctx, tx, page, s.resolver.SitePrecedence())
		if err != nil {
			return err
		}
		if newStable != nil {
			outcome.NewStable = newStable.RevID
			outcome.Tier = newStable.Tier
			outcome.State, err = s.pageState.UpdateStableVersion(ctx, tx, page, newStable)
		} else {
			err = s.pageState.ClearStableVersion(ctx, tx, sub.PageID)
			outcome.State = nil
		}
		if err != nil {
			return err
		}

		if sub.Action == models.ActionReject {
			outcome.RevertRequested = &RevertRequest{ToRevID: outcome.NewStable}
		}

		change, stale = s.resolver.StableVersionUpdates(sub.PageID, outcome.OldStable, oldFile, newStable)

		return s.logStore.Append(ctx, tx, &models.ReviewLogEntry{
			PageID:    sub.PageID,
			RevID:     sub.RevID,
			UserID:    sub.UserID,
			Action:    sub.Action,
			OldStable: outcome.OldStable,
			NewStable: outcome.NewStable,
			Comment:   sub.Comment,
			Auto:      sub.Auto,
		})
	})
	if err != nil {
		if status := models.StatusFor(err); status != "" {
			outcome.Status = status
			return outcome, err
		}
		return nil, err
	}

	if outcome.Status == models.StatusDuplicate {
		return outcome, nil
	}

	s.afterCommit(ctx, sub.PageID, change, stale)

	s.log.Info("review submitted",
		"page_id", sub.PageID,
		"rev_id", sub.RevID,
		"action", string(sub.Action),
		"status", string(outcome.Status),
		"new_stable", outcome.NewStable,
		"auto", sub.Auto,
	)
	return outcome, nil
}

// checkPreconditions validates the structural preconditions and takes the
// page's state row lock. Everything here is checked before any write.
func (s *ReviewService) checkPreconditions(ctx context.Context, tx pgx.Tx, sub *ReviewSubmission) (*models.Page, *models.Revision, *models.PageReviewState, error) {
	page, err := s.links.GetPage(ctx, tx, sub.PageID)
	if err != nil {
		return nil, nil, nil, err
	}
	if page == nil {
		return nil, nil, nil, models.ErrPageNotReviewable
	}
	ok, err := s.resolver.Reviewable(ctx, tx, page)
	if err != nil {
		return nil, nil, nil, err
	}
	if !ok {
		return nil, nil, nil, models.ErrPageNotReviewable
	}

	rev, err := s.links.GetRevision(ctx, tx, sub.RevID)
	if err != nil {
		return nil, nil, nil, err
	}
	if rev == nil || rev.PageID != sub.PageID {
		return nil, nil, nil, models.ErrRevisionNotFound
	}
	if rev.Deleted {
		return nil, nil, nil, models.ErrRevisionSuppressed
	}

	prev, err := s.states.GetForUpdate(ctx, tx, sub.PageID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !sub.Token.IsZero() && prev != nil && prev.LastChange.After(sub.Token) {
		return nil, nil, nil, models.ErrConflict
	}
	return page, rev, prev, nil
}

// approve validates flags and rights, then inserts the flagged revision
// with its snapshot. Returns true when an identical record already exists
// (idempotent no-op).
func (s *ReviewService) approve(ctx context.Context, tx pgx.Tx, sub *ReviewSubmission, rev *models.Revision, existing *models.FlaggedRevision, outcome *ReviewOutcome) (bool, error) {
	if !s.model.FlagsAreValid(sub.Flags) {
		return false, models.ErrInvalidFlags
	}
	var oldFlags tags.Flags
	if existing != nil {
		oldFlags = existing.Flags
	}
	if !s.model.UserCanSetFlags(sub.Rights, sub.Flags, oldFlags) {
		return false, models.ErrPermissionDenied
	}
	if existing != nil {
		return true, nil
	}

	fr := &models.FlaggedRevision{
		PageID:        sub.PageID,
		RevID:         sub.RevID,
		RevTimestamp:  rev.Timestamp,
		UserID:        sub.UserID,
		Timestamp:     time.Now().UTC(),
		Tier:          s.model.QualityTierOf(sub.Flags),
		Flags:         sub.Flags,
		FileName:      sub.FileName,
		FileSHA1:      sub.FileSHA1,
		FileTimestamp: sub.FileTimestamp,
		Templates:     sub.Templates,
		Files:         sub.Files,
	}
	if fr.Templates == nil {
		templates, err := s.links.CurrentTemplateVersions(ctx, tx, sub.PageID)
		if err != nil {
			return false, err
		}
		fr.Templates = templates
	}
	if fr.Files == nil {
		files, err := s.links.CurrentFileVersions(ctx, tx, sub.PageID)
		if err != nil {
			return false, err
		}
		fr.Files = files
	}

	inserted, err := s.frs.Insert(ctx, tx, fr)
	if err != nil {
		return false, err
	}
	return !inserted, nil
}

// afterCommit signals the caches and refreshes dependency tracking once
// the transaction is durable
func (s *ReviewService) afterCommit(ctx context.Context, pageID int64, change models.StableChange, stale bool) {
	if stale && s.purger != nil {
		if err := s.purger.PublishStableChange(ctx, change); err != nil {
			s.log.Error("failed to publish stable change", "page_id", pageID, "error", err)
		}
	}
	if s.deps != nil {
		if err := s.deps.Sync(ctx, pageID); err != nil {
			s.log.Error("failed to refresh dependencies", "page_id", pageID, "error", err)
		}
	}
}
