package service

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/openwiki/flaggedrevs/common/config"
	"github.com/openwiki/flaggedrevs/common/logger"
	"github.com/openwiki/flaggedrevs/common/models"
	"github.com/openwiki/flaggedrevs/common/tags"
)

// EditActor is the user responsible for an edit notification
type EditActor struct {
	ID     int64    `json:"id"`
	Name   string   `json:"name"`
	Rights []string `json:"rights"`
}

// AutoReviewer decides whether an incoming edit is reviewed automatically.
// Admission is a CEL expression over the user, the page and the revision;
// when it admits the edit, the flag set closest to the old stable flags
// that the user may set is computed and submitted through the normal
// review transaction with auto=true.
type AutoReviewer struct {
	program  cel.Program
	reviews  *ReviewService
	resolver *StableResolver
	pageCfg  PageConfigStore
	db       Database
	model    *tags.Model
	cfg      *config.Config
	log      *logger.Logger
}

// NewAutoReviewer compiles the admission policy and creates the reviewer.
// A policy that does not compile is a fatal configuration error.
func NewAutoReviewer(reviews *ReviewService, resolver *StableResolver, pageCfg PageConfigStore, database Database, model *tags.Model, cfg *config.Config, log *logger.Logger) (*AutoReviewer, error) {
	env, err := cel.NewEnv(
		cel.Variable("user", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("page", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("rev", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy environment: %w", err)
	}
	ast, issues := env.Compile(cfg.Review.AutoReviewPolicy)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile auto-review policy: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build auto-review policy: %w", err)
	}

	return &AutoReviewer{
		program:  prg,
		reviews:  reviews,
		resolver: resolver,
		pageCfg:  pageCfg,
		db:       database,
		model:    model,
		cfg:      cfg,
		log:      log,
	}, nil
}

// MaybeReview runs the admission policy for an edit and, when admitted,
// auto-approves the revision. A denied or inadmissible edit returns
// (nil, nil): auto-review aborting is never an error, the edit simply
// stays pending.
func (a *AutoReviewer) MaybeReview(ctx context.Context, page *models.Page, rev *models.Revision, actor EditActor, prevWasStable bool) (*ReviewOutcome, error) {
	admitted, err := a.admit(page, rev, actor, prevWasStable)
	if err != nil {
		a.log.Error("auto-review policy evaluation failed", "page_id", page.ID, "error", err)
		return nil, nil
	}
	if !admitted {
		return nil, nil
	}

	// Per-page restriction: auto-review may require an extra right
	pc, err := a.pageCfg.Get(ctx, a.db.Querier(), page.ID)
	if err != nil {
		return nil, err
	}
	if pc != nil && pc.AutoReviewRestriction != "" && !hasRight(actor.Rights, pc.AutoReviewRestriction) {
		a.log.Debug("auto-review restricted", "page_id", page.ID, "required", pc.AutoReviewRestriction)
		return nil, nil
	}

	var oldFlags tags.Flags
	stable, err := a.resolver.GetStable(ctx, a.db.Querier(), page.ID)
	if err != nil {
		return nil, err
	}
	if stable != nil {
		oldFlags = stable.Flags
	}

	flags := a.model.AutoReviewTags(actor.Rights, oldFlags)
	if flags == nil {
		a.log.Debug("auto-review aborted, no admissible flag set",
			"page_id", page.ID, "rev_id", rev.ID, "user_id", actor.ID)
		return nil, nil
	}

	return a.reviews.Submit(ctx, &ReviewSubmission{
		PageID:  page.ID,
		RevID:   rev.ID,
		Action:  models.ActionApprove,
		Flags:   flags,
		UserID:  actor.ID,
		Rights:  actor.Rights,
		Comment: "automatic review",
		Auto:    true,
	})
}

func (a *AutoReviewer) admit(page *models.Page, rev *models.Revision, actor EditActor, prevWasStable bool) (bool, error) {
	out, _, err := a.program.Eval(map[string]interface{}{
		"user": map[string]interface{}{
			"id":     actor.ID,
			"name":   actor.Name,
			"rights": actor.Rights,
		},
		"page": map[string]interface{}{
			"id":        page.ID,
			"namespace": page.Namespace,
			"title":     page.Title,
		},
		"rev": map[string]interface{}{
			"id":               rev.ID,
			"user_id":          rev.UserID,
			"parent_is_stable": prevWasStable,
		},
	})
	if err != nil {
		return false, fmt.Errorf("policy evaluation error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy did not return a boolean, got %T", out.Value())
	}
	return result, nil
}

func hasRight(rights []string, right string) bool {
	for _, r := range rights {
		if r == right {
			return true
		}
	}
	return false
}
