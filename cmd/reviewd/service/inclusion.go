package service

import (
	"context"
	"sort"

	"github.com/openwiki/flaggedrevs/common/config"
	"github.com/openwiki/flaggedrevs/common/db"
	"github.com/openwiki/flaggedrevs/common/logger"
	"github.com/openwiki/flaggedrevs/common/models"
)

// InclusionResolver computes which templates and files used by a page's
// current draft have diverged from the versions its stable rendering
// would use under the configured inclusion policy
type InclusionResolver struct {
	links LinkStore
	frs   FlaggedRevStore
	cfg   *config.Config
	log   *logger.Logger
}

// NewInclusionResolver creates a new inclusion resolver
func NewInclusionResolver(links LinkStore, frs FlaggedRevStore, cfg *config.Config, log *logger.Logger) *InclusionResolver {
	return &InclusionResolver{
		links: links,
		frs:   frs,
		cfg:   cfg,
		log:   log,
	}
}

// PendingChanges returns the templates and files whose live version
// diverged from the version the stable rendering uses. Under the
// "current" policy the stable rendering always uses live versions, so the
// result is empty by definition. The stable revision's snapshot is loaded
// if the caller has not done so.
func (r *InclusionResolver) PendingChanges(ctx context.Context, q db.Querier, page *models.Page, stable *models.FlaggedRevision) ([]models.PendingInclusion, error) {
	if r.cfg.Review.Inclusions == config.IncludesCurrent {
		return nil, nil
	}
	if stable.Templates == nil || stable.Files == nil {
		if err := r.frs.LoadSnapshot(ctx, q, stable); err != nil {
			return nil, err
		}
	}

	var pending []models.PendingInclusion

	templates, err := r.pendingTemplates(ctx, q, page, stable)
	if err != nil {
		return nil, err
	}
	pending = append(pending, templates...)

	files, err := r.pendingFiles(ctx, q, page, stable)
	if err != nil {
		return nil, err
	}
	pending = append(pending, files...)

	return pending, nil
}

func (r *InclusionResolver) pendingTemplates(ctx context.Context, q db.Querier, page *models.Page, stable *models.FlaggedRevision) ([]models.PendingInclusion, error) {
	live, err := r.links.CurrentTemplateVersions(ctx, q, page.ID)
	if err != nil {
		return nil, err
	}

	keys := make([]models.TemplateKey, 0, len(live))
	for key := range live {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Namespace != keys[j].Namespace {
			return keys[i].Namespace < keys[j].Namespace
		}
		return keys[i].Title < keys[j].Title
	})

	var pending []models.PendingInclusion
	for _, key := range keys {
		// A page transcluding itself is never its own pending change
		if key.Namespace == page.Namespace && key.Title == page.Title {
			continue
		}

		liveRev := live[key]
		used := stable.Templates[key]
		// Whether the target has a stable version of its own is reported
		// under every inclusion policy; only the stable policy folds it
		// into the used version
		stableRev, err := r.links.StableRevOf(ctx, q, key.Namespace, key.Title)
		if err != nil {
			return nil, err
		}
		if r.cfg.Review.Inclusions == config.IncludesStable && stableRev > used {
			// The stable rendering uses the newer of the target's own
			// stable version and the snapshot version
			used = stableRev
		}

		changed, err := r.templateChanged(ctx, q, liveRev, used)
		if err != nil {
			return nil, err
		}
		if changed {
			pending = append(pending, models.PendingInclusion{
				Namespace:        key.Namespace,
				Title:            key.Title,
				UsedRev:          used,
				HadStableVersion: stableRev != 0,
			})
		}
	}
	return pending, nil
}

// templateChanged reports whether the live target version diverged from
// the used one. Distinct revision ids with identical text (a null edit,
// e.g. a protection change) do not count.
func (r *InclusionResolver) templateChanged(ctx context.Context, q db.Querier, liveRev, usedRev int64) (bool, error) {
	switch {
	case liveRev != 0 && usedRev == 0:
		return true, nil // created since review
	case liveRev == 0 && usedRev != 0:
		return true, nil // deleted since review
	case liveRev == 0 || liveRev == usedRev:
		return false, nil
	}
	liveSHA, err := r.links.TextSHA1(ctx, q, liveRev)
	if err != nil {
		return false, err
	}
	usedSHA, err := r.links.TextSHA1(ctx, q, usedRev)
	if err != nil {
		return false, err
	}
	if liveSHA == "" || usedSHA == "" {
		return true, nil
	}
	return liveSHA != usedSHA, nil
}

func (r *InclusionResolver) pendingFiles(ctx context.Context, q db.Querier, page *models.Page, stable *models.FlaggedRevision) ([]models.PendingInclusion, error) {
	live, err := r.links.CurrentFileVersions(ctx, q, page.ID)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(live))
	for name := range live {
		names = append(names, name)
	}
	sort.Strings(names)

	var pending []models.PendingInclusion
	for _, name := range names {
		liveFI := live[name]
		used := stable.Files[name]
		stableFI, err := r.links.StableFileVersion(ctx, q, name)
		if err != nil {
			return nil, err
		}
		if r.cfg.Review.Inclusions == config.IncludesStable && stableFI.Timestamp.After(used.Timestamp) {
			used = stableFI
		}

		if fileChanged(liveFI, used) {
			p := models.PendingInclusion{
				Namespace:        nsFile,
				Title:            name,
				HadStableVersion: stableFI.Exists(),
			}
			if used.Exists() {
				ts := used.Timestamp
				p.UsedTimestamp = &ts
			}
			pending = append(pending, p)
		}
	}
	return pending, nil
}

// nsFile is the file namespace number
const nsFile = 6

// fileChanged reports whether a file diverged from the used identity:
// uploaded since review, deleted since review, or replaced by different
// content. A re-upload of byte-identical content is not a change.
func fileChanged(live, used models.FileIdentity) bool {
	switch {
	case live.Exists() && !used.Exists():
		return true
	case !live.Exists() && used.Exists():
		return true
	case live.Exists() && used.Exists():
		return live.SHA1 != used.SHA1
	}
	return false
}
