package service

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/openwiki/flaggedrevs/common/config"
	"github.com/openwiki/flaggedrevs/common/logger"
	"github.com/openwiki/flaggedrevs/common/models"
	"github.com/openwiki/flaggedrevs/common/queue"
)

// depsTopic is the stream carrying deferred dependency-refresh work
const depsTopic = "fr:deps"

// depsJob is the payload published for deferred refreshes
type depsJob struct {
	PageID int64 `json:"page_id"`
}

// DependencyUpdater keeps the stable-only dependency rows of a page in
// step with its stable snapshot: targets the stable rendering uses that
// the draft no longer links. Refresh work either runs in the calling
// request or is deferred to a queue consumer, selected by configuration.
type DependencyUpdater struct {
	db     Database
	deps   DepsStore
	links  LinkStore
	frs    FlaggedRevStore
	states PageStateStore
	queue  queue.Queue
	cfg    *config.Config
	log    *logger.Logger
}

// NewDependencyUpdater creates a new dependency updater
func NewDependencyUpdater(database Database, deps DepsStore, links LinkStore, frs FlaggedRevStore, states PageStateStore, q queue.Queue, cfg *config.Config, log *logger.Logger) *DependencyUpdater {
	return &DependencyUpdater{
		db:     database,
		deps:   deps,
		links:  links,
		frs:    frs,
		states: states,
		queue:  q,
		cfg:    cfg,
		log:    log,
	}
}

// Sync refreshes dependency rows in the configured mode
func (u *DependencyUpdater) Sync(ctx context.Context, pageID int64) error {
	if u.cfg.Review.DepsMode == config.DepsDeferred && u.queue != nil {
		return u.Defer(ctx, pageID)
	}
	return u.Refresh(ctx, pageID)
}

// Defer publishes a refresh job for the background consumer
func (u *DependencyUpdater) Defer(ctx context.Context, pageID int64) error {
	payload, err := json.Marshal(depsJob{PageID: pageID})
	if err != nil {
		return err
	}
	return u.queue.Publish(ctx, depsTopic, strconv.FormatInt(pageID, 10), payload)
}

// Run consumes deferred refresh jobs until ctx is cancelled. Started as a
// background goroutine by the service when deferred mode is configured.
func (u *DependencyUpdater) Run(ctx context.Context) error {
	u.log.Info("dependency worker started", "topic", depsTopic)
	return u.queue.Subscribe(ctx, depsTopic, func(ctx context.Context, key string, value []byte) error {
		var job depsJob
		if err := json.Unmarshal(value, &job); err != nil {
			u.log.Error("malformed dependency job", "key", key, "error", err)
			return nil // do not redeliver garbage
		}
		return u.Refresh(ctx, job.PageID)
	})
}

// Refresh diffs the stable rendering's link set against the draft's and
// applies only the difference to the dependency rows
func (u *DependencyUpdater) Refresh(ctx context.Context, pageID int64) error {
	q := u.db.Querier()

	st, err := u.states.Get(ctx, q, pageID)
	if err != nil {
		return err
	}
	if st == nil || st.StableRev == 0 {
		return u.deps.Clear(ctx, q, pageID)
	}

	stable, err := u.frs.Get(ctx, q, pageID, st.StableRev)
	if err != nil {
		return err
	}
	if stable == nil {
		return u.deps.Clear(ctx, q, pageID)
	}
	if err := u.frs.LoadSnapshot(ctx, q, stable); err != nil {
		return err
	}

	stableSet := make(map[models.Dependency]struct{})
	for key := range stable.Templates {
		stableSet[models.Dependency{FromPage: pageID, Namespace: key.Namespace, Title: key.Title}] = struct{}{}
	}
	for name := range stable.Files {
		stableSet[models.Dependency{FromPage: pageID, Namespace: nsFile, Title: name}] = struct{}{}
	}

	// Subtract what the draft still links
	draftTemplates, err := u.links.CurrentTemplateVersions(ctx, q, pageID)
	if err != nil {
		return err
	}
	for key := range draftTemplates {
		delete(stableSet, models.Dependency{FromPage: pageID, Namespace: key.Namespace, Title: key.Title})
	}
	draftFiles, err := u.links.CurrentFileVersions(ctx, q, pageID)
	if err != nil {
		return err
	}
	for name := range draftFiles {
		delete(stableSet, models.Dependency{FromPage: pageID, Namespace: nsFile, Title: name})
	}

	existing, err := u.deps.ListForPage(ctx, q, pageID)
	if err != nil {
		return err
	}
	existingSet := make(map[models.Dependency]struct{}, len(existing))
	for _, d := range existing {
		existingSet[d] = struct{}{}
	}

	var add, remove []models.Dependency
	for d := range stableSet {
		if _, ok := existingSet[d]; !ok {
			add = append(add, d)
		}
	}
	for _, d := range existing {
		if _, ok := stableSet[d]; !ok {
			remove = append(remove, d)
		}
	}
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}

	u.log.Debug("dependency rows updated", "page_id", pageID, "added", len(add), "removed", len(remove))
	return u.deps.Apply(ctx, q, add, remove)
}

// Dependents returns the pages whose stable rendering depends on the
// given target through a stable-only link
func (u *DependencyUpdater) Dependents(ctx context.Context, namespace int, title string) ([]int64, error) {
	return u.deps.PagesDependingOn(ctx, u.db.Querier(), namespace, title)
}
