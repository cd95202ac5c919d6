package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/openwiki/flaggedrevs/common/config"
	"github.com/openwiki/flaggedrevs/common/db"
	"github.com/openwiki/flaggedrevs/common/logger"
	"github.com/openwiki/flaggedrevs/common/models"
	"github.com/openwiki/flaggedrevs/common/tags"
)

// In-memory store fakes. Every store method takes a Querier so the real
// repositories can run on the caller's transaction; the fakes ignore it.

type fakeDB struct{}

func (fakeDB) Querier() db.Querier { return nil }

func (fakeDB) WithinTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

type fakeFlaggedRevs struct {
	revs map[int64]map[int64]*models.FlaggedRevision
}

func newFakeFlaggedRevs() *fakeFlaggedRevs {
	return &fakeFlaggedRevs{revs: make(map[int64]map[int64]*models.FlaggedRevision)}
}

func (f *fakeFlaggedRevs) Get(_ context.Context, _ db.Querier, pageID, revID int64) (*models.FlaggedRevision, error) {
	fr, ok := f.revs[pageID][revID]
	if !ok {
		return nil, nil
	}
	cp := *fr
	return &cp, nil
}

func (f *fakeFlaggedRevs) Newest(_ context.Context, _ db.Querier, pageID int64, minTier tags.Tier, newerThan time.Time) (*models.FlaggedRevision, error) {
	var best *models.FlaggedRevision
	for _, fr := range f.revs[pageID] {
		if fr.Tier < minTier {
			continue
		}
		if !newerThan.IsZero() && !fr.RevTimestamp.After(newerThan) {
			continue
		}
		if best == nil ||
			fr.RevTimestamp.After(best.RevTimestamp) ||
			(fr.RevTimestamp.Equal(best.RevTimestamp) && fr.RevID > best.RevID) {
			best = fr
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (f *fakeFlaggedRevs) Insert(_ context.Context, _ db.Querier, fr *models.FlaggedRevision) (bool, error) {
	if _, ok := f.revs[fr.PageID][fr.RevID]; ok {
		return false, nil
	}
	if f.revs[fr.PageID] == nil {
		f.revs[fr.PageID] = make(map[int64]*models.FlaggedRevision)
	}
	cp := *fr
	f.revs[fr.PageID][fr.RevID] = &cp
	return true, nil
}

func (f *fakeFlaggedRevs) Delete(_ context.Context, _ db.Querier, pageID, revID int64) error {
	delete(f.revs[pageID], revID)
	return nil
}

func (f *fakeFlaggedRevs) LoadSnapshot(_ context.Context, _ db.Querier, fr *models.FlaggedRevision) error {
	if stored, ok := f.revs[fr.PageID][fr.RevID]; ok {
		fr.Templates = stored.Templates
		fr.Files = stored.Files
	}
	if fr.Templates == nil {
		fr.Templates = map[models.TemplateKey]int64{}
	}
	if fr.Files == nil {
		fr.Files = map[string]models.FileIdentity{}
	}
	return nil
}

type fakeStates struct {
	states map[int64]*models.PageReviewState
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: make(map[int64]*models.PageReviewState)}
}

func (f *fakeStates) Get(_ context.Context, _ db.Querier, pageID int64) (*models.PageReviewState, error) {
	st, ok := f.states[pageID]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (f *fakeStates) GetForUpdate(ctx context.Context, q db.Querier, pageID int64) (*models.PageReviewState, error) {
	return f.Get(ctx, q, pageID)
}

func (f *fakeStates) Upsert(_ context.Context, _ db.Querier, st *models.PageReviewState) error {
	cp := *st
	f.states[st.PageID] = &cp
	return nil
}

func (f *fakeStates) Delete(_ context.Context, _ db.Querier, pageID int64) error {
	delete(f.states, pageID)
	return nil
}

type fakeLinks struct {
	pages         map[int64]*models.Page
	revs          map[int64]*models.Revision
	templateLinks map[int64][]models.TemplateKey
	fileLinks     map[int64][]string
	fileVersions  map[string]models.FileIdentity
	stableRevs    map[models.TemplateKey]int64
	stableFiles   map[string]models.FileIdentity
}

func newFakeLinks() *fakeLinks {
	return &fakeLinks{
		pages:         make(map[int64]*models.Page),
		revs:          make(map[int64]*models.Revision),
		templateLinks: make(map[int64][]models.TemplateKey),
		fileLinks:     make(map[int64][]string),
		fileVersions:  make(map[string]models.FileIdentity),
		stableRevs:    make(map[models.TemplateKey]int64),
		stableFiles:   make(map[string]models.FileIdentity),
	}
}

func (f *fakeLinks) GetPage(_ context.Context, _ db.Querier, pageID int64) (*models.Page, error) {
	p, ok := f.pages[pageID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeLinks) GetPageByTitle(_ context.Context, _ db.Querier, namespace int, title string) (*models.Page, error) {
	for _, p := range f.pages {
		if p.Namespace == namespace && p.Title == title {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeLinks) UpsertPage(_ context.Context, _ db.Querier, p *models.Page) error {
	cp := *p
	f.pages[p.ID] = &cp
	return nil
}

func (f *fakeLinks) GetRevision(_ context.Context, _ db.Querier, revID int64) (*models.Revision, error) {
	r, ok := f.revs[revID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeLinks) InsertRevision(_ context.Context, _ db.Querier, rev *models.Revision) error {
	cp := *rev
	f.revs[rev.ID] = &cp
	return nil
}

func (f *fakeLinks) TextSHA1(_ context.Context, _ db.Querier, revID int64) (string, error) {
	if r, ok := f.revs[revID]; ok {
		return r.TextSHA1, nil
	}
	return "", nil
}

func (f *fakeLinks) MinRevTimestampAfter(_ context.Context, _ db.Querier, pageID int64, after time.Time) (*time.Time, error) {
	var min *time.Time
	for _, r := range f.revs {
		if r.PageID != pageID || r.Deleted || !r.Timestamp.After(after) {
			continue
		}
		if min == nil || r.Timestamp.Before(*min) {
			ts := r.Timestamp
			min = &ts
		}
	}
	return min, nil
}

func (f *fakeLinks) ReplaceTemplateLinks(_ context.Context, _ db.Querier, pageID int64, links []models.TemplateKey) error {
	f.templateLinks[pageID] = append([]models.TemplateKey(nil), links...)
	return nil
}

func (f *fakeLinks) ReplaceFileLinks(_ context.Context, _ db.Querier, pageID int64, names []string) error {
	f.fileLinks[pageID] = append([]string(nil), names...)
	return nil
}

func (f *fakeLinks) CurrentTemplateVersions(ctx context.Context, q db.Querier, pageID int64) (map[models.TemplateKey]int64, error) {
	out := make(map[models.TemplateKey]int64, len(f.templateLinks[pageID]))
	for _, key := range f.templateLinks[pageID] {
		var latest int64
		if p, _ := f.GetPageByTitle(ctx, q, key.Namespace, key.Title); p != nil {
			latest = p.LatestRev
		}
		out[key] = latest
	}
	return out, nil
}

func (f *fakeLinks) CurrentFileVersions(_ context.Context, _ db.Querier, pageID int64) (map[string]models.FileIdentity, error) {
	out := make(map[string]models.FileIdentity, len(f.fileLinks[pageID]))
	for _, name := range f.fileLinks[pageID] {
		out[name] = f.fileVersions[name]
	}
	return out, nil
}

func (f *fakeLinks) UpsertFileVersion(_ context.Context, _ db.Querier, name string, _ int64, fi models.FileIdentity) error {
	f.fileVersions[name] = fi
	return nil
}

func (f *fakeLinks) StableRevOf(_ context.Context, _ db.Querier, namespace int, title string) (int64, error) {
	return f.stableRevs[models.TemplateKey{Namespace: namespace, Title: title}], nil
}

func (f *fakeLinks) StableFileVersion(_ context.Context, _ db.Querier, name string) (models.FileIdentity, error) {
	return f.stableFiles[name], nil
}

type fakeDeps struct {
	rows []models.Dependency
}

func (f *fakeDeps) ListForPage(_ context.Context, _ db.Querier, pageID int64) ([]models.Dependency, error) {
	var out []models.Dependency
	for _, d := range f.rows {
		if d.FromPage == pageID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDeps) Apply(_ context.Context, _ db.Querier, add, remove []models.Dependency) error {
	drop := make(map[models.Dependency]struct{}, len(remove))
	for _, d := range remove {
		drop[d] = struct{}{}
	}
	kept := f.rows[:0]
	for _, d := range f.rows {
		if _, ok := drop[d]; !ok {
			kept = append(kept, d)
		}
	}
	f.rows = append(kept, add...)
	return nil
}

func (f *fakeDeps) Clear(_ context.Context, _ db.Querier, pageID int64) error {
	kept := f.rows[:0]
	for _, d := range f.rows {
		if d.FromPage != pageID {
			kept = append(kept, d)
		}
	}
	f.rows = kept
	return nil
}

func (f *fakeDeps) PagesDependingOn(_ context.Context, _ db.Querier, namespace int, title string) ([]int64, error) {
	var out []int64
	for _, d := range f.rows {
		if d.Namespace == namespace && d.Title == title {
			out = append(out, d.FromPage)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

type fakePageCfg struct {
	configs map[int64]*models.PageStabilityConfig
}

func newFakePageCfg() *fakePageCfg {
	return &fakePageCfg{configs: make(map[int64]*models.PageStabilityConfig)}
}

func (f *fakePageCfg) Get(_ context.Context, _ db.Querier, pageID int64) (*models.PageStabilityConfig, error) {
	pc, ok := f.configs[pageID]
	if !ok {
		return nil, nil
	}
	cp := *pc
	return &cp, nil
}

func (f *fakePageCfg) Upsert(_ context.Context, _ db.Querier, pc *models.PageStabilityConfig) error {
	cp := *pc
	f.configs[pc.PageID] = &cp
	return nil
}

func (f *fakePageCfg) Delete(_ context.Context, _ db.Querier, pageID int64) error {
	delete(f.configs, pageID)
	return nil
}

type fakeReviewLog struct {
	entries []*models.ReviewLogEntry
}

func (f *fakeReviewLog) Append(_ context.Context, _ db.Querier, entry *models.ReviewLogEntry) error {
	cp := *entry
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	f.entries = append(f.entries, &cp)
	return nil
}

func (f *fakeReviewLog) ListForPage(_ context.Context, _ db.Querier, pageID int64, limit int) ([]*models.ReviewLogEntry, error) {
	var out []*models.ReviewLogEntry
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if f.entries[i].PageID == pageID {
			out = append(out, f.entries[i])
		}
	}
	return out, nil
}

type fakePurger struct {
	changes []models.StableChange
}

func (f *fakePurger) PublishStableChange(_ context.Context, change models.StableChange) error {
	f.changes = append(f.changes, change)
	return nil
}

// testEnv wires the services over the fakes the way the container wires
// them over the repositories
type testEnv struct {
	cfg       *config.Config
	model     *tags.Model
	frs       *fakeFlaggedRevs
	states    *fakeStates
	links     *fakeLinks
	deps      *fakeDeps
	pageCfg   *fakePageCfg
	reviewLog *fakeReviewLog
	purger    *fakePurger

	resolver  *StableResolver
	incl      *InclusionResolver
	pageState *PageStateService
	updater   *DependencyUpdater
	reviews   *ReviewService
}

func testTagModel(t testingT) *tags.Model {
	m, err := tags.NewModel(map[string]tags.TagConfig{
		"accuracy": {Levels: 3, QualityMin: 2, PristineMin: 3, MaxAutoReview: 2, Restrictions: map[string]int{"review": 2}},
		"depth":    {Levels: 2, QualityMin: 1, PristineMin: 2, MaxAutoReview: 2},
	})
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	return m
}

// testingT is the subset of *testing.T the fixtures need
type testingT interface {
	Fatalf(format string, args ...interface{})
	Helper()
}

func testReviewConfig() *config.Config {
	return &config.Config{
		Review: config.ReviewConfig{
			Inclusions:       config.IncludesStable,
			StableDefault:    true,
			ReviewNamespaces: []int{0, nsFile},
			Precedence:       "quality",
			DepsMode:         config.DepsImmediate,
			ActivityTTL:      time.Hour,
		},
	}
}

func newTestEnv(t testingT) *testEnv {
	t.Helper()
	e := &testEnv{
		cfg:       testReviewConfig(),
		model:     testTagModel(t),
		frs:       newFakeFlaggedRevs(),
		states:    newFakeStates(),
		links:     newFakeLinks(),
		deps:      &fakeDeps{},
		pageCfg:   newFakePageCfg(),
		reviewLog: &fakeReviewLog{},
		purger:    &fakePurger{},
	}
	log := logger.New("error", "text")
	e.resolver = NewStableResolver(e.frs, e.states, e.pageCfg, e.model, e.cfg, log)
	e.incl = NewInclusionResolver(e.links, e.frs, e.cfg, log)
	e.pageState = NewPageStateService(e.states, e.links, e.pageCfg, e.incl, e.cfg, log)
	e.updater = NewDependencyUpdater(fakeDB{}, e.deps, e.links, e.frs, e.states, nil, e.cfg, log)
	e.reviews = NewReviewService(fakeDB{}, e.frs, e.states, e.links, e.reviewLog, e.resolver, e.pageState, e.updater, e.purger, e.model, e.cfg, log)
	return e
}

// addPage registers a page with its latest revision
func (e *testEnv) addPage(id int64, ns int, title string, latest int64) *models.Page {
	p := &models.Page{ID: id, Namespace: ns, Title: title, LatestRev: latest}
	e.links.pages[id] = p
	return p
}

// addRev registers a revision of a page
func (e *testEnv) addRev(id, pageID int64, ts time.Time, sha string) *models.Revision {
	r := &models.Revision{ID: id, PageID: pageID, Timestamp: ts, TextSHA1: sha}
	e.links.revs[id] = r
	return r
}

// addFlagged registers an existing flagged revision
func (e *testEnv) addFlagged(pageID, revID int64, tier tags.Tier, ts time.Time) *models.FlaggedRevision {
	fr := &models.FlaggedRevision{
		PageID:       pageID,
		RevID:        revID,
		RevTimestamp: ts,
		Timestamp:    ts,
		Tier:         tier,
		Flags:        e.model.MinimumFlags(tier),
		Templates:    map[models.TemplateKey]int64{},
		Files:        map[string]models.FileIdentity{},
	}
	if e.frs.revs[pageID] == nil {
		e.frs.revs[pageID] = make(map[int64]*models.FlaggedRevision)
	}
	e.frs.revs[pageID][revID] = fr
	return fr
}

func ts(minutes int) time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(minutes) * time.Minute)
}
