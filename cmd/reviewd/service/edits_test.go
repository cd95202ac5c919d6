package service

import (
	"context"
	"testing"

	"github.com/openwiki/flaggedrevs/common/logger"
	"github.com/openwiki/flaggedrevs/common/models"
	"github.com/openwiki/flaggedrevs/common/tags"
)

func newTestEditService(t *testing.T, e *testEnv, auto *AutoReviewer) *EditService {
	t.Helper()
	return NewEditService(fakeDB{}, e.links, e.states, e.frs, e.resolver, e.pageState, auto, e.updater, e.purger, e.cfg, logger.New("error", "text"))
}

func exampleNotice(pageID, revID int64) *EditNotice {
	return &EditNotice{
		Page:     models.Page{ID: pageID, Namespace: 0, Title: "Example"},
		Revision: models.Revision{ID: revID, Timestamp: ts(10), TextSHA1: "bbb"},
		Actor:    EditActor{ID: 7, Name: "Editor", Rights: []string{"review"}},
	}
}

func TestNotifyEdit_MirrorsPageAndLinks(t *testing.T) {
	e := newTestEnv(t)
	svc := newTestEditService(t, e, nil)

	n := exampleNotice(1, 2)
	n.TemplateLinks = []models.TemplateKey{{Namespace: 10, Title: "Infobox"}}
	n.FileLinks = []string{"Map.png"}
	n.File = &FileUpload{Name: "Map.png", Identity: models.FileIdentity{Timestamp: ts(9), SHA1: "abc"}}

	st, err := svc.NotifyEdit(context.Background(), n)
	if err != nil {
		t.Fatalf("NotifyEdit: %v", err)
	}
	if st != nil {
		t.Errorf("unreviewed page got a review state: %+v", st)
	}

	page, _ := e.links.GetPage(context.Background(), nil, 1)
	if page == nil || page.LatestRev != 2 {
		t.Errorf("page = %+v, want latest rev 2", page)
	}
	rev, _ := e.links.GetRevision(context.Background(), nil, 2)
	if rev == nil || rev.PageID != 1 {
		t.Errorf("revision = %+v", rev)
	}
	if len(e.links.templateLinks[1]) != 1 || len(e.links.fileLinks[1]) != 1 {
		t.Error("link tables not replaced")
	}
	if e.links.fileVersions["Map.png"].SHA1 != "abc" {
		t.Error("file version not recorded")
	}
}

func TestNotifyEdit_MovesReviewedPageToPending(t *testing.T) {
	e := newTestEnv(t)
	svc := newTestEditService(t, e, nil)

	e.addPage(1, 0, "Example", 1)
	e.addRev(1, 1, ts(0), "aaa")
	e.addFlagged(1, 1, tags.TierChecked, ts(0))
	e.states.states[1] = &models.PageReviewState{PageID: 1, StableRev: 1, Tier: tags.TierChecked, LastChange: ts(0)}

	st, err := svc.NotifyEdit(context.Background(), exampleNotice(1, 2))
	if err != nil {
		t.Fatalf("NotifyEdit: %v", err)
	}
	if st == nil || st.Status() != models.SyncPending {
		t.Fatalf("state = %+v, want pending", st)
	}
	if st.PendingSince == nil || !st.PendingSince.Equal(ts(10)) {
		t.Errorf("pending_since = %v, want the new revision's timestamp", st.PendingSince)
	}
	if st.StableRev != 1 {
		t.Errorf("stable_rev = %d, want unchanged 1", st.StableRev)
	}
}

func TestNotifyEdit_AutoReviewKeepsPageSynced(t *testing.T) {
	e := newTestEnv(t)
	auto := newTestAutoReviewer(t, e, `"autoreview" in user.rights`)
	svc := newTestEditService(t, e, auto)

	e.addPage(1, 0, "Example", 1)
	e.addRev(1, 1, ts(0), "aaa")
	e.addFlagged(1, 1, tags.TierChecked, ts(0))
	e.states.states[1] = &models.PageReviewState{PageID: 1, StableRev: 1, Tier: tags.TierChecked, LastChange: ts(0)}

	n := exampleNotice(1, 2)
	n.Actor.Rights = []string{"autoreview", "review"}
	st, err := svc.NotifyEdit(context.Background(), n)
	if err != nil {
		t.Fatalf("NotifyEdit: %v", err)
	}
	if st == nil || st.Status() != models.SyncSynced {
		t.Fatalf("state = %+v, want synced after auto-review", st)
	}
	if st.StableRev != 2 {
		t.Errorf("stable_rev = %d, want the new revision", st.StableRev)
	}
}

func TestNotifyEdit_InvalidatesDependents(t *testing.T) {
	e := newTestEnv(t)
	svc := newTestEditService(t, e, nil)

	// Page 3's stable rendering uses the template through a stable-only
	// link; an edit to the template must purge page 3's cached rendering
	e.deps.rows = []models.Dependency{{FromPage: 3, Namespace: 10, Title: "Infobox"}}
	e.states.states[3] = &models.PageReviewState{PageID: 3, StableRev: 30, LastChange: ts(0)}

	n := &EditNotice{
		Page:     models.Page{ID: 50, Namespace: 10, Title: "Infobox"},
		Revision: models.Revision{ID: 101, Timestamp: ts(10), TextSHA1: "bbb"},
		Actor:    EditActor{ID: 7},
	}
	if _, err := svc.NotifyEdit(context.Background(), n); err != nil {
		t.Fatalf("NotifyEdit: %v", err)
	}

	if len(e.purger.changes) != 1 {
		t.Fatalf("purge changes = %+v, want one for the dependent", e.purger.changes)
	}
	change := e.purger.changes[0]
	if change.PageID != 3 || change.OldRev != 30 || change.NewRev != 30 {
		t.Errorf("change = %+v, want stable pointer unchanged", change)
	}
}

func TestNotifyEdit_RequiresIDs(t *testing.T) {
	e := newTestEnv(t)
	svc := newTestEditService(t, e, nil)

	if _, err := svc.NotifyEdit(context.Background(), &EditNotice{}); err == nil {
		t.Fatal("notice without ids accepted")
	}
}
