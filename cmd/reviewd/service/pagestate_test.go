package service

import (
	"context"
	"testing"

	"github.com/openwiki/flaggedrevs/common/models"
	"github.com/openwiki/flaggedrevs/common/tags"
)

func TestUpdateStableVersion_Synced(t *testing.T) {
	e := newTestEnv(t)
	page := e.addPage(1, 0, "Example", 2)
	e.addRev(2, 1, ts(5), "aaa")
	stable := e.addFlagged(1, 2, tags.TierChecked, ts(5))

	st, err := e.pageState.UpdateStableVersion(context.Background(), nil, page, stable)
	if err != nil {
		t.Fatalf("UpdateStableVersion: %v", err)
	}
	if st.Status() != models.SyncSynced {
		t.Errorf("status = %s, want synced", st.Status())
	}
	if st.PendingSince != nil {
		t.Errorf("synced page has pending_since %v", st.PendingSince)
	}
	if !st.DefaultStable {
		t.Error("site default_stable not applied")
	}
}

func TestUpdateStableVersion_PendingAnchoredToFirstUnreviewedRev(t *testing.T) {
	e := newTestEnv(t)
	page := e.addPage(1, 0, "Example", 4)
	e.addRev(2, 1, ts(0), "aaa")
	e.addRev(3, 1, ts(10), "bbb")
	e.addRev(4, 1, ts(20), "ccc")
	stable := e.addFlagged(1, 2, tags.TierChecked, ts(0))

	st, err := e.pageState.UpdateStableVersion(context.Background(), nil, page, stable)
	if err != nil {
		t.Fatalf("UpdateStableVersion: %v", err)
	}
	if st.Status() != models.SyncPending {
		t.Fatalf("status = %s, want pending", st.Status())
	}
	if st.PendingSince == nil || !st.PendingSince.Equal(ts(10)) {
		t.Errorf("pending_since = %v, want %v (first revision after the stable one)", st.PendingSince, ts(10))
	}
}

func TestUpdateStableVersion_PendingSinceMonotonic(t *testing.T) {
	e := newTestEnv(t)
	page := e.addPage(1, 0, "Example", 3)
	e.addRev(2, 1, ts(0), "aaa")
	e.addRev(3, 1, ts(10), "bbb")
	stable := e.addFlagged(1, 2, tags.TierChecked, ts(0))

	// A previous state already recorded an earlier divergence
	earlier := ts(2)
	e.states.states[1] = &models.PageReviewState{
		PageID:       1,
		StableRev:    2,
		PendingSince: &earlier,
		LastChange:   ts(2),
	}

	st, err := e.pageState.UpdateStableVersion(context.Background(), nil, page, stable)
	if err != nil {
		t.Fatalf("UpdateStableVersion: %v", err)
	}
	if st.PendingSince == nil || !st.PendingSince.Equal(earlier) {
		t.Errorf("pending_since = %v, want the earlier %v kept", st.PendingSince, earlier)
	}
}

func TestUpdateStableVersion_SyncClearsPendingSince(t *testing.T) {
	e := newTestEnv(t)
	page := e.addPage(1, 0, "Example", 3)
	e.addRev(3, 1, ts(10), "bbb")
	stable := e.addFlagged(1, 3, tags.TierChecked, ts(10))

	earlier := ts(2)
	e.states.states[1] = &models.PageReviewState{
		PageID:       1,
		StableRev:    2,
		PendingSince: &earlier,
		LastChange:   ts(2),
	}

	st, err := e.pageState.UpdateStableVersion(context.Background(), nil, page, stable)
	if err != nil {
		t.Fatalf("UpdateStableVersion: %v", err)
	}
	if st.PendingSince != nil {
		t.Errorf("sync did not clear pending_since: %v", st.PendingSince)
	}
	if st.StableRev != 3 {
		t.Errorf("stable_rev = %d, want 3", st.StableRev)
	}
}

func TestUpdateStableVersion_PendingInclusionOnly(t *testing.T) {
	e := newTestEnv(t)
	page := e.addPage(1, 0, "Example", 2)
	e.addRev(2, 1, ts(0), "aaa")
	stable := e.addFlagged(1, 2, tags.TierChecked, ts(0))

	// Stable points at the latest revision but a transcluded template
	// moved on
	key := models.TemplateKey{Namespace: 10, Title: "Infobox"}
	e.addPage(50, 10, "Infobox", 101)
	e.addRev(100, 50, ts(0), "xxx")
	e.addRev(101, 50, ts(5), "yyy")
	e.links.templateLinks[1] = []models.TemplateKey{key}
	stable.Templates[key] = 100

	st, err := e.pageState.UpdateStableVersion(context.Background(), nil, page, stable)
	if err != nil {
		t.Fatalf("UpdateStableVersion: %v", err)
	}
	if st.Status() != models.SyncPending {
		t.Errorf("status = %s, want pending from inclusion change", st.Status())
	}
}

func TestUpdateStableVersion_PageConfigOverridesDefault(t *testing.T) {
	e := newTestEnv(t)
	e.cfg.Review.StableDefault = false
	page := e.addPage(1, 0, "Example", 2)
	e.addRev(2, 1, ts(0), "aaa")
	stable := e.addFlagged(1, 2, tags.TierChecked, ts(0))
	e.pageCfg.configs[1] = &models.PageStabilityConfig{PageID: 1, Override: true}

	st, err := e.pageState.UpdateStableVersion(context.Background(), nil, page, stable)
	if err != nil {
		t.Fatalf("UpdateStableVersion: %v", err)
	}
	if !st.DefaultStable {
		t.Error("page config override not applied")
	}
}

func TestClearStableVersion(t *testing.T) {
	e := newTestEnv(t)
	e.states.states[1] = &models.PageReviewState{PageID: 1, StableRev: 2}

	if err := e.pageState.ClearStableVersion(context.Background(), nil, 1); err != nil {
		t.Fatalf("ClearStableVersion: %v", err)
	}
	if _, ok := e.states.states[1]; ok {
		t.Error("state row survived clear")
	}
}
