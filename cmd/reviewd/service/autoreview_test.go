package service

import (
	"context"
	"testing"

	"github.com/openwiki/flaggedrevs/common/logger"
	"github.com/openwiki/flaggedrevs/common/models"
	"github.com/openwiki/flaggedrevs/common/tags"
)

func newTestAutoReviewer(t *testing.T, e *testEnv, policy string) *AutoReviewer {
	t.Helper()
	e.cfg.Review.AutoReviewPolicy = policy
	a, err := NewAutoReviewer(e.reviews, e.resolver, e.pageCfg, fakeDB{}, e.model, e.cfg, logger.New("error", "text"))
	if err != nil {
		t.Fatalf("NewAutoReviewer: %v", err)
	}
	return a
}

func TestNewAutoReviewer_RejectsBadPolicy(t *testing.T) {
	e := newTestEnv(t)
	e.cfg.Review.AutoReviewPolicy = `"unbalanced`
	if _, err := NewAutoReviewer(e.reviews, e.resolver, e.pageCfg, fakeDB{}, e.model, e.cfg, logger.New("error", "text")); err == nil {
		t.Fatal("malformed policy accepted")
	}
}

func TestMaybeReview_RightsBasedPolicy(t *testing.T) {
	e := newTestEnv(t)
	a := newTestAutoReviewer(t, e, `"autoreview" in user.rights`)
	page := e.addPage(1, 0, "Example", 2)
	rev := e.addRev(2, 1, ts(5), "aaa")

	// An actor without the right is not admitted
	out, err := a.MaybeReview(context.Background(), page, rev, EditActor{ID: 7, Rights: []string{"review"}}, false)
	if err != nil || out != nil {
		t.Fatalf("MaybeReview = %+v, %v, want nil, nil", out, err)
	}
	if fr, _ := e.frs.Get(context.Background(), nil, 1, 2); fr != nil {
		t.Fatal("denied edit was flagged")
	}

	out, err = a.MaybeReview(context.Background(), page, rev, EditActor{ID: 7, Rights: []string{"autoreview", "review"}}, false)
	if err != nil {
		t.Fatalf("MaybeReview: %v", err)
	}
	if out == nil || out.Status != models.StatusApproved {
		t.Fatalf("outcome = %+v, want approved", out)
	}
	fr, _ := e.frs.Get(context.Background(), nil, 1, 2)
	if fr == nil {
		t.Fatal("admitted edit not flagged")
	}
	if e.reviewLog.entries[0].Auto != true {
		t.Error("log entry not marked automatic")
	}
}

func TestMaybeReview_KeepsOldStableFlags(t *testing.T) {
	e := newTestEnv(t)
	a := newTestAutoReviewer(t, e, `true`)
	page := e.addPage(1, 0, "Example", 3)
	e.addRev(2, 1, ts(0), "aaa")
	rev := e.addRev(3, 1, ts(10), "bbb")

	// Old stable carries accuracy 2; auto-review re-applies it (capped by
	// the per-tag auto-review maximum)
	old := e.addFlagged(1, 2, tags.TierQuality, ts(0))
	old.Flags = tags.Flags{"accuracy": 2, "depth": 1}
	e.states.states[1] = &models.PageReviewState{PageID: 1, StableRev: 2, LastChange: ts(0)}

	out, err := a.MaybeReview(context.Background(), page, rev, EditActor{ID: 7, Rights: []string{"autoreview", "review"}}, true)
	if err != nil {
		t.Fatalf("MaybeReview: %v", err)
	}
	if out == nil || out.Status != models.StatusApproved {
		t.Fatalf("outcome = %+v, want approved", out)
	}
	fr := e.frs.revs[1][3]
	if fr.Flags["accuracy"] != 2 || fr.Flags["depth"] != 1 {
		t.Errorf("auto flags = %+v, want old stable flags kept", fr.Flags)
	}
}

func TestMaybeReview_AbortsWhenNoAdmissibleFlags(t *testing.T) {
	e := newTestEnv(t)
	a := newTestAutoReviewer(t, e, `true`)
	page := e.addPage(1, 0, "Example", 2)
	rev := e.addRev(2, 1, ts(5), "aaa")

	// The actor may not set the restricted accuracy tag at any level
	out, err := a.MaybeReview(context.Background(), page, rev, EditActor{ID: 7, Rights: []string{"autoreview"}}, false)
	if err != nil || out != nil {
		t.Fatalf("MaybeReview = %+v, %v, want abort", out, err)
	}
	if fr, _ := e.frs.Get(context.Background(), nil, 1, 2); fr != nil {
		t.Fatal("inadmissible flag set was submitted")
	}
}

func TestMaybeReview_PerPageRestriction(t *testing.T) {
	e := newTestEnv(t)
	a := newTestAutoReviewer(t, e, `true`)
	page := e.addPage(1, 0, "Example", 2)
	rev := e.addRev(2, 1, ts(5), "aaa")
	e.pageCfg.configs[1] = &models.PageStabilityConfig{PageID: 1, AutoReviewRestriction: "bot"}

	actor := EditActor{ID: 7, Rights: []string{"autoreview", "review"}}
	if out, err := a.MaybeReview(context.Background(), page, rev, actor, false); err != nil || out != nil {
		t.Fatalf("restricted page auto-reviewed: %+v, %v", out, err)
	}

	actor.Rights = append(actor.Rights, "bot")
	out, err := a.MaybeReview(context.Background(), page, rev, actor, false)
	if err != nil {
		t.Fatalf("MaybeReview: %v", err)
	}
	if out == nil || out.Status != models.StatusApproved {
		t.Fatalf("outcome = %+v, want approved", out)
	}
}

func TestMaybeReview_ParentStablePolicy(t *testing.T) {
	e := newTestEnv(t)
	a := newTestAutoReviewer(t, e, `rev.parent_is_stable`)
	page := e.addPage(1, 0, "Example", 2)
	rev := e.addRev(2, 1, ts(5), "aaa")

	actor := EditActor{ID: 7, Rights: []string{"autoreview", "review"}}
	if out, _ := a.MaybeReview(context.Background(), page, rev, actor, false); out != nil {
		t.Fatalf("edit on a non-stable parent admitted: %+v", out)
	}
	out, err := a.MaybeReview(context.Background(), page, rev, actor, true)
	if err != nil {
		t.Fatalf("MaybeReview: %v", err)
	}
	if out == nil || out.Status != models.StatusApproved {
		t.Fatalf("outcome = %+v, want approved", out)
	}
}

func TestMaybeReview_NonBooleanPolicyDeniesSafely(t *testing.T) {
	e := newTestEnv(t)
	a := newTestAutoReviewer(t, e, `user.id`)
	page := e.addPage(1, 0, "Example", 2)
	rev := e.addRev(2, 1, ts(5), "aaa")

	out, err := a.MaybeReview(context.Background(), page, rev, EditActor{ID: 7}, false)
	if err != nil || out != nil {
		t.Fatalf("MaybeReview = %+v, %v, want nil, nil", out, err)
	}
}
