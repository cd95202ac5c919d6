package service

import (
	"context"
	"testing"

	"github.com/openwiki/flaggedrevs/common/logger"
	"github.com/openwiki/flaggedrevs/common/tags"
)

func newTestStabilityService(t *testing.T, e *testEnv) *StabilityService {
	t.Helper()
	return NewStabilityService(fakeDB{}, e.pageCfg, e.links, e.frs, e.resolver, e.pageState, e.purger, logger.New("error", "text"))
}

func TestStabilityGet_DefaultDocument(t *testing.T) {
	e := newTestEnv(t)
	svc := newTestStabilityService(t, e)

	pc, err := svc.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if pc.PageID != 1 || pc.Override || pc.AutoReviewRestriction != "" {
		t.Errorf("default document = %+v", pc)
	}
}

func TestStabilityPatch_MergesSettings(t *testing.T) {
	e := newTestEnv(t)
	svc := newTestStabilityService(t, e)
	e.addPage(1, 0, "Example", 2)

	pc, err := svc.Patch(context.Background(), 1, []byte(`{"override": true}`))
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if !pc.Override {
		t.Errorf("patched document = %+v", pc)
	}

	// A second patch keeps the earlier field
	pc, err = svc.Patch(context.Background(), 1, []byte(`{"autoreview_restriction": "bot"}`))
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if !pc.Override || pc.AutoReviewRestriction != "bot" {
		t.Errorf("merged document = %+v", pc)
	}

	if _, err := svc.Patch(context.Background(), 1, []byte(`{`)); err == nil {
		t.Error("malformed patch accepted")
	}
}

func TestStabilityPatch_ProtectionModeGrantsAndRevokes(t *testing.T) {
	e := newTestEnv(t)
	e.cfg.Review.ProtectionMode = true
	svc := newTestStabilityService(t, e)

	e.addPage(1, 0, "Example", 2)
	e.addRev(2, 1, ts(0), "aaa")
	e.addFlagged(1, 2, tags.TierChecked, ts(0))

	// Configuring the page brings its stable version into existence
	if _, err := svc.Patch(context.Background(), 1, []byte(`{"override": true}`)); err != nil {
		t.Fatalf("Patch: %v", err)
	}
	st, _ := e.states.Get(context.Background(), nil, 1)
	if st == nil || st.StableRev != 2 {
		t.Fatalf("state = %+v, want stable rev 2", st)
	}
	if len(e.purger.changes) != 1 || e.purger.changes[0].NewRev != 2 {
		t.Errorf("purge changes = %+v", e.purger.changes)
	}

	// Removing the override revokes it again
	if _, err := svc.Patch(context.Background(), 1, []byte(`{"override": false}`)); err != nil {
		t.Fatalf("Patch: %v", err)
	}
	st, _ = e.states.Get(context.Background(), nil, 1)
	if st != nil {
		t.Errorf("state survived revocation: %+v", st)
	}
	last := e.purger.changes[len(e.purger.changes)-1]
	if last.OldRev != 2 || last.NewRev != 0 {
		t.Errorf("revocation change = %+v", last)
	}
}
