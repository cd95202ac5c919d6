package tags

import (
	"testing"
)

func testModel(t *testing.T) *Model {
	t.Helper()
	m, err := NewModel(map[string]TagConfig{
		"accuracy": {Levels: 3, QualityMin: 2, PristineMin: 3, MaxAutoReview: 2},
		"depth":    {Levels: 2, QualityMin: 1, PristineMin: 2, MaxAutoReview: 2},
	})
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	return m
}

func TestNewModel_RejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  map[string]TagConfig
	}{
		{"empty", map[string]TagConfig{}},
		{"bad tag name", map[string]TagConfig{"not a tag!": {Levels: 1, QualityMin: 1, PristineMin: 1}}},
		{"tag name too long", map[string]TagConfig{"abcdefghijklmnopqrstu": {Levels: 1, QualityMin: 1, PristineMin: 1}}},
		{"zero levels", map[string]TagConfig{"acc": {Levels: 0, QualityMin: 1, PristineMin: 1}}},
		{"zero quality threshold", map[string]TagConfig{"acc": {Levels: 2, QualityMin: 0, PristineMin: 1}}},
		{"pristine below quality", map[string]TagConfig{"acc": {Levels: 3, QualityMin: 3, PristineMin: 2}}},
	}
	for _, tc := range cases {
		if _, err := NewModel(tc.cfg); err == nil {
			t.Errorf("%s: expected configuration error", tc.name)
		}
	}
}

func TestQualityTierOf_TruthTable(t *testing.T) {
	m := testModel(t)

	cases := []struct {
		accuracy, depth int
		want            Tier
	}{
		{0, 0, TierUnrated},
		{0, 2, TierUnrated}, // accuracy unset
		{1, 0, TierUnrated}, // depth unset
		{1, 1, TierChecked},
		{1, 2, TierChecked},  // depth pristine but accuracy only checked
		{2, 1, TierQuality},  // both at quality minimums
		{2, 2, TierQuality},  // accuracy below pristine threshold
		{3, 1, TierQuality},  // depth below pristine threshold
		{3, 2, TierPristine}, // both at pristine minimums
	}
	for _, tc := range cases {
		flags := Flags{"accuracy": tc.accuracy, "depth": tc.depth}
		if got := m.QualityTierOf(flags); got != tc.want {
			t.Errorf("QualityTierOf(accuracy=%d depth=%d) = %v, want %v",
				tc.accuracy, tc.depth, got, tc.want)
		}
	}

	if m.QualityTierOf(nil) != TierUnrated {
		t.Errorf("empty flag set must be unrated")
	}
}

func TestTierOrdering(t *testing.T) {
	if !(TierUnrated < TierChecked && TierChecked < TierQuality && TierQuality < TierPristine) {
		t.Fatal("tiers must be totally ordered")
	}
}

func TestIsValid(t *testing.T) {
	m := testModel(t)
	for val := 0; val <= 3; val++ {
		if !m.IsValid("accuracy", val) {
			t.Errorf("accuracy=%d should be valid", val)
		}
	}
	if m.IsValid("accuracy", 4) {
		t.Error("accuracy=4 out of range")
	}
	if m.IsValid("accuracy", -1) {
		t.Error("negative value must be invalid")
	}
	if m.IsValid("nosuchtag", 1) {
		t.Error("unknown tag must be invalid")
	}
}

func TestFlagsAreValid(t *testing.T) {
	m := testModel(t)
	if !m.FlagsAreValid(Flags{"accuracy": 2, "depth": 1}) {
		t.Error("complete in-range flag set must be valid")
	}
	if m.FlagsAreValid(Flags{"accuracy": 2}) {
		t.Error("missing tag must be invalid")
	}
	if m.FlagsAreValid(Flags{"accuracy": 9, "depth": 1}) {
		t.Error("out-of-range value must be invalid")
	}
}

func TestExpandFlattenRoundTrip(t *testing.T) {
	m := testModel(t)

	cases := []struct {
		in   string
		want Flags
	}{
		{"accuracy:2\ndepth:1\n", Flags{"accuracy": 2, "depth": 1}},
		{"accuracy:2\ndepth:1", Flags{"accuracy": 2, "depth": 1}},
		// legacy rows with a literal backslash-n separator
		{`accuracy:1\ndepth:2\n`, Flags{"accuracy": 1, "depth": 2}},
		// unknown tags dropped, missing tags zeroed
		{"accuracy:3\nbogus:5\n", Flags{"accuracy": 3, "depth": 0}},
		// removed levels clamp to the highest remaining
		{"accuracy:9\ndepth:1\n", Flags{"accuracy": 3, "depth": 1}},
		// garbage values are zero
		{"accuracy:x\ndepth:-2\n", Flags{"accuracy": 0, "depth": 0}},
		{"", Flags{"accuracy": 0, "depth": 0}},
	}
	for _, tc := range cases {
		got := m.ExpandTags(tc.in)
		for tag, want := range tc.want {
			if got[tag] != want {
				t.Errorf("ExpandTags(%q)[%s] = %d, want %d", tc.in, tag, got[tag], want)
			}
		}
		// flatten(expand(s)) is the normalized form and survives re-expansion
		norm := m.FlattenTags(got)
		again := m.ExpandTags(norm)
		for tag := range got {
			if again[tag] != got[tag] {
				t.Errorf("round trip of %q changed %s: %d -> %d", tc.in, tag, got[tag], again[tag])
			}
		}
	}
}

func TestBinaryFlagging(t *testing.T) {
	m := testModel(t)
	if m.BinaryFlagging() {
		t.Error("two-tag model is not binary")
	}

	bin, err := NewModel(map[string]TagConfig{
		"status": {Levels: 1, QualityMin: 1, PristineMin: 1, MaxAutoReview: 1},
	})
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	if !bin.BinaryFlagging() {
		t.Error("single tag with one level must be binary")
	}
	// the stored representation does not change in binary mode
	if got := bin.FlattenTags(Flags{"status": 1}); got != "status:1\n" {
		t.Errorf("binary flatten = %q", got)
	}
	if bin.QualityTierOf(Flags{"status": 1}) != TierPristine {
		t.Error("binary approve reaches the highest tier")
	}
	if bin.QualityTierOf(Flags{"status": 0}) != TierUnrated {
		t.Error("binary disapprove is unrated")
	}
}

func TestTierEnablement(t *testing.T) {
	// quality threshold above the level range disables quality and pristine
	m, err := NewModel(map[string]TagConfig{
		"acc": {Levels: 1, QualityMin: 2, PristineMin: 3},
	})
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	if m.QualityTiers() || m.PristineTiers() {
		t.Error("unreachable thresholds must disable tiers")
	}
	if m.HighestTier() != TierChecked {
		t.Errorf("highest tier = %v, want checked", m.HighestTier())
	}
	if m.QualityTierOf(Flags{"acc": 1}) != TierChecked {
		t.Error("disabled tiers must cap the computed tier at checked")
	}
}

func TestUserCanSetTag(t *testing.T) {
	m, err := NewModel(map[string]TagConfig{
		"accuracy": {
			Levels: 3, QualityMin: 2, PristineMin: 3,
			Restrictions: map[string]int{"review": 2, "senior": 3},
		},
		"depth": {Levels: 2, QualityMin: 1, PristineMin: 2},
	})
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}

	if !m.UserCanSetTag([]string{"review"}, "accuracy", 2) {
		t.Error("review right allows levels up to its cap")
	}
	if m.UserCanSetTag([]string{"review"}, "accuracy", 3) {
		t.Error("review right must not exceed its cap")
	}
	if !m.UserCanSetTag([]string{"senior"}, "accuracy", 3) {
		t.Error("senior right allows the top level")
	}
	if !m.UserCanSetTag([]string{"validate"}, "accuracy", 3) {
		t.Error("validate bypasses restrictions")
	}
	if m.UserCanSetTag(nil, "accuracy", 1) {
		t.Error("no rights, restricted tag: denied")
	}
	if !m.UserCanSetTag(nil, "depth", 2) {
		t.Error("unrestricted tag: full access")
	}
	if m.UserCanSetTag([]string{"validate"}, "accuracy", 9) {
		t.Error("out-of-range value is never settable")
	}
}

func TestUserCanSetFlags_RetainsOldValues(t *testing.T) {
	m, err := NewModel(map[string]TagConfig{
		"accuracy": {
			Levels: 3, QualityMin: 2, PristineMin: 3,
			Restrictions: map[string]int{"review": 2, "senior": 3},
		},
	})
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}

	rights := []string{"review"}
	// cannot use a review to lower a value the user may not set
	if m.UserCanSetFlags(rights, Flags{"accuracy": 2}, Flags{"accuracy": 3}) {
		t.Error("lowering a tag the user cannot touch must be denied")
	}
	if !m.UserCanSetFlags(rights, Flags{"accuracy": 2}, Flags{"accuracy": 1}) {
		t.Error("raising within the cap is allowed")
	}
	if m.UserCanSetFlags(rights, Flags{}, nil) {
		t.Error("unspecified tag is denied")
	}
}

func TestAutoReviewTags(t *testing.T) {
	m := testModel(t)

	// keeps old stable flags, capped by the auto-review maximum
	flags := m.AutoReviewTags(nil, Flags{"accuracy": 3, "depth": 2})
	if flags == nil {
		t.Fatal("expected a flag set")
	}
	if flags["accuracy"] != 2 {
		t.Errorf("accuracy capped at max auto-review level: got %d, want 2", flags["accuracy"])
	}
	if flags["depth"] != 2 {
		t.Errorf("depth = %d, want 2", flags["depth"])
	}

	// no old flags: every tag starts at 1
	flags = m.AutoReviewTags(nil, nil)
	if flags == nil || flags["accuracy"] != 1 || flags["depth"] != 1 {
		t.Errorf("minimal auto-review flags = %v", flags)
	}

	// a tag whose value cannot be dialed to something settable aborts
	restricted, err := NewModel(map[string]TagConfig{
		"acc": {
			Levels: 2, QualityMin: 1, PristineMin: 2, MaxAutoReview: 2,
			Restrictions: map[string]int{"senior": 2},
		},
	})
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	if got := restricted.AutoReviewTags(nil, Flags{"acc": 2}); got != nil {
		t.Errorf("expected nil flag set, got %v", got)
	}
}
