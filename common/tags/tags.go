package tags

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Tier is a review quality tier. Tiers are totally ordered:
// Unrated < Checked < Quality < Pristine.
type Tier int

const (
	TierUnrated Tier = iota
	TierChecked
	TierQuality
	TierPristine
)

// String returns the tier name used in logs and API responses
func (t Tier) String() string {
	switch t {
	case TierChecked:
		return "checked"
	case TierQuality:
		return "quality"
	case TierPristine:
		return "pristine"
	default:
		return "unrated"
	}
}

// ParseTier parses a tier name. Unknown names map to TierUnrated.
func ParseTier(s string) Tier {
	switch s {
	case "checked":
		return TierChecked
	case "quality":
		return TierQuality
	case "pristine":
		return TierPristine
	default:
		return TierUnrated
	}
}

// Flags is an assignment of levels to tags. Level 0 always means "not
// approved" for that tag.
type Flags map[string]int

// TagConfig describes one quality dimension
type TagConfig struct {
	// Number of assignable levels above zero (1..Levels are valid values)
	Levels int
	// Minimum level for the quality tier
	QualityMin int
	// Minimum level for the pristine tier
	PristineMin int
	// Maximum level assignable by auto-review (0 disables auto-review for this tag)
	MaxAutoReview int
	// Per-right level caps; users holding a right may set values up to the cap.
	// Holders of the "validate" right bypass restrictions entirely.
	Restrictions map[string]int
}

var tagNameRE = regexp.MustCompile(`^[A-Za-z]{1,20}$`)

// Model is the immutable quality-dimension configuration: which tags exist,
// how many levels each has, and the per-tag thresholds that define the
// quality and pristine tiers. Constructed once at startup and passed by
// reference into every component; there is no global model.
type Model struct {
	names     []string // sorted, for deterministic iteration
	tags      map[string]TagConfig
	quality   bool // quality tier reachable under this config
	pristine  bool // pristine tier reachable under this config
}

// NewModel validates the tag configuration and builds a Model.
// Configuration errors are fatal: a malformed tag name, a tag with no
// levels, or non-monotonic tier thresholds mean the site config is broken.
func NewModel(cfg map[string]TagConfig) (*Model, error) {
	if len(cfg) == 0 {
		return nil, fmt.Errorf("tag model: no tags configured")
	}
	m := &Model{
		tags:     make(map[string]TagConfig, len(cfg)),
		quality:  true,
		pristine: true,
	}
	for name, tc := range cfg {
		if !tagNameRE.MatchString(name) {
			return nil, fmt.Errorf("tag model: invalid tag name %q", name)
		}
		if tc.Levels < 1 {
			return nil, fmt.Errorf("tag model: tag %q must have at least one level", name)
		}
		if tc.QualityMin < 1 || tc.PristineMin < 1 {
			return nil, fmt.Errorf("tag model: tag %q tier thresholds must be >= 1", name)
		}
		if tc.PristineMin < tc.QualityMin {
			return nil, fmt.Errorf("tag model: tag %q pristine threshold below quality threshold", name)
		}
		// A threshold above the level range disables that tier site-wide
		if tc.QualityMin > tc.Levels {
			m.quality = false
			m.pristine = false
		}
		if tc.PristineMin > tc.Levels {
			m.pristine = false
		}
		m.tags[name] = tc
		m.names = append(m.names, name)
	}
	sort.Strings(m.names)
	return m, nil
}

// Tags returns the configured tag names in deterministic order
func (m *Model) Tags() []string {
	return m.names
}

// LevelsFor returns the number of assignable levels for a tag (0 if unknown)
func (m *Model) LevelsFor(tag string) int {
	return m.tags[tag].Levels
}

// IsValid reports whether value is in range for tag
func (m *Model) IsValid(tag string, value int) bool {
	tc, ok := m.tags[tag]
	if !ok {
		return false
	}
	return value >= 0 && value <= tc.Levels
}

// FlagsAreValid reports whether every configured tag has a valid value in flags
func (m *Model) FlagsAreValid(flags Flags) bool {
	for _, tag := range m.names {
		v, ok := flags[tag]
		if !ok || !m.IsValid(tag, v) {
			return false
		}
	}
	return true
}

// BinaryFlagging reports whether the model collapses to a boolean
// approve/disapprove: exactly one tag with exactly one level.
func (m *Model) BinaryFlagging() bool {
	if len(m.names) != 1 {
		return false
	}
	return m.tags[m.names[0]].Levels <= 1
}

// QualityTiers reports whether the quality tier is reachable site-wide
func (m *Model) QualityTiers() bool { return m.quality }

// PristineTiers reports whether the pristine tier is reachable site-wide
func (m *Model) PristineTiers() bool { return m.pristine }

// HighestTier returns the highest reachable tier under this config
func (m *Model) HighestTier() Tier {
	if m.pristine {
		return TierPristine
	}
	if m.quality {
		return TierQuality
	}
	return TierChecked
}

// TierThresholds returns the per-tag minimum levels for a tier
func (m *Model) TierThresholds(tier Tier) map[string]int {
	min := make(map[string]int, len(m.names))
	for _, tag := range m.names {
		switch tier {
		case TierPristine:
			min[tag] = m.tags[tag].PristineMin
		case TierQuality:
			min[tag] = m.tags[tag].QualityMin
		default:
			min[tag] = 1
		}
	}
	return min
}

// tagsAtLevel reports whether flags meet every threshold in min
func (m *Model) tagsAtLevel(flags Flags, min map[string]int) bool {
	if len(flags) == 0 {
		return false
	}
	for _, tag := range m.names {
		if flags[tag] < min[tag] {
			return false
		}
	}
	return true
}

// IsChecked reports whether flags meet the basic review condition
func (m *Model) IsChecked(flags Flags) bool {
	return m.tagsAtLevel(flags, m.TierThresholds(TierChecked))
}

// IsQuality reports whether flags meet the quality review condition
func (m *Model) IsQuality(flags Flags) bool {
	return m.quality && m.tagsAtLevel(flags, m.TierThresholds(TierQuality))
}

// IsPristine reports whether flags meet the pristine review condition
func (m *Model) IsPristine(flags Flags) bool {
	return m.pristine && m.tagsAtLevel(flags, m.TierThresholds(TierPristine))
}

// QualityTierOf returns the highest tier the flag set satisfies.
// TierUnrated is returned for flag sets below the checked condition and is
// distinct from TierChecked.
func (m *Model) QualityTierOf(flags Flags) Tier {
	switch {
	case m.IsPristine(flags):
		return TierPristine
	case m.IsQuality(flags):
		return TierQuality
	case m.IsChecked(flags):
		return TierChecked
	default:
		return TierUnrated
	}
}

// MinimumFlags returns the lowest flag set at the given tier
func (m *Model) MinimumFlags(tier Tier) Flags {
	flags := make(Flags, len(m.names))
	for tag, min := range m.TierThresholds(tier) {
		flags[tag] = min
	}
	return flags
}

// UserCanSetTag reports whether a holder of rights may set tag to value.
// An out-of-range value is never settable. Without restrictions any
// reviewer has full access; the "validate" right always has full access.
func (m *Model) UserCanSetTag(rights []string, tag string, value int) bool {
	if !m.IsValid(tag, value) {
		return false
	}
	tc := m.tags[tag]
	if len(tc.Restrictions) == 0 {
		return true
	}
	for _, r := range rights {
		if r == "validate" {
			return true
		}
		if cap, ok := tc.Restrictions[r]; ok && cap > 0 && value <= cap {
			return true
		}
	}
	return false
}

// UserCanSetFlags reports whether a holder of rights may submit the given
// flag set. When old flags exist for the same revision the user must also
// be allowed to set each old value: a review cannot silently lower a tag
// the user may not touch.
func (m *Model) UserCanSetFlags(rights []string, flags, oldFlags Flags) bool {
	for _, tag := range m.names {
		v, ok := flags[tag]
		if !ok {
			return false
		}
		if !m.UserCanSetTag(rights, tag, v) {
			return false
		}
		if old, ok := oldFlags[tag]; ok && !m.UserCanSetTag(rights, tag, old) {
			return false
		}
	}
	return true
}

// AutoReviewTags computes the flag set closest to oldFlags that the user is
// allowed to set automatically, capped per tag by MaxAutoReview. Returns nil
// when any tag would drop to zero, in which case auto-review must abort.
func (m *Model) AutoReviewTags(rights []string, oldFlags Flags) Flags {
	flags := make(Flags, len(m.names))
	for _, tag := range m.names {
		val, ok := oldFlags[tag]
		if !ok {
			val = 1
		}
		if max := m.tags[tag].MaxAutoReview; val > max {
			val = max
		}
		for !m.UserCanSetTag(rights, tag, val) {
			val--
			if val <= 0 {
				return nil
			}
		}
		flags[tag] = val
	}
	return flags
}

// ExpandTags decodes the stored "tag:value\n..." encoding into a flag set.
// All configured tags are initialized to zero. Unknown tags are dropped,
// values are clamped to the tag's highest level, and the legacy broken
// two-character "\n" separator still found in old rows is tolerated.
func (m *Model) ExpandTags(s string) Flags {
	flags := make(Flags, len(m.names))
	for _, tag := range m.names {
		flags[tag] = 0
	}
	s = strings.ReplaceAll(s, `\n`, "\n")
	for _, tuple := range strings.Split(s, "\n") {
		tag, raw, ok := strings.Cut(tuple, ":")
		if !ok {
			continue
		}
		val, err := strconv.Atoi(raw)
		if err != nil || val < 0 {
			val = 0
		}
		tc, known := m.tags[tag]
		if !known {
			continue
		}
		if val > tc.Levels {
			// A removed level defaults to the highest remaining one
			val = tc.Levels
		}
		flags[tag] = val
	}
	return flags
}

// FlattenTags encodes a flag set into the stored representation.
// Only configured tags are written, in deterministic order.
func (m *Model) FlattenTags(flags Flags) string {
	var b strings.Builder
	for _, tag := range m.names {
		b.WriteString(tag)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(flags[tag]))
		b.WriteByte('\n')
	}
	return b.String()
}
