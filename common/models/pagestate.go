package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/openwiki/flaggedrevs/common/tags"
)

// SyncStatus is the review-state machine position of a page
type SyncStatus string

const (
	SyncUnreviewed SyncStatus = "unreviewed"
	SyncSynced     SyncStatus = "synced"
	SyncPending    SyncStatus = "pending"
)

// PageReviewState is the per-page projection of the flagged-revision data:
// the current stable pointer, whether the page default view is the stable
// version, and how far the draft has diverged. It is a materialized view
// rebuilt transactionally on every edit and review action, never
// independently authoritative.
// Maps to: page_review_state
type PageReviewState struct {
	PageID    int64 `db:"fp_page_id" json:"page_id"`
	StableRev int64 `db:"fp_stable" json:"stable_rev"` // 0 = none
	// Tier of the stable revision, denormalized for filtering
	Tier tags.Tier `db:"fp_tier" json:"tier"`
	// Whether the default-served view is the stable version
	DefaultStable bool `db:"fp_default_stable" json:"default_stable"`
	// Set when the latest revision or a tracked dependency diverged from
	// the stable snapshot; nil when synced. Monotonic: never moves later
	// until a sync event clears it.
	PendingSince *time.Time `db:"fp_pending_since" json:"pending_since,omitempty"`
	// Optimistic-concurrency token: time of the last state change.
	// Review submissions carry the value they last observed.
	LastChange time.Time `db:"fp_last_change" json:"last_change"`
}

// Status derives the state-machine position
func (s *PageReviewState) Status() SyncStatus {
	switch {
	case s.StableRev == 0:
		return SyncUnreviewed
	case s.PendingSince != nil:
		return SyncPending
	default:
		return SyncSynced
	}
}

// Dependency is one (page, target) pair referenced only by the stable
// rendering of the page and not by the current draft. Edits to the target
// must still invalidate the page's stable cache.
// Maps to: stable_only_deps
type Dependency struct {
	FromPage  int64  `db:"sd_from" json:"from_page"`
	Namespace int    `db:"sd_namespace" json:"namespace"`
	Title     string `db:"sd_title" json:"title"`
}

// PendingInclusion reports one template/file whose live version diverged
// from the version the stable rendering used.
type PendingInclusion struct {
	Namespace int    `json:"namespace"`
	Title     string `json:"title"`
	// Version the stable rendering used: template rev id, or file
	// timestamp for files (zero when it did not exist at review time)
	UsedRev       int64      `json:"used_rev,omitempty"`
	UsedTimestamp *time.Time `json:"used_timestamp,omitempty"`
	// Whether the target itself has a stable version
	HadStableVersion bool `json:"had_stable_version"`
}

// ReviewAction is the kind of review submission
type ReviewAction string

const (
	ActionApprove   ReviewAction = "approve"
	ActionUnapprove ReviewAction = "unapprove"
	ActionReject    ReviewAction = "reject"
)

// ReviewLogEntry is the immutable audit record appended on every
// successful review transaction.
// Maps to: review_log
type ReviewLogEntry struct {
	ID        uuid.UUID    `db:"id" json:"id"`
	PageID    int64        `db:"page_id" json:"page_id"`
	RevID     int64        `db:"rev_id" json:"rev_id"`
	UserID    int64        `db:"user_id" json:"user_id"`
	Action    ReviewAction `db:"action" json:"action"`
	OldStable int64        `db:"old_stable" json:"old_stable"`
	NewStable int64        `db:"new_stable" json:"new_stable"`
	Comment   string       `db:"comment" json:"comment"`
	Auto      bool         `db:"auto" json:"auto"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// StableChange is the purge event emitted when a page's resolved stable
// version (or its file identity) changes. External HTML/edge caches
// subscribe to these.
type StableChange struct {
	PageID      int64 `json:"page_id"`
	OldRev      int64 `json:"old_rev"`
	NewRev      int64 `json:"new_rev"`
	FileChanged bool  `json:"file_changed"`
}
