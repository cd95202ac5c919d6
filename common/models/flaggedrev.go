package models

import (
	"time"

	"github.com/openwiki/flaggedrevs/common/tags"
)

// TemplateKey identifies a transcluded template by namespace + title
type TemplateKey struct {
	Namespace int    `json:"namespace"`
	Title     string `json:"title"`
}

// FileIdentity is the version identity of a file: upload timestamp + content
// hash. The zero value means the file did not exist.
type FileIdentity struct {
	Timestamp time.Time `json:"timestamp"`
	SHA1      string    `json:"sha1"`
}

// Exists reports whether the identity refers to an actual file version
func (fi FileIdentity) Exists() bool {
	return !fi.Timestamp.IsZero()
}

// Equal compares two file identities
func (fi FileIdentity) Equal(o FileIdentity) bool {
	return fi.Timestamp.Equal(o.Timestamp) && fi.SHA1 == o.SHA1
}

// FlaggedRevision is one reviewed revision of a page together with its
// quality flags and the template/file version snapshot captured when the
// page was parsed at review time. Immutable once inserted.
// Maps to: flagged_revisions (+ flagged_templates, flagged_files)
type FlaggedRevision struct {
	PageID       int64      `db:"fr_page_id" json:"page_id"`
	RevID        int64      `db:"fr_rev_id" json:"rev_id"`
	RevTimestamp time.Time  `db:"fr_rev_timestamp" json:"rev_timestamp"`
	UserID       int64      `db:"fr_user" json:"user_id"`
	Timestamp    time.Time  `db:"fr_timestamp" json:"timestamp"`
	Tier         tags.Tier  `db:"fr_tier" json:"tier"`
	Flags        tags.Flags `db:"-" json:"flags"`

	// File identity for revisions of file pages (nil otherwise)
	FileName      *string    `db:"fr_img_name" json:"file_name,omitempty"`
	FileSHA1      *string    `db:"fr_img_sha1" json:"file_sha1,omitempty"`
	FileTimestamp *time.Time `db:"fr_img_timestamp" json:"file_timestamp,omitempty"`

	// Snapshot of included versions at review time.
	// Template rev id 0 / zero file identity mean "did not exist".
	Templates map[TemplateKey]int64   `db:"-" json:"-"`
	Files     map[string]FileIdentity `db:"-" json:"files,omitempty"`
}

// FileIdentityOf returns the revision's file identity (zero if none)
func (fr *FlaggedRevision) FileIdentityOf() FileIdentity {
	var fi FileIdentity
	if fr.FileTimestamp != nil {
		fi.Timestamp = *fr.FileTimestamp
	}
	if fr.FileSHA1 != nil {
		fi.SHA1 = *fr.FileSHA1
	}
	return fi
}

// Revision is the engine's view of a wiki revision, provided by the
// revision-store collaborator.
type Revision struct {
	ID        int64     `db:"rev_id" json:"id"`
	PageID    int64     `db:"rev_page" json:"page_id"`
	Timestamp time.Time `db:"rev_timestamp" json:"timestamp"`
	// Content fingerprint; two revisions with equal TextSHA1 have
	// identical text (a null edit)
	TextSHA1 string `db:"rev_text_sha1" json:"text_sha1"`
	Deleted  bool   `db:"rev_deleted" json:"deleted"`
	UserID   int64  `db:"rev_user" json:"user_id"`
}

// Page is the engine's view of a wiki page
type Page struct {
	ID        int64  `db:"page_id" json:"id"`
	Namespace int    `db:"page_namespace" json:"namespace"`
	Title     string `db:"page_title" json:"title"`
	LatestRev int64  `db:"page_latest" json:"latest_rev"`
}

// PageStabilityConfig is the per-page review configuration document.
// Maps to: page_config
type PageStabilityConfig struct {
	PageID int64 `db:"pc_page_id" json:"page_id"`
	// Whether the stable version overrides the draft as the default view.
	// Under protection mode a page without Override set is not reviewable.
	Override bool `db:"pc_override" json:"override"`
	// Restriction level required to have edits auto-reviewed ("" = none)
	AutoReviewRestriction string `db:"pc_autoreview" json:"autoreview_restriction"`
	// Optional configuration expiry
	Expiry *time.Time `db:"pc_expiry" json:"expiry,omitempty"`
}
