package models

import "errors"

// Review failure taxonomy. These are structural preconditions surfaced as
// typed results to the caller of a review submission; once the
// transactional write begins only a storage failure can occur, and that is
// returned as-is with the transaction rolled back.
var (
	// ErrPageNotReviewable: namespace or site/page config excludes the page
	ErrPageNotReviewable = errors.New("page is not reviewable")
	// ErrRevisionNotFound: the target revision does not exist on the page
	ErrRevisionNotFound = errors.New("revision not found")
	// ErrRevisionSuppressed: the target revision's text is deleted
	ErrRevisionSuppressed = errors.New("revision is suppressed")
	// ErrInvalidFlags: a submitted tag/value fails tag-model validation
	ErrInvalidFlags = errors.New("invalid review flags")
	// ErrPermissionDenied: the user lacks rights for the action or a tag value
	ErrPermissionDenied = errors.New("permission denied")
	// ErrConflict: the optimistic-concurrency token is stale
	ErrConflict = errors.New("review state changed concurrently")
	// ErrNotFlagged: unapprove of a revision that has no flagged record
	ErrNotFlagged = errors.New("revision is not flagged")
)

// ReviewStatus is the machine-readable outcome code of a review submission
type ReviewStatus string

const (
	StatusApproved   ReviewStatus = "approved"
	StatusUnapproved ReviewStatus = "unapproved"
	// StatusDuplicate: an identical flagged record already existed; the
	// submission is an idempotent no-op
	StatusDuplicate ReviewStatus = "duplicate"
	StatusDenied    ReviewStatus = "denied"
	StatusConflict  ReviewStatus = "conflict"
)

// StatusFor maps a taxonomy error to its outcome code ("" for unknown
// errors, which are storage failures the caller should surface as-is)
func StatusFor(err error) ReviewStatus {
	switch {
	case errors.Is(err, ErrConflict):
		return StatusConflict
	case errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrInvalidFlags),
		errors.Is(err, ErrPageNotReviewable),
		errors.Is(err, ErrRevisionNotFound),
		errors.Is(err, ErrRevisionSuppressed),
		errors.Is(err, ErrNotFlagged):
		return StatusDenied
	default:
		return ""
	}
}
