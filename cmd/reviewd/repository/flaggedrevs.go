package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/openwiki/flaggedrevs/common/db"
	"github.com/openwiki/flaggedrevs/common/models"
	"github.com/openwiki/flaggedrevs/common/tags"
)

// FlaggedRevRepository handles database operations for flagged revisions
// and their captured inclusion snapshots. Flags are stored in the flattened
// tag encoding and expanded through the tag model on read.
type FlaggedRevRepository struct {
	db    *db.DB
	model *tags.Model
}

// NewFlaggedRevRepository creates a new flagged-revision repository
func NewFlaggedRevRepository(db *db.DB, model *tags.Model) *FlaggedRevRepository {
	return &FlaggedRevRepository{db: db, model: model}
}

const flaggedRevColumns = `
	fr.fr_page_id, fr.fr_rev_id, fr.fr_rev_timestamp, fr.fr_user,
	fr.fr_timestamp, fr.fr_tier, fr.fr_flags,
	fr.fr_img_name, fr.fr_img_sha1, fr.fr_img_timestamp
`

func (r *FlaggedRevRepository) scanOne(row pgx.Row) (*models.FlaggedRevision, error) {
	fr := &models.FlaggedRevision{}
	var tier int
	var flags string
	err := row.Scan(
		&fr.PageID,
		&fr.RevID,
		&fr.RevTimestamp,
		&fr.UserID,
		&fr.Timestamp,
		&tier,
		&flags,
		&fr.FileName,
		&fr.FileSHA1,
		&fr.FileTimestamp,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan flagged revision: %w", err)
	}
	fr.Tier = tags.Tier(tier)
	fr.Flags = r.model.ExpandTags(flags)
	return fr, nil
}

// Get retrieves the flagged revision for (page, rev). Revisions whose
// underlying text is deleted are skipped. Returns nil when absent.
func (r *FlaggedRevRepository) Get(ctx context.Context, q db.Querier, pageID, revID int64) (*models.FlaggedRevision, error) {
	query := `
		SELECT ` + flaggedRevColumns + `
		FROM flagged_revisions fr
		JOIN revisions rev ON rev.rev_id = fr.fr_rev_id
		WHERE fr.fr_page_id = $1 AND fr.fr_rev_id = $2 AND NOT rev.rev_deleted
	`
	return r.scanOne(q.QueryRow(ctx, query, pageID, revID))
}

// Newest retrieves the newest flagged revision for a page at or above
// minTier, restricted to revisions newer than newerThan when non-zero.
// Newest is by revision timestamp; rev id breaks exact timestamp ties.
func (r *FlaggedRevRepository) Newest(ctx context.Context, q db.Querier, pageID int64, minTier tags.Tier, newerThan time.Time) (*models.FlaggedRevision, error) {
	query := `
		SELECT ` + flaggedRevColumns + `
		FROM flagged_revisions fr
		JOIN revisions rev ON rev.rev_id = fr.fr_rev_id
		WHERE fr.fr_page_id = $1 AND fr.fr_tier >= $2
		  AND ($3::timestamptz IS NULL OR fr.fr_rev_timestamp > $3)
		  AND NOT rev.rev_deleted
		ORDER BY fr.fr_rev_timestamp DESC, fr.fr_rev_id DESC
		LIMIT 1
	`
	var after *time.Time
	if !newerThan.IsZero() {
		after = &newerThan
	}
	return r.scanOne(q.QueryRow(ctx, query, pageID, int(minTier), after))
}

// Insert stores a flagged revision together with its template/file
// snapshot rows. Returns false (and writes nothing) when a record for
// (page, rev) already exists; the caller treats that as a duplicate, not
// an error.
func (r *FlaggedRevRepository) Insert(ctx context.Context, q db.Querier, fr *models.FlaggedRevision) (bool, error) {
	if fr.PageID == 0 || fr.RevID == 0 {
		return false, fmt.Errorf("flagged revision missing page or revision id")
	}

	query := `
		INSERT INTO flagged_revisions
			(fr_page_id, fr_rev_id, fr_rev_timestamp, fr_user, fr_timestamp,
			 fr_tier, fr_flags, fr_img_name, fr_img_sha1, fr_img_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (fr_page_id, fr_rev_id) DO NOTHING
	`
	tag, err := q.Exec(ctx, query,
		fr.PageID,
		fr.RevID,
		fr.RevTimestamp,
		fr.UserID,
		fr.Timestamp,
		int(fr.Tier),
		r.model.FlattenTags(fr.Flags),
		fr.FileName,
		fr.FileSHA1,
		fr.FileTimestamp,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert flagged revision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	for key, rev := range fr.Templates {
		_, err := q.Exec(ctx, `
			INSERT INTO flagged_templates (ft_rev_id, ft_namespace, ft_title, ft_tmp_rev_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (ft_rev_id, ft_namespace, ft_title) DO NOTHING
		`, fr.RevID, key.Namespace, key.Title, rev)
		if err != nil {
			return false, fmt.Errorf("failed to insert template snapshot: %w", err)
		}
	}
	for name, fi := range fr.Files {
		var ts *time.Time
		var sha *string
		if fi.Exists() {
			ts = &fi.Timestamp
			sha = &fi.SHA1
		}
		_, err := q.Exec(ctx, `
			INSERT INTO flagged_files (fi_rev_id, fi_name, fi_img_timestamp, fi_img_sha1)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (fi_rev_id, fi_name) DO NOTHING
		`, fr.RevID, name, ts, sha)
		if err != nil {
			return false, fmt.Errorf("failed to insert file snapshot: %w", err)
		}
	}

	return true, nil
}

// Delete removes the flagged revision for (page, rev) and its snapshot
// rows. Idempotent: deleting an absent record is not an error.
func (r *FlaggedRevRepository) Delete(ctx context.Context, q db.Querier, pageID, revID int64) error {
	if _, err := q.Exec(ctx, `DELETE FROM flagged_templates WHERE ft_rev_id = $1`, revID); err != nil {
		return fmt.Errorf("failed to delete template snapshot: %w", err)
	}
	if _, err := q.Exec(ctx, `DELETE FROM flagged_files WHERE fi_rev_id = $1`, revID); err != nil {
		return fmt.Errorf("failed to delete file snapshot: %w", err)
	}
	if _, err := q.Exec(ctx, `
		DELETE FROM flagged_revisions WHERE fr_page_id = $1 AND fr_rev_id = $2
	`, pageID, revID); err != nil {
		return fmt.Errorf("failed to delete flagged revision: %w", err)
	}
	return nil
}

// LoadSnapshot fills the template and file version maps captured when the
// revision was reviewed
func (r *FlaggedRevRepository) LoadSnapshot(ctx context.Context, q db.Querier, fr *models.FlaggedRevision) error {
	fr.Templates = make(map[models.TemplateKey]int64)
	fr.Files = make(map[string]models.FileIdentity)

	rows, err := q.Query(ctx, `
		SELECT ft_namespace, ft_title, ft_tmp_rev_id
		FROM flagged_templates
		WHERE ft_rev_id = $1
	`, fr.RevID)
	if err != nil {
		return fmt.Errorf("failed to load template snapshot: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key models.TemplateKey
		var rev int64
		if err := rows.Scan(&key.Namespace, &key.Title, &rev); err != nil {
			return fmt.Errorf("failed to scan template snapshot: %w", err)
		}
		fr.Templates[key] = rev
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating template snapshot: %w", err)
	}

	frows, err := q.Query(ctx, `
		SELECT fi_name, fi_img_timestamp, fi_img_sha1
		FROM flagged_files
		WHERE fi_rev_id = $1
	`, fr.RevID)
	if err != nil {
		return fmt.Errorf("failed to load file snapshot: %w", err)
	}
	defer frows.Close()
	for frows.Next() {
		var name string
		var ts *time.Time
		var sha *string
		if err := frows.Scan(&name, &ts, &sha); err != nil {
			return fmt.Errorf("failed to scan file snapshot: %w", err)
		}
		var fi models.FileIdentity
		if ts != nil {
			fi.Timestamp = *ts
		}
		if sha != nil {
			fi.SHA1 = *sha
		}
		fr.Files[name] = fi
	}
	if err := frows.Err(); err != nil {
		return fmt.Errorf("error iterating file snapshot: %w", err)
	}

	return nil
}
