package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/openwiki/flaggedrevs/common/db"
	"github.com/openwiki/flaggedrevs/common/models"
)

// LinkRepository maintains the engine's mirror of the wiki's page,
// revision, link-table and file-version data. These relations are fed by
// the edit-notification endpoint and consumed by the resolvers; the engine
// never writes page text.
type LinkRepository struct {
	db *db.DB
}

// NewLinkRepository creates a new link repository
func NewLinkRepository(db *db.DB) *LinkRepository {
	return &LinkRepository{db: db}
}

// GetPage retrieves a page by id. Returns nil when unknown.
func (r *LinkRepository) GetPage(ctx context.Context, q db.Querier, pageID int64) (*models.Page, error) {
	p := &models.Page{}
	err := q.QueryRow(ctx, `
		SELECT page_id, page_namespace, page_title, page_latest
		FROM pages WHERE page_id = $1
	`, pageID).Scan(&p.ID, &p.Namespace, &p.Title, &p.LatestRev)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	return p, nil
}

// GetPageByTitle retrieves a page by (namespace, title). Returns nil when
// unknown.
func (r *LinkRepository) GetPageByTitle(ctx context.Context, q db.Querier, namespace int, title string) (*models.Page, error) {
	p := &models.Page{}
	err := q.QueryRow(ctx, `
		SELECT page_id, page_namespace, page_title, page_latest
		FROM pages WHERE page_namespace = $1 AND page_title = $2
	`, namespace, title).Scan(&p.ID, &p.Namespace, &p.Title, &p.LatestRev)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page by title: %w", err)
	}
	return p, nil
}

// UpsertPage writes a page row
func (r *LinkRepository) UpsertPage(ctx context.Context, q db.Querier, p *models.Page) error {
	_, err := q.Exec(ctx, `
		INSERT INTO pages (page_id, page_namespace, page_title, page_latest)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (page_id) DO UPDATE SET
			page_namespace = EXCLUDED.page_namespace,
			page_title = EXCLUDED.page_title,
			page_latest = EXCLUDED.page_latest
	`, p.ID, p.Namespace, p.Title, p.LatestRev)
	if err != nil {
		return fmt.Errorf("failed to upsert page: %w", err)
	}
	return nil
}

// GetRevision retrieves a revision by id. Returns nil when unknown.
func (r *LinkRepository) GetRevision(ctx context.Context, q db.Querier, revID int64) (*models.Revision, error) {
	rev := &models.Revision{}
	err := q.QueryRow(ctx, `
		SELECT rev_id, rev_page, rev_timestamp, rev_text_sha1, rev_deleted, rev_user
		FROM revisions WHERE rev_id = $1
	`, revID).Scan(&rev.ID, &rev.PageID, &rev.Timestamp, &rev.TextSHA1, &rev.Deleted, &rev.UserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get revision: %w", err)
	}
	return rev, nil
}

// InsertRevision records a revision. Re-notifying an existing revision
// updates its mutable fields (deletion status).
func (r *LinkRepository) InsertRevision(ctx context.Context, q db.Querier, rev *models.Revision) error {
	_, err := q.Exec(ctx, `
		INSERT INTO revisions (rev_id, rev_page, rev_timestamp, rev_text_sha1, rev_deleted, rev_user)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (rev_id) DO UPDATE SET
			rev_text_sha1 = EXCLUDED.rev_text_sha1,
			rev_deleted = EXCLUDED.rev_deleted
	`, rev.ID, rev.PageID, rev.Timestamp, rev.TextSHA1, rev.Deleted, rev.UserID)
	if err != nil {
		return fmt.Errorf("failed to insert revision: %w", err)
	}
	return nil
}

// TextSHA1 returns the content fingerprint of a revision ("" when unknown)
func (r *LinkRepository) TextSHA1(ctx context.Context, q db.Querier, revID int64) (string, error) {
	var sha string
	err := q.QueryRow(ctx, `SELECT rev_text_sha1 FROM revisions WHERE rev_id = $1`, revID).Scan(&sha)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get revision text sha1: %w", err)
	}
	return sha, nil
}

// MinRevTimestampAfter returns the timestamp of the earliest non-deleted
// revision of a page strictly after the given time, or nil when none exists.
// This is what pending-since is anchored to.
func (r *LinkRepository) MinRevTimestampAfter(ctx context.Context, q db.Querier, pageID int64, after time.Time) (*time.Time, error) {
	var ts *time.Time
	err := q.QueryRow(ctx, `
		SELECT MIN(rev_timestamp) FROM revisions
		WHERE rev_page = $1 AND rev_timestamp > $2 AND NOT rev_deleted
	`, pageID, after).Scan(&ts)
	if err != nil {
		return nil, fmt.Errorf("failed to get earliest pending revision: %w", err)
	}
	return ts, nil
}

// ReplaceTemplateLinks replaces the outbound template link set of a page
func (r *LinkRepository) ReplaceTemplateLinks(ctx context.Context, q db.Querier, pageID int64, links []models.TemplateKey) error {
	if _, err := q.Exec(ctx, `DELETE FROM template_links WHERE tl_from = $1`, pageID); err != nil {
		return fmt.Errorf("failed to clear template links: %w", err)
	}
	for _, key := range links {
		_, err := q.Exec(ctx, `
			INSERT INTO template_links (tl_from, tl_namespace, tl_title)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, pageID, key.Namespace, key.Title)
		if err != nil {
			return fmt.Errorf("failed to insert template link: %w", err)
		}
	}
	return nil
}

// ReplaceFileLinks replaces the outbound file link set of a page
func (r *LinkRepository) ReplaceFileLinks(ctx context.Context, q db.Querier, pageID int64, names []string) error {
	if _, err := q.Exec(ctx, `DELETE FROM file_links WHERE il_from = $1`, pageID); err != nil {
		return fmt.Errorf("failed to clear file links: %w", err)
	}
	for _, name := range names {
		_, err := q.Exec(ctx, `
			INSERT INTO file_links (il_from, il_name)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, pageID, name)
		if err != nil {
			return fmt.Errorf("failed to insert file link: %w", err)
		}
	}
	return nil
}

// CurrentTemplateVersions returns, for every template the page's draft
// transcludes, the live latest revision id of the target (0 when the
// target page does not exist).
func (r *LinkRepository) CurrentTemplateVersions(ctx context.Context, q db.Querier, pageID int64) (map[models.TemplateKey]int64, error) {
	rows, err := q.Query(ctx, `
		SELECT tl.tl_namespace, tl.tl_title, COALESCE(p.page_latest, 0)
		FROM template_links tl
		LEFT JOIN pages p ON p.page_namespace = tl.tl_namespace AND p.page_title = tl.tl_title
		WHERE tl.tl_from = $1
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list template versions: %w", err)
	}
	defer rows.Close()

	out := make(map[models.TemplateKey]int64)
	for rows.Next() {
		var key models.TemplateKey
		var rev int64
		if err := rows.Scan(&key.Namespace, &key.Title, &rev); err != nil {
			return nil, fmt.Errorf("failed to scan template version: %w", err)
		}
		out[key] = rev
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating template versions: %w", err)
	}
	return out, nil
}

// CurrentFileVersions returns, for every file the page's draft uses, the
// live file identity (zero identity when the file does not exist).
func (r *LinkRepository) CurrentFileVersions(ctx context.Context, q db.Querier, pageID int64) (map[string]models.FileIdentity, error) {
	rows, err := q.Query(ctx, `
		SELECT il.il_name, fv.fv_timestamp, fv.fv_sha1
		FROM file_links il
		LEFT JOIN file_versions fv ON fv.fv_name = il.il_name
		WHERE il.il_from = $1
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list file versions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.FileIdentity)
	for rows.Next() {
		var name string
		var ts *time.Time
		var sha *string
		if err := rows.Scan(&name, &ts, &sha); err != nil {
			return nil, fmt.Errorf("failed to scan file version: %w", err)
		}
		var fi models.FileIdentity
		if ts != nil {
			fi.Timestamp = *ts
		}
		if sha != nil {
			fi.SHA1 = *sha
		}
		out[name] = fi
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file versions: %w", err)
	}
	return out, nil
}

// UpsertFileVersion records the current identity of an uploaded file
func (r *LinkRepository) UpsertFileVersion(ctx context.Context, q db.Querier, name string, pageID int64, fi models.FileIdentity) error {
	_, err := q.Exec(ctx, `
		INSERT INTO file_versions (fv_name, fv_page_id, fv_timestamp, fv_sha1)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (fv_name) DO UPDATE SET
			fv_page_id = EXCLUDED.fv_page_id,
			fv_timestamp = EXCLUDED.fv_timestamp,
			fv_sha1 = EXCLUDED.fv_sha1
	`, name, pageID, fi.Timestamp, fi.SHA1)
	if err != nil {
		return fmt.Errorf("failed to upsert file version: %w", err)
	}
	return nil
}

// StableRevOf returns the stable revision id of the page at
// (namespace, title), 0 when the target has no stable version
func (r *LinkRepository) StableRevOf(ctx context.Context, q db.Querier, namespace int, title string) (int64, error) {
	var rev int64
	err := q.QueryRow(ctx, `
		SELECT ps.fp_stable
		FROM pages p
		JOIN page_review_state ps ON ps.fp_page_id = p.page_id
		WHERE p.page_namespace = $1 AND p.page_title = $2
	`, namespace, title).Scan(&rev)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get stable revision of target: %w", err)
	}
	return rev, nil
}

// StableFileVersion returns the file identity recorded on the stable
// flagged revision of the file's own page (zero when the file page has no
// stable version)
func (r *LinkRepository) StableFileVersion(ctx context.Context, q db.Querier, name string) (models.FileIdentity, error) {
	var ts *time.Time
	var sha *string
	err := q.QueryRow(ctx, `
		SELECT fr.fr_img_timestamp, fr.fr_img_sha1
		FROM file_versions fv
		JOIN page_review_state ps ON ps.fp_page_id = fv.fv_page_id
		JOIN flagged_revisions fr ON fr.fr_page_id = ps.fp_page_id AND fr.fr_rev_id = ps.fp_stable
		WHERE fv.fv_name = $1
	`, name).Scan(&ts, &sha)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.FileIdentity{}, nil
	}
	if err != nil {
		return models.FileIdentity{}, fmt.Errorf("failed to get stable file version: %w", err)
	}
	var fi models.FileIdentity
	if ts != nil {
		fi.Timestamp = *ts
	}
	if sha != nil {
		fi.SHA1 = *sha
	}
	return fi, nil
}
