package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/openwiki/flaggedrevs/common/db"
	"github.com/openwiki/flaggedrevs/common/models"
	"github.com/openwiki/flaggedrevs/common/tags"
)

// PageStateRepository handles database operations for the per-page review
// state projection. One row per reviewed page; absence means unreviewed.
type PageStateRepository struct {
	db *db.DB
}

// NewPageStateRepository creates a new page-state repository
func NewPageStateRepository(db *db.DB) *PageStateRepository {
	return &PageStateRepository{db: db}
}

const pageStateColumns = `
	fp_page_id, fp_stable, fp_tier, fp_default_stable, fp_pending_since, fp_last_change
`

func scanPageState(row pgx.Row) (*models.PageReviewState, error) {
	st := &models.PageReviewState{}
	var tier int
	err := row.Scan(
		&st.PageID,
		&st.StableRev,
		&tier,
		&st.DefaultStable,
		&st.PendingSince,
		&st.LastChange,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan page state: %w", err)
	}
	st.Tier = tags.Tier(tier)
	return st, nil
}

// Get retrieves the review state for a page. Returns nil when the page has
// never been reviewed.
func (r *PageStateRepository) Get(ctx context.Context, q db.Querier, pageID int64) (*models.PageReviewState, error) {
	query := `SELECT ` + pageStateColumns + ` FROM page_review_state WHERE fp_page_id = $1`
	return scanPageState(q.QueryRow(ctx, query, pageID))
}

// GetForUpdate retrieves the review state holding a row lock until the
// surrounding transaction ends. Concurrent review submissions for the same
// page serialize here.
func (r *PageStateRepository) GetForUpdate(ctx context.Context, q db.Querier, pageID int64) (*models.PageReviewState, error) {
	query := `SELECT ` + pageStateColumns + ` FROM page_review_state WHERE fp_page_id = $1 FOR UPDATE`
	return scanPageState(q.QueryRow(ctx, query, pageID))
}

// Upsert writes the review state row
func (r *PageStateRepository) Upsert(ctx context.Context, q db.Querier, st *models.PageReviewState) error {
	query := `
		INSERT INTO page_review_state
			(fp_page_id, fp_stable, fp_tier, fp_default_stable, fp_pending_since, fp_last_change)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (fp_page_id) DO UPDATE SET
			fp_stable = EXCLUDED.fp_stable,
			fp_tier = EXCLUDED.fp_tier,
			fp_default_stable = EXCLUDED.fp_default_stable,
			fp_pending_since = EXCLUDED.fp_pending_since,
			fp_last_change = EXCLUDED.fp_last_change
	`
	_, err := q.Exec(ctx, query,
		st.PageID,
		st.StableRev,
		int(st.Tier),
		st.DefaultStable,
		st.PendingSince,
		st.LastChange,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert page state: %w", err)
	}
	return nil
}

// Delete removes the review state row, putting the page back to unreviewed.
// Idempotent.
func (r *PageStateRepository) Delete(ctx context.Context, q db.Querier, pageID int64) error {
	_, err := q.Exec(ctx, `DELETE FROM page_review_state WHERE fp_page_id = $1`, pageID)
	if err != nil {
		return fmt.Errorf("failed to delete page state: %w", err)
	}
	return nil
}
