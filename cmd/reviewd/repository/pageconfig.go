package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/openwiki/flaggedrevs/common/db"
	"github.com/openwiki/flaggedrevs/common/models"
)

// PageConfigRepository handles per-page stability settings
type PageConfigRepository struct {
	db *db.DB
}

// NewPageConfigRepository creates a new page-config repository
func NewPageConfigRepository(db *db.DB) *PageConfigRepository {
	return &PageConfigRepository{db: db}
}

// Get retrieves the stability settings of a page. Expired rows count as
// absent. Returns nil when the page has no explicit configuration.
func (r *PageConfigRepository) Get(ctx context.Context, q db.Querier, pageID int64) (*models.PageStabilityConfig, error) {
	pc := &models.PageStabilityConfig{}
	err := q.QueryRow(ctx, `
		SELECT pc_page_id, pc_override, pc_autoreview, pc_expiry
		FROM page_config
		WHERE pc_page_id = $1 AND (pc_expiry IS NULL OR pc_expiry > NOW())
	`, pageID).Scan(&pc.PageID, &pc.Override, &pc.AutoReviewRestriction, &pc.Expiry)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page config: %w", err)
	}
	return pc, nil
}

// Upsert writes the stability settings of a page
func (r *PageConfigRepository) Upsert(ctx context.Context, q db.Querier, pc *models.PageStabilityConfig) error {
	_, err := q.Exec(ctx, `
		INSERT INTO page_config (pc_page_id, pc_override, pc_autoreview, pc_expiry)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pc_page_id) DO UPDATE SET
			pc_override = EXCLUDED.pc_override,
			pc_autoreview = EXCLUDED.pc_autoreview,
			pc_expiry = EXCLUDED.pc_expiry
	`, pc.PageID, pc.Override, pc.AutoReviewRestriction, pc.Expiry)
	if err != nil {
		return fmt.Errorf("failed to upsert page config: %w", err)
	}
	return nil
}

// Delete removes the explicit configuration of a page
func (r *PageConfigRepository) Delete(ctx context.Context, q db.Querier, pageID int64) error {
	_, err := q.Exec(ctx, `DELETE FROM page_config WHERE pc_page_id = $1`, pageID)
	if err != nil {
		return fmt.Errorf("failed to delete page config: %w", err)
	}
	return nil
}
