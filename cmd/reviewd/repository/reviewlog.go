package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openwiki/flaggedrevs/common/db"
	"github.com/openwiki/flaggedrevs/common/models"
)

// ReviewLogRepository handles the immutable audit log of review actions
type ReviewLogRepository struct {
	db *db.DB
}

// NewReviewLogRepository creates a new review-log repository
func NewReviewLogRepository(db *db.DB) *ReviewLogRepository {
	return &ReviewLogRepository{db: db}
}

// Append writes one log entry. ID and timestamp are assigned here when
// unset.
func (r *ReviewLogRepository) Append(ctx context.Context, q db.Querier, entry *models.ReviewLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO review_log
			(id, page_id, rev_id, user_id, action, old_stable, new_stable, comment, auto, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		entry.ID,
		entry.PageID,
		entry.RevID,
		entry.UserID,
		string(entry.Action),
		entry.OldStable,
		entry.NewStable,
		entry.Comment,
		entry.Auto,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append review log: %w", err)
	}
	return nil
}

// ListForPage returns the most recent log entries for a page
func (r *ReviewLogRepository) ListForPage(ctx context.Context, q db.Querier, pageID int64, limit int) ([]*models.ReviewLogEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, page_id, rev_id, user_id, action, old_stable, new_stable, comment, auto, created_at
		FROM review_log
		WHERE page_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, pageID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list review log: %w", err)
	}
	defer rows.Close()

	var entries []*models.ReviewLogEntry
	for rows.Next() {
		entry := &models.ReviewLogEntry{}
		var action string
		err := rows.Scan(
			&entry.ID,
			&entry.PageID,
			&entry.RevID,
			&entry.UserID,
			&action,
			&entry.OldStable,
			&entry.NewStable,
			&entry.Comment,
			&entry.Auto,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review log entry: %w", err)
		}
		entry.Action = models.ReviewAction(action)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating review log: %w", err)
	}
	return entries, nil
}
