package repository

import (
	"context"
	"fmt"

	"github.com/openwiki/flaggedrevs/common/db"
	"github.com/openwiki/flaggedrevs/common/models"
)

// DepsRepository handles database operations for stable-only dependency
// rows: targets referenced by a page's stable rendering but no longer by
// its current draft. Edits to those targets must still invalidate the
// page's stable cache.
type DepsRepository struct {
	db *db.DB
}

// NewDepsRepository creates a new dependency repository
func NewDepsRepository(db *db.DB) *DepsRepository {
	return &DepsRepository{db: db}
}

// ListForPage returns the stable-only dependencies of a page
func (r *DepsRepository) ListForPage(ctx context.Context, q db.Querier, pageID int64) ([]models.Dependency, error) {
	rows, err := q.Query(ctx, `
		SELECT sd_from, sd_namespace, sd_title
		FROM stable_only_deps
		WHERE sd_from = $1
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	defer rows.Close()

	var deps []models.Dependency
	for rows.Next() {
		var d models.Dependency
		if err := rows.Scan(&d.FromPage, &d.Namespace, &d.Title); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return deps, nil
}

// Apply inserts and deletes only the difference computed by the caller
func (r *DepsRepository) Apply(ctx context.Context, q db.Querier, add, remove []models.Dependency) error {
	for _, d := range add {
		_, err := q.Exec(ctx, `
			INSERT INTO stable_only_deps (sd_from, sd_namespace, sd_title)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, d.FromPage, d.Namespace, d.Title)
		if err != nil {
			return fmt.Errorf("failed to insert dependency: %w", err)
		}
	}
	for _, d := range remove {
		_, err := q.Exec(ctx, `
			DELETE FROM stable_only_deps
			WHERE sd_from = $1 AND sd_namespace = $2 AND sd_title = $3
		`, d.FromPage, d.Namespace, d.Title)
		if err != nil {
			return fmt.Errorf("failed to delete dependency: %w", err)
		}
	}
	return nil
}

// Clear removes all dependency rows for a page
func (r *DepsRepository) Clear(ctx context.Context, q db.Querier, pageID int64) error {
	_, err := q.Exec(ctx, `DELETE FROM stable_only_deps WHERE sd_from = $1`, pageID)
	if err != nil {
		return fmt.Errorf("failed to clear dependencies: %w", err)
	}
	return nil
}

// PagesDependingOn returns the ids of pages whose stable rendering depends
// on the given target
func (r *DepsRepository) PagesDependingOn(ctx context.Context, q db.Querier, namespace int, title string) ([]int64, error) {
	rows, err := q.Query(ctx, `
		SELECT sd_from FROM stable_only_deps
		WHERE sd_namespace = $1 AND sd_title = $2
	`, namespace, title)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependents: %w", err)
	}
	defer rows.Close()

	var pages []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan dependent: %w", err)
		}
		pages = append(pages, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependents: %w", err)
	}
	return pages, nil
}
