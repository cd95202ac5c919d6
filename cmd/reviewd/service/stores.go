package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/openwiki/flaggedrevs/common/db"
	"github.com/openwiki/flaggedrevs/common/models"
	"github.com/openwiki/flaggedrevs/common/tags"
)

// Database is the subset of the database wrapper the services use: a
// plain Querier for lock-free reads and a transaction runner for writes
type Database interface {
	Querier() db.Querier
	WithinTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Store interfaces consumed by the services. The repository package
// implements them over Postgres; tests substitute in-memory fakes. Every
// method takes a Querier so reads that decide writes run on the caller's
// transaction and see its row locks.

// FlaggedRevStore is storage for flagged revisions and their snapshots
type FlaggedRevStore interface {
	Get(ctx context.Context, q db.Querier, pageID, revID int64) (*models.FlaggedRevision, error)
	Newest(ctx context.Context, q db.Querier, pageID int64, minTier tags.Tier, newerThan time.Time) (*models.FlaggedRevision, error)
	Insert(ctx context.Context, q db.Querier, fr *models.FlaggedRevision) (bool, error)
	Delete(ctx context.Context, q db.Querier, pageID, revID int64) error
	LoadSnapshot(ctx context.Context, q db.Querier, fr *models.FlaggedRevision) error
}

// PageStateStore is storage for the per-page review state projection
type PageStateStore interface {
	Get(ctx context.Context, q db.Querier, pageID int64) (*models.PageReviewState, error)
	GetForUpdate(ctx context.Context, q db.Querier, pageID int64) (*models.PageReviewState, error)
	Upsert(ctx context.Context, q db.Querier, st *models.PageReviewState) error
	Delete(ctx context.Context, q db.Querier, pageID int64) error
}

// LinkStore is the engine's mirror of pages, revisions, link tables and
// file versions
type LinkStore interface {
	GetPage(ctx context.Context, q db.Querier, pageID int64) (*models.Page, error)
	GetPageByTitle(ctx context.Context, q db.Querier, namespace int, title string) (*models.Page, error)
	UpsertPage(ctx context.Context, q db.Querier, p *models.Page) error
	GetRevision(ctx context.Context, q db.Querier, revID int64) (*models.Revision, error)
	InsertRevision(ctx context.Context, q db.Querier, rev *models.Revision) error
	TextSHA1(ctx context.Context, q db.Querier, revID int64) (string, error)
	MinRevTimestampAfter(ctx context.Context, q db.Querier, pageID int64, after time.Time) (*time.Time, error)
	ReplaceTemplateLinks(ctx context.Context, q db.Querier, pageID int64, links []models.TemplateKey) error
	ReplaceFileLinks(ctx context.Context, q db.Querier, pageID int64, names []string) error
	CurrentTemplateVersions(ctx context.Context, q db.Querier, pageID int64) (map[models.TemplateKey]int64, error)
	CurrentFileVersions(ctx context.Context, q db.Querier, pageID int64) (map[string]models.FileIdentity, error)
	UpsertFileVersion(ctx context.Context, q db.Querier, name string, pageID int64, fi models.FileIdentity) error
	StableRevOf(ctx context.Context, q db.Querier, namespace int, title string) (int64, error)
	StableFileVersion(ctx context.Context, q db.Querier, name string) (models.FileIdentity, error)
}

// DepsStore is storage for stable-only dependency rows
type DepsStore interface {
	ListForPage(ctx context.Context, q db.Querier, pageID int64) ([]models.Dependency, error)
	Apply(ctx context.Context, q db.Querier, add, remove []models.Dependency) error
	Clear(ctx context.Context, q db.Querier, pageID int64) error
	PagesDependingOn(ctx context.Context, q db.Querier, namespace int, title string) ([]int64, error)
}

// PageConfigStore is storage for per-page stability settings
type PageConfigStore interface {
	Get(ctx context.Context, q db.Querier, pageID int64) (*models.PageStabilityConfig, error)
	Upsert(ctx context.Context, q db.Querier, pc *models.PageStabilityConfig) error
	Delete(ctx context.Context, q db.Querier, pageID int64) error
}

// ReviewLogStore is the append-only audit log
type ReviewLogStore interface {
	Append(ctx context.Context, q db.Querier, entry *models.ReviewLogEntry) error
	ListForPage(ctx context.Context, q db.Querier, pageID int64, limit int) ([]*models.ReviewLogEntry, error)
}

// Purger receives stable-version change events for downstream cache
// invalidation
type Purger interface {
	PublishStableChange(ctx context.Context, change models.StableChange) error
}
