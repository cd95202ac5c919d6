package repository

import (
	"context"
	"fmt"

	"github.com/openwiki/flaggedrevs/common/db"
)

// schema is the engine's persisted state layout. Page, revision,
// link-table and file-version rows mirror the wiki and are fed by edit
// notifications; the rest is owned by the review engine.
const schema = `
CREATE TABLE IF NOT EXISTS pages (
	page_id        BIGINT PRIMARY KEY,
	page_namespace INT NOT NULL,
	page_title     TEXT NOT NULL,
	page_latest    BIGINT NOT NULL DEFAULT 0,
	UNIQUE (page_namespace, page_title)
);

CREATE TABLE IF NOT EXISTS revisions (
	rev_id        BIGINT PRIMARY KEY,
	rev_page      BIGINT NOT NULL,
	rev_timestamp TIMESTAMPTZ NOT NULL,
	rev_text_sha1 TEXT NOT NULL DEFAULT '',
	rev_deleted   BOOLEAN NOT NULL DEFAULT FALSE,
	rev_user      BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS revisions_page_ts ON revisions (rev_page, rev_timestamp);

CREATE TABLE IF NOT EXISTS flagged_revisions (
	fr_page_id       BIGINT NOT NULL,
	fr_rev_id        BIGINT NOT NULL,
	fr_rev_timestamp TIMESTAMPTZ NOT NULL,
	fr_user          BIGINT NOT NULL,
	fr_timestamp     TIMESTAMPTZ NOT NULL,
	fr_tier          INT NOT NULL DEFAULT 0,
	fr_flags         TEXT NOT NULL DEFAULT '',
	fr_img_name      TEXT,
	fr_img_sha1      TEXT,
	fr_img_timestamp TIMESTAMPTZ,
	PRIMARY KEY (fr_page_id, fr_rev_id)
);
CREATE INDEX IF NOT EXISTS flagged_revisions_tier ON flagged_revisions (fr_page_id, fr_tier, fr_rev_timestamp DESC, fr_rev_id DESC);

CREATE TABLE IF NOT EXISTS flagged_templates (
	ft_rev_id     BIGINT NOT NULL,
	ft_namespace  INT NOT NULL,
	ft_title      TEXT NOT NULL,
	ft_tmp_rev_id BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (ft_rev_id, ft_namespace, ft_title)
);

CREATE TABLE IF NOT EXISTS flagged_files (
	fi_rev_id        BIGINT NOT NULL,
	fi_name          TEXT NOT NULL,
	fi_img_timestamp TIMESTAMPTZ,
	fi_img_sha1      TEXT,
	PRIMARY KEY (fi_rev_id, fi_name)
);

CREATE TABLE IF NOT EXISTS page_review_state (
	fp_page_id        BIGINT PRIMARY KEY,
	fp_stable         BIGINT NOT NULL DEFAULT 0,
	fp_tier           INT NOT NULL DEFAULT 0,
	fp_default_stable BOOLEAN NOT NULL DEFAULT TRUE,
	fp_pending_since  TIMESTAMPTZ,
	fp_last_change    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS page_review_state_pending ON page_review_state (fp_pending_since) WHERE fp_pending_since IS NOT NULL;

CREATE TABLE IF NOT EXISTS stable_only_deps (
	sd_from      BIGINT NOT NULL,
	sd_namespace INT NOT NULL,
	sd_title     TEXT NOT NULL,
	PRIMARY KEY (sd_from, sd_namespace, sd_title)
);
CREATE INDEX IF NOT EXISTS stable_only_deps_target ON stable_only_deps (sd_namespace, sd_title);

CREATE TABLE IF NOT EXISTS template_links (
	tl_from      BIGINT NOT NULL,
	tl_namespace INT NOT NULL,
	tl_title     TEXT NOT NULL,
	PRIMARY KEY (tl_from, tl_namespace, tl_title)
);

CREATE TABLE IF NOT EXISTS file_links (
	il_from BIGINT NOT NULL,
	il_name TEXT NOT NULL,
	PRIMARY KEY (il_from, il_name)
);

CREATE TABLE IF NOT EXISTS file_versions (
	fv_name      TEXT PRIMARY KEY,
	fv_page_id   BIGINT NOT NULL,
	fv_timestamp TIMESTAMPTZ NOT NULL,
	fv_sha1      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS page_config (
	pc_page_id    BIGINT PRIMARY KEY,
	pc_override   BOOLEAN NOT NULL DEFAULT FALSE,
	pc_autoreview TEXT NOT NULL DEFAULT '',
	pc_expiry     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS review_log (
	id         UUID PRIMARY KEY,
	page_id    BIGINT NOT NULL,
	rev_id     BIGINT NOT NULL,
	user_id    BIGINT NOT NULL,
	action     TEXT NOT NULL,
	old_stable BIGINT NOT NULL DEFAULT 0,
	new_stable BIGINT NOT NULL DEFAULT 0,
	comment    TEXT NOT NULL DEFAULT '',
	auto       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS review_log_page ON review_log (page_id, created_at DESC);
`

// EnsureSchema creates the tables if they do not exist. Wired as the
// bootstrap DB init hook.
func EnsureSchema(database *db.DB) error {
	if _, err := database.Exec(context.Background(), schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
