package service

import (
	"context"
	"encoding/json"

	"github.com/openwiki/flaggedrevs/common/cache"
	"github.com/openwiki/flaggedrevs/common/logger"
	"github.com/openwiki/flaggedrevs/common/models"
	"github.com/openwiki/flaggedrevs/common/redis"
)

// purgeChannel carries stable-version change events to external HTML and
// edge caches
const purgeChannel = "fr:purge"

// stableCacheFingerprint keys the service's own cached stable resolutions
const stableCacheFingerprint = "stable"

// RedisPurger publishes stable-change events over redis pub/sub and drops
// the local parse-cache entries for the affected page
type RedisPurger struct {
	redis *redis.Client
	parse *cache.ParseCache
	log   *logger.Logger
}

// NewRedisPurger creates a new purger
func NewRedisPurger(client *redis.Client, parse *cache.ParseCache, log *logger.Logger) *RedisPurger {
	return &RedisPurger{
		redis: client,
		parse: parse,
		log:   log,
	}
}

// PublishStableChange emits one purge event and invalidates local caches
func (p *RedisPurger) PublishStableChange(ctx context.Context, change models.StableChange) error {
	if p.parse != nil {
		key := cache.Key(change.PageID, 0, stableCacheFingerprint)
		if err := p.parse.Invalidate(ctx, key); err != nil {
			p.log.Warn("failed to invalidate parse cache", "page_id", change.PageID, "error", err)
		}
	}

	if p.redis == nil {
		return nil
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	if err := p.redis.PublishEvent(ctx, purgeChannel, string(payload)); err != nil {
		return err
	}
	p.log.Debug("stable change published",
		"page_id", change.PageID,
		"old_rev", change.OldRev,
		"new_rev", change.NewRev,
		"file_changed", change.FileChanged,
	)
	return nil
}
