package service

import (
	"context"
	"testing"
	"time"

	"github.com/openwiki/flaggedrevs/common/cache"
	"github.com/openwiki/flaggedrevs/common/logger"
	"github.com/openwiki/flaggedrevs/common/models"
)

func TestPublishStableChange_InvalidatesParseCache(t *testing.T) {
	ctx := context.Background()
	log := logger.New("error", "text")
	parse := cache.NewParseCache(cache.NewMemoryCache(log), time.Minute)
	purger := NewRedisPurger(nil, parse, log)

	key := cache.Key(1, 0, stableCacheFingerprint)
	renders := 0
	render := func(ctx context.Context) ([]byte, error) {
		renders++
		return []byte("{}"), nil
	}
	if _, err := parse.GetOrRender(ctx, key, render); err != nil {
		t.Fatalf("GetOrRender: %v", err)
	}
	if _, err := parse.GetOrRender(ctx, key, render); err != nil {
		t.Fatalf("GetOrRender: %v", err)
	}
	if renders != 1 {
		t.Fatalf("renders = %d, want the second hit cached", renders)
	}

	if err := purger.PublishStableChange(ctx, models.StableChange{PageID: 1, OldRev: 2, NewRev: 3}); err != nil {
		t.Fatalf("PublishStableChange: %v", err)
	}
	if _, err := parse.GetOrRender(ctx, key, render); err != nil {
		t.Fatalf("GetOrRender: %v", err)
	}
	if renders != 2 {
		t.Errorf("renders = %d, want recomputation after the purge", renders)
	}
}
