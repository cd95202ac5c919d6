package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openwiki/flaggedrevs/common/logger"
	"github.com/openwiki/flaggedrevs/common/redis"
)

// ActivityEntry records who started reviewing something and when
type ActivityEntry struct {
	UserID int64     `json:"user_id"`
	Name   string    `json:"name"`
	Since  time.Time `json:"since"`
}

// ActivityTracker is the redis-backed advisory registry of who is
// reviewing what right now. Entries expire by TTL and are a hint for
// humans only; nothing reads them for correctness.
type ActivityTracker struct {
	redis *redis.Client
	ttl   time.Duration
	log   *logger.Logger
}

// NewActivityTracker creates a new activity tracker
func NewActivityTracker(client *redis.Client, ttl time.Duration, log *logger.Logger) *ActivityTracker {
	return &ActivityTracker{
		redis: client,
		ttl:   ttl,
		log:   log,
	}
}

func pageActivityKey(pageID int64) string {
	return fmt.Sprintf("fr:activity:page:%d", pageID)
}

func diffActivityKey(pageID, fromRev, toRev int64) string {
	return fmt.Sprintf("fr:activity:diff:%d:%d:%d", pageID, fromRev, toRev)
}

// ClaimPage marks the page as being reviewed by the user. Returns false
// when another user already holds a live claim; a user re-claiming their
// own entry refreshes it.
func (t *ActivityTracker) ClaimPage(ctx context.Context, pageID int64, userID int64, name string) (bool, error) {
	return t.claim(ctx, pageActivityKey(pageID), userID, name)
}

// ClaimDiff marks a pending-changes diff as being reviewed by the user
func (t *ActivityTracker) ClaimDiff(ctx context.Context, pageID, fromRev, toRev int64, userID int64, name string) (bool, error) {
	return t.claim(ctx, diffActivityKey(pageID, fromRev, toRev), userID, name)
}

func (t *ActivityTracker) claim(ctx context.Context, key string, userID int64, name string) (bool, error) {
	entry := ActivityEntry{UserID: userID, Name: name, Since: time.Now().UTC()}
	payload, err := json.Marshal(entry)
	if err != nil {
		return false, err
	}

	set, err := t.redis.SetNX(ctx, key, string(payload), t.ttl)
	if err != nil {
		return false, err
	}
	if set {
		return true, nil
	}

	current, err := t.get(ctx, key)
	if err != nil {
		return false, err
	}
	if current != nil && current.UserID == userID {
		// Heartbeat: keep the original since, extend the TTL
		payload, err := json.Marshal(current)
		if err != nil {
			return false, err
		}
		if err := t.redis.SetWithExpiry(ctx, key, string(payload), t.ttl); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// ClearPage drops the user's claim on a page. A claim held by someone
// else is left alone.
func (t *ActivityTracker) ClearPage(ctx context.Context, pageID int64, userID int64) error {
	return t.clear(ctx, pageActivityKey(pageID), userID)
}

// ClearDiff drops the user's claim on a diff
func (t *ActivityTracker) ClearDiff(ctx context.Context, pageID, fromRev, toRev int64, userID int64) error {
	return t.clear(ctx, diffActivityKey(pageID, fromRev, toRev), userID)
}

func (t *ActivityTracker) clear(ctx context.Context, key string, userID int64) error {
	current, err := t.get(ctx, key)
	if err != nil {
		return err
	}
	if current == nil || current.UserID != userID {
		return nil
	}
	return t.redis.Delete(ctx, key)
}

// WhoIsReviewingPage returns the live claim on a page, nil when nobody is
func (t *ActivityTracker) WhoIsReviewingPage(ctx context.Context, pageID int64) (*ActivityEntry, error) {
	return t.get(ctx, pageActivityKey(pageID))
}

// WhoIsReviewingDiff returns the live claim on a diff, nil when nobody is
func (t *ActivityTracker) WhoIsReviewingDiff(ctx context.Context, pageID, fromRev, toRev int64) (*ActivityEntry, error) {
	return t.get(ctx, diffActivityKey(pageID, fromRev, toRev))
}

func (t *ActivityTracker) get(ctx context.Context, key string) (*ActivityEntry, error) {
	val, err := t.redis.Get(ctx, key)
	if errors.Is(err, redis.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entry := &ActivityEntry{}
	if err := json.Unmarshal([]byte(val), entry); err != nil {
		t.log.Warn("malformed activity entry", "key", key, "error", err)
		return nil, nil
	}
	return entry, nil
}
