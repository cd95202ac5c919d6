package main

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/openwiki/flaggedrevs/common/logger"
	"github.com/openwiki/flaggedrevs/common/models"
)

// purgeChannel is the pub/sub channel reviewd publishes stable-change
// events on
const purgeChannel = "fr:purge"

// Subscriber listens to the purge channel and forwards events to the hub
type Subscriber struct {
	redis *redis.Client
	hub   *Hub
	log   *logger.Logger
}

// NewSubscriber creates a new Subscriber instance
func NewSubscriber(redisClient *redis.Client, hub *Hub, log *logger.Logger) *Subscriber {
	return &Subscriber{
		redis: redisClient,
		hub:   hub,
		log:   log,
	}
}

// Start begins listening to the purge channel. Blocks until the context
// is cancelled.
func (s *Subscriber) Start(ctx context.Context) error {
	pubsub := s.redis.Subscribe(ctx, purgeChannel)
	defer pubsub.Close()

	// Wait for confirmation that subscription was successful
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	s.log.Info("subscribed to purge channel", "channel", purgeChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("subscriber stopping")
			return ctx.Err()

		case msg := <-ch:
			if msg == nil {
				continue
			}

			var change models.StableChange
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				s.log.Warn("malformed purge event", "error", err)
				continue
			}

			s.hub.broadcast <- &Message{
				PageID: change.PageID,
				Data:   []byte(msg.Payload),
			}
		}
	}
}
