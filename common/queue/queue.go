package queue

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/openwiki/flaggedrevs/common/logger"
	"github.com/openwiki/flaggedrevs/common/redis"
)

// Queue interface for message passing. Used for deferred dependency-update
// work: publishing is cheap inside a request, consumption happens in a
// background worker.
type Queue interface {
	Publish(ctx context.Context, topic string, key string, message []byte) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	Close() error
}

// MessageHandler processes messages
type MessageHandler func(ctx context.Context, key string, value []byte) error

// MemoryQueue is an in-memory queue used in tests and single-process runs
type MemoryQueue struct {
	topics map[string]chan *Message
	mu     sync.RWMutex
	log    *logger.Logger
}

// Message represents a queue message
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue(log *logger.Logger) *MemoryQueue {
	return &MemoryQueue{
		topics: make(map[string]chan *Message),
		log:    log,
	}
}

// Publish publishes a message to a topic
func (q *MemoryQueue) Publish(ctx context.Context, topic string, key string, message []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch, exists := q.topics[topic]
	if !exists {
		ch = make(chan *Message, 1000) // Buffered channel
		q.topics[topic] = ch
	}

	msg := &Message{
		Topic: topic,
		Key:   key,
		Value: message,
	}

	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		// Channel full, log warning
		q.log.Warn("queue full", "topic", topic)
		return nil
	}
}

// Subscribe consumes messages from a topic until ctx is cancelled
func (q *MemoryQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	q.mu.Lock()
	ch, exists := q.topics[topic]
	if !exists {
		ch = make(chan *Message, 1000)
		q.topics[topic] = ch
	}
	q.mu.Unlock()

	for {
		select {
		case msg := <-ch:
			if err := handler(ctx, msg.Key, msg.Value); err != nil {
				q.log.Error("message handler failed", "topic", topic, "key", msg.Key, "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close closes the queue
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ch := range q.topics {
		close(ch)
	}
	q.topics = nil
	return nil
}

// RedisStreamQueue backs the Queue interface with Redis streams and a
// consumer group, so deferred work survives a process restart.
// streamClient is the subset of the redis wrapper the stream queue uses.
// Tests substitute a fake.
type streamClient interface {
	AddToStream(ctx context.Context, stream string, values map[string]interface{}) (string, error)
	ReadFromStreamGroup(ctx context.Context, group, consumer, stream string, count int64, block time.Duration) ([]goredis.XStream, error)
	AckStreamMessage(ctx context.Context, stream, group, messageID string) error
	CreateStreamGroup(ctx context.Context, stream, group string) error
}

type RedisStreamQueue struct {
	client   streamClient
	group    string
	consumer string
	log      *logger.Logger
}

// NewRedisStreamQueue creates a stream-backed queue
func NewRedisStreamQueue(client *redis.Client, group, consumer string, log *logger.Logger) *RedisStreamQueue {
	return &RedisStreamQueue{
		client:   client,
		group:    group,
		consumer: consumer,
		log:      log,
	}
}

// Publish appends a message to the topic stream
func (q *RedisStreamQueue) Publish(ctx context.Context, topic string, key string, message []byte) error {
	_, err := q.client.AddToStream(ctx, topic, map[string]interface{}{
		"key":   key,
		"value": string(message),
	})
	return err
}

// Subscribe consumes the topic stream until ctx is cancelled.
// Messages are acknowledged only after the handler succeeds; failed
// messages are redelivered to the group.
func (q *RedisStreamQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	if err := q.client.CreateStreamGroup(ctx, topic, q.group); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := q.client.ReadFromStreamGroup(ctx, q.group, q.consumer, topic, 16, 5*time.Second)
		if err != nil {
			q.log.Error("stream read failed", "topic", topic, "error", err)
			// Redis being down would turn this loop hot; back off before
			// retrying
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				key, _ := msg.Values["key"].(string)
				value, _ := msg.Values["value"].(string)
				if err := handler(ctx, key, []byte(value)); err != nil {
					q.log.Error("message handler failed", "topic", topic, "key", key, "error", err)
					continue // leave unacked for redelivery
				}
				if err := q.client.AckStreamMessage(ctx, topic, q.group, msg.ID); err != nil {
					q.log.Warn("stream ack failed", "topic", topic, "id", msg.ID, "error", err)
				}
			}
		}
	}
}

// Close closes the queue (the underlying client is owned by the caller)
func (q *RedisStreamQueue) Close() error {
	return nil
}
