package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/openwiki/flaggedrevs/common/logger"
)

type fakeStreamClient struct {
	reads    int
	readErr  error
	messages []goredis.XMessage
	acked    []string
}

func (f *fakeStreamClient) AddToStream(_ context.Context, _ string, values map[string]interface{}) (string, error) {
	key, _ := values["key"].(string)
	value, _ := values["value"].(string)
	f.messages = append(f.messages, goredis.XMessage{
		ID:     "1-1",
		Values: map[string]interface{}{"key": key, "value": value},
	})
	return "1-1", nil
}

func (f *fakeStreamClient) ReadFromStreamGroup(_ context.Context, _, _, stream string, _ int64, _ time.Duration) ([]goredis.XStream, error) {
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	if len(f.messages) == 0 {
		return nil, nil
	}
	msgs := f.messages
	f.messages = nil
	return []goredis.XStream{{Stream: stream, Messages: msgs}}, nil
}

func (f *fakeStreamClient) AckStreamMessage(_ context.Context, _, _, messageID string) error {
	f.acked = append(f.acked, messageID)
	return nil
}

func (f *fakeStreamClient) CreateStreamGroup(context.Context, string, string) error {
	return nil
}

func newTestStreamQueue(f *fakeStreamClient) *RedisStreamQueue {
	return &RedisStreamQueue{
		client:   f,
		group:    "g",
		consumer: "c",
		log:      logger.New("error", "text"),
	}
}

func TestRedisStreamQueue_DeliversAndAcks(t *testing.T) {
	f := &fakeStreamClient{}
	q := newTestStreamQueue(f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Publish(ctx, "deps", "42", []byte("payload")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var gotKey, gotValue string
	err := q.Subscribe(ctx, "deps", func(_ context.Context, key string, value []byte) error {
		gotKey = key
		gotValue = string(value)
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Subscribe returned %v", err)
	}
	if gotKey != "42" || gotValue != "payload" {
		t.Errorf("delivered (%q, %q)", gotKey, gotValue)
	}
	if len(f.acked) != 1 || f.acked[0] != "1-1" {
		t.Errorf("acked = %v, want the delivered message", f.acked)
	}
}

func TestRedisStreamQueue_BacksOffOnReadError(t *testing.T) {
	f := &fakeStreamClient{readErr: errors.New("connection refused")}
	q := newTestStreamQueue(f)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	err := q.Subscribe(ctx, "deps", func(context.Context, string, []byte) error {
		t.Fatal("handler called on read error")
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Subscribe returned %v", err)
	}
	// Without the backoff a 250ms window produces thousands of reads
	if f.reads > 2 {
		t.Errorf("reads = %d, the error loop is hot", f.reads)
	}
}
