package events

import (
	"context"
	"errors"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/jacksonlee411/schema-fields/modules/schema/domain/ports"
	"github.com/jacksonlee411/schema-fields/modules/schema/domain/types"
)

const DefaultQueue = "schema_field_events"

// RedisPublisher pushes msgpack-encoded field events onto a Redis list.
type RedisPublisher struct {
	rdb   *redis.Client
	queue string
}

var _ ports.EventPublisher = (*RedisPublisher)(nil)

func NewRedisPublisher(rdb *redis.Client, queue string) *RedisPublisher {
	queue = strings.TrimSpace(queue)
	if queue == "" {
		queue = DefaultQueue
	}
	return &RedisPublisher{rdb: rdb, queue: queue}
}

// NewRedisPublisherFromURL parses a redis:// URL and checks the server is
// reachable.
func NewRedisPublisherFromURL(ctx context.Context, rawURL string, queue string) (*RedisPublisher, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return NewRedisPublisher(rdb, queue), nil
}

func (p *RedisPublisher) Publish(ctx context.Context, event types.FieldEvent) error {
	if p == nil || p.rdb == nil {
		return errors.New("redis publisher not configured")
	}
	b, err := msgpack.Marshal(&event)
	if err != nil {
		return err
	}
	return p.rdb.RPush(ctx, p.queue, b).Err()
}

func (p *RedisPublisher) Close() error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}

type NoopPublisher struct{}

var _ ports.EventPublisher = NoopPublisher{}

func (NoopPublisher) Publish(context.Context, types.FieldEvent) error { return nil }
