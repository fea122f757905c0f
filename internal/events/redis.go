package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nhle/pmsched/internal/model"
)

// RedisPublisher pushes JSON-encoded events onto a Redis list, where the
// external notification transport pops them (RPUSH / BLPOP, FIFO).
type RedisPublisher struct {
	rdb  *redis.Client
	list string
}

// ConnectRedis parses url, connects and pings.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// NewRedisPublisher returns a publisher appending to list.
func NewRedisPublisher(rdb *redis.Client, list string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, list: list}
}

// Encode renders e as the wire payload pushed to Redis.
func Encode(e model.TaskEvent) (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encoding event %s: %w", e.ID, err)
	}
	return string(b), nil
}

// Publish appends e to the list.
func (p *RedisPublisher) Publish(ctx context.Context, e model.TaskEvent) error {
	payload, err := Encode(e)
	if err != nil {
		return err
	}
	if err := p.rdb.RPush(ctx, p.list, payload).Err(); err != nil {
		return fmt.Errorf("pushing event %s to %s: %w", e.ID, p.list, err)
	}
	return nil
}
