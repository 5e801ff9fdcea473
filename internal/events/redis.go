package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"prativedak/internal/config"
	"prativedak/internal/model"
)

// RedisPublisher publishes each event on a pub/sub channel and keeps a
// capped list of recent events for clients that reconnect.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	listKey string
	limit   int64
}

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewRedisPublisher(client *redis.Client, cfg config.RedisConfig) *RedisPublisher {
	limit := cfg.ListLimit
	if limit <= 0 {
		limit = 500
	}
	return &RedisPublisher{
		client:  client,
		channel: cfg.Channel,
		listKey: cfg.ListKey,
		limit:   limit,
	}
}

func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPublisher) Publish(ctx context.Context, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	pipe := p.client.TxPipeline()
	if p.channel != "" {
		pipe.Publish(ctx, p.channel, data)
	}
	if p.listKey != "" {
		pipe.LPush(ctx, p.listKey, data)
		pipe.LTrim(ctx, p.listKey, 0, p.limit-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Recent returns up to n events, newest first.
func (p *RedisPublisher) Recent(ctx context.Context, n int64) ([]model.Event, error) {
	if p.listKey == "" {
		return nil, nil
	}
	if n <= 0 {
		n = p.limit
	}
	raw, err := p.client.LRange(ctx, p.listKey, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.Event, 0, len(raw))
	for _, item := range raw {
		var ev model.Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
