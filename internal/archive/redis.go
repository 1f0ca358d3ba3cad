package archive

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/iotrace/iotrace/internal/config"
)

// RedisSink stores each snapshot under its key with a TTL and announces the
// key on a pub/sub channel.
type RedisSink struct {
	client *redis.Client
	cfg    config.RedisConfig
}

// NewRedisSink creates a Redis sink. No connection is made until first use.
func NewRedisSink(cfg config.RedisConfig) *RedisSink {
	return &RedisSink{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		cfg: cfg,
	}
}

// Name implements types.SnapshotSink
func (r *RedisSink) Name() string {
	return "redis"
}

// Put implements types.SnapshotSink
func (r *RedisSink) Put(ctx context.Context, key string, body []byte) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, body, r.cfg.TTL)
		if r.cfg.Channel != "" {
			pipe.Publish(ctx, r.cfg.Channel, key)
		}
		return nil
	})
	if err != nil {
		return writeError("redis", key, err)
	}
	return nil
}

// CheckHealth implements types.HealthChecker
func (r *RedisSink) CheckHealth(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close implements types.SnapshotSink
func (r *RedisSink) Close() error {
	return r.client.Close()
}
