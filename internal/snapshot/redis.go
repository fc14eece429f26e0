package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// setter is the subset of the redis client the sink uses.
type setter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisSink stores the snapshot JSON under a single key.
type RedisSink struct {
	client setter
	closer func() error
	key    string
}

// RedisOptions configures NewRedisSink.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	Key      string
}

// NewRedisSink connects to redis lazily; the first write reports
// connection problems.
func NewRedisSink(opts RedisOptions) *RedisSink {
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Address,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})
	return &RedisSink{client: client, closer: client.Close, key: opts.Key}
}

func (r *RedisSink) Name() string { return "redis:" + r.key }

func (r *RedisSink) Write(ctx context.Context, snap Snapshot) error {
	data, err := sonic.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return r.client.Set(ctx, r.key, data, 0).Err()
}

// Close releases the connection pool.
func (r *RedisSink) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
