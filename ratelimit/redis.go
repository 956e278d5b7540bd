package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window counter shared by every instance using the same
// Redis database.
type Redis struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// RedisConfig configures a Redis limiter.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces the counters. Default "operator:ratelimit".
	Prefix string
	Limit  int
	Window time.Duration
}

// NewRedis connects and pings.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "operator:ratelimit"
	}
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ratelimit: redis ping: %w", err)
	}
	return &Redis{
		client: client,
		prefix: cfg.Prefix,
		limit:  max(cfg.Limit, 1),
		window: cfg.Window,
		now:    time.Now,
	}, nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	now := r.now()
	slot := now.UnixMilli() / r.window.Milliseconds()
	k := fmt.Sprintf("%s:%s:%d", r.prefix, key, slot)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, r.window)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis incr: %w", err)
	}
	n := int(incr.Val())
	if n <= r.limit {
		return Decision{Allowed: true, Remaining: r.limit - n}, nil
	}
	end := time.UnixMilli((slot + 1) * r.window.Milliseconds())
	return Decision{RetryAfter: end.Sub(now)}, nil
}
