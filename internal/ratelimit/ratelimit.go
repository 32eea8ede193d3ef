// Package ratelimit throttles repeated failed logins using Redis counters.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "forecastd:login_failures:"

// Limiter counts failures per key inside a fixed window.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
	Fail(ctx context.Context, key string)
	Reset(ctx context.Context, key string)
}

// Unlimited never throttles. It is used when Redis is disabled.
type Unlimited struct{}

func (Unlimited) Allow(ctx context.Context, key string) bool { return true }
func (Unlimited) Fail(ctx context.Context, key string)       {}
func (Unlimited) Reset(ctx context.Context, key string)      {}

// Redis is a fixed-window failure counter. Redis errors fail open: the
// request is allowed and the error is logged.
type Redis struct {
	client *redis.Client
	max    int
	window time.Duration
	logger *zap.Logger
}

func NewRedis(ctx context.Context, addr string, db, maxFailures int, window time.Duration, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisWithClient(client, maxFailures, window, logger), nil
}

func NewRedisWithClient(client *redis.Client, maxFailures int, window time.Duration, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, max: maxFailures, window: window, logger: logger}
}

func (r *Redis) Allow(ctx context.Context, key string) bool {
	n, err := r.client.Get(ctx, keyPrefix+key).Int()
	if errors.Is(err, redis.Nil) {
		return true
	}
	if err != nil {
		r.logger.Warn("rate limit lookup failed", zap.String("key", key), zap.Error(err))
		return true
	}
	return n < r.max
}

// Fail increments the counter for key, starting the window on the first
// failure.
func (r *Redis) Fail(ctx context.Context, key string) {
	k := keyPrefix + key

	n, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		r.logger.Warn("failed to record login failure", zap.String("key", key), zap.Error(err))
		return
	}
	if n == 1 {
		if err := r.client.Expire(ctx, k, r.window).Err(); err != nil {
			r.logger.Warn("failed to set login failure window", zap.String("key", key), zap.Error(err))
		}
	}

	if n == int64(r.max) {
		r.logger.Info("login throttled", zap.String("key", key), zap.Duration("window", r.window))
	}
}

func (r *Redis) Reset(ctx context.Context, key string) {
	if err := r.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		r.logger.Warn("failed to reset login failures", zap.String("key", key), zap.Error(err))
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
