package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type redisLimiter struct {
	client  redis.UniversalClient
	log     *zap.Logger
	prefix  string
	timeout time.Duration
}

// NewRedis returns a limiter shared by every instance using the same Redis.
// Redis errors fail open: the request is allowed and the error logged.
func NewRedis(client redis.UniversalClient, log *zap.Logger) Limiter {
	return &redisLimiter{
		client:  client,
		log:     log,
		prefix:  "pal:ratelimit:",
		timeout: 250 * time.Millisecond,
	}
}

func (l *redisLimiter) Allow(key string, limit int, win time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	if win <= 0 {
		win = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	// INCR and EXPIRE NX share one MULTI. A key that lost its TTL gets one
	// on the next hit.
	redisKey := l.prefix + key
	var incr *redis.IntCmd
	var pttl *redis.DurationCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.ExpireNX(ctx, redisKey, win)
		pttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		l.log.Error("rate limiter update failed", zap.String("key", key), zap.Error(err))
		return Decision{Allowed: true}
	}
	count := incr.Val()
	ttl := pttl.Val()
	if ttl <= 0 {
		ttl = win
	}
	return Decision{
		Allowed:   int(count) <= limit,
		Count:     int(count),
		WindowEnd: time.Now().Add(ttl),
	}
}

// Close is a no-op; the Redis client is owned by the caller.
func (l *redisLimiter) Close() {}
