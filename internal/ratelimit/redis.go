package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "portal:rl"

// RedisLimiter shares counters between instances through Redis.
type RedisLimiter struct {
	client redis.UniversalClient
	rules  Rules
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, rules Rules, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisLimiter{
		client: client,
		rules:  rules,
		prefix: prefix,
		now:    time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, identifier string, bucket Bucket) (Result, error) {
	rule := l.rules.For(bucket)
	k := l.prefix + ":count:" + key(identifier, bucket)

	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	// The first INCR of a window creates the key; EXPIRE NX then starts
	// the window without extending it on later hits.
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, rule.Window)
		ttl = pipe.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("rate limit counter %s: %w", k, err)
	}

	count := int(incr.Val())
	resetIn := ttl.Val()
	if resetIn <= 0 {
		resetIn = rule.Window
	}
	return Result{
		Allowed: count <= rule.Limit,
		Count:   count,
		Limit:   rule.Limit,
		ResetAt: l.now().Add(resetIn),
	}, nil
}

// RedisBlocker keeps failure counters and blocks in Redis with native
// expiry, so it needs no sweeping.
type RedisBlocker struct {
	client    redis.UniversalClient
	prefix    string
	threshold int
	duration  time.Duration
}

func NewRedisBlocker(client redis.UniversalClient, prefix string, threshold int, duration time.Duration) *RedisBlocker {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if threshold <= 0 {
		threshold = DefaultBlockThreshold
	}
	if duration <= 0 {
		duration = DefaultBlockDuration
	}
	return &RedisBlocker{
		client:    client,
		prefix:    prefix,
		threshold: threshold,
		duration:  duration,
	}
}

func (b *RedisBlocker) failKey(ip string) string  { return b.prefix + ":fail:" + ip }
func (b *RedisBlocker) blockKey(ip string) string { return b.prefix + ":block:" + ip }

func (b *RedisBlocker) RecordFailure(ctx context.Context, ip string) (bool, error) {
	blocked, err := b.IsBlocked(ctx, ip)
	if err != nil || blocked {
		return false, err
	}

	var incr *redis.IntCmd
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, b.failKey(ip))
		pipe.Expire(ctx, b.failKey(ip), b.duration)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("record failure for %s: %w", ip, err)
	}
	if int(incr.Val()) < b.threshold {
		return false, nil
	}

	// SET NX so that concurrent failures crossing the threshold report a
	// single new block.
	placed, err := b.client.SetNX(ctx, b.blockKey(ip), "1", b.duration).Result()
	if err != nil {
		return false, fmt.Errorf("block %s: %w", ip, err)
	}
	if err := b.client.Del(ctx, b.failKey(ip)).Err(); err != nil {
		return placed, fmt.Errorf("clear failures for %s: %w", ip, err)
	}
	return placed, nil
}

func (b *RedisBlocker) IsBlocked(ctx context.Context, ip string) (bool, error) {
	n, err := b.client.Exists(ctx, b.blockKey(ip)).Result()
	if err != nil {
		return false, fmt.Errorf("check block for %s: %w", ip, err)
	}
	return n > 0, nil
}

func (b *RedisBlocker) Reset(ctx context.Context, ip string) error {
	return b.client.Del(ctx, b.failKey(ip)).Err()
}

func (b *RedisBlocker) Block(ctx context.Context, ip string, d time.Duration) error {
	if d <= 0 {
		d = b.duration
	}
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.blockKey(ip), "1", d)
		pipe.Del(ctx, b.failKey(ip))
		return nil
	})
	return err
}
