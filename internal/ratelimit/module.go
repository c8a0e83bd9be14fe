package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/portal/internal/audit"
	"github.com/elskow/portal/internal/config"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// NewModule provides the Guard with the backend selected by
// rate_limit.backend.
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(newGuard),
	)
}

func newGuard(lc fx.Lifecycle, config *config.AppConfig, recorder audit.Recorder, log *zap.Logger) (*Guard, error) {
	cfg := config.RateLimit

	entries := cfg.Whitelist
	if len(entries) == 0 {
		entries = DefaultWhitelist
	}
	whitelist, err := NewWhitelist(entries)
	if err != nil {
		return nil, err
	}

	rules := NewRules(cfg)
	params := GuardParams{
		Enabled:   cfg.Enabled,
		Whitelist: whitelist,
		Recorder:  recorder,
		Logger:    log,
	}

	switch cfg.Backend {
	case "", BackendMemory:
		params.Limiter = NewMemoryLimiter(rules)
		params.Blocker = NewMemoryBlocker(cfg.BlockThreshold, cfg.BlockDuration)
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("failed to connect to redis at %s: %w", config.Redis.Addr, err)
				}
				log.Info("rate guard using redis", zap.String("addr", config.Redis.Addr))
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return client.Close()
			},
		})
		params.Limiter = NewRedisLimiter(client, rules, config.Redis.Prefix)
		params.Blocker = NewRedisBlocker(client, config.Redis.Prefix, cfg.BlockThreshold, cfg.BlockDuration)
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.Backend)
	}

	return NewGuard(params), nil
}
