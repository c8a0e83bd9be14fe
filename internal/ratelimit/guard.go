// Package ratelimit throttles public mutation endpoints per client and
// temporarily blocks addresses that keep failing authentication.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/elskow/portal/internal/api"
	"github.com/elskow/portal/internal/apperror"
	"github.com/elskow/portal/internal/audit"
	"github.com/elskow/portal/internal/metrics"
)

type Guard struct {
	enabled   bool
	limiter   Limiter
	blocker   Blocker
	whitelist *Whitelist
	recorder  audit.Recorder
	log       *zap.Logger
	now       func() time.Time
}

type GuardParams struct {
	Enabled   bool
	Limiter   Limiter
	Blocker   Blocker
	Whitelist *Whitelist
	Recorder  audit.Recorder
	Logger    *zap.Logger
}

func NewGuard(p GuardParams) *Guard {
	return &Guard{
		enabled:   p.Enabled,
		limiter:   p.Limiter,
		blocker:   p.Blocker,
		whitelist: p.Whitelist,
		recorder:  p.Recorder,
		log:       p.Logger.Named("rate_guard"),
		now:       time.Now,
	}
}

// Middleware rejects blocked addresses first, then counts the request
// against bucket. Whitelisted addresses are never blocked and their
// denials are not audited.
func (g *Guard) Middleware(bucket Bucket) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.enabled {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		ip := c.ClientIP()
		trusted := g.whitelist.Contains(ip)

		if !trusted {
			blocked, err := g.blocker.IsBlocked(ctx, ip)
			if err != nil {
				g.log.Error("ip block check failed", zap.String("ip", ip), zap.Error(err))
			}
			if blocked {
				g.recorder.Record(ctx, audit.Event{
					Action:   audit.ActionIPBlocked,
					Origin:   audit.Origin{IP: ip, UserAgent: c.Request.UserAgent()},
					Severity: audit.SeverityWarning,
					New:      map[string]string{"path": c.FullPath(), "bucket": string(bucket)},
					Error:    "request from blocked address",
				})
				api.WriteError(c, g.log, apperror.Forbidden("access temporarily blocked").WithCode("ip_blocked"))
				return
			}
		}

		result, err := g.limiter.Allow(ctx, ip, bucket)
		if err != nil {
			// Counter store unavailable: let the request through.
			g.log.Error("rate limiter failed", zap.String("ip", ip), zap.String("bucket", string(bucket)), zap.Error(err))
			c.Next()
			return
		}

		if !result.Allowed {
			metrics.RateLimitDenialsTotal.WithLabelValues(string(bucket)).Inc()
			if !trusted {
				g.log.Warn("rate limit exceeded",
					zap.String("ip", ip),
					zap.String("bucket", string(bucket)),
					zap.Int("count", result.Count),
					zap.Int("limit", result.Limit))
				g.recorder.Record(ctx, audit.Event{
					Action:   audit.ActionRateLimitExceeded,
					Origin:   audit.Origin{IP: ip, UserAgent: c.Request.UserAgent()},
					Severity: audit.SeverityWarning,
					New: map[string]interface{}{
						"bucket": string(bucket),
						"path":   c.FullPath(),
						"count":  result.Count,
						"limit":  result.Limit,
					},
				})
			}
			retry := result.RetryAfter(g.now())
			c.Header("Retry-After", strconv.Itoa(int(retry.Round(time.Second).Seconds())))
			api.WriteError(c, g.log, apperror.RateLimited("too many requests, try again later"))
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(result.Limit-result.Count, 0)))
		c.Next()
	}
}

// RecordAuthFailure counts a failed authentication from ip and audits a
// new block when the threshold is reached.
func (g *Guard) RecordAuthFailure(ctx context.Context, ip string) {
	if !g.enabled || ip == "" || g.whitelist.Contains(ip) {
		return
	}
	placed, err := g.blocker.RecordFailure(ctx, ip)
	if err != nil {
		g.log.Error("failed to record auth failure", zap.String("ip", ip), zap.Error(err))
		return
	}
	if placed {
		g.log.Warn("ip blocked after repeated authentication failures", zap.String("ip", ip))
		g.recorder.Record(ctx, audit.Event{
			Action:   audit.ActionIPBlocked,
			Origin:   audit.Origin{IP: ip},
			Severity: audit.SeverityWarning,
			Success:  true,
		})
	}
}

// ResetAuthFailures clears the failure streak after a successful login.
func (g *Guard) ResetAuthFailures(ctx context.Context, ip string) {
	if !g.enabled || ip == "" {
		return
	}
	if err := g.blocker.Reset(ctx, ip); err != nil {
		g.log.Error("failed to reset auth failures", zap.String("ip", ip), zap.Error(err))
	}
}

// Sweep garbage-collects in-process counters and blocks. Redis backends
// expire on their own and are skipped.
func (g *Guard) Sweep(_ context.Context) error {
	now := g.now()
	removed := 0
	if s, ok := g.limiter.(Sweeper); ok {
		removed += s.Sweep(now)
	}
	if s, ok := g.blocker.(Sweeper); ok {
		removed += s.Sweep(now)
	}
	if removed > 0 {
		g.log.Debug("rate guard sweep", zap.Int("removed", removed))
	}
	return nil
}
