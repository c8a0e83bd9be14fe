package ratelimit

import (
	"time"

	"github.com/elskow/portal/internal/config"
)

type Bucket string

const (
	BucketLogin         Bucket = "login"
	BucketAccessRequest Bucket = "access_request"
	BucketReview        Bucket = "review"
	BucketAPI           Bucket = "api"
)

const (
	DefaultWindow          = 15 * time.Minute
	DefaultBlockThreshold  = 10
	DefaultBlockDuration   = 60 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute
)

type Rule struct {
	Limit  int
	Window time.Duration
}

// DefaultRules caps auth-sensitive buckets far below general traffic.
var DefaultRules = map[Bucket]Rule{
	BucketLogin:         {Limit: 10, Window: DefaultWindow},
	BucketAccessRequest: {Limit: 5, Window: DefaultWindow},
	BucketReview:        {Limit: 60, Window: DefaultWindow},
	BucketAPI:           {Limit: 100, Window: DefaultWindow},
}

// Rules resolves the effective rule per bucket.
type Rules map[Bucket]Rule

// NewRules layers configured overrides on top of DefaultRules. A rule
// without a window takes the configured default window.
func NewRules(cfg config.RateLimitConfig) Rules {
	window := cfg.DefaultWindow
	if window <= 0 {
		window = DefaultWindow
	}

	rules := make(Rules, len(DefaultRules)+len(cfg.Rules))
	for b, r := range DefaultRules {
		rules[b] = r
	}
	for name, r := range cfg.Rules {
		rules[Bucket(name)] = Rule{Limit: r.Limit, Window: r.Window}
	}
	for b, r := range rules {
		if r.Window <= 0 {
			r.Window = window
			rules[b] = r
		}
	}
	return rules
}

// For returns the rule for bucket, falling back to the api bucket.
func (r Rules) For(bucket Bucket) Rule {
	if rule, ok := r[bucket]; ok {
		return rule
	}
	if rule, ok := r[BucketAPI]; ok {
		return rule
	}
	return DefaultRules[BucketAPI]
}

func key(identifier string, bucket Bucket) string {
	return string(bucket) + ":" + identifier
}
