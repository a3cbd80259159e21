package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/paycore/internal/config"
)

const keyAPI = "paycore:ratelimit:%s:%s"

// APILimiter throttles API callers per route. A nil limiter allows
// everything, which is what runs when no redis is configured.
type APILimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewAPILimiter(cfg config.Config, bucket *TokenBucket) *APILimiter {
	if bucket == nil || cfg.RateLimitPerSecond <= 0 || cfg.RateLimitBurst <= 0 {
		return nil
	}
	return &APILimiter{
		bucket: bucket,
		rate:   cfg.RateLimitPerSecond,
		burst:  cfg.RateLimitBurst,
	}
}

func (l *APILimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *APILimiter) Allow(ctx context.Context, route, caller string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyAPI, strings.TrimSpace(route), strings.TrimSpace(caller))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
