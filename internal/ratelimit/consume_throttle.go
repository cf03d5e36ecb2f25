package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditflow/internal/config"
)

const keyConsumeThrottle = "consume:throttle:%s:%s"

// ConsumeThrottle rate limits consume requests per org and user before they
// reach the pipeline. Disabled throttles allow everything, the credit checks
// downstream remain the authority either way.
type ConsumeThrottle struct {
	enabled bool
	bucket  *TokenBucket
	rate    float64
	burst   int
}

// NewRedisClient builds the shared redis client, nil when redis is disabled.
func NewRedisClient(cfg config.Config) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
}

func NewConsumeThrottle(cfg config.Config, client *redis.Client) *ConsumeThrottle {
	if client == nil || cfg.Consume.ThrottleRate <= 0 || cfg.Consume.ThrottleBurst <= 0 {
		return &ConsumeThrottle{}
	}
	return &ConsumeThrottle{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    cfg.Consume.ThrottleRate,
		burst:   cfg.Consume.ThrottleBurst,
	}
}

func (t *ConsumeThrottle) Enabled() bool {
	return t != nil && t.enabled
}

func (t *ConsumeThrottle) Allow(ctx context.Context, orgID, userID string) (Result, error) {
	if !t.Enabled() {
		return Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyConsumeThrottle, strings.TrimSpace(orgID), strings.TrimSpace(userID))
	return t.bucket.Allow(ctx, key, t.rate, t.burst)
}
