package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/creditflow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClientDisabled(t *testing.T) {
	assert.Nil(t, NewRedisClient(config.Config{}))

	cfg := config.Config{}
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "  "
	assert.Nil(t, NewRedisClient(cfg))
}

func TestDisabledThrottleAllowsEverything(t *testing.T) {
	cfg := config.Config{}
	cfg.Consume.ThrottleRate = 25
	cfg.Consume.ThrottleBurst = 50

	throttle := NewConsumeThrottle(cfg, nil)
	assert.False(t, throttle.Enabled())

	result, err := throttle.Allow(context.Background(), "1001", "42")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Zero(t, result.RetryAfter)
}

func TestThrottleDisabledWithoutPositiveBudget(t *testing.T) {
	var cfg config.Config
	cfg.Consume.ThrottleRate = 0
	cfg.Consume.ThrottleBurst = 50
	assert.False(t, NewConsumeThrottle(cfg, nil).Enabled())

	cfg.Consume.ThrottleRate = 25
	cfg.Consume.ThrottleBurst = 0
	assert.False(t, NewConsumeThrottle(cfg, nil).Enabled())
}

func TestTokenBucketInputValidation(t *testing.T) {
	var bucket *TokenBucket
	_, err := bucket.Allow(context.Background(), "k", 1, 1)
	assert.Error(t, err)

	assert.Nil(t, NewTokenBucket(nil))
	assert.Nil(t, NewLocker(nil))
}

func TestBucketTTLCoversTwoRefills(t *testing.T) {
	assert.Equal(t, 4*time.Second, bucketTTL(25, 50))
	assert.Equal(t, 20*time.Second, bucketTTL(1, 10))
	// Never below one second, even for tiny buckets.
	assert.Equal(t, time.Second, bucketTTL(100, 1))
}

func TestCastHelpers(t *testing.T) {
	assert.Equal(t, int64(1), castInt(int64(1)))
	assert.Equal(t, int64(2), castInt(2))
	assert.Equal(t, int64(3), castInt(float64(3.7)))
	assert.Zero(t, castInt("nope"))

	assert.Equal(t, 4.5, castFloat("4.5"))
	assert.Equal(t, 2.0, castFloat(int64(2)))
	assert.Equal(t, 1.5, castFloat(1.5))
	assert.Zero(t, castFloat(struct{}{}))
}
