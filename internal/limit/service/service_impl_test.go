package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/creditflow/internal/clock"
	"github.com/smallbiznis/creditflow/internal/config"
	limitdomain "github.com/smallbiznis/creditflow/internal/limit/domain"
	"github.com/smallbiznis/creditflow/internal/orgcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupLimitService(t *testing.T, policy config.PolicyConfig) (limitdomain.Service, *clock.FakeClock) {
	t.Helper()
	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&limitdomain.LimitWindow{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fakeClock := clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fakeClock,
		Policy: config.NewStaticPolicyHolder(policy),
	})
	return svc, fakeClock
}

func limitPolicy(usageCap int64) config.PolicyConfig {
	return config.PolicyConfig{
		LimitWindowHours:   24,
		LimitCaps:          map[string]int64{"usage": usageCap},
		LowCreditThreshold: 100,
	}
}

func limitCtx() context.Context {
	return orgcontext.WithOrgID(context.Background(), 1001)
}

func TestCheckLimitsAllowsWithinCap(t *testing.T) {
	svc, _ := setupLimitService(t, limitPolicy(10))
	ctx := limitCtx()

	result, err := svc.CheckLimits(ctx, "42", 10, limitdomain.CategoryUsage)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Empty(t, result.Reason)
}

func TestCheckLimitsRejectsAmountAboveCap(t *testing.T) {
	svc, _ := setupLimitService(t, limitPolicy(10))

	result, err := svc.CheckLimits(limitCtx(), "42", 11, limitdomain.CategoryUsage)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "exceeds usage cap")
}

func TestCheckLimitsCountsPriorConsumption(t *testing.T) {
	svc, _ := setupLimitService(t, limitPolicy(10))
	ctx := limitCtx()

	require.NoError(t, svc.ConsumeLimits(ctx, "42", 7, limitdomain.CategoryUsage))

	result, err := svc.CheckLimits(ctx, "42", 3, limitdomain.CategoryUsage)
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	result, err = svc.CheckLimits(ctx, "42", 4, limitdomain.CategoryUsage)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "7 of 10")
}

func TestCheckLimitsUncappedCategory(t *testing.T) {
	svc, _ := setupLimitService(t, limitPolicy(10))
	ctx := limitCtx()

	// No cap configured for purchases; any amount passes and nothing is
	// recorded on consume.
	result, err := svc.CheckLimits(ctx, "42", 1_000_000, limitdomain.CategoryPurchase)
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	require.NoError(t, svc.ConsumeLimits(ctx, "42", 1_000_000, limitdomain.CategoryPurchase))

	window, err := svc.CurrentWindow(ctx, "42", limitdomain.CategoryPurchase)
	require.NoError(t, err)
	assert.Zero(t, window.AmountConsumed)
}

func TestConsumeLimitsGuardRejectsOverflow(t *testing.T) {
	svc, _ := setupLimitService(t, limitPolicy(10))
	ctx := limitCtx()

	require.NoError(t, svc.ConsumeLimits(ctx, "42", 8, limitdomain.CategoryUsage))

	err := svc.ConsumeLimits(ctx, "42", 3, limitdomain.CategoryUsage)
	assert.ErrorIs(t, err, limitdomain.ErrLimitExceeded)

	// The rejected consume leaves the counter untouched.
	window, err := svc.CurrentWindow(ctx, "42", limitdomain.CategoryUsage)
	require.NoError(t, err)
	assert.Equal(t, int64(8), window.AmountConsumed)

	require.NoError(t, svc.ConsumeLimits(ctx, "42", 2, limitdomain.CategoryUsage))
	window, err = svc.CurrentWindow(ctx, "42", limitdomain.CategoryUsage)
	require.NoError(t, err)
	assert.Equal(t, int64(10), window.AmountConsumed)
}

func TestWindowRollsOverAtPeriodBoundary(t *testing.T) {
	svc, fakeClock := setupLimitService(t, limitPolicy(10))
	ctx := limitCtx()

	require.NoError(t, svc.ConsumeLimits(ctx, "42", 10, limitdomain.CategoryUsage))
	assert.ErrorIs(t, svc.ConsumeLimits(ctx, "42", 1, limitdomain.CategoryUsage), limitdomain.ErrLimitExceeded)

	fakeClock.Advance(24 * time.Hour)

	result, err := svc.CheckLimits(ctx, "42", 10, limitdomain.CategoryUsage)
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	require.NoError(t, svc.ConsumeLimits(ctx, "42", 10, limitdomain.CategoryUsage))

	window, err := svc.CurrentWindow(ctx, "42", limitdomain.CategoryUsage)
	require.NoError(t, err)
	assert.Equal(t, int64(10), window.AmountConsumed)
	assert.Equal(t, window.PeriodStart.Add(24*time.Hour), window.PeriodEnd)
}

func TestCurrentWindowSynthesizedWhenEmpty(t *testing.T) {
	svc, fakeClock := setupLimitService(t, limitPolicy(10))

	window, err := svc.CurrentWindow(limitCtx(), "42", limitdomain.CategoryUsage)
	require.NoError(t, err)
	assert.Zero(t, window.AmountConsumed)
	assert.Equal(t, int64(10), window.Cap)
	assert.Equal(t, fakeClock.Now().Truncate(24*time.Hour), window.PeriodStart)
}

func TestLimitValidation(t *testing.T) {
	svc, _ := setupLimitService(t, limitPolicy(10))
	ctx := limitCtx()

	_, err := svc.CheckLimits(ctx, "42", 0, limitdomain.CategoryUsage)
	assert.ErrorIs(t, err, limitdomain.ErrInvalidAmount)

	_, err = svc.CheckLimits(ctx, "42", 1, limitdomain.Category("bogus"))
	assert.ErrorIs(t, err, limitdomain.ErrInvalidCategory)

	_, err = svc.CheckLimits(ctx, "nope", 1, limitdomain.CategoryUsage)
	assert.ErrorIs(t, err, limitdomain.ErrInvalidUser)

	_, err = svc.CheckLimits(context.Background(), "42", 1, limitdomain.CategoryUsage)
	assert.ErrorIs(t, err, limitdomain.ErrInvalidOrganization)

	assert.ErrorIs(t, svc.ConsumeLimits(ctx, "42", -1, limitdomain.CategoryUsage), limitdomain.ErrInvalidAmount)
}
