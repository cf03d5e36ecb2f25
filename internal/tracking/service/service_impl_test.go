package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	eventsdomain "github.com/smallbiznis/creditflow/internal/events/domain"
	"github.com/smallbiznis/creditflow/internal/orgcontext"
	subscriptiondomain "github.com/smallbiznis/creditflow/internal/subscription/domain"
	subscriptionservice "github.com/smallbiznis/creditflow/internal/subscription/service"
	trackingdomain "github.com/smallbiznis/creditflow/internal/tracking/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTrackingService(t *testing.T) (trackingdomain.Service, subscriptiondomain.Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&trackingdomain.ConsumptionRecord{},
		&eventsdomain.OutboxEvent{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	subSvc := subscriptionservice.NewService(subscriptionservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})
	svc := NewService(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		SubSvc: subSvc,
	})
	return svc, subSvc, db
}

func trackingCtx() context.Context {
	return orgcontext.WithOrgID(context.Background(), 1001)
}

func TestValidateSufficientCredits(t *testing.T) {
	svc, subSvc, _ := setupTrackingService(t)
	ctx := trackingCtx()

	_, err := subSvc.Provision(ctx, subscriptiondomain.ProvisionRequest{
		UserID:   "42",
		Capacity: subscriptiondomain.Bounded(10),
	})
	require.NoError(t, err)

	sufficient, err := svc.ValidateSufficientCredits(ctx, "42", 10)
	require.NoError(t, err)
	assert.True(t, sufficient)

	sufficient, err = svc.ValidateSufficientCredits(ctx, "42", 11)
	require.NoError(t, err)
	assert.False(t, sufficient)

	_, err = svc.ValidateSufficientCredits(ctx, "42", 0)
	assert.ErrorIs(t, err, trackingdomain.ErrInvalidAmount)

	_, err = svc.ValidateSufficientCredits(ctx, "99", 1)
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
}

func TestValidateSufficientCreditsUnlimited(t *testing.T) {
	svc, subSvc, _ := setupTrackingService(t)
	ctx := trackingCtx()

	_, err := subSvc.Provision(ctx, subscriptiondomain.ProvisionRequest{
		UserID:   "42",
		Capacity: subscriptiondomain.UnlimitedCapacity(),
	})
	require.NoError(t, err)

	sufficient, err := svc.ValidateSufficientCredits(ctx, "42", 1_000_000)
	require.NoError(t, err)
	assert.True(t, sufficient)
}

func TestRecordHistoryAppends(t *testing.T) {
	svc, _, db := setupTrackingService(t)
	ctx := trackingCtx()

	err := svc.RecordHistory(ctx, trackingdomain.RecordHistoryRequest{
		UserID:          "42",
		ConsumptionType: "plugin",
		ResourceName:    "formatter",
		CreditsConsumed: 3,
		BalanceAfter:    97,
	})
	require.NoError(t, err)

	var record trackingdomain.ConsumptionRecord
	require.NoError(t, db.First(&record).Error)
	assert.Equal(t, "plugin", record.ConsumptionType)
	assert.Equal(t, "formatter", record.ResourceName)
	assert.Equal(t, int64(3), record.CreditsConsumed)
	assert.Equal(t, int64(97), record.BalanceAfter)
	assert.False(t, record.ConsumedAt.IsZero())
}

func TestRecordHistoryValidation(t *testing.T) {
	svc, _, _ := setupTrackingService(t)

	err := svc.RecordHistory(trackingCtx(), trackingdomain.RecordHistoryRequest{UserID: "bogus"})
	assert.ErrorIs(t, err, trackingdomain.ErrInvalidUser)

	err = svc.RecordHistory(context.Background(), trackingdomain.RecordHistoryRequest{UserID: "42"})
	assert.ErrorIs(t, err, trackingdomain.ErrInvalidOrganization)
}

func TestListHistoryPaginates(t *testing.T) {
	svc, _, db := setupTrackingService(t)
	ctx := trackingCtx()

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		record := trackingdomain.ConsumptionRecord{
			ID:              node.Generate(),
			OrgID:           1001,
			UserID:          42,
			ConsumptionType: "plugin",
			CreditsConsumed: int64(i + 1),
			BalanceAfter:    int64(100 - i),
			ConsumedAt:      base.Add(time.Duration(i) * time.Minute),
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, db.Create(&record).Error)
	}

	first, err := svc.ListHistory(ctx, trackingdomain.ListHistoryRequest{UserID: "42", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Records, 2)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)
	// Newest first.
	assert.True(t, first.Records[0].CreatedAt.After(first.Records[1].CreatedAt))

	second, err := svc.ListHistory(ctx, trackingdomain.ListHistoryRequest{
		UserID:    "42",
		PageSize:  2,
		PageToken: first.NextPageToken,
	})
	require.NoError(t, err)
	require.Len(t, second.Records, 1)
	assert.False(t, second.HasMore)
	assert.Equal(t, int64(1), second.Records[0].CreditsConsumed)
}

func TestListHistoryScopedToUser(t *testing.T) {
	svc, _, db := setupTrackingService(t)
	ctx := trackingCtx()

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	for _, userID := range []snowflake.ID{42, 43} {
		record := trackingdomain.ConsumptionRecord{
			ID:              node.Generate(),
			OrgID:           1001,
			UserID:          userID,
			ConsumptionType: "workflow",
			CreditsConsumed: 5,
			BalanceAfter:    95,
			ConsumedAt:      time.Now().UTC(),
			CreatedAt:       time.Now().UTC(),
		}
		require.NoError(t, db.Create(&record).Error)
	}

	resp, err := svc.ListHistory(ctx, trackingdomain.ListHistoryRequest{UserID: "42"})
	require.NoError(t, err)
	require.Len(t, resp.Records, 1)
	assert.Equal(t, snowflake.ID(42), resp.Records[0].UserID)
}
