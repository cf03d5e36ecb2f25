package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/creditflow/internal/events"
	eventsdomain "github.com/smallbiznis/creditflow/internal/events/domain"
	"github.com/smallbiznis/creditflow/internal/orgcontext"
	subscriptiondomain "github.com/smallbiznis/creditflow/internal/subscription/domain"
	"github.com/smallbiznis/creditflow/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testOrgID int64 = 1001

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&eventsdomain.OutboxEvent{},
	))
	return db
}

func newTestService(t *testing.T, db *gorm.DB) (subscriptiondomain.Service, *events.Outbox) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	outbox := events.NewOutbox(db, zap.NewNop(), node)
	svc := NewService(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Outbox: outbox,
	})
	return svc, outbox
}

func testCtx() context.Context {
	return orgcontext.WithOrgID(context.Background(), testOrgID)
}

func provision(t *testing.T, svc subscriptiondomain.Service, ctx context.Context, userID string, capacity subscriptiondomain.Capacity) subscriptiondomain.Subscription {
	t.Helper()
	sub, err := svc.Provision(ctx, subscriptiondomain.ProvisionRequest{
		UserID:   userID,
		Capacity: capacity,
	})
	require.NoError(t, err)
	return sub
}

func TestProvisionIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := testCtx()

	first := provision(t, svc, ctx, "42", subscriptiondomain.Bounded(100))
	second := provision(t, svc, ctx, "42", subscriptiondomain.Bounded(999))

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(100), second.Credits)

	var count int64
	require.NoError(t, db.Model(&subscriptiondomain.Subscription{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestProvisionRejectsInvalidUser(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db)

	_, err := svc.Provision(testCtx(), subscriptiondomain.ProvisionRequest{
		UserID:   "not-a-number",
		Capacity: subscriptiondomain.Bounded(10),
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidUser)

	_, err = svc.Provision(context.Background(), subscriptiondomain.ProvisionRequest{
		UserID:   "42",
		Capacity: subscriptiondomain.Bounded(10),
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidOrganization)
}

func TestAddCreditsAccumulates(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := testCtx()

	provision(t, svc, ctx, "42", subscriptiondomain.Bounded(0))

	sub, err := svc.AddCredits(ctx, "42", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), sub.Credits)

	sub, err = svc.AddCredits(ctx, "42", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(10), sub.Credits)

	var added int64
	require.NoError(t, db.Model(&eventsdomain.OutboxEvent{}).
		Where("event_type = ?", events.EventCreditsAdded).
		Count(&added).Error)
	assert.Equal(t, int64(2), added)
}

func TestAddCreditsRejectsNonPositiveAmount(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := testCtx()
	provision(t, svc, ctx, "42", subscriptiondomain.Bounded(0))

	_, err := svc.AddCredits(ctx, "42", 0)
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidAmount)
	_, err = svc.AddCredits(ctx, "42", -3)
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidAmount)
}

func TestConsumeCreditsDeductsAndBumpsVersion(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := testCtx()

	before := provision(t, svc, ctx, "42", subscriptiondomain.Bounded(100))

	after, err := svc.ConsumeCredits(ctx, subscriptiondomain.ConsumeCreditsRequest{
		UserID:       "42",
		Amount:       30,
		ResourceType: "plugin",
		ResourceName: "formatter",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(70), after.Credits)
	assert.Equal(t, before.Version+1, after.Version)

	var consumed int64
	require.NoError(t, db.Model(&eventsdomain.OutboxEvent{}).
		Where("event_type = ?", events.EventCreditsConsumed).
		Count(&consumed).Error)
	assert.Equal(t, int64(1), consumed)
}

func TestConsumeCreditsInsufficientLeavesBalanceUntouched(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := testCtx()

	before := provision(t, svc, ctx, "42", subscriptiondomain.Bounded(10))

	_, err := svc.ConsumeCredits(ctx, subscriptiondomain.ConsumeCreditsRequest{
		UserID: "42",
		Amount: 11,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInsufficientCredits)

	after, err := svc.GetByUserID(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(10), after.Credits)
	assert.Equal(t, before.Version, after.Version)

	var consumed int64
	require.NoError(t, db.Model(&eventsdomain.OutboxEvent{}).
		Where("event_type = ?", events.EventCreditsConsumed).
		Count(&consumed).Error)
	assert.Zero(t, consumed)
}

func TestConsumeCreditsUnlimitedBumpsVersionOnly(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := testCtx()

	before := provision(t, svc, ctx, "42", subscriptiondomain.UnlimitedCapacity())

	after, err := svc.ConsumeCredits(ctx, subscriptiondomain.ConsumeCreditsRequest{
		UserID: "42",
		Amount: 500,
	})
	require.NoError(t, err)
	assert.True(t, after.Unlimited)
	assert.Equal(t, before.Version+1, after.Version)

	unlimited, err := svc.HasUnlimitedCredits(ctx, "42")
	require.NoError(t, err)
	assert.True(t, unlimited)
}

func TestUpdateVersionedRejectsStaleVersion(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := testCtx()

	sub := provision(t, svc, ctx, "42", subscriptiondomain.Bounded(100))

	// A second writer commits first; the stale writer must see a conflict.
	_, err := svc.AddCredits(ctx, "42", 1)
	require.NoError(t, err)

	stale := sub
	stale.Credits = 50
	err = repository.New(db).UpdateVersioned(ctx, &stale, sub.Version)
	require.Error(t, err)
	assert.True(t, subscriptiondomain.IsConflict(err))

	var conflict *subscriptiondomain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, sub.Version, conflict.ExpectedVersion)
	assert.Equal(t, sub.Version+1, conflict.ActualVersion)

	current, err := svc.GetByUserID(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(101), current.Credits)
}

func TestSequentialConsumersDrainExactlyOnce(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := testCtx()

	provision(t, svc, ctx, "42", subscriptiondomain.Bounded(30))

	_, err := svc.ConsumeCredits(ctx, subscriptiondomain.ConsumeCreditsRequest{UserID: "42", Amount: 30})
	require.NoError(t, err)

	_, err = svc.ConsumeCredits(ctx, subscriptiondomain.ConsumeCreditsRequest{UserID: "42", Amount: 30})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInsufficientCredits)

	final, err := svc.GetByUserID(ctx, "42")
	require.NoError(t, err)
	assert.Zero(t, final.Credits)
}

func TestSetAutoRenew(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := testCtx()

	before := provision(t, svc, ctx, "42", subscriptiondomain.Bounded(10))
	assert.False(t, before.AutoRenew)

	after, err := svc.SetAutoRenew(ctx, "42", true)
	require.NoError(t, err)
	assert.True(t, after.AutoRenew)
	assert.Equal(t, before.Version+1, after.Version)
	assert.Equal(t, int64(10), after.Credits)

	var updated int64
	require.NoError(t, db.Model(&eventsdomain.OutboxEvent{}).
		Where("event_type = ?", events.EventSubscriptionUpdated).
		Count(&updated).Error)
	assert.Equal(t, int64(1), updated)
}

func TestGetByUserIDNotFound(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db)

	_, err := svc.GetByUserID(testCtx(), "42")
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
}
