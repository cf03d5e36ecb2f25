package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/creditflow/internal/subscription/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) subscriptiondomain.Repository {
	return &repository{db: db}
}

// WithTrx returns a copy bound to the given transaction.
func WithTrx(tx *gorm.DB) subscriptiondomain.Repository {
	return &repository{db: tx}
}

func (r *repository) GetByUserID(ctx context.Context, orgID, userID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var record subscriptiondomain.Subscription
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND user_id = ?", orgID, userID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, subscriptiondomain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) Create(ctx context.Context, sub *subscriptiondomain.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

// UpdateVersioned is the conditional write guarding every balance mutation.
// The WHERE clause on (id, version) makes the update a compare-and-swap: of
// two concurrent writers that read the same version, exactly one commits.
func (r *repository) UpdateVersioned(ctx context.Context, sub *subscriptiondomain.Subscription, expectedVersion int64) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, expectedVersion).
		Updates(map[string]any{
			"credits":    sub.Credits,
			"unlimited":  sub.Unlimited,
			"auto_renew": sub.AutoRenew,
			"expires_at": sub.ExpiresAt,
			"version":    expectedVersion + 1,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.conflictFor(ctx, sub.ID, expectedVersion)
	}

	sub.Version = expectedVersion + 1
	sub.UpdatedAt = now
	return nil
}

func (r *repository) conflictFor(ctx context.Context, id snowflake.ID, expectedVersion int64) error {
	var current subscriptiondomain.Subscription
	err := r.db.WithContext(ctx).
		Select("version").
		Where("id = ?", id).
		First(&current).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		return err
	}
	return &subscriptiondomain.ConflictError{
		Entity:          "subscription",
		ID:              id,
		ExpectedVersion: expectedVersion,
		ActualVersion:   current.Version,
	}
}
