// Package seed bootstraps default action prices so a fresh deployment can
// charge consumption out of the box.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditflow/internal/config"
	costdomain "github.com/smallbiznis/creditflow/internal/cost/domain"
	"github.com/smallbiznis/creditflow/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const seedLockKey = "creditflow:seed:lock"

type defaultCost struct {
	actionType  string
	credits     int64
	paymentUnit string
}

var defaultCosts = []defaultCost{
	{costdomain.ActionPluginPurchase, 50, costdomain.UnitOneTime},
	{costdomain.ActionPluginUsage, 1, costdomain.UnitPerMessage},
	{costdomain.ActionWorkflowRun, 5, costdomain.UnitPerRun},
}

// EnsureDefaultCosts inserts the default price rows for the org, leaving any
// operator-tuned prices untouched.
func EnsureDefaultCosts(db *gorm.DB, node *snowflake.Node, orgID snowflake.ID) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if orgID == 0 {
		return nil
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, cost := range defaultCosts {
			row := costdomain.ActionCost{
				ID:          node.Generate(),
				OrgID:       orgID,
				ActionType:  cost.actionType,
				ItemID:      0,
				Credits:     cost.credits,
				PaymentUnit: cost.paymentUnit,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "org_id"}, {Name: "action_type"}, {Name: "item_id"},
				},
				DoNothing: true,
			}).Create(&row).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Cfg    config.Config
	GenID  *snowflake.Node
	Locker *ratelimit.Locker `optional:"true"`
}

// Run seeds the default org's prices, holding a redis lease when available so
// only one replica writes.
func Run(p Params) error {
	orgID := snowflake.ID(p.Cfg.DefaultOrgID)
	if orgID == 0 {
		return nil
	}

	if p.Locker != nil {
		ctx := context.Background()
		token, ok, err := p.Locker.TryLock(ctx, seedLockKey, 30*time.Second)
		if err != nil {
			p.Log.Warn("seed lock unavailable, seeding anyway", zap.Error(err))
		} else if !ok {
			p.Log.Info("seed lock held elsewhere, skipping")
			return nil
		} else {
			defer func() {
				if err := p.Locker.Release(ctx, seedLockKey, token); err != nil {
					p.Log.Warn("seed lock release failed", zap.Error(err))
				}
			}()
		}
	}

	return EnsureDefaultCosts(p.DB, p.GenID, orgID)
}

var Module = fx.Module("seed",
	fx.Invoke(Run),
)
