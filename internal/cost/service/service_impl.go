package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditflow/internal/cache"
	costdomain "github.com/smallbiznis/creditflow/internal/cost/domain"
	"github.com/smallbiznis/creditflow/internal/orgcontext"
	"github.com/smallbiznis/creditflow/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	ResolverCache cache.CostResolverCache `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	costs         repository.Repository[costdomain.ActionCost]
	resolverCache cache.CostResolverCache
}

func NewService(p Params) costdomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("cost.service"),
		genID:         p.GenID,
		costs:         repository.ProvideStore[costdomain.ActionCost](p.DB),
		resolverCache: p.ResolverCache,
	}
}

func (s *Service) ResolveCost(ctx context.Context, actionType, itemID string) (int64, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, costdomain.ErrInvalidOrganization
	}
	actionType = strings.TrimSpace(actionType)
	if actionType == "" {
		return 0, costdomain.ErrInvalidActionType
	}
	item := parseOptionalID(itemID)

	cacheKey := orgID.String() + "|" + actionType
	if s.resolverCache != nil {
		if credits, hit := s.resolverCache.GetCost(cacheKey, item.String()); hit {
			return credits, nil
		}
	}

	credits, err := s.lookup(ctx, orgID, actionType, item)
	if err != nil {
		return 0, err
	}

	if s.resolverCache != nil {
		s.resolverCache.SetCost(cacheKey, item.String(), credits)
	}
	return credits, nil
}

func (s *Service) lookup(ctx context.Context, orgID snowflake.ID, actionType string, item snowflake.ID) (int64, error) {
	if item != 0 {
		override, err := s.costs.FindOne(ctx, &costdomain.ActionCost{
			OrgID:      orgID,
			ActionType: actionType,
			ItemID:     item,
		})
		if err != nil {
			return 0, err
		}
		if override != nil {
			return override.Credits, nil
		}
	}

	// Default rows carry ItemID zero, which a struct filter would drop, so
	// query it explicitly.
	var fallback costdomain.ActionCost
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND action_type = ? AND item_id = 0", orgID, actionType).
		First(&fallback).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, costdomain.ErrCostNotFound
		}
		return 0, err
	}
	return fallback.Credits, nil
}

func (s *Service) SetCost(ctx context.Context, req costdomain.SetCostRequest) (costdomain.ActionCost, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return costdomain.ActionCost{}, costdomain.ErrInvalidOrganization
	}
	actionType := strings.TrimSpace(req.ActionType)
	if actionType == "" {
		return costdomain.ActionCost{}, costdomain.ErrInvalidActionType
	}
	if req.Credits < 0 {
		return costdomain.ActionCost{}, costdomain.ErrInvalidCredits
	}
	unit := strings.TrimSpace(req.PaymentUnit)
	if unit == "" {
		unit = costdomain.UnitPerMessage
	}
	item := parseOptionalID(req.ItemID)
	if strings.TrimSpace(req.ItemID) != "" && item == 0 {
		return costdomain.ActionCost{}, costdomain.ErrInvalidItem
	}

	now := time.Now().UTC()
	record := costdomain.ActionCost{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		ActionType:  actionType,
		ItemID:      item,
		Credits:     req.Credits,
		PaymentUnit: unit,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "org_id"}, {Name: "action_type"}, {Name: "item_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"credits":      record.Credits,
			"payment_unit": record.PaymentUnit,
			"updated_at":   now,
		}),
	}).Create(&record).Error
	if err != nil {
		return costdomain.ActionCost{}, err
	}

	if s.resolverCache != nil {
		s.resolverCache.Invalidate(orgID.String()+"|"+actionType, item.String())
	}
	s.log.Info("action cost set",
		zap.String("action_type", actionType),
		zap.String("item_id", item.String()),
		zap.Int64("credits", record.Credits),
	)
	return record, nil
}

func (s *Service) List(ctx context.Context, actionType string) ([]costdomain.ActionCost, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, costdomain.ErrInvalidOrganization
	}

	filter := &costdomain.ActionCost{OrgID: orgID}
	if trimmed := strings.TrimSpace(actionType); trimmed != "" {
		filter.ActionType = trimmed
	}

	items, err := s.costs.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	records := make([]costdomain.ActionCost, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		records = append(records, *item)
	}
	return records, nil
}

func parseOptionalID(value string) snowflake.ID {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0
	}
	return id
}
