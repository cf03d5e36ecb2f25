package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditflow/internal/orgcontext"
	ownershipdomain "github.com/smallbiznis/creditflow/internal/ownership/domain"
	"github.com/smallbiznis/creditflow/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	owned repository.Repository[ownershipdomain.Ownership]
}

func NewService(p Params) ownershipdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ownership.service"),
		genID: p.GenID,
		owned: repository.ProvideStore[ownershipdomain.Ownership](p.DB),
	}
}

func (s *Service) IsOwned(ctx context.Context, userID, resourceType, resourceID string) (bool, error) {
	orgID, user, resource, err := s.scope(ctx, userID, resourceType, resourceID)
	if err != nil {
		return false, err
	}

	record, err := s.owned.FindOne(ctx, &ownershipdomain.Ownership{
		OrgID:        orgID,
		UserID:       user,
		ResourceType: strings.TrimSpace(resourceType),
		ResourceID:   resource,
	})
	if err != nil {
		return false, err
	}
	return record != nil, nil
}

func (s *Service) Grant(ctx context.Context, userID, resourceType, resourceID string) error {
	orgID, user, resource, err := s.scope(ctx, userID, resourceType, resourceID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	record := ownershipdomain.Ownership{
		ID:           s.genID.Generate(),
		OrgID:        orgID,
		UserID:       user,
		ResourceType: strings.TrimSpace(resourceType),
		ResourceID:   resource,
		AcquiredAt:   now,
		CreatedAt:    now,
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "org_id"}, {Name: "user_id"}, {Name: "resource_type"}, {Name: "resource_id"},
		},
		DoNothing: true,
	}).Create(&record).Error
}

func (s *Service) ListOwned(ctx context.Context, userID, resourceType string) ([]ownershipdomain.Ownership, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, ownershipdomain.ErrInvalidOrganization
	}
	user, err := snowflake.ParseString(strings.TrimSpace(userID))
	if err != nil || user == 0 {
		return nil, ownershipdomain.ErrInvalidUser
	}

	filter := &ownershipdomain.Ownership{OrgID: orgID, UserID: user}
	if trimmed := strings.TrimSpace(resourceType); trimmed != "" {
		filter.ResourceType = trimmed
	}

	items, err := s.owned.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	records := make([]ownershipdomain.Ownership, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		records = append(records, *item)
	}
	return records, nil
}

func (s *Service) scope(ctx context.Context, userID, resourceType, resourceID string) (snowflake.ID, snowflake.ID, snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, 0, 0, ownershipdomain.ErrInvalidOrganization
	}
	user, err := snowflake.ParseString(strings.TrimSpace(userID))
	if err != nil || user == 0 {
		return 0, 0, 0, ownershipdomain.ErrInvalidUser
	}
	if strings.TrimSpace(resourceType) == "" {
		return 0, 0, 0, ownershipdomain.ErrInvalidResource
	}
	resource, err := snowflake.ParseString(strings.TrimSpace(resourceID))
	if err != nil || resource == 0 {
		return 0, 0, 0, ownershipdomain.ErrInvalidResource
	}
	return orgID, user, resource, nil
}
