package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditflow/internal/orgcontext"
	subscriptiondomain "github.com/smallbiznis/creditflow/internal/subscription/domain"
	trackingdomain "github.com/smallbiznis/creditflow/internal/tracking/domain"
	"github.com/smallbiznis/creditflow/pkg/db/option"
	"github.com/smallbiznis/creditflow/pkg/db/pagination"
	"github.com/smallbiznis/creditflow/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const historyRetryDelay = 500 * time.Millisecond

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	SubSvc subscriptiondomain.Service
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	subSvc  subscriptiondomain.Service
	records repository.Repository[trackingdomain.ConsumptionRecord]
}

func NewService(p Params) trackingdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("tracking.service"),
		genID:   p.GenID,
		subSvc:  p.SubSvc,
		records: repository.ProvideStore[trackingdomain.ConsumptionRecord](p.DB),
	}
}

func (s *Service) ValidateSufficientCredits(ctx context.Context, userID string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, trackingdomain.ErrInvalidAmount
	}
	sub, err := s.subSvc.GetByUserID(ctx, userID)
	if err != nil {
		return false, err
	}
	return sub.Capacity().CanAfford(amount), nil
}

func (s *Service) RecordHistory(ctx context.Context, req trackingdomain.RecordHistoryRequest) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return trackingdomain.ErrInvalidOrganization
	}
	userID, err := snowflake.ParseString(strings.TrimSpace(req.UserID))
	if err != nil || userID == 0 {
		return trackingdomain.ErrInvalidUser
	}

	now := time.Now().UTC()
	record := &trackingdomain.ConsumptionRecord{
		ID:              s.genID.Generate(),
		OrgID:           orgID,
		UserID:          userID,
		ConsumptionType: strings.TrimSpace(req.ConsumptionType),
		ResourceName:    strings.TrimSpace(req.ResourceName),
		CreditsConsumed: req.CreditsConsumed,
		BalanceAfter:    req.BalanceAfter,
		ConsumedAt:      now,
		CreatedAt:       now,
	}

	if err := s.records.Create(ctx, record); err != nil {
		s.log.Warn("failed to append consumption record, retrying asynchronously",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		go s.retryAppend(record)
		return err
	}
	return nil
}

// retryAppend gives a failed history write one delayed second chance. The
// ledger commit already happened; losing the record is an audit gap, not a
// balance error, so exhaustion is only logged.
func (s *Service) retryAppend(record *trackingdomain.ConsumptionRecord) {
	time.Sleep(historyRetryDelay)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.records.Create(ctx, record); err != nil {
		s.log.Error("consumption record lost after retry",
			zap.String("record_id", record.ID.String()),
			zap.String("user_id", record.UserID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) ListHistory(ctx context.Context, req trackingdomain.ListHistoryRequest) (trackingdomain.ListHistoryResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return trackingdomain.ListHistoryResponse{}, trackingdomain.ErrInvalidOrganization
	}
	userID, err := snowflake.ParseString(strings.TrimSpace(req.UserID))
	if err != nil || userID == 0 {
		return trackingdomain.ListHistoryResponse{}, trackingdomain.ErrInvalidUser
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.records.Find(ctx,
		&trackingdomain.ConsumptionRecord{OrgID: orgID, UserID: userID},
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  int(pageSize),
		}),
	)
	if err != nil {
		return trackingdomain.ListHistoryResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(record *trackingdomain.ConsumptionRecord) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        record.ID.String(),
			CreatedAt: record.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	records := make([]trackingdomain.ConsumptionRecord, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		records = append(records, *item)
	}

	resp := trackingdomain.ListHistoryResponse{Records: records}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}
