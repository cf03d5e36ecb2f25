package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditflow/internal/events"
	obsmetrics "github.com/smallbiznis/creditflow/internal/observability/metrics"
	"github.com/smallbiznis/creditflow/internal/orgcontext"
	subscriptiondomain "github.com/smallbiznis/creditflow/internal/subscription/domain"
	"github.com/smallbiznis/creditflow/internal/subscription/repository"
	"github.com/smallbiznis/creditflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// addRetryBudget bounds internal CAS retries for mutations whose decision
// cannot go stale (top-ups, flag updates). Consumption retries live in the
// orchestrator because its whole pipeline must be re-evaluated.
const addRetryBudget = 3

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Outbox     *events.Outbox      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       subscriptiondomain.Repository
	outbox     *events.Outbox
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("subscription.service"),
		genID:      p.GenID,
		repo:       repository.New(p.DB),
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Provision(ctx context.Context, req subscriptiondomain.ProvisionRequest) (subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidOrganization
	}
	userID, err := parseID(req.UserID)
	if err != nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidUser
	}

	existing, err := s.repo.GetByUserID(ctx, orgID, userID)
	if err == nil {
		return *existing, nil
	}
	if err != subscriptiondomain.ErrSubscriptionNotFound {
		return subscriptiondomain.Subscription{}, err
	}

	now := time.Now().UTC()
	record := subscriptiondomain.Subscription{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		UserID:    userID,
		AutoRenew: req.AutoRenew,
		ExpiresAt: req.ExpiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	record.ApplyCapacity(req.Capacity)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.WithTrx(tx).Create(ctx, &record); err != nil {
			return err
		}
		return s.publishTx(ctx, tx, events.Event{
			OrgID: orgID,
			Type:  events.EventSubscriptionCreated,
			Payload: events.SubscriptionPayload{
				SubscriptionID: record.ID.String(),
				UserID:         userID.String(),
			}.ToMap(),
			DedupeKey: "subscription_created:" + record.ID.String(),
		})
	})
	if err != nil {
		// Lost a provisioning race; the surviving row is authoritative.
		if db.IsDuplicateKeyErr(err) {
			existing, getErr := s.repo.GetByUserID(ctx, orgID, userID)
			if getErr != nil {
				return subscriptiondomain.Subscription{}, getErr
			}
			return *existing, nil
		}
		return subscriptiondomain.Subscription{}, err
	}

	s.nudgeOutbox()
	s.log.Info("subscription provisioned",
		zap.String("subscription_id", record.ID.String()),
		zap.String("user_id", userID.String()),
		zap.Bool("unlimited", record.Unlimited),
	)
	return record, nil
}

func (s *Service) GetByUserID(ctx context.Context, userID string) (subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidOrganization
	}
	id, err := parseID(userID)
	if err != nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidUser
	}
	record, err := s.repo.GetByUserID(ctx, orgID, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	return *record, nil
}

func (s *Service) HasUnlimitedCredits(ctx context.Context, userID string) (bool, error) {
	record, err := s.GetByUserID(ctx, userID)
	if err != nil {
		return false, err
	}
	return record.Capacity().IsUnlimited(), nil
}

func (s *Service) AddCredits(ctx context.Context, userID string, amount int64) (subscriptiondomain.Subscription, error) {
	if amount <= 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidAmount
	}
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidOrganization
	}
	id, err := parseID(userID)
	if err != nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidUser
	}

	var lastErr error
	for attempt := 0; attempt < addRetryBudget; attempt++ {
		record, err := s.repo.GetByUserID(ctx, orgID, id)
		if err != nil {
			return subscriptiondomain.Subscription{}, err
		}

		updated := *record
		updated.ApplyCapacity(record.Capacity().Add(amount))

		err = s.commitVersioned(ctx, &updated, record.Version, events.Event{
			OrgID: orgID,
			Type:  events.EventCreditsAdded,
			Payload: events.CreditsAddedPayload{
				SubscriptionID: record.ID.String(),
				UserID:         id.String(),
				Amount:         amount,
			}.ToMap(),
		})
		if err == nil {
			if s.obsMetrics != nil {
				s.obsMetrics.RecordCreditsAdded(ctx, amount)
			}
			return updated, nil
		}
		if !subscriptiondomain.IsConflict(err) {
			return subscriptiondomain.Subscription{}, err
		}
		lastErr = err
		if s.obsMetrics != nil {
			s.obsMetrics.RecordConflict(ctx, "add_credits")
		}
	}
	return subscriptiondomain.Subscription{}, lastErr
}

// ConsumeCredits is a single conditional attempt: the version-checked update is
// the authorization, pre-checks upstream are only a fast fail.
func (s *Service) ConsumeCredits(ctx context.Context, req subscriptiondomain.ConsumeCreditsRequest) (subscriptiondomain.Subscription, error) {
	if req.Amount <= 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidAmount
	}
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidOrganization
	}
	id, err := parseID(req.UserID)
	if err != nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidUser
	}

	record, err := s.repo.GetByUserID(ctx, orgID, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	remaining, affordable := record.Capacity().Deduct(req.Amount)
	if !affordable {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInsufficientCredits
	}

	// Cancellation is honored up to here; once the conditional write starts it
	// runs to completion so no half-applied state is possible.
	if err := ctx.Err(); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	updated := *record
	updated.ApplyCapacity(remaining)

	err = s.commitVersioned(ctx, &updated, record.Version, events.Event{
		OrgID: orgID,
		Type:  events.EventCreditsConsumed,
		Payload: events.CreditsConsumedPayload{
			SubscriptionID: record.ID.String(),
			UserID:         id.String(),
			Amount:         req.Amount,
			ResourceType:   strings.TrimSpace(req.ResourceType),
			ResourceName:   strings.TrimSpace(req.ResourceName),
		}.ToMap(),
	})
	if err != nil {
		if subscriptiondomain.IsConflict(err) && s.obsMetrics != nil {
			s.obsMetrics.RecordConflict(ctx, "consume_credits")
		}
		return subscriptiondomain.Subscription{}, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordCreditsConsumed(ctx, strings.TrimSpace(req.ResourceType), req.Amount)
	}
	return updated, nil
}

func (s *Service) SetAutoRenew(ctx context.Context, userID string, autoRenew bool) (subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidOrganization
	}
	id, err := parseID(userID)
	if err != nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidUser
	}

	var lastErr error
	for attempt := 0; attempt < addRetryBudget; attempt++ {
		record, err := s.repo.GetByUserID(ctx, orgID, id)
		if err != nil {
			return subscriptiondomain.Subscription{}, err
		}

		updated := *record
		updated.AutoRenew = autoRenew

		err = s.commitVersioned(ctx, &updated, record.Version, events.Event{
			OrgID: orgID,
			Type:  events.EventSubscriptionUpdated,
			Payload: events.SubscriptionPayload{
				SubscriptionID: record.ID.String(),
				UserID:         id.String(),
			}.ToMap(),
		})
		if err == nil {
			return updated, nil
		}
		if !subscriptiondomain.IsConflict(err) {
			return subscriptiondomain.Subscription{}, err
		}
		lastErr = err
	}
	return subscriptiondomain.Subscription{}, lastErr
}

// commitVersioned couples the conditional write and its outbox event in one
// transaction, so the event exists iff the balance change committed.
func (s *Service) commitVersioned(ctx context.Context, sub *subscriptiondomain.Subscription, expectedVersion int64, event events.Event) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.WithTrx(tx).UpdateVersioned(ctx, sub, expectedVersion); err != nil {
			return err
		}
		return s.publishTx(ctx, tx, event)
	})
	if err != nil {
		return err
	}
	s.nudgeOutbox()
	return nil
}

func (s *Service) publishTx(ctx context.Context, tx *gorm.DB, event events.Event) error {
	if s.outbox == nil {
		return nil
	}
	return s.outbox.PublishTx(ctx, tx, event)
}

func (s *Service) nudgeOutbox() {
	if s.outbox != nil {
		s.outbox.Nudge()
	}
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, subscriptiondomain.ErrInvalidUser
	}
	return id, nil
}
