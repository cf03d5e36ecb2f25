package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/creditflow/internal/config"
	consumptiondomain "github.com/smallbiznis/creditflow/internal/consumption/domain"
	costdomain "github.com/smallbiznis/creditflow/internal/cost/domain"
	limitdomain "github.com/smallbiznis/creditflow/internal/limit/domain"
	ownershipdomain "github.com/smallbiznis/creditflow/internal/ownership/domain"
	subscriptiondomain "github.com/smallbiznis/creditflow/internal/subscription/domain"
	trackingdomain "github.com/smallbiznis/creditflow/internal/tracking/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg       config.Config
	Log       *zap.Logger
	Cost      costdomain.Service
	Tracking  trackingdomain.Service
	Limits    limitdomain.Service
	Subs      subscriptiondomain.Service
	Ownership ownershipdomain.Service
}

type Service struct {
	log         *zap.Logger
	cost        costdomain.Service
	tracking    trackingdomain.Service
	limits      limitdomain.Service
	subs        subscriptiondomain.Service
	ownership   ownershipdomain.Service
	maxAttempts int
}

func NewService(p Params) consumptiondomain.Service {
	attempts := p.Cfg.Consume.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Service{
		log:         p.Log.Named("consumption.service"),
		cost:        p.Cost,
		tracking:    p.Tracking,
		limits:      p.Limits,
		subs:        p.Subs,
		ownership:   p.Ownership,
		maxAttempts: attempts,
	}
}

// plan carries one pipeline run. preCommit runs after cost resolution and
// before any balance or limit read; postCommit runs in the best-effort tail.
type plan struct {
	userID       string
	actionType   string
	itemID       string
	resourceType string
	resourceName string
	quantity     int64
	category     limitdomain.Category
	preCommit    func(ctx context.Context) error
	postCommit   func(ctx context.Context) error
}

func (s *Service) PurchasePlugin(ctx context.Context, req consumptiondomain.PurchasePluginRequest) (consumptiondomain.Result, error) {
	pluginID := strings.TrimSpace(req.PluginID)
	if pluginID == "" {
		return consumptiondomain.Result{}, consumptiondomain.ErrInvalidResource
	}
	return s.run(ctx, plan{
		userID:       req.UserID,
		actionType:   costdomain.ActionPluginPurchase,
		itemID:       pluginID,
		resourceType: ownershipdomain.ResourcePlugin,
		resourceName: req.PluginName,
		quantity:     1,
		category:     limitdomain.CategoryPurchase,
		preCommit: func(ctx context.Context) error {
			owned, err := s.ownership.IsOwned(ctx, req.UserID, ownershipdomain.ResourcePlugin, pluginID)
			if err != nil {
				return err
			}
			if owned {
				return consumptiondomain.ErrAlreadyOwned
			}
			return nil
		},
		postCommit: func(ctx context.Context) error {
			return s.ownership.Grant(ctx, req.UserID, ownershipdomain.ResourcePlugin, pluginID)
		},
	})
}

func (s *Service) UsePlugin(ctx context.Context, req consumptiondomain.UsePluginRequest) (consumptiondomain.Result, error) {
	pluginID := strings.TrimSpace(req.PluginID)
	if pluginID == "" {
		return consumptiondomain.Result{}, consumptiondomain.ErrInvalidResource
	}
	messages := req.Messages
	if messages == 0 {
		messages = 1
	}
	return s.run(ctx, plan{
		userID:       req.UserID,
		actionType:   costdomain.ActionPluginUsage,
		itemID:       pluginID,
		resourceType: ownershipdomain.ResourcePlugin,
		resourceName: req.PluginName,
		quantity:     messages,
		category:     limitdomain.CategoryUsage,
		preCommit: func(ctx context.Context) error {
			owned, err := s.ownership.IsOwned(ctx, req.UserID, ownershipdomain.ResourcePlugin, pluginID)
			if err != nil {
				return err
			}
			if !owned {
				return consumptiondomain.ErrNotOwned
			}
			return nil
		},
	})
}

func (s *Service) RunWorkflow(ctx context.Context, req consumptiondomain.RunWorkflowRequest) (consumptiondomain.Result, error) {
	workflowID := strings.TrimSpace(req.WorkflowID)
	if workflowID == "" {
		return consumptiondomain.Result{}, consumptiondomain.ErrInvalidResource
	}
	return s.run(ctx, plan{
		userID:       req.UserID,
		actionType:   costdomain.ActionWorkflowRun,
		itemID:       workflowID,
		resourceType: ownershipdomain.ResourceWorkflow,
		resourceName: req.WorkflowName,
		quantity:     1,
		category:     limitdomain.CategoryRun,
	})
}

func (s *Service) ConsumeAction(ctx context.Context, req consumptiondomain.ConsumeActionRequest) (consumptiondomain.Result, error) {
	if strings.TrimSpace(req.ActionType) == "" {
		return consumptiondomain.Result{}, consumptiondomain.ErrInvalidResource
	}
	if !req.Category.Valid() {
		return consumptiondomain.Result{}, consumptiondomain.ErrInvalidCategory
	}
	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	return s.run(ctx, plan{
		userID:       req.UserID,
		actionType:   req.ActionType,
		itemID:       strings.TrimSpace(req.ItemID),
		resourceType: req.ResourceType,
		resourceName: req.ResourceName,
		quantity:     quantity,
		category:     req.Category,
	})
}

// run drives the commit pipeline. Every step up to and including CheckLimits
// is a pure read; the conditional ledger write is the only authority. A
// version conflict restarts the whole pipeline, earlier reads are stale.
func (s *Service) run(ctx context.Context, p plan) (consumptiondomain.Result, error) {
	if strings.TrimSpace(p.userID) == "" {
		return consumptiondomain.Result{}, consumptiondomain.ErrInvalidUser
	}
	if p.quantity < 1 {
		return consumptiondomain.Result{}, consumptiondomain.ErrInvalidAmount
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		price, err := s.cost.ResolveCost(ctx, p.actionType, p.itemID)
		if err != nil {
			return consumptiondomain.Result{}, err
		}
		amount := price * p.quantity
		if amount <= 0 {
			return consumptiondomain.Result{}, consumptiondomain.ErrInvalidAmount
		}

		if p.preCommit != nil {
			if err := p.preCommit(ctx); err != nil {
				return consumptiondomain.Result{}, err
			}
		}

		sufficient, err := s.tracking.ValidateSufficientCredits(ctx, p.userID, amount)
		if err != nil {
			return consumptiondomain.Result{}, err
		}
		if !sufficient {
			return consumptiondomain.Result{}, subscriptiondomain.ErrInsufficientCredits
		}

		check, err := s.limits.CheckLimits(ctx, p.userID, amount, p.category)
		if err != nil {
			return consumptiondomain.Result{}, err
		}
		if !check.Allowed {
			s.log.Info("limit check rejected consumption",
				zap.String("user_id", p.userID),
				zap.String("category", string(p.category)),
				zap.Int64("amount", amount),
				zap.String("reason", check.Reason),
			)
			return consumptiondomain.Result{}, limitdomain.ErrLimitExceeded
		}

		sub, err := s.subs.ConsumeCredits(ctx, subscriptiondomain.ConsumeCreditsRequest{
			UserID:       p.userID,
			Amount:       amount,
			ResourceType: p.resourceType,
			ResourceName: p.resourceName,
		})
		if err != nil {
			if subscriptiondomain.IsConflict(err) {
				s.log.Debug("ledger write conflicted, re-evaluating pipeline",
					zap.String("user_id", p.userID),
					zap.Int("attempt", attempt),
				)
				lastErr = err
				continue
			}
			return consumptiondomain.Result{}, err
		}

		s.tail(ctx, p, amount, sub.Credits)
		return consumptiondomain.Result{
			CreditsCharged: amount,
			BalanceAfter:   sub.Credits,
			Unlimited:      sub.Unlimited,
		}, nil
	}
	return consumptiondomain.Result{}, lastErr
}

// tail runs the post-commit bookkeeping. The deduction already committed, so
// failures here are logged and swallowed rather than unwound.
func (s *Service) tail(ctx context.Context, p plan, amount, balanceAfter int64) {
	if err := s.limits.ConsumeLimits(ctx, p.userID, amount, p.category); err != nil {
		s.log.Warn("limit counter update failed after ledger commit",
			zap.String("user_id", p.userID),
			zap.String("category", string(p.category)),
			zap.Int64("amount", amount),
			zap.Error(err),
		)
	}

	if err := s.tracking.RecordHistory(ctx, trackingdomain.RecordHistoryRequest{
		UserID:          p.userID,
		ConsumptionType: p.actionType,
		ResourceName:    p.resourceName,
		CreditsConsumed: amount,
		BalanceAfter:    balanceAfter,
	}); err != nil {
		s.log.Warn("history append failed after ledger commit",
			zap.String("user_id", p.userID),
			zap.Error(err),
		)
	}

	if p.postCommit != nil {
		if err := p.postCommit(ctx); err != nil {
			s.log.Warn("post-commit grant failed after ledger commit",
				zap.String("user_id", p.userID),
				zap.String("resource_type", p.resourceType),
				zap.Error(err),
			)
		}
	}
}
