package notification

import (
	"context"

	"github.com/smallbiznis/creditflow/internal/config"
	"github.com/smallbiznis/creditflow/internal/events"
	"github.com/smallbiznis/creditflow/internal/observability/metrics"
	"github.com/smallbiznis/creditflow/internal/orgcontext"
	subscriptiondomain "github.com/smallbiznis/creditflow/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ConsumerParams struct {
	fx.In

	Log        *zap.Logger
	Hub        *Hub
	Subs       subscriptiondomain.Service
	Policy     *config.PolicyHolder
	ObsMetrics *metrics.Metrics `optional:"true"`
}

// Consumer turns balance-change events into real-time pushes. It re-reads the
// authoritative balance on every event because deliveries may arrive after
// further mutations raced ahead. Delivery problems are logged and swallowed;
// they never fail the ledger operation that emitted the event.
type Consumer struct {
	log     *zap.Logger
	hub     *Hub
	subs    subscriptiondomain.Service
	policy  *config.PolicyHolder
	metrics *metrics.Metrics
}

func NewConsumer(p ConsumerParams) *Consumer {
	return &Consumer{
		log:     p.Log.Named("notification.consumer"),
		hub:     p.Hub,
		subs:    p.Subs,
		policy:  p.Policy,
		metrics: p.ObsMetrics,
	}
}

// Register wires the consumer onto the outbox dispatcher.
func (c *Consumer) Register(outbox *events.Outbox) {
	outbox.Subscribe(events.EventCreditsAdded, c.handleBalanceChange)
	outbox.Subscribe(events.EventCreditsConsumed, c.handleBalanceChange)
}

func (c *Consumer) handleBalanceChange(ctx context.Context, event events.Event) error {
	userID := events.PayloadString(event.Payload, "user_id")
	if userID == "" {
		c.log.Warn("balance event missing user id", zap.String("type", event.Type))
		return nil
	}

	delta := events.PayloadInt64(event.Payload, "amount")
	if event.Type == events.EventCreditsConsumed {
		delta = -delta
	}

	ctx = orgcontext.WithOrgID(ctx, int64(event.OrgID))
	sub, err := c.subs.GetByUserID(ctx, userID)
	if err != nil {
		c.log.Warn("balance re-read failed, skipping push",
			zap.String("user_id", userID),
			zap.String("type", event.Type),
			zap.Error(err),
		)
		return nil
	}

	c.hub.Publish(event.OrgID, userID, BalanceUpdate{
		Kind:                KindBalanceUpdate,
		Balance:             sub.Credits,
		HasUnlimitedCredits: sub.Unlimited,
		Delta:               delta,
		Reason:              event.Type,
	})
	c.metrics.RecordBalancePush(ctx, KindBalanceUpdate)

	c.maybeWarnLowCredit(ctx, event, sub, delta)
	return nil
}

// maybeWarnLowCredit fires exactly one warning per downward threshold
// crossing. The previous balance is reconstructed from this event's delta, so
// a crossing is attributed to the deduction that caused it even when pushes
// arrive late.
func (c *Consumer) maybeWarnLowCredit(ctx context.Context, event events.Event, sub subscriptiondomain.Subscription, delta int64) {
	if sub.Unlimited || delta >= 0 {
		return
	}
	threshold := c.policy.Get().LowCreditThreshold
	if threshold <= 0 {
		return
	}

	previous := sub.Credits - delta
	if previous < threshold || sub.Credits >= threshold {
		return
	}

	c.hub.Publish(event.OrgID, events.PayloadString(event.Payload, "user_id"), BalanceUpdate{
		Kind:                KindLowCreditWarning,
		Balance:             sub.Credits,
		HasUnlimitedCredits: sub.Unlimited,
		Delta:               delta,
		Reason:              event.Type,
		Threshold:           threshold,
	})
	c.metrics.RecordLowCreditWarning(ctx)
	c.metrics.RecordBalancePush(ctx, KindLowCreditWarning)
	c.log.Info("low credit warning pushed",
		zap.String("user_id", events.PayloadString(event.Payload, "user_id")),
		zap.Int64("balance", sub.Credits),
		zap.Int64("threshold", threshold),
	)
}
