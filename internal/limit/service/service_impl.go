package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditflow/internal/clock"
	"github.com/smallbiznis/creditflow/internal/config"
	limitdomain "github.com/smallbiznis/creditflow/internal/limit/domain"
	obsmetrics "github.com/smallbiznis/creditflow/internal/observability/metrics"
	"github.com/smallbiznis/creditflow/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Policy     *config.PolicyHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	policy     *config.PolicyHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) limitdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("limit.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		policy:     p.Policy,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CheckLimits(ctx context.Context, userID string, amount int64, category limitdomain.Category) (limitdomain.CheckResult, error) {
	orgID, user, err := s.scope(ctx, userID)
	if err != nil {
		return limitdomain.CheckResult{}, err
	}
	if amount <= 0 {
		return limitdomain.CheckResult{}, limitdomain.ErrInvalidAmount
	}
	if !category.Valid() {
		return limitdomain.CheckResult{}, limitdomain.ErrInvalidCategory
	}

	cap := s.policy.Get().CapFor(string(category))
	if cap <= 0 {
		return limitdomain.CheckResult{Allowed: true}, nil
	}
	if amount > cap {
		return limitdomain.CheckResult{
			Allowed: false,
			Reason:  fmt.Sprintf("amount %d exceeds %s cap %d", amount, category, cap),
		}, nil
	}

	periodStart, _ := s.currentPeriod()
	var consumed int64
	err = s.db.WithContext(ctx).
		Model(&limitdomain.LimitWindow{}).
		Select("COALESCE(SUM(amount_consumed), 0)").
		Where("org_id = ? AND user_id = ? AND category = ? AND period_start = ?",
			orgID, user, category, periodStart).
		Scan(&consumed).Error
	if err != nil {
		return limitdomain.CheckResult{}, err
	}

	if consumed+amount > cap {
		return limitdomain.CheckResult{
			Allowed: false,
			Reason: fmt.Sprintf("%s window has %d of %d credits consumed, %d more would exceed the cap",
				category, consumed, cap, amount),
		}, nil
	}
	return limitdomain.CheckResult{Allowed: true}, nil
}

// ConsumeLimits commits amount into the current window. The cap guard sits in
// the UPDATE itself so two racing consumers cannot both slip under the cap.
func (s *Service) ConsumeLimits(ctx context.Context, userID string, amount int64, category limitdomain.Category) error {
	orgID, user, err := s.scope(ctx, userID)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return limitdomain.ErrInvalidAmount
	}
	if !category.Valid() {
		return limitdomain.ErrInvalidCategory
	}

	cap := s.policy.Get().CapFor(string(category))
	if cap <= 0 {
		return nil
	}

	periodStart, periodEnd := s.currentPeriod()
	now := time.Now().UTC()

	if err := s.db.WithContext(ctx).Exec(
		`INSERT INTO limit_windows (
			id, org_id, user_id, category, amount_consumed, cap, period_start, period_end, created_at, updated_at
		) VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, user_id, category, period_start) DO NOTHING`,
		s.genID.Generate(),
		orgID,
		user,
		category,
		cap,
		periodStart,
		periodEnd,
		now,
		now,
	).Error; err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Exec(
		`UPDATE limit_windows
		SET amount_consumed = amount_consumed + ?, updated_at = ?
		WHERE org_id = ? AND user_id = ? AND category = ? AND period_start = ?
			AND amount_consumed + ? <= cap`,
		amount,
		now,
		orgID,
		user,
		category,
		periodStart,
		amount,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordLimitRejection(ctx, string(category))
		}
		return limitdomain.ErrLimitExceeded
	}
	return nil
}

func (s *Service) CurrentWindow(ctx context.Context, userID string, category limitdomain.Category) (limitdomain.LimitWindow, error) {
	orgID, user, err := s.scope(ctx, userID)
	if err != nil {
		return limitdomain.LimitWindow{}, err
	}
	if !category.Valid() {
		return limitdomain.LimitWindow{}, limitdomain.ErrInvalidCategory
	}

	periodStart, periodEnd := s.currentPeriod()
	var window limitdomain.LimitWindow
	err = s.db.WithContext(ctx).
		Where("org_id = ? AND user_id = ? AND category = ? AND period_start = ?",
			orgID, user, category, periodStart).
		First(&window).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return limitdomain.LimitWindow{
				OrgID:       orgID,
				UserID:      user,
				Category:    category,
				Cap:         s.policy.Get().CapFor(string(category)),
				PeriodStart: periodStart,
				PeriodEnd:   periodEnd,
			}, nil
		}
		return limitdomain.LimitWindow{}, err
	}
	return window, nil
}

// currentPeriod anchors windows to fixed boundaries of the configured length,
// so every consumer of a given instant agrees on the active window row.
func (s *Service) currentPeriod() (time.Time, time.Time) {
	window := time.Duration(s.policy.Get().LimitWindowHours) * time.Hour
	if window <= 0 {
		window = 24 * time.Hour
	}
	start := s.clock.Now().UTC().Truncate(window)
	return start, start.Add(window)
}

func (s *Service) scope(ctx context.Context, userID string) (snowflake.ID, snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, 0, limitdomain.ErrInvalidOrganization
	}
	user, err := snowflake.ParseString(strings.TrimSpace(userID))
	if err != nil || user == 0 {
		return 0, 0, limitdomain.ErrInvalidUser
	}
	return orgID, user, nil
}
