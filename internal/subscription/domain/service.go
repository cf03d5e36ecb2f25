package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

type ProvisionRequest struct {
	UserID    string     `json:"user_id"`
	Capacity  Capacity   `json:"-"`
	AutoRenew bool       `json:"auto_renew"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type ConsumeCreditsRequest struct {
	UserID       string
	Amount       int64
	ResourceType string
	ResourceName string
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	// Provision creates the ledger row for a user; idempotent per user.
	Provision(ctx context.Context, req ProvisionRequest) (Subscription, error)
	GetByUserID(ctx context.Context, userID string) (Subscription, error)
	HasUnlimitedCredits(ctx context.Context, userID string) (bool, error)
	// AddCredits grants credits, retrying version conflicts internally.
	AddCredits(ctx context.Context, userID string, amount int64) (Subscription, error)
	// ConsumeCredits performs one conditional deduction attempt. A version
	// conflict surfaces as *ConflictError; callers re-run their whole decision
	// pipeline before retrying, their earlier reads are stale.
	ConsumeCredits(ctx context.Context, req ConsumeCreditsRequest) (Subscription, error)
	SetAutoRenew(ctx context.Context, userID string, autoRenew bool) (Subscription, error)
}

type Repository interface {
	GetByUserID(ctx context.Context, orgID, userID snowflake.ID) (*Subscription, error)
	Create(ctx context.Context, sub *Subscription) error
	// UpdateVersioned persists sub iff the stored version still equals
	// expectedVersion, bumping the version by one. A stale version yields
	// *ConflictError.
	UpdateVersioned(ctx context.Context, sub *Subscription, expectedVersion int64) error
}

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrInsufficientCredits  = errors.New("insufficient_credits")
)

// ConflictError reports an optimistic-concurrency failure on a versioned write.
type ConflictError struct {
	Entity          string
	ID              snowflake.ID
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrency_conflict: %s %s expected version %d, actual %d",
		e.Entity, e.ID, e.ExpectedVersion, e.ActualVersion)
}

// IsConflict reports whether err is an optimistic-concurrency conflict.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}
