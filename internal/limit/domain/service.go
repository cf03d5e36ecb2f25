package domain

import (
	"context"
	"errors"
)

// CheckResult is the outcome of a read-only limit evaluation.
type CheckResult struct {
	Allowed bool
	Reason  string
}

type Service interface {
	// CheckLimits evaluates whether committing amount would exceed the
	// rolling cap for the category. Read-only.
	CheckLimits(ctx context.Context, userID string, amount int64, category Category) (CheckResult, error)
	// ConsumeLimits commits the reservation into the window counter. Callers
	// invoke it only after the ledger deduction succeeded and only when
	// CheckLimits allowed the amount.
	ConsumeLimits(ctx context.Context, userID string, amount int64, category Category) error
	// CurrentWindow returns the active window row; a zero AmountConsumed
	// window is synthesized when none exists yet.
	CurrentWindow(ctx context.Context, userID string, category Category) (LimitWindow, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidCategory     = errors.New("invalid_category")
	ErrLimitExceeded       = errors.New("limit_exceeded")
)
