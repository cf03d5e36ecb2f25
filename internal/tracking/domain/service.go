package domain

import (
	"context"
	"errors"
)

type RecordHistoryRequest struct {
	UserID          string
	ConsumptionType string
	ResourceName    string
	CreditsConsumed int64
	BalanceAfter    int64
}

type Service interface {
	// ValidateSufficientCredits is a read-only fast fail against the current
	// balance. The ledger's conditional write is the actual authority; this
	// only short-circuits obviously doomed requests.
	ValidateSufficientCredits(ctx context.Context, userID string, amount int64) (bool, error)
	// RecordHistory appends a record after a successful ledger commit. Failure
	// never unwinds the commit; it is logged and retried once asynchronously.
	RecordHistory(ctx context.Context, req RecordHistoryRequest) error
	ListHistory(ctx context.Context, req ListHistoryRequest) (ListHistoryResponse, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidAmount       = errors.New("invalid_amount")
)
