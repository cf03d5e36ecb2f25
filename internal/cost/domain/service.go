package domain

import (
	"context"
	"errors"
)

type SetCostRequest struct {
	ActionType  string `json:"action_type"`
	ItemID      string `json:"item_id,omitempty"`
	Credits     int64  `json:"credits"`
	PaymentUnit string `json:"payment_unit"`
}

type Service interface {
	// ResolveCost returns the credit price of an action: item override first,
	// default table fallback. Pure read; pipelines re-resolve at decision time
	// so a price change applies only to not-yet-committed operations.
	ResolveCost(ctx context.Context, actionType, itemID string) (int64, error)
	SetCost(ctx context.Context, req SetCostRequest) (ActionCost, error)
	List(ctx context.Context, actionType string) ([]ActionCost, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidActionType   = errors.New("invalid_action_type")
	ErrInvalidItem         = errors.New("invalid_item")
	ErrInvalidCredits      = errors.New("invalid_credits")
	ErrCostNotFound        = errors.New("cost_not_found")
)
