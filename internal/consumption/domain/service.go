// Package domain defines the consumption pipeline: one handler per action
// kind, each sequencing cost resolution, ownership and limit checks, the
// conditional ledger deduction and the best-effort bookkeeping tail.
package domain

import (
	"context"
	"errors"

	limitdomain "github.com/smallbiznis/creditflow/internal/limit/domain"
)

type PurchasePluginRequest struct {
	UserID     string `json:"user_id"`
	PluginID   string `json:"plugin_id"`
	PluginName string `json:"plugin_name"`
}

type UsePluginRequest struct {
	UserID     string `json:"user_id"`
	PluginID   string `json:"plugin_id"`
	PluginName string `json:"plugin_name"`
	// Messages is the number of per-message units to charge. Zero means one.
	Messages int64 `json:"messages,omitempty"`
}

type RunWorkflowRequest struct {
	UserID       string `json:"user_id"`
	WorkflowID   string `json:"workflow_id"`
	WorkflowName string `json:"workflow_name"`
}

// ConsumeActionRequest charges an arbitrary priced action. The specialized
// handlers are thin wrappers over this shape.
type ConsumeActionRequest struct {
	UserID       string               `json:"user_id"`
	ActionType   string               `json:"action_type"`
	ItemID       string               `json:"item_id,omitempty"`
	ResourceType string               `json:"resource_type"`
	ResourceName string               `json:"resource_name"`
	Quantity     int64                `json:"quantity,omitempty"`
	Category     limitdomain.Category `json:"category"`
}

// Result reports a committed consumption. BalanceAfter is the ledger balance
// produced by this deduction, not a later re-read.
type Result struct {
	CreditsCharged int64 `json:"credits_charged"`
	BalanceAfter   int64 `json:"balance_after"`
	Unlimited      bool  `json:"unlimited"`
}

type Service interface {
	// PurchasePlugin charges the one-time purchase price and grants ownership.
	// Rejected before any deduction when the plugin is already owned.
	PurchasePlugin(ctx context.Context, req PurchasePluginRequest) (Result, error)
	// UsePlugin charges the per-message usage price; the plugin must already
	// be owned.
	UsePlugin(ctx context.Context, req UsePluginRequest) (Result, error)
	RunWorkflow(ctx context.Context, req RunWorkflowRequest) (Result, error)
	ConsumeAction(ctx context.Context, req ConsumeActionRequest) (Result, error)
}

var (
	ErrInvalidUser     = errors.New("invalid_user")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidResource = errors.New("invalid_resource")
	ErrInvalidCategory = errors.New("invalid_category")
	ErrAlreadyOwned    = errors.New("already_owned")
	ErrNotOwned        = errors.New("not_owned")
)
