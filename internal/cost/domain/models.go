// Package domain contains the action price reference data.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Action types priced by the registry.
const (
	ActionPluginPurchase = "plugin.purchase"
	ActionPluginUsage    = "plugin.usage"
	ActionWorkflowRun    = "workflow.run"
)

// Payment units describing how a price applies.
const (
	UnitOneTime    = "one_time"
	UnitPerMessage = "per_message"
	UnitPerRun     = "per_run"
)

// ActionCost prices an action. ItemID zero marks the default row for the
// action type; a non-zero ItemID is an item-specific override.
type ActionCost struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	OrgID       snowflake.ID `gorm:"not null;index;uniqueIndex:ux_action_cost,priority:1"`
	ActionType  string       `gorm:"type:text;not null;uniqueIndex:ux_action_cost,priority:2"`
	ItemID      snowflake.ID `gorm:"not null;default:0;uniqueIndex:ux_action_cost,priority:3"`
	Credits     int64        `gorm:"not null"`
	PaymentUnit string       `gorm:"type:text;not null"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ActionCost) TableName() string { return "action_costs" }
