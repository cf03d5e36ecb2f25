// Package domain contains user ownership of purchasable resources.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Resource types a user can own.
const (
	ResourcePlugin   = "plugin"
	ResourceWorkflow = "workflow"
)

// Ownership records that a user acquired a resource. Usage of an unowned
// resource is rejected before any credit is touched.
type Ownership struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	OrgID        snowflake.ID `gorm:"not null;index;uniqueIndex:ux_ownership,priority:1"`
	UserID       snowflake.ID `gorm:"not null;uniqueIndex:ux_ownership,priority:2"`
	ResourceType string       `gorm:"type:text;not null;uniqueIndex:ux_ownership,priority:3"`
	ResourceID   snowflake.ID `gorm:"not null;uniqueIndex:ux_ownership,priority:4"`
	AcquiredAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Ownership) TableName() string { return "ownerships" }
