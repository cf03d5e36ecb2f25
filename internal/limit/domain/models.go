// Package domain contains the rolling-window spend caps enforced on top of
// the raw balance.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Category partitions spend caps by the kind of consumption.
type Category string

const (
	CategoryPurchase Category = "purchase"
	CategoryUsage    Category = "usage"
	CategoryRun      Category = "run"
)

// Valid reports whether the category is one the limiter knows.
func (c Category) Valid() bool {
	switch c {
	case CategoryPurchase, CategoryUsage, CategoryRun:
		return true
	}
	return false
}

// LimitWindow is one user's spend counter for a category and period. The
// invariant AmountConsumed <= Cap holds after every successful consume; the
// guard lives in the conditional UPDATE, not in application reads.
type LimitWindow struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	OrgID          snowflake.ID `gorm:"not null;index;uniqueIndex:ux_limit_window,priority:1"`
	UserID         snowflake.ID `gorm:"not null;uniqueIndex:ux_limit_window,priority:2"`
	Category       Category     `gorm:"type:text;not null;uniqueIndex:ux_limit_window,priority:3"`
	AmountConsumed int64        `gorm:"not null;default:0"`
	Cap            int64        `gorm:"not null"`
	PeriodStart    time.Time    `gorm:"not null;uniqueIndex:ux_limit_window,priority:4"`
	PeriodEnd      time.Time    `gorm:"not null"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LimitWindow) TableName() string { return "limit_windows" }
