// Package domain contains the per-user credit subscription, the authoritative
// balance record for the consumption pipeline.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Subscription is the per-user ledger row. Credits never go negative for a
// bounded plan; Version strictly increases on every successful mutation and is
// the sole serialization point for concurrent writers.
type Subscription struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_subscription_user,priority:1"`
	UserID    snowflake.ID `gorm:"not null;uniqueIndex:ux_subscription_user,priority:2"`
	Credits   int64        `gorm:"not null;default:0"`
	Unlimited bool         `gorm:"not null;default:false"`
	AutoRenew bool         `gorm:"not null;default:false"`
	ExpiresAt *time.Time   `gorm:""`
	Version   int64        `gorm:"not null;default:0"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Capacity returns the balance as a tagged value.
func (s Subscription) Capacity() Capacity {
	if s.Unlimited {
		return UnlimitedCapacity()
	}
	return Bounded(s.Credits)
}

// ApplyCapacity writes a capacity back onto the row.
func (s *Subscription) ApplyCapacity(c Capacity) {
	s.Unlimited = c.IsUnlimited()
	s.Credits = c.Credits()
}
