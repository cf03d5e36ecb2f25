// Package domain contains the append-only consumption audit trail.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditflow/pkg/db/pagination"
)

// ConsumptionRecord is one committed deduction. Immutable once written;
// BalanceAfter is the ledger balance the commit produced.
type ConsumptionRecord struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	OrgID           snowflake.ID `gorm:"not null;index"`
	UserID          snowflake.ID `gorm:"not null;index:idx_consumption_user_time,priority:1"`
	ConsumptionType string       `gorm:"type:text;not null"`
	ResourceName    string       `gorm:"type:text"`
	CreditsConsumed int64        `gorm:"not null"`
	BalanceAfter    int64        `gorm:"not null"`
	ConsumedAt      time.Time    `gorm:"not null;index:idx_consumption_user_time,priority:2"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ConsumptionRecord) TableName() string { return "consumption_records" }

type ListHistoryRequest struct {
	UserID    string
	PageToken string
	PageSize  int32
}

type ListHistoryResponse struct {
	pagination.PageInfo
	Records []ConsumptionRecord `json:"records"`
}
