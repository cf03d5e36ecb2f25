package events

import (
	"strconv"

	"github.com/bwmarrin/snowflake"
)

// Event types published by the credit pipeline.
const (
	EventSubscriptionCreated = "subscription.created"
	EventSubscriptionUpdated = "subscription.updated"
	EventCreditsAdded        = "credits.added"
	EventCreditsConsumed     = "credits.consumed"
)

// Event is a domain event destined for the outbox.
type Event struct {
	OrgID     snowflake.ID
	Type      string
	Payload   map[string]any
	DedupeKey string
}

// CreditsAddedPayload describes a balance top-up.
type CreditsAddedPayload struct {
	SubscriptionID string
	UserID         string
	Amount         int64
}

func (p CreditsAddedPayload) ToMap() map[string]any {
	return map[string]any{
		"subscription_id": p.SubscriptionID,
		"user_id":         p.UserID,
		"amount":          p.Amount,
	}
}

// CreditsConsumedPayload describes a balance deduction.
type CreditsConsumedPayload struct {
	SubscriptionID string
	UserID         string
	Amount         int64
	ResourceType   string
	ResourceName   string
}

func (p CreditsConsumedPayload) ToMap() map[string]any {
	out := map[string]any{
		"subscription_id": p.SubscriptionID,
		"user_id":         p.UserID,
		"amount":          p.Amount,
	}
	if p.ResourceType != "" {
		out["resource_type"] = p.ResourceType
	}
	if p.ResourceName != "" {
		out["resource_name"] = p.ResourceName
	}
	return out
}

// SubscriptionPayload describes a subscription lifecycle event.
type SubscriptionPayload struct {
	SubscriptionID string
	UserID         string
}

func (p SubscriptionPayload) ToMap() map[string]any {
	return map[string]any{
		"subscription_id": p.SubscriptionID,
		"user_id":         p.UserID,
	}
}

// PayloadString reads a string field from an event payload.
func PayloadString(payload map[string]any, key string) string {
	value, _ := payload[key].(string)
	return value
}

// PayloadInt64 reads a numeric field from an event payload, tolerating the
// types a jsonb round-trip can produce.
func PayloadInt64(payload map[string]any, key string) int64 {
	switch typed := payload[key].(type) {
	case int64:
		return typed
	case int:
		return int64(typed)
	case float64:
		return int64(typed)
	case string:
		parsed, err := strconv.ParseInt(typed, 10, 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}
