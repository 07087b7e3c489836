package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Payload is the provider-neutral effect of a payment event. The concrete
// types below are the only implementations; the processor applies effects
// with an exhaustive type switch.
type Payload interface {
	isPayload()
}

// SubscriptionPurchased moves the account onto the plan identified by
// PlanCode and grants its initial credit allotment.
type SubscriptionPurchased struct {
	PlanCode string
}

// SubscriptionRenewed grants the plan's periodic credit allotment.
type SubscriptionRenewed struct {
	PlanCode string
}

// SubscriptionCancelled returns the account to the free tier. Remaining
// credits are kept.
type SubscriptionCancelled struct{}

// OneTimePurchaseCompleted grants the credits of the pack identified by
// PackCode.
type OneTimePurchaseCompleted struct {
	PackCode string
}

func (SubscriptionPurchased) isPayload()    {}
func (SubscriptionRenewed) isPayload()      {}
func (SubscriptionCancelled) isPayload()    {}
func (OneTimePurchaseCompleted) isPayload() {}

// Event is a verified, parsed webhook delivery ready for processing.
type Event struct {
	Provider        string
	ProviderEventID string
	CustomerRef     string
	OccurredAt      time.Time
	Payload         Payload
	Raw             []byte
}

// ProcessedEvent is the dedupe row recorded for every applied delivery.
// The unique (provider, provider_event_id) index is what makes redelivery
// a no-op.
type ProcessedEvent struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	Provider        string       `gorm:"type:text;not null;uniqueIndex:ux_processed_events_provider_event,priority:1"`
	ProviderEventID string       `gorm:"type:text;not null;uniqueIndex:ux_processed_events_provider_event,priority:2"`
	AccountID       snowflake.ID `gorm:"not null;index"`
	EventType       string       `gorm:"type:text;not null"`
	ProcessedAt     time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (ProcessedEvent) TableName() string { return "processed_events" }
