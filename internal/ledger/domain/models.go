package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// HoldStatus is the lifecycle state of a reservation against future
// consumption. A hold is terminated by exactly one of commit or release.
type HoldStatus string

const (
	HoldStatusOpen      HoldStatus = "open"
	HoldStatusCommitted HoldStatus = "committed"
	HoldStatusReleased  HoldStatus = "released"
)

// CreditHold tracks one open reservation for reconciliation. The account's
// pending_deduction_cents column remains the authoritative input to the
// available balance; hold rows exist so a sweep can find reservations whose
// job never reported back.
type CreditHold struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	AccountID    snowflake.ID `gorm:"not null;uniqueIndex:ux_credit_holds_account_job,priority:1"`
	JobID        snowflake.ID `gorm:"not null;uniqueIndex:ux_credit_holds_account_job,priority:2"`
	AmountCents  int64        `gorm:"not null"`
	Status       HoldStatus   `gorm:"type:text;not null;default:open;index"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	TerminatedAt *time.Time
}

// TableName sets the database table name.
func (CreditHold) TableName() string { return "credit_holds" }

// Balance is the current account position in credit cents.
type Balance struct {
	CreditsCents          int64 `json:"credits_cents"`
	PendingDeductionCents int64 `json:"pending_deduction_cents"`
	AvailableCents        int64 `json:"available_cents"`
}
