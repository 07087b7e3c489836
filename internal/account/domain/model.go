package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// PlanTier identifies the subscription tier an account is on.
type PlanTier string

const (
	PlanFree    PlanTier = "free"
	PlanStarter PlanTier = "starter"
	PlanPro     PlanTier = "pro"
	PlanScale   PlanTier = "scale"
)

var ErrInvalidPlanTier = errors.New("invalid_plan_tier")

func ParsePlanTier(raw string) (PlanTier, error) {
	switch PlanTier(strings.ToLower(strings.TrimSpace(raw))) {
	case PlanFree:
		return PlanFree, nil
	case PlanStarter:
		return PlanStarter, nil
	case PlanPro:
		return PlanPro, nil
	case PlanScale:
		return PlanScale, nil
	default:
		return "", ErrInvalidPlanTier
	}
}

// Account is the balance row the ledger mutates. Amounts are credit cents
// (1 credit = 100 cents). AvailableCents must never go negative through
// an authorize.
type Account struct {
	ID                    snowflake.ID `gorm:"primaryKey"`
	Plan                  PlanTier     `gorm:"type:text;not null;default:free"`
	CreditsCents          int64        `gorm:"not null;default:0"`
	PendingDeductionCents int64        `gorm:"not null;default:0"`
	PaymentCustomerID     string       `gorm:"type:text;uniqueIndex"`
	CreatedAt             time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt             time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

func (a Account) AvailableCents() int64 {
	return a.CreditsCents - a.PendingDeductionCents
}
