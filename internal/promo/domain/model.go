package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PromoCode is a redeemable campaign code. CurrentUses only moves through
// the guarded redemption update, never through direct writes.
type PromoCode struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	Code        string       `gorm:"type:text;not null;uniqueIndex"`
	RewardCents int64        `gorm:"not null"`
	UpgradeTier string       `gorm:"type:text"`
	MaxUses     int64        `gorm:"not null"`
	CurrentUses int64        `gorm:"not null;default:0"`
	ExpiresAt   *time.Time
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PromoCode) TableName() string { return "promo_codes" }

// RedemptionReceipt pins a code to an account. The unique (account_id, code)
// index enforces one redemption per account.
type RedemptionReceipt struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	AccountID  snowflake.ID `gorm:"not null;uniqueIndex:ux_promo_redemptions_account_code,priority:1"`
	Code       string       `gorm:"type:text;not null;uniqueIndex:ux_promo_redemptions_account_code,priority:2"`
	RedeemedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (RedemptionReceipt) TableName() string { return "promo_redemptions" }
