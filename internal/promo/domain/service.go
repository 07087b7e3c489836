package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidCode            = errors.New("invalid_code")
	ErrCodeNotFound           = errors.New("code_not_found")
	ErrCodeExpired            = errors.New("code_expired")
	ErrRedemptionLimitReached = errors.New("redemption_limit_reached")
	ErrAlreadyRedeemed        = errors.New("already_redeemed")
)

// Redemption reports the effects of a successful redemption.
type Redemption struct {
	Code         string `json:"code"`
	GrantedCents int64  `json:"granted_cents"`
	UpgradedTier string `json:"upgraded_tier,omitempty"`
}

// Service redeems promo codes. A code grants credits at most once per
// account and never past its use limit or expiry.
type Service interface {
	Redeem(ctx context.Context, accountID snowflake.ID, code string) (Redemption, error)
}
