package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	accountdomain "github.com/scribeflow/creditcore/internal/account/domain"
)

const (
	demoCustomerRef    = "cus_demo"
	demoWelcomeCents   = 1000
	launchPromoCode    = "LAUNCH50"
	launchPromoCents   = 5000
	launchPromoMaxUses = 500
)

// EnsureDemoData seeds a demo account and a launch promo code so a local
// install is usable immediately. Existing rows are left untouched.
func EnsureDemoData(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		err := tx.Exec(
			`INSERT INTO accounts (id, plan, credits_cents, pending_deduction_cents, payment_customer_id, created_at, updated_at)
			 VALUES (?, ?, ?, 0, ?, ?, ?)
			 ON CONFLICT (payment_customer_id) DO NOTHING`,
			node.Generate(), string(accountdomain.PlanFree), demoWelcomeCents,
			demoCustomerRef, now, now,
		).Error
		if err != nil {
			return err
		}

		return tx.Exec(
			`INSERT INTO promo_codes (id, code, reward_cents, upgrade_tier, max_uses, current_uses, created_at)
			 VALUES (?, ?, ?, '', ?, 0, ?)
			 ON CONFLICT (code) DO NOTHING`,
			node.Generate(), launchPromoCode, launchPromoCents, launchPromoMaxUses, now,
		).Error
	})
}
