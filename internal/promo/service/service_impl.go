package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountdomain "github.com/scribeflow/creditcore/internal/account/domain"
	"github.com/scribeflow/creditcore/internal/clock"
	"github.com/scribeflow/creditcore/internal/events"
	ledgerdomain "github.com/scribeflow/creditcore/internal/ledger/domain"
	obsmetrics "github.com/scribeflow/creditcore/internal/observability/metrics"
	promodomain "github.com/scribeflow/creditcore/internal/promo/domain"
	usagedomain "github.com/scribeflow/creditcore/internal/usage/domain"
	pkgdb "github.com/scribeflow/creditcore/pkg/db"
)

const maxTxAttempts = 3

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	ledger ledgerdomain.Service
	outbox *events.Outbox

	obsMetrics *obsmetrics.Metrics
}

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Ledger     ledgerdomain.Service
	Outbox     *events.Outbox      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) promodomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("promo.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		ledger:     p.Ledger,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Redeem(ctx context.Context, accountID snowflake.ID, code string) (promodomain.Redemption, error) {
	if accountID == 0 {
		return promodomain.Redemption{}, ledgerdomain.ErrInvalidAccount
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return promodomain.Redemption{}, promodomain.ErrInvalidCode
	}

	var redemption promodomain.Redemption
	err := s.runTx(ctx, func(tx *gorm.DB) error {
		var promo promodomain.PromoCode
		result := tx.Raw(
			`SELECT id, code, reward_cents, upgrade_tier, max_uses, current_uses, expires_at
			 FROM promo_codes WHERE code = ?`,
			code,
		).Scan(&promo)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return promodomain.ErrCodeNotFound
		}

		now := s.clock.Now()
		if promo.ExpiresAt != nil && !promo.ExpiresAt.After(now) {
			return promodomain.ErrCodeExpired
		}
		if promo.CurrentUses >= promo.MaxUses {
			return promodomain.ErrRedemptionLimitReached
		}

		inserted := tx.Exec(
			`INSERT INTO promo_redemptions (id, account_id, code, redeemed_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (account_id, code) DO NOTHING`,
			s.genID.Generate(), accountID, code, now,
		)
		if inserted.Error != nil {
			return inserted.Error
		}
		if inserted.RowsAffected == 0 {
			return promodomain.ErrAlreadyRedeemed
		}

		// The use counter is the race arbiter: concurrent redemptions of
		// the last slot collapse to one winner here.
		updated := tx.Exec(
			`UPDATE promo_codes SET current_uses = current_uses + 1
			 WHERE id = ? AND current_uses < max_uses`,
			promo.ID,
		)
		if updated.Error != nil {
			return updated.Error
		}
		if updated.RowsAffected == 0 {
			return promodomain.ErrRedemptionLimitReached
		}

		if promo.RewardCents > 0 {
			reference := "promo:" + code + ":" + accountID.String()
			if err := s.ledger.GrantTx(ctx, tx, accountID, promo.RewardCents, usagedomain.ReasonPromo, reference); err != nil {
				return err
			}
		}

		redemption = promodomain.Redemption{Code: code, GrantedCents: promo.RewardCents}

		tier := strings.TrimSpace(promo.UpgradeTier)
		if tier != "" {
			parsed, err := accountdomain.ParsePlanTier(tier)
			if err != nil {
				return err
			}
			result := tx.Exec(
				`UPDATE accounts SET plan = ?, updated_at = ? WHERE id = ?`,
				string(parsed), now, accountID,
			)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return ledgerdomain.ErrAccountNotFound
			}
			redemption.UpgradedTier = string(parsed)
		}

		if s.outbox != nil {
			err := s.outbox.PublishTx(ctx, tx, events.Event{
				AccountID: accountID,
				Type:      events.EventPromoRedeemed,
				Payload: map[string]any{
					"code":          code,
					"granted_cents": promo.RewardCents,
				},
				DedupeKey: "promo_redeemed:" + code + ":" + accountID.String(),
			})
			if err != nil {
				s.log.Warn("failed to publish promo event", zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		s.obsMetrics.RecordPromoRedemption(ctx, "rejected")
		return promodomain.Redemption{}, err
	}
	s.obsMetrics.RecordPromoRedemption(ctx, "redeemed")
	return redemption, nil
}

// runTx executes fn in a transaction, retrying on serialization conflicts.
func (s *Service) runTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(fn)
		if err == nil || !pkgdb.IsRetryableConflict(err) {
			return err
		}
		s.log.Warn("retrying promo redemption after conflict",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("%w: %v", ledgerdomain.ErrConflict, err)
}
