package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scribeflow/creditcore/internal/clock"
	"github.com/scribeflow/creditcore/internal/events"
	ledgerdomain "github.com/scribeflow/creditcore/internal/ledger/domain"
	obsmetrics "github.com/scribeflow/creditcore/internal/observability/metrics"
	usagedomain "github.com/scribeflow/creditcore/internal/usage/domain"
	pkgdb "github.com/scribeflow/creditcore/pkg/db"
)

const maxTxAttempts = 3

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	usage      usagedomain.Service
	outbox     *events.Outbox
	obsMetrics *obsmetrics.Metrics
}

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Usage      usagedomain.Service
	Outbox     *events.Outbox      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		usage:      p.Usage,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) recordOp(ctx context.Context, op string, err error) {
	result := "success"
	if err != nil {
		result = "error"
		if errors.Is(err, ledgerdomain.ErrInsufficientCredits) {
			result = "insufficient_credits"
		}
	}
	s.obsMetrics.RecordLedgerOp(ctx, op, result)
}

func (s *Service) AvailableBalance(ctx context.Context, accountID snowflake.ID) (ledgerdomain.Balance, error) {
	if accountID == 0 {
		return ledgerdomain.Balance{}, ledgerdomain.ErrInvalidAccount
	}

	var row struct {
		CreditsCents          int64
		PendingDeductionCents int64
	}
	result := s.db.WithContext(ctx).Raw(
		`SELECT credits_cents, pending_deduction_cents FROM accounts WHERE id = ?`,
		accountID,
	).Scan(&row)
	if result.Error != nil {
		return ledgerdomain.Balance{}, result.Error
	}
	if result.RowsAffected == 0 {
		return ledgerdomain.Balance{}, ledgerdomain.ErrAccountNotFound
	}

	return ledgerdomain.Balance{
		CreditsCents:          row.CreditsCents,
		PendingDeductionCents: row.PendingDeductionCents,
		AvailableCents:        row.CreditsCents - row.PendingDeductionCents,
	}, nil
}

func (s *Service) Authorize(ctx context.Context, accountID, jobID snowflake.ID, amountCents int64) error {
	if accountID == 0 {
		return ledgerdomain.ErrInvalidAccount
	}
	if jobID == 0 {
		return ledgerdomain.ErrInvalidJob
	}
	if amountCents <= 0 {
		return ledgerdomain.ErrInvalidAmount
	}

	err := s.runTx(ctx, func(tx *gorm.DB) error {
		now := s.clock.Now()
		inserted := tx.Exec(
			`INSERT INTO credit_holds (id, account_id, job_id, amount_cents, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (account_id, job_id) DO NOTHING`,
			s.genID.Generate(), accountID, jobID, amountCents,
			string(ledgerdomain.HoldStatusOpen), now,
		)
		if inserted.Error != nil {
			return inserted.Error
		}
		if inserted.RowsAffected == 0 {
			// A hold for this job already exists, so the reservation is
			// already in place.
			return nil
		}

		updated := tx.Exec(
			`UPDATE accounts
			 SET pending_deduction_cents = pending_deduction_cents + ?, updated_at = ?
			 WHERE id = ? AND credits_cents - pending_deduction_cents >= ?`,
			amountCents, now, accountID, amountCents,
		)
		if updated.Error != nil {
			return updated.Error
		}
		if updated.RowsAffected == 0 {
			// Rolling back also discards the hold row inserted above.
			balance, err := lookupBalance(tx, accountID)
			if err != nil {
				return err
			}
			return &ledgerdomain.InsufficientCreditsError{
				AccountID:      accountID,
				RequiredCents:  amountCents,
				AvailableCents: balance.AvailableCents,
			}
		}

		s.publishTx(ctx, tx, events.Event{
			AccountID: accountID,
			Type:      events.EventHoldAuthorized,
			Payload: map[string]any{
				"job_id":       jobID.String(),
				"amount_cents": amountCents,
			},
			DedupeKey: "hold_authorized:" + jobID.String(),
		})
		return nil
	})
	s.recordOp(ctx, "authorize", err)
	return err
}

func (s *Service) Commit(ctx context.Context, accountID, jobID snowflake.ID, detail ledgerdomain.CommitDetail) error {
	if accountID == 0 {
		return ledgerdomain.ErrInvalidAccount
	}
	if jobID == 0 {
		return ledgerdomain.ErrInvalidJob
	}

	err := s.runTx(ctx, func(tx *gorm.DB) error {
		amount, err := s.terminateHold(tx, accountID, jobID, ledgerdomain.HoldStatusCommitted)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		updated := tx.Exec(
			`UPDATE accounts
			 SET credits_cents = credits_cents - ?,
			     pending_deduction_cents = pending_deduction_cents - ?,
			     updated_at = ?
			 WHERE id = ? AND pending_deduction_cents >= ?`,
			amount, amount, now, accountID, amount,
		)
		if updated.Error != nil {
			return updated.Error
		}
		if updated.RowsAffected == 0 {
			return fmt.Errorf("%w: pending deduction below hold amount for account %d",
				ledgerdomain.ErrConflict, accountID.Int64())
		}

		reason := strings.TrimSpace(detail.Reason)
		if reason == "" {
			reason = usagedomain.ReasonJobCompleted
		}
		record := &usagedomain.Record{
			AccountID:   accountID,
			JobID:       &jobID,
			Kind:        usagedomain.RecordKindDebit,
			AmountCents: amount,
			Reason:      reason,
			Breakdown:   detail.Breakdown,
			CreatedAt:   now,
		}
		if err := s.usage.InsertTx(ctx, tx, record); err != nil {
			return err
		}

		s.publishTx(ctx, tx, events.Event{
			AccountID: accountID,
			Type:      events.EventHoldCommitted,
			Payload: map[string]any{
				"job_id":       jobID.String(),
				"amount_cents": amount,
			},
			DedupeKey: "hold_committed:" + jobID.String(),
		})
		return nil
	})
	s.recordOp(ctx, "commit", err)
	return err
}

func (s *Service) Release(ctx context.Context, accountID, jobID snowflake.ID) error {
	if accountID == 0 {
		return ledgerdomain.ErrInvalidAccount
	}
	if jobID == 0 {
		return ledgerdomain.ErrInvalidJob
	}

	err := s.runTx(ctx, func(tx *gorm.DB) error {
		amount, err := s.terminateHold(tx, accountID, jobID, ledgerdomain.HoldStatusReleased)
		if err != nil {
			return err
		}

		updated := tx.Exec(
			`UPDATE accounts
			 SET pending_deduction_cents = pending_deduction_cents - ?, updated_at = ?
			 WHERE id = ? AND pending_deduction_cents >= ?`,
			amount, s.clock.Now(), accountID, amount,
		)
		if updated.Error != nil {
			return updated.Error
		}
		if updated.RowsAffected == 0 {
			return fmt.Errorf("%w: pending deduction below hold amount for account %d",
				ledgerdomain.ErrConflict, accountID.Int64())
		}

		s.publishTx(ctx, tx, events.Event{
			AccountID: accountID,
			Type:      events.EventHoldReleased,
			Payload: map[string]any{
				"job_id":       jobID.String(),
				"amount_cents": amount,
			},
			DedupeKey: "hold_released:" + jobID.String(),
		})
		return nil
	})
	s.recordOp(ctx, "release", err)
	return err
}

func (s *Service) Grant(ctx context.Context, accountID snowflake.ID, amountCents int64, reason, reference string) error {
	err := s.runTx(ctx, func(tx *gorm.DB) error {
		return s.GrantTx(ctx, tx, accountID, amountCents, reason, reference)
	})
	s.recordOp(ctx, "grant", err)
	return err
}

func (s *Service) GrantTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, amountCents int64, reason, reference string) error {
	if tx == nil {
		return errors.New("missing_transaction")
	}
	if accountID == 0 {
		return ledgerdomain.ErrInvalidAccount
	}
	if amountCents <= 0 {
		return ledgerdomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	updated := tx.Exec(
		`UPDATE accounts SET credits_cents = credits_cents + ?, updated_at = ? WHERE id = ?`,
		amountCents, now, accountID,
	)
	if updated.Error != nil {
		return updated.Error
	}
	if updated.RowsAffected == 0 {
		return ledgerdomain.ErrAccountNotFound
	}

	record := &usagedomain.Record{
		AccountID:   accountID,
		Kind:        usagedomain.RecordKindCredit,
		AmountCents: amountCents,
		Reason:      reason,
		CreatedAt:   now,
	}
	if err := s.usage.InsertTx(ctx, tx, record); err != nil {
		return err
	}

	dedupe := ""
	if strings.TrimSpace(reference) != "" {
		dedupe = "granted:" + strings.TrimSpace(reference)
	}
	s.publishTx(ctx, tx, events.Event{
		AccountID: accountID,
		Type:      events.EventCreditGranted,
		Payload: map[string]any{
			"amount_cents": amountCents,
			"reason":       reason,
			"reference":    reference,
		},
		DedupeKey: dedupe,
	})
	return nil
}

func (s *Service) DebitImmediate(ctx context.Context, accountID snowflake.ID, amountCents int64, reason string, jobID *snowflake.ID) error {
	if accountID == 0 {
		return ledgerdomain.ErrInvalidAccount
	}
	if amountCents <= 0 {
		return ledgerdomain.ErrInvalidAmount
	}

	err := s.runTx(ctx, func(tx *gorm.DB) error {
		now := s.clock.Now()
		updated := tx.Exec(
			`UPDATE accounts
			 SET credits_cents = credits_cents - ?, updated_at = ?
			 WHERE id = ? AND credits_cents - pending_deduction_cents >= ?`,
			amountCents, now, accountID, amountCents,
		)
		if updated.Error != nil {
			return updated.Error
		}
		if updated.RowsAffected == 0 {
			balance, err := lookupBalance(tx, accountID)
			if err != nil {
				return err
			}
			return &ledgerdomain.InsufficientCreditsError{
				AccountID:      accountID,
				RequiredCents:  amountCents,
				AvailableCents: balance.AvailableCents,
			}
		}

		record := &usagedomain.Record{
			AccountID:   accountID,
			JobID:       jobID,
			Kind:        usagedomain.RecordKindDebit,
			AmountCents: amountCents,
			Reason:      reason,
			CreatedAt:   now,
		}
		if err := s.usage.InsertTx(ctx, tx, record); err != nil {
			return err
		}

		s.publishTx(ctx, tx, events.Event{
			AccountID: accountID,
			Type:      events.EventCreditDebited,
			Payload: map[string]any{
				"amount_cents": amountCents,
				"reason":       reason,
			},
		})
		return nil
	})
	s.recordOp(ctx, "debit_immediate", err)
	return err
}

// terminateHold transitions an open hold to a terminal status and returns the
// held amount. Only one caller can win the transition.
func (s *Service) terminateHold(tx *gorm.DB, accountID, jobID snowflake.ID, status ledgerdomain.HoldStatus) (int64, error) {
	var hold ledgerdomain.CreditHold
	result := tx.Raw(
		`SELECT id, amount_cents, status FROM credit_holds WHERE account_id = ? AND job_id = ?`,
		accountID, jobID,
	).Scan(&hold)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, ledgerdomain.ErrHoldNotFound
	}
	if hold.Status != ledgerdomain.HoldStatusOpen {
		return 0, fmt.Errorf("%w: hold for job %d is %s",
			ledgerdomain.ErrHoldNotFound, jobID.Int64(), hold.Status)
	}

	updated := tx.Exec(
		`UPDATE credit_holds SET status = ?, terminated_at = ? WHERE id = ? AND status = ?`,
		string(status), s.clock.Now(), hold.ID, string(ledgerdomain.HoldStatusOpen),
	)
	if updated.Error != nil {
		return 0, updated.Error
	}
	if updated.RowsAffected == 0 {
		return 0, fmt.Errorf("%w: hold for job %d already terminated",
			ledgerdomain.ErrConflict, jobID.Int64())
	}
	return hold.AmountCents, nil
}

// publishTx writes an outbox event inside the caller's transaction. The
// outbox is optional wiring; without one, events are simply not emitted.
func (s *Service) publishTx(ctx context.Context, tx *gorm.DB, event events.Event) {
	if s.outbox == nil {
		return
	}
	if err := s.outbox.PublishTx(ctx, tx, event); err != nil {
		s.log.Warn("failed to publish credit event",
			zap.String("event_type", event.Type), zap.Error(err))
	}
}

// runTx executes fn in a transaction, retrying on serialization conflicts.
func (s *Service) runTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(fn)
		if err == nil || !pkgdb.IsRetryableConflict(err) {
			return err
		}
		s.log.Warn("retrying ledger transaction after conflict",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("%w: %v", ledgerdomain.ErrConflict, err)
}

func lookupBalance(tx *gorm.DB, accountID snowflake.ID) (ledgerdomain.Balance, error) {
	var row struct {
		CreditsCents          int64
		PendingDeductionCents int64
	}
	result := tx.Raw(
		`SELECT credits_cents, pending_deduction_cents FROM accounts WHERE id = ?`,
		accountID,
	).Scan(&row)
	if result.Error != nil {
		return ledgerdomain.Balance{}, result.Error
	}
	if result.RowsAffected == 0 {
		return ledgerdomain.Balance{}, ledgerdomain.ErrAccountNotFound
	}
	return ledgerdomain.Balance{
		CreditsCents:          row.CreditsCents,
		PendingDeductionCents: row.PendingDeductionCents,
		AvailableCents:        row.CreditsCents - row.PendingDeductionCents,
	}, nil
}
