package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidAccount      = errors.New("invalid_account")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidJob          = errors.New("invalid_job")
	ErrAccountNotFound     = errors.New("account_not_found")
	ErrHoldNotFound        = errors.New("hold_not_found")
	ErrConflict            = errors.New("ledger_conflict")
	ErrInsufficientCredits = errors.New("insufficient_credits")
)

// InsufficientCreditsError reports how far short the available balance fell.
// It matches ErrInsufficientCredits under errors.Is.
type InsufficientCreditsError struct {
	AccountID      snowflake.ID
	RequiredCents  int64
	AvailableCents int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient_credits: account %d requires %d cents, %d available",
		e.AccountID.Int64(), e.RequiredCents, e.AvailableCents)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// ShortfallCents is the additional amount the account would need.
func (e *InsufficientCreditsError) ShortfallCents() int64 {
	return e.RequiredCents - e.AvailableCents
}

// CommitDetail carries the usage attribution recorded when a hold settles.
type CommitDetail struct {
	Reason    string
	Breakdown []byte
}

// Service mutates account balances. Every mutation runs in a single
// database transaction and either fully applies or leaves no trace.
type Service interface {
	// AvailableBalance returns the account's current position.
	AvailableBalance(ctx context.Context, accountID snowflake.ID) (Balance, error)

	// Authorize places a hold of amountCents against the account for jobID.
	// Retrying with the same jobID is a no-op once the hold exists.
	Authorize(ctx context.Context, accountID, jobID snowflake.ID, amountCents int64) error

	// Commit settles an open hold: the held amount leaves the balance and a
	// usage record attributes it to the job.
	Commit(ctx context.Context, accountID, jobID snowflake.ID, detail CommitDetail) error

	// Release cancels an open hold without charging the account.
	Release(ctx context.Context, accountID, jobID snowflake.ID) error

	// Grant adds credits to the account and records the credit.
	Grant(ctx context.Context, accountID snowflake.ID, amountCents int64, reason, reference string) error

	// GrantTx is Grant inside a caller-owned transaction.
	GrantTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, amountCents int64, reason, reference string) error

	// DebitImmediate charges the account in one step, without a hold phase.
	DebitImmediate(ctx context.Context, accountID snowflake.ID, amountCents int64, reason string, jobID *snowflake.ID) error
}
