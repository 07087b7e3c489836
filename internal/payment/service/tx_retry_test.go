package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	ledgerdomain "github.com/scribeflow/creditcore/internal/ledger/domain"
	paymentdomain "github.com/scribeflow/creditcore/internal/payment/domain"
)

func newRetryTestService(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:memdb_payment_retry_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return &Service{db: db, log: zap.NewNop()}
}

func TestRunTxRetriesDeadlocks(t *testing.T) {
	svc := newRetryTestService(t)

	attempts := 0
	err := svc.runTx(context.Background(), func(tx *gorm.DB) error {
		attempts++
		if attempts < maxTxAttempts {
			return errors.New("ERROR: deadlock detected (SQLSTATE 40P01)")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != maxTxAttempts {
		t.Fatalf("expected %d attempts, got %d", maxTxAttempts, attempts)
	}
}

func TestRunTxSurfacesExhaustedRetriesAsConflict(t *testing.T) {
	svc := newRetryTestService(t)

	err := svc.runTx(context.Background(), func(tx *gorm.DB) error {
		return errors.New("database is locked")
	})
	if !errors.Is(err, ledgerdomain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRunTxDoesNotRetryDomainErrors(t *testing.T) {
	svc := newRetryTestService(t)

	attempts := 0
	err := svc.runTx(context.Background(), func(tx *gorm.DB) error {
		attempts++
		return paymentdomain.ErrInvalidEvent
	})
	if !errors.Is(err, paymentdomain.ErrInvalidEvent) {
		t.Fatalf("expected invalid event, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}
