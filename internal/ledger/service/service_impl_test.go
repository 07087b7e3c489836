package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scribeflow/creditcore/internal/clock"
	"github.com/scribeflow/creditcore/internal/events"
	ledgerdomain "github.com/scribeflow/creditcore/internal/ledger/domain"
	ledgerservice "github.com/scribeflow/creditcore/internal/ledger/service"
	usagedomain "github.com/scribeflow/creditcore/internal/usage/domain"
	usageservice "github.com/scribeflow/creditcore/internal/usage/service"
)

func TestAuthorizeRespectsAvailableBalance(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t)
	svc := newLedgerService(t, db, node)

	accountID := node.Generate()
	seedAccount(t, db, accountID, 1000, 300)

	err := svc.Authorize(ctx, accountID, node.Generate(), 800)
	if !errors.Is(err, ledgerdomain.ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits, got %v", err)
	}
	var insufficient *ledgerdomain.InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError, got %T", err)
	}
	if insufficient.ShortfallCents() != 100 {
		t.Fatalf("expected shortfall 100, got %d", insufficient.ShortfallCents())
	}

	if err := svc.Authorize(ctx, accountID, node.Generate(), 500); err != nil {
		t.Fatalf("authorize 500: %v", err)
	}

	balance, err := svc.AvailableBalance(ctx, accountID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.CreditsCents != 1000 {
		t.Fatalf("expected credits 1000, got %d", balance.CreditsCents)
	}
	if balance.PendingDeductionCents != 800 {
		t.Fatalf("expected pending 800, got %d", balance.PendingDeductionCents)
	}
	if balance.AvailableCents != 200 {
		t.Fatalf("expected available 200, got %d", balance.AvailableCents)
	}
}

func TestAuthorizeRetrySameJobIsNoop(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t)
	svc := newLedgerService(t, db, node)

	accountID := node.Generate()
	jobID := node.Generate()
	seedAccount(t, db, accountID, 1000, 0)

	if err := svc.Authorize(ctx, accountID, jobID, 400); err != nil {
		t.Fatalf("first authorize: %v", err)
	}
	if err := svc.Authorize(ctx, accountID, jobID, 400); err != nil {
		t.Fatalf("retried authorize: %v", err)
	}

	balance, err := svc.AvailableBalance(ctx, accountID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.PendingDeductionCents != 400 {
		t.Fatalf("expected pending 400 after retry, got %d", balance.PendingDeductionCents)
	}
}

func TestCommitSettlesHoldExactlyOnce(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t)
	svc := newLedgerService(t, db, node)

	accountID := node.Generate()
	jobID := node.Generate()
	seedAccount(t, db, accountID, 1000, 0)

	if err := svc.Authorize(ctx, accountID, jobID, 250); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := svc.Commit(ctx, accountID, jobID, ledgerdomain.CommitDetail{}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	balance, err := svc.AvailableBalance(ctx, accountID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.CreditsCents != 750 {
		t.Fatalf("expected credits 750, got %d", balance.CreditsCents)
	}
	if balance.PendingDeductionCents != 0 {
		t.Fatalf("expected pending 0, got %d", balance.PendingDeductionCents)
	}

	var record struct {
		Kind        string
		AmountCents int64
		Reason      string
	}
	if err := db.Raw(
		`SELECT kind, amount_cents, reason FROM usage_records WHERE account_id = ? AND job_id = ?`,
		accountID, jobID,
	).Scan(&record).Error; err != nil {
		t.Fatalf("scan usage record: %v", err)
	}
	if record.Kind != string(usagedomain.RecordKindDebit) {
		t.Fatalf("expected debit record, got %s", record.Kind)
	}
	if record.AmountCents != 250 {
		t.Fatalf("expected record amount 250, got %d", record.AmountCents)
	}
	if record.Reason != usagedomain.ReasonJobCompleted {
		t.Fatalf("expected reason %s, got %s", usagedomain.ReasonJobCompleted, record.Reason)
	}

	err = svc.Commit(ctx, accountID, jobID, ledgerdomain.CommitDetail{})
	if !errors.Is(err, ledgerdomain.ErrHoldNotFound) {
		t.Fatalf("expected hold not found on second commit, got %v", err)
	}
}

func TestReleaseReturnsHeldAmount(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t)
	svc := newLedgerService(t, db, node)

	accountID := node.Generate()
	jobID := node.Generate()
	seedAccount(t, db, accountID, 1000, 0)

	if err := svc.Authorize(ctx, accountID, jobID, 600); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := svc.Release(ctx, accountID, jobID); err != nil {
		t.Fatalf("release: %v", err)
	}

	balance, err := svc.AvailableBalance(ctx, accountID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.CreditsCents != 1000 {
		t.Fatalf("expected credits 1000, got %d", balance.CreditsCents)
	}
	if balance.PendingDeductionCents != 0 {
		t.Fatalf("expected pending 0, got %d", balance.PendingDeductionCents)
	}

	var recordCount int64
	if err := db.Raw(
		`SELECT COUNT(*) FROM usage_records WHERE account_id = ?`, accountID,
	).Scan(&recordCount).Error; err != nil {
		t.Fatalf("count usage records: %v", err)
	}
	if recordCount != 0 {
		t.Fatalf("expected no usage records after release, got %d", recordCount)
	}

	err = svc.Commit(ctx, accountID, jobID, ledgerdomain.CommitDetail{})
	if !errors.Is(err, ledgerdomain.ErrHoldNotFound) {
		t.Fatalf("expected hold not found after release, got %v", err)
	}
}

func TestGrantAndDebitImmediate(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t)
	svc := newLedgerService(t, db, node)

	accountID := node.Generate()
	seedAccount(t, db, accountID, 100, 0)

	if err := svc.Grant(ctx, accountID, 500, usagedomain.ReasonPurchase, "order_42"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := svc.DebitImmediate(ctx, accountID, 200, usagedomain.ReasonImmediateAction, nil); err != nil {
		t.Fatalf("debit: %v", err)
	}

	balance, err := svc.AvailableBalance(ctx, accountID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.CreditsCents != 400 {
		t.Fatalf("expected credits 400, got %d", balance.CreditsCents)
	}

	err = svc.DebitImmediate(ctx, accountID, 500, usagedomain.ReasonImmediateAction, nil)
	if !errors.Is(err, ledgerdomain.ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits, got %v", err)
	}

	var kinds []string
	if err := db.Raw(
		`SELECT kind FROM usage_records WHERE account_id = ? ORDER BY id`, accountID,
	).Scan(&kinds).Error; err != nil {
		t.Fatalf("scan kinds: %v", err)
	}
	if len(kinds) != 2 {
		t.Fatalf("expected 2 usage records, got %d", len(kinds))
	}
	if kinds[0] != string(usagedomain.RecordKindCredit) || kinds[1] != string(usagedomain.RecordKindDebit) {
		t.Fatalf("unexpected record kinds %v", kinds)
	}
}

func TestConcurrentAuthorizeNeverOverspends(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t)
	svc := newLedgerService(t, db, node)

	accountID := node.Generate()
	seedAccount(t, db, accountID, 500, 0)

	const workers = 10
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- svc.Authorize(ctx, accountID, node.Generate(), 100)
		}()
	}
	wg.Wait()
	close(errCh)

	var successes int
	for err := range errCh {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ledgerdomain.ErrInsufficientCredits):
		case errors.Is(err, ledgerdomain.ErrConflict):
		default:
			t.Fatalf("unexpected authorize error: %v", err)
		}
	}
	if successes > 5 {
		t.Fatalf("overspend: %d holds of 100 against 500 credits", successes)
	}

	balance, err := svc.AvailableBalance(ctx, accountID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.PendingDeductionCents != int64(successes)*100 {
		t.Fatalf("expected pending %d, got %d", successes*100, balance.PendingDeductionCents)
	}
	if balance.PendingDeductionCents > balance.CreditsCents {
		t.Fatalf("pending %d exceeds credits %d", balance.PendingDeductionCents, balance.CreditsCents)
	}
}

func newLedgerService(t *testing.T, db *gorm.DB, node *snowflake.Node) ledgerdomain.Service {
	t.Helper()

	usageSvc := usageservice.NewService(usageservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})
	return ledgerservice.NewService(ledgerservice.ServiceParam{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clock.SystemClock{},
		Usage:  usageSvc,
		Outbox: events.NewOutbox(db, node),
	})
}

func newNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

func seedAccount(t *testing.T, db *gorm.DB, id snowflake.ID, credits, pending int64) {
	t.Helper()
	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO accounts (id, plan, credits_cents, pending_deduction_cents, payment_customer_id, created_at, updated_at)
		 VALUES (?, 'starter', ?, ?, ?, ?, ?)`,
		id, credits, pending, "cus_"+id.String(), now, now,
	).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE accounts (
			id BIGINT PRIMARY KEY,
			plan TEXT NOT NULL DEFAULT 'free',
			credits_cents BIGINT NOT NULL DEFAULT 0,
			pending_deduction_cents BIGINT NOT NULL DEFAULT 0,
			payment_customer_id TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_accounts_payment_customer ON accounts(payment_customer_id)`,
		`CREATE TABLE credit_holds (
			id BIGINT PRIMARY KEY,
			account_id BIGINT NOT NULL,
			job_id BIGINT NOT NULL,
			amount_cents BIGINT NOT NULL,
			status TEXT NOT NULL DEFAULT 'open',
			created_at TIMESTAMPTZ NOT NULL,
			terminated_at TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX ux_credit_holds_account_job ON credit_holds(account_id, job_id)`,
		`CREATE TABLE usage_records (
			id BIGINT PRIMARY KEY,
			account_id BIGINT NOT NULL,
			job_id BIGINT,
			kind TEXT NOT NULL,
			amount_cents BIGINT NOT NULL,
			reason TEXT NOT NULL,
			breakdown TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE credit_events (
			id BIGINT PRIMARY KEY,
			account_id BIGINT NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT,
			dedupe_key TEXT,
			published BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_credit_events_account_dedupe ON credit_events(account_id, dedupe_key)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}
