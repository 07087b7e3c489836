package scheduler_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scribeflow/creditcore/internal/clock"
	ledgerdomain "github.com/scribeflow/creditcore/internal/ledger/domain"
	ledgerservice "github.com/scribeflow/creditcore/internal/ledger/service"
	"github.com/scribeflow/creditcore/internal/scheduler"
	usageservice "github.com/scribeflow/creditcore/internal/usage/service"
)

func TestSweepReleasesAbandonedHolds(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, sched := newSweeper(t, db, node, fake)

	accountID := node.Generate()
	jobID := node.Generate()
	seedAccount(t, db, accountID, 1000)
	seedJob(t, db, jobID, accountID, "dispatched")

	if err := svc.Authorize(ctx, accountID, jobID, 300); err != nil {
		t.Fatalf("authorize: %v", err)
	}

	// Inside the timeout window nothing is swept.
	fake.Advance(time.Hour)
	released, err := sched.SweepStaleHolds(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if released != 0 {
		t.Fatalf("expected no releases inside the window, got %d", released)
	}

	fake.Advance(25 * time.Hour)
	released, err = sched.SweepStaleHolds(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected one release, got %d", released)
	}

	balance, err := svc.AvailableBalance(ctx, accountID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.PendingDeductionCents != 0 {
		t.Fatalf("expected pending 0 after sweep, got %d", balance.PendingDeductionCents)
	}
	if balance.CreditsCents != 1000 {
		t.Fatalf("expected credits untouched, got %d", balance.CreditsCents)
	}

	var status string
	if err := db.Raw(`SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&status).Error; err != nil {
		t.Fatalf("scan job status: %v", err)
	}
	if status != "failed" {
		t.Fatalf("expected abandoned job failed, got %s", status)
	}

	// A second sweep finds nothing left to do.
	released, err = sched.SweepStaleHolds(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if released != 0 {
		t.Fatalf("expected idempotent sweep, got %d releases", released)
	}
}

func TestSweepSkipsSettledHolds(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, sched := newSweeper(t, db, node, fake)

	accountID := node.Generate()
	jobID := node.Generate()
	seedAccount(t, db, accountID, 1000)
	seedJob(t, db, jobID, accountID, "dispatched")

	if err := svc.Authorize(ctx, accountID, jobID, 300); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := svc.Commit(ctx, accountID, jobID, ledgerdomain.CommitDetail{}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	fake.Advance(48 * time.Hour)
	released, err := sched.SweepStaleHolds(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if released != 0 {
		t.Fatalf("expected committed hold untouched, got %d releases", released)
	}

	balance, err := svc.AvailableBalance(ctx, accountID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.CreditsCents != 700 {
		t.Fatalf("expected settled credits 700, got %d", balance.CreditsCents)
	}
}

func newSweeper(t *testing.T, db *gorm.DB, node *snowflake.Node, fake *clock.FakeClock) (ledgerdomain.Service, *scheduler.Scheduler) {
	t.Helper()

	usageSvc := usageservice.NewService(usageservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})
	ledgerSvc := ledgerservice.NewService(ledgerservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Usage: usageSvc,
	})
	sched, err := scheduler.New(scheduler.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     fake,
		LedgerSvc: ledgerSvc,
		Config:    scheduler.Config{HoldTimeout: 24 * time.Hour, BatchSize: 10},
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return ledgerSvc, sched
}

func newNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(5)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

func seedAccount(t *testing.T, db *gorm.DB, id snowflake.ID, credits int64) {
	t.Helper()
	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO accounts (id, plan, credits_cents, pending_deduction_cents, payment_customer_id, created_at, updated_at)
		 VALUES (?, 'pro', ?, 0, ?, ?, ?)`,
		id, credits, "cus_"+id.String(), now, now,
	).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func seedJob(t *testing.T, db *gorm.DB, id, accountID snowflake.ID, status string) {
	t.Helper()
	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO jobs (id, account_id, kind, title, quote_cents, status, failure_reason, created_at, updated_at)
		 VALUES (?, ?, 'transcription', 'stale job', 300, ?, '', ?, ?)`,
		id, accountID, status, now, now,
	).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_sweep_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
		`CREATE TABLE jobs (
			id BIGINT PRIMARY KEY,
			account_id BIGINT NOT NULL,
			kind TEXT NOT NULL,
			title TEXT NOT NULL,
			source_url TEXT,
			duration_seconds BIGINT,
			character_count BIGINT,
			quote_cents BIGINT NOT NULL,
			quote_breakdown TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			failure_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
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
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}
