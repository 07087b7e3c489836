package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	usagedomain "github.com/scribeflow/creditcore/internal/usage/domain"
	usageservice "github.com/scribeflow/creditcore/internal/usage/service"
)

func TestInsertTxWritesRecord(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t)
	svc := newUsageService(db, node)

	accountID := node.Generate()
	record := &usagedomain.Record{
		AccountID:   accountID,
		Kind:        usagedomain.RecordKindDebit,
		AmountCents: 250,
		Reason:      usagedomain.ReasonJobCompleted,
	}
	if err := db.Transaction(func(tx *gorm.DB) error {
		return svc.InsertTx(ctx, tx, record)
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if record.ID == 0 {
		t.Fatal("expected generated id")
	}
	if record.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM usage_records WHERE account_id = ?`, accountID).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}
}

func TestInsertTxRejectsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t)
	svc := newUsageService(db, node)

	accountID := node.Generate()
	cases := []struct {
		name   string
		record *usagedomain.Record
		want   error
	}{
		{
			name:   "nil record",
			record: nil,
			want:   usagedomain.ErrInvalidRecord,
		},
		{
			name:   "missing account",
			record: &usagedomain.Record{Kind: usagedomain.RecordKindDebit, AmountCents: 100, Reason: usagedomain.ReasonPurchase},
			want:   usagedomain.ErrInvalidAccount,
		},
		{
			name:   "zero amount",
			record: &usagedomain.Record{AccountID: accountID, Kind: usagedomain.RecordKindCredit, AmountCents: 0, Reason: usagedomain.ReasonPurchase},
			want:   usagedomain.ErrInvalidRecord,
		},
		{
			name:   "negative amount",
			record: &usagedomain.Record{AccountID: accountID, Kind: usagedomain.RecordKindDebit, AmountCents: -50, Reason: usagedomain.ReasonPurchase},
			want:   usagedomain.ErrInvalidRecord,
		},
		{
			name:   "unknown kind",
			record: &usagedomain.Record{AccountID: accountID, Kind: "refund", AmountCents: 100, Reason: usagedomain.ReasonPurchase},
			want:   usagedomain.ErrInvalidRecord,
		},
		{
			name:   "blank reason",
			record: &usagedomain.Record{AccountID: accountID, Kind: usagedomain.RecordKindDebit, AmountCents: 100, Reason: "  "},
			want:   usagedomain.ErrInvalidRecord,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := db.Transaction(func(tx *gorm.DB) error {
				return svc.InsertTx(ctx, tx, tc.record)
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	err := svc.InsertTx(ctx, nil, &usagedomain.Record{AccountID: accountID, Kind: usagedomain.RecordKindDebit, AmountCents: 100, Reason: usagedomain.ReasonPurchase})
	if !errors.Is(err, usagedomain.ErrInvalidRecord) {
		t.Fatalf("expected invalid record for nil tx, got %v", err)
	}
}

func TestListPaginatesNewestFirst(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t)
	svc := newUsageService(db, node)

	accountID := node.Generate()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []snowflake.ID
	for i := 0; i < 5; i++ {
		id := node.Generate()
		ids = append(ids, id)
		seedUsageRecord(t, db, id, accountID, nil, 100+int64(i), base.Add(time.Duration(i)*time.Minute))
	}

	first, err := svc.List(ctx, usagedomain.ListRequest{AccountID: accountID, PageSize: 2})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(first.Items))
	}
	if first.Items[0].ID != ids[4] || first.Items[1].ID != ids[3] {
		t.Fatalf("expected newest first, got %v then %v", first.Items[0].ID, first.Items[1].ID)
	}
	if !first.PageInfo.HasMore || first.PageInfo.NextPageToken == "" {
		t.Fatalf("expected more pages, got %+v", first.PageInfo)
	}

	second, err := svc.List(ctx, usagedomain.ListRequest{
		AccountID: accountID,
		PageSize:  2,
		PageToken: first.PageInfo.NextPageToken,
	})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(second.Items))
	}
	if second.Items[0].ID != ids[2] || second.Items[1].ID != ids[1] {
		t.Fatalf("expected continuation after cursor, got %v then %v", second.Items[0].ID, second.Items[1].ID)
	}

	third, err := svc.List(ctx, usagedomain.ListRequest{
		AccountID: accountID,
		PageSize:  2,
		PageToken: second.PageInfo.NextPageToken,
	})
	if err != nil {
		t.Fatalf("third page: %v", err)
	}
	if len(third.Items) != 1 || third.Items[0].ID != ids[0] {
		t.Fatalf("expected final record, got %+v", third.Items)
	}
	if third.PageInfo.HasMore || third.PageInfo.NextPageToken != "" {
		t.Fatalf("expected no more pages, got %+v", third.PageInfo)
	}
}

func TestListJoinsJobTitle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t)
	svc := newUsageService(db, node)

	accountID := node.Generate()
	jobID := node.Generate()
	seedJob(t, db, jobID, accountID, "board meeting recording")

	now := time.Now().UTC()
	seedUsageRecord(t, db, node.Generate(), accountID, &jobID, 200, now.Add(-time.Minute))
	seedUsageRecord(t, db, node.Generate(), accountID, nil, 300, now)

	resp, err := svc.List(ctx, usagedomain.ListRequest{AccountID: accountID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(resp.Items))
	}
	if resp.Items[0].JobTitle != "" {
		t.Fatalf("expected no title on grant record, got %q", resp.Items[0].JobTitle)
	}
	if resp.Items[1].JobTitle != "board meeting recording" {
		t.Fatalf("expected joined job title, got %q", resp.Items[1].JobTitle)
	}
}

func TestListScopesToAccount(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t)
	svc := newUsageService(db, node)

	accountA := node.Generate()
	accountB := node.Generate()
	now := time.Now().UTC()
	seedUsageRecord(t, db, node.Generate(), accountA, nil, 100, now)
	seedUsageRecord(t, db, node.Generate(), accountB, nil, 200, now)

	resp, err := svc.List(ctx, usagedomain.ListRequest{AccountID: accountA})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(resp.Items))
	}
	if resp.Items[0].AccountID != accountA {
		t.Fatalf("expected account %v, got %v", accountA, resp.Items[0].AccountID)
	}
}

func TestListRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t)
	svc := newUsageService(db, node)

	if _, err := svc.List(ctx, usagedomain.ListRequest{}); !errors.Is(err, usagedomain.ErrInvalidAccount) {
		t.Fatalf("expected invalid account, got %v", err)
	}

	_, err := svc.List(ctx, usagedomain.ListRequest{
		AccountID: node.Generate(),
		PageToken: "not-a-cursor",
	})
	if !errors.Is(err, usagedomain.ErrInvalidCursor) {
		t.Fatalf("expected invalid cursor, got %v", err)
	}
}

func newUsageService(db *gorm.DB, node *snowflake.Node) usagedomain.Service {
	return usageservice.NewService(usageservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})
}

func newNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(6)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

func seedUsageRecord(t *testing.T, db *gorm.DB, id, accountID snowflake.ID, jobID *snowflake.ID, amount int64, createdAt time.Time) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO usage_records (id, account_id, job_id, kind, amount_cents, reason, breakdown, created_at)
		 VALUES (?, ?, ?, 'debit', ?, 'job_completed', NULL, ?)`,
		id, accountID, jobID, amount, createdAt,
	).Error; err != nil {
		t.Fatalf("seed usage record: %v", err)
	}
}

func seedJob(t *testing.T, db *gorm.DB, id, accountID snowflake.ID, title string) {
	t.Helper()
	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO jobs (id, account_id, kind, title, status, quote_cents, created_at, updated_at)
		 VALUES (?, ?, 'transcription', ?, 'dispatched', 100, ?, ?)`,
		id, accountID, title, now, now,
	).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_usage_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE usage_records (
			id BIGINT PRIMARY KEY,
			account_id BIGINT NOT NULL,
			job_id BIGINT,
			kind TEXT NOT NULL,
			amount_cents BIGINT NOT NULL,
			reason TEXT NOT NULL,
			breakdown TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE jobs (
			id BIGINT PRIMARY KEY,
			account_id BIGINT NOT NULL,
			kind TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			quote_cents BIGINT NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}
