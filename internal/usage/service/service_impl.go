package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/scribeflow/creditcore/internal/usage/domain"
	"github.com/scribeflow/creditcore/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 250
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("usage.service"),
		genID: p.GenID,
	}
}

func (s *Service) InsertTx(ctx context.Context, tx *gorm.DB, record *usagedomain.Record) error {
	if tx == nil || record == nil {
		return usagedomain.ErrInvalidRecord
	}
	if record.AccountID == 0 {
		return usagedomain.ErrInvalidAccount
	}
	if record.AmountCents <= 0 {
		return usagedomain.ErrInvalidRecord
	}
	switch record.Kind {
	case usagedomain.RecordKindDebit, usagedomain.RecordKindCredit:
	default:
		return usagedomain.ErrInvalidRecord
	}
	if strings.TrimSpace(record.Reason) == "" {
		return usagedomain.ErrInvalidRecord
	}

	if record.ID == 0 {
		record.ID = s.genID.Generate()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	return tx.WithContext(ctx).Exec(
		`INSERT INTO usage_records (
			id, account_id, job_id, kind, amount_cents, reason, breakdown, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.AccountID,
		record.JobID,
		string(record.Kind),
		record.AmountCents,
		record.Reason,
		record.Breakdown,
		record.CreatedAt,
	).Error
}

func (s *Service) List(ctx context.Context, req usagedomain.ListRequest) (usagedomain.ListResponse, error) {
	if req.AccountID == 0 {
		return usagedomain.ListResponse{}, usagedomain.ErrInvalidAccount
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	query := `SELECT r.id, r.account_id, r.job_id, r.kind, r.amount_cents,
			r.reason, r.breakdown, r.created_at, j.title AS job_title
		FROM usage_records r
		LEFT JOIN jobs j ON j.id = r.job_id
		WHERE r.account_id = ?`
	args := []any{req.AccountID}

	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return usagedomain.ListResponse{}, usagedomain.ErrInvalidCursor
		}
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return usagedomain.ListResponse{}, usagedomain.ErrInvalidCursor
		}
		cursorID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return usagedomain.ListResponse{}, usagedomain.ErrInvalidCursor
		}
		query += ` AND (r.created_at < ? OR (r.created_at = ? AND r.id < ?))`
		args = append(args, createdAt, createdAt, cursorID)
	}

	query += ` ORDER BY r.created_at DESC, r.id DESC LIMIT ?`
	args = append(args, pageSize+1)

	var items []usagedomain.ListItem
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return usagedomain.ListResponse{}, err
	}

	hasMore := len(items) > pageSize
	if hasMore {
		items = items[:pageSize]
	}

	resp := usagedomain.ListResponse{
		Items:    items,
		PageInfo: pagination.PageInfo{HasMore: hasMore},
	}
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        last.ID.String(),
			CreatedAt: last.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return usagedomain.ListResponse{}, err
		}
		resp.PageInfo.NextPageToken = token
	}

	return resp, nil
}
