package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/scribeflow/creditcore/pkg/db/pagination"
	"gorm.io/gorm"
)

// Service is the append-only usage recorder. InsertTx runs inside the caller's
// transaction so the record and the balance change commit or roll back as one.
type Service interface {
	InsertTx(ctx context.Context, tx *gorm.DB, record *Record) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidRecord  = errors.New("invalid_usage_record")
	ErrInvalidAccount = errors.New("invalid_account")
	ErrInvalidCursor  = errors.New("invalid_cursor")
)

type ListRequest struct {
	AccountID snowflake.ID
	PageToken string
	PageSize  int
}

// ListItem enriches a record with the referenced job's current title. The
// title is joined at read time so a later rename is reflected everywhere.
type ListItem struct {
	Record
	JobTitle string `json:"job_title,omitempty"`
}

type ListResponse struct {
	Items    []ListItem          `json:"items"`
	PageInfo pagination.PageInfo `json:"page_info"`
}
