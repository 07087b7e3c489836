package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// RecordKind marks whether a record moved credits out of or into an account.
type RecordKind string

const (
	RecordKindDebit  RecordKind = "debit"
	RecordKindCredit RecordKind = "credit"
)

const (
	ReasonJobCompleted    = "job_completed"
	ReasonImmediateAction = "immediate_action"
	ReasonPurchase        = "purchase"
	ReasonSubscription    = "subscription"
	ReasonPromo           = "promo"
)

// Record is one immutable line in the audit ledger. Rows are written in the
// same transaction as the balance change they describe and never mutated.
type Record struct {
	ID          snowflake.ID   `json:"id" gorm:"primaryKey"`
	AccountID   snowflake.ID   `json:"account_id" gorm:"not null;index:idx_usage_records_account_created,priority:1"`
	JobID       *snowflake.ID  `json:"job_id,omitempty"`
	Kind        RecordKind     `json:"kind" gorm:"type:text;not null"`
	AmountCents int64          `json:"amount_cents" gorm:"not null"`
	Reason      string         `json:"reason" gorm:"type:text;not null"`
	Breakdown   datatypes.JSON `json:"breakdown,omitempty"`
	CreatedAt   time.Time      `json:"created_at" gorm:"not null;index:idx_usage_records_account_created,priority:2,sort:desc"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "usage_records" }
