package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// JobKind selects which usage dimension a job is billed on.
type JobKind string

const (
	KindTranscription JobKind = "transcription"
	KindTextAnalysis  JobKind = "text_analysis"
)

// JobStatus is the job lifecycle state. rejected, completed and failed are
// terminal.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusDispatched JobStatus = "dispatched"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusRejected   JobStatus = "rejected"
)

// Job records one unit of submitted work together with the quote it was
// admitted under.
type Job struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	AccountID       snowflake.ID   `json:"account_id" gorm:"not null;index"`
	Kind            JobKind        `json:"kind" gorm:"type:text;not null"`
	Title           string         `json:"title" gorm:"type:text;not null"`
	SourceURL       string         `json:"source_url,omitempty" gorm:"type:text"`
	DurationSeconds int64          `json:"duration_seconds,omitempty"`
	CharacterCount  int64          `json:"character_count,omitempty"`
	QuoteCents      int64          `json:"quote_cents" gorm:"not null"`
	QuoteBreakdown  datatypes.JSON `json:"quote_breakdown,omitempty"`
	Status          JobStatus      `json:"status" gorm:"type:text;not null;default:pending;index"`
	FailureReason   string         `json:"failure_reason,omitempty" gorm:"type:text"`
	CreatedAt       time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time      `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Job) TableName() string { return "jobs" }

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRejected:
		return true
	default:
		return false
	}
}
