package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	pricingdomain "github.com/scribeflow/creditcore/internal/pricing/domain"
)

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrJobNotFound    = errors.New("job_not_found")
)

// SubmitRequest describes a job to admit.
type SubmitRequest struct {
	AccountID       snowflake.ID
	Kind            JobKind
	Title           string
	SourceURL       string
	DurationSeconds int64
	CharacterCount  int64
	AddOns          []pricingdomain.AddOnSelection
}

// Result is the processing backend's verdict on a dispatched job.
type Result struct {
	Succeeded     bool
	FailureReason string
}

// Service admits jobs against the account balance and settles them when the
// processing backend reports back.
type Service interface {
	// Submit quotes the job, reserves its cost and hands it to the
	// processing backend. A dispatch failure releases the reservation.
	Submit(ctx context.Context, req SubmitRequest) (Job, error)

	// Complete settles a dispatched job. Reports against a job that is
	// already terminal return the job unchanged.
	Complete(ctx context.Context, jobID snowflake.ID, result Result) (Job, error)

	// Get returns a single job.
	Get(ctx context.Context, jobID snowflake.ID) (Job, error)
}
