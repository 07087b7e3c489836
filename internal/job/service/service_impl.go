package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountdomain "github.com/scribeflow/creditcore/internal/account/domain"
	"github.com/scribeflow/creditcore/internal/clock"
	jobdomain "github.com/scribeflow/creditcore/internal/job/domain"
	ledgerdomain "github.com/scribeflow/creditcore/internal/ledger/domain"
	obsmetrics "github.com/scribeflow/creditcore/internal/observability/metrics"
	pricingdomain "github.com/scribeflow/creditcore/internal/pricing/domain"
	"github.com/scribeflow/creditcore/internal/processor"
	usagedomain "github.com/scribeflow/creditcore/internal/usage/domain"
)

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	pricing    pricingdomain.Service
	ledger     ledgerdomain.Service
	dispatcher processor.Dispatcher

	obsMetrics *obsmetrics.Metrics
}

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Pricing    pricingdomain.Service
	Ledger     ledgerdomain.Service
	Dispatcher processor.Dispatcher
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) jobdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("job.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		pricing:    p.Pricing,
		ledger:     p.Ledger,
		dispatcher: p.Dispatcher,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Submit(ctx context.Context, req jobdomain.SubmitRequest) (jobdomain.Job, error) {
	if err := validateSubmit(&req); err != nil {
		return jobdomain.Job{}, err
	}

	plan, err := s.lookupPlan(ctx, req.AccountID)
	if err != nil {
		return jobdomain.Job{}, err
	}

	usage := pricingdomain.UsageDescriptor{
		DurationSeconds: req.DurationSeconds,
		CharacterCount:  req.CharacterCount,
	}
	quote, err := s.pricing.Estimate(plan, usage, req.AddOns)
	if err != nil {
		return jobdomain.Job{}, err
	}

	breakdown, err := json.Marshal(quote)
	if err != nil {
		return jobdomain.Job{}, err
	}

	now := s.clock.Now()
	job := jobdomain.Job{
		ID:              s.genID.Generate(),
		AccountID:       req.AccountID,
		Kind:            req.Kind,
		Title:           req.Title,
		SourceURL:       req.SourceURL,
		DurationSeconds: req.DurationSeconds,
		CharacterCount:  req.CharacterCount,
		QuoteCents:      quote.TotalCents,
		QuoteBreakdown:  breakdown,
		Status:          jobdomain.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.insertJob(ctx, &job); err != nil {
		return jobdomain.Job{}, err
	}

	if err := s.ledger.Authorize(ctx, job.AccountID, job.ID, job.QuoteCents); err != nil {
		reason := "credit authorization failed"
		if errors.Is(err, ledgerdomain.ErrInsufficientCredits) {
			reason = "insufficient credits"
		}
		s.transition(ctx, job.ID, jobdomain.StatusRejected, reason)
		return jobdomain.Job{}, err
	}

	addOnCodes := make([]string, 0, len(req.AddOns))
	for _, addon := range req.AddOns {
		addOnCodes = append(addOnCodes, addon.Code)
	}
	dispatchErr := s.dispatcher.Dispatch(ctx, processor.DispatchRequest{
		JobID:     job.ID.String(),
		Kind:      string(job.Kind),
		SourceURL: job.SourceURL,
		AddOns:    addOnCodes,
	})
	if dispatchErr != nil {
		// The reservation must not outlive a job that never reached the
		// backend.
		if err := s.ledger.Release(ctx, job.AccountID, job.ID); err != nil {
			s.log.Error("failed to release hold after dispatch failure",
				zap.Int64("job_id", job.ID.Int64()), zap.Error(err))
		}
		s.transition(ctx, job.ID, jobdomain.StatusFailed, "dispatch failed")
		return jobdomain.Job{}, dispatchErr
	}

	if !s.transition(ctx, job.ID, jobdomain.StatusDispatched, "") {
		return s.Get(ctx, job.ID)
	}
	job.Status = jobdomain.StatusDispatched
	s.obsMetrics.RecordJobSubmitted(ctx, string(job.Kind))
	return job, nil
}

func (s *Service) Complete(ctx context.Context, jobID snowflake.ID, result jobdomain.Result) (jobdomain.Job, error) {
	if jobID == 0 {
		return jobdomain.Job{}, jobdomain.ErrInvalidRequest
	}

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return jobdomain.Job{}, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	if result.Succeeded {
		err = s.ledger.Commit(ctx, job.AccountID, job.ID, ledgerdomain.CommitDetail{
			Reason:    usagedomain.ReasonJobCompleted,
			Breakdown: job.QuoteBreakdown,
		})
	} else {
		err = s.ledger.Release(ctx, job.AccountID, job.ID)
	}
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrHoldNotFound) {
			// A concurrent report settled the hold first.
			current, getErr := s.Get(ctx, jobID)
			if getErr == nil && current.Status.Terminal() {
				return current, nil
			}
		}
		return jobdomain.Job{}, err
	}

	status := jobdomain.StatusCompleted
	reason := ""
	if !result.Succeeded {
		status = jobdomain.StatusFailed
		reason = strings.TrimSpace(result.FailureReason)
		if reason == "" {
			reason = "processing failed"
		}
	}
	s.transition(ctx, job.ID, status, reason)
	return s.Get(ctx, jobID)
}

func (s *Service) Get(ctx context.Context, jobID snowflake.ID) (jobdomain.Job, error) {
	if jobID == 0 {
		return jobdomain.Job{}, jobdomain.ErrInvalidRequest
	}

	var job jobdomain.Job
	result := s.db.WithContext(ctx).Raw(
		`SELECT id, account_id, kind, title, source_url, duration_seconds, character_count,
		        quote_cents, quote_breakdown, status, failure_reason, created_at, updated_at
		 FROM jobs WHERE id = ?`,
		jobID,
	).Scan(&job)
	if result.Error != nil {
		return jobdomain.Job{}, result.Error
	}
	if result.RowsAffected == 0 {
		return jobdomain.Job{}, jobdomain.ErrJobNotFound
	}
	return job, nil
}

func (s *Service) insertJob(ctx context.Context, job *jobdomain.Job) error {
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO jobs (
			id, account_id, kind, title, source_url, duration_seconds, character_count,
			quote_cents, quote_breakdown, status, failure_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?)`,
		job.ID, job.AccountID, string(job.Kind), job.Title, job.SourceURL,
		job.DurationSeconds, job.CharacterCount, job.QuoteCents, job.QuoteBreakdown,
		string(job.Status), job.CreatedAt, job.UpdatedAt,
	).Error
}

// transition moves a job to a new status; terminal rows never move again.
func (s *Service) transition(ctx context.Context, jobID snowflake.ID, status jobdomain.JobStatus, reason string) bool {
	result := s.db.WithContext(ctx).Exec(
		`UPDATE jobs SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(status), reason, s.clock.Now(), jobID,
		string(jobdomain.StatusPending), string(jobdomain.StatusDispatched),
	)
	if result.Error != nil {
		s.log.Error("failed to transition job",
			zap.Int64("job_id", jobID.Int64()),
			zap.String("status", string(status)),
			zap.Error(result.Error))
		return false
	}
	return result.RowsAffected > 0
}

func (s *Service) lookupPlan(ctx context.Context, accountID snowflake.ID) (accountdomain.PlanTier, error) {
	var plan string
	result := s.db.WithContext(ctx).Raw(
		`SELECT plan FROM accounts WHERE id = ?`, accountID,
	).Scan(&plan)
	if result.Error != nil {
		return "", result.Error
	}
	if result.RowsAffected == 0 {
		return "", ledgerdomain.ErrAccountNotFound
	}
	return accountdomain.ParsePlanTier(plan)
}

func validateSubmit(req *jobdomain.SubmitRequest) error {
	if req.AccountID == 0 {
		return ledgerdomain.ErrInvalidAccount
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return jobdomain.ErrInvalidRequest
	}
	switch req.Kind {
	case jobdomain.KindTranscription:
		if req.DurationSeconds <= 0 || req.CharacterCount != 0 {
			return jobdomain.ErrInvalidRequest
		}
	case jobdomain.KindTextAnalysis:
		if req.CharacterCount <= 0 || req.DurationSeconds != 0 {
			return jobdomain.ErrInvalidRequest
		}
	default:
		return jobdomain.ErrInvalidRequest
	}
	if req.DurationSeconds > pricingdomain.MaxUsageUnits || req.CharacterCount > pricingdomain.MaxUsageUnits {
		return jobdomain.ErrInvalidRequest
	}
	return nil
}
