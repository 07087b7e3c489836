package scheduler

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	jobdomain "github.com/scribeflow/creditcore/internal/job/domain"
	ledgerdomain "github.com/scribeflow/creditcore/internal/ledger/domain"
	obsmetrics "github.com/scribeflow/creditcore/internal/observability/metrics"
)

type staleHold struct {
	AccountID snowflake.ID
	JobID     snowflake.ID
}

// SweepStaleHolds releases open holds older than the configured timeout and
// fails their jobs. Release itself is the exactly-once gate, so a sweep
// racing the result path loses cleanly.
func (s *Scheduler) SweepStaleHolds(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.cfg.HoldTimeout)

	var stale []staleHold
	err := s.db.WithContext(ctx).Raw(
		`SELECT account_id, job_id FROM credit_holds
		 WHERE status = ? AND created_at < ?
		 ORDER BY created_at
		 LIMIT ?`,
		string(ledgerdomain.HoldStatusOpen), cutoff, s.cfg.BatchSize,
	).Scan(&stale).Error
	if err != nil {
		return 0, err
	}

	sweepMetrics := obsmetrics.Sweep()
	released := 0
	for _, hold := range stale {
		if ctx.Err() != nil {
			return released, ctx.Err()
		}

		err := s.ledgerSvc.Release(ctx, hold.AccountID, hold.JobID)
		if err != nil {
			if errors.Is(err, ledgerdomain.ErrHoldNotFound) || errors.Is(err, ledgerdomain.ErrConflict) {
				sweepMetrics.IncHoldsReleased("skipped")
				continue
			}
			sweepMetrics.IncHoldsReleased("failed")
			s.log.Error("failed to release stale hold",
				zap.Int64("account_id", hold.AccountID.Int64()),
				zap.Int64("job_id", hold.JobID.Int64()),
				zap.Error(err))
			continue
		}
		released++
		sweepMetrics.IncHoldsReleased("released")

		s.failAbandonedJob(ctx, hold.JobID)
	}
	return released, nil
}

func (s *Scheduler) failAbandonedJob(ctx context.Context, jobID snowflake.ID) {
	result := s.db.WithContext(ctx).Exec(
		`UPDATE jobs SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(jobdomain.StatusFailed), "hold timed out", s.clock.Now(), jobID,
		string(jobdomain.StatusPending), string(jobdomain.StatusDispatched),
	)
	if result.Error != nil {
		s.log.Error("failed to mark abandoned job",
			zap.Int64("job_id", jobID.Int64()), zap.Error(result.Error))
	}
}
