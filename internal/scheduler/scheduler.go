package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scribeflow/creditcore/internal/clock"
	ledgerdomain "github.com/scribeflow/creditcore/internal/ledger/domain"
	obsmetrics "github.com/scribeflow/creditcore/internal/observability/metrics"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	LedgerSvc ledgerdomain.Service
	Config    Config `optional:"true"`
}

// Scheduler reconciles reservations whose job never reported a result. It is
// the safety net behind the hold lifecycle: anything the result path misses
// is eventually released here.
type Scheduler struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	ledgerSvc ledgerdomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.LedgerSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:        p.DB,
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		ledgerSvc: p.LedgerSvc,
	}, nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("hold sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) RunOnce(ctx context.Context) error {
	sweepMetrics := obsmetrics.Sweep()

	released, err := s.SweepStaleHolds(ctx)
	if err != nil {
		sweepMetrics.IncSweepRun("error")
		return err
	}
	sweepMetrics.IncSweepRun("success")
	if released > 0 {
		s.log.Info("released stale holds", zap.Int("count", released))
	}

	s.reportBacklog(ctx, sweepMetrics)
	return nil
}

func (s *Scheduler) reportBacklog(ctx context.Context, sweepMetrics *obsmetrics.SweepMetrics) {
	var snapshot struct {
		Count  int
		Oldest *time.Time
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS count, MIN(created_at) AS oldest
		 FROM credit_holds WHERE status = ?`,
		string(ledgerdomain.HoldStatusOpen),
	).Scan(&snapshot).Error
	if err != nil {
		s.log.Warn("failed to snapshot open holds", zap.Error(err))
		return
	}

	sweepMetrics.SetOpenHolds(snapshot.Count)
	if snapshot.Oldest != nil {
		sweepMetrics.SetOldestOpenHold(s.clock.Now().Sub(*snapshot.Oldest))
	} else {
		sweepMetrics.SetOldestOpenHold(0)
	}
}
