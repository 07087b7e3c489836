package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/scribeflow/creditcore/internal/clock"
	"github.com/scribeflow/creditcore/internal/config"
	"github.com/scribeflow/creditcore/internal/events"
	"github.com/scribeflow/creditcore/internal/job"
	"github.com/scribeflow/creditcore/internal/ledger"
	"github.com/scribeflow/creditcore/internal/migration"
	"github.com/scribeflow/creditcore/internal/observability"
	"github.com/scribeflow/creditcore/internal/payment"
	"github.com/scribeflow/creditcore/internal/pricing"
	"github.com/scribeflow/creditcore/internal/processor"
	"github.com/scribeflow/creditcore/internal/promo"
	"github.com/scribeflow/creditcore/internal/ratelimit"
	"github.com/scribeflow/creditcore/internal/scheduler"
	"github.com/scribeflow/creditcore/internal/server"
	"github.com/scribeflow/creditcore/internal/usage"
	"github.com/scribeflow/creditcore/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		db.Module,
		migration.Module,
		clock.Module,
		events.Module,
		usage.Module,
		pricing.Module,
		ledger.Module,
		processor.Module,
		job.Module,
		promo.Module,
		payment.Module,
		ratelimit.Module,
		scheduler.Module,
		server.Module,
	)
	app.Run()
}
