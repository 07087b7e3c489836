package promo

import (
	"github.com/scribeflow/creditcore/internal/promo/service"
	"go.uber.org/fx"
)

var Module = fx.Module("promo.service",
	fx.Provide(service.NewService),
)
