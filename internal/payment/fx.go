package payment

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/scribeflow/creditcore/internal/config"
	"github.com/scribeflow/creditcore/internal/payment/adapters"
	"github.com/scribeflow/creditcore/internal/payment/adapters/stripe"
	paymentdomain "github.com/scribeflow/creditcore/internal/payment/domain"
	"github.com/scribeflow/creditcore/internal/payment/service"
)

func newRegistry(cfg config.Config, log *zap.Logger) *adapters.Registry {
	registered := make([]paymentdomain.Adapter, 0, 1)
	if adapter, err := stripe.NewAdapter(cfg.PaymentWebhookSecret); err == nil {
		registered = append(registered, adapter)
	} else {
		log.Warn("stripe webhook adapter disabled", zap.Error(err))
	}
	return adapters.NewRegistry(registered...)
}

var Module = fx.Module("payment.service",
	fx.Provide(newRegistry),
	fx.Provide(service.NewService),
)
