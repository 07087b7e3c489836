package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountdomain "github.com/scribeflow/creditcore/internal/account/domain"
	"github.com/scribeflow/creditcore/internal/clock"
	"github.com/scribeflow/creditcore/internal/config"
	"github.com/scribeflow/creditcore/internal/events"
	ledgerdomain "github.com/scribeflow/creditcore/internal/ledger/domain"
	obsmetrics "github.com/scribeflow/creditcore/internal/observability/metrics"
	"github.com/scribeflow/creditcore/internal/payment/adapters"
	paymentdomain "github.com/scribeflow/creditcore/internal/payment/domain"
	usagedomain "github.com/scribeflow/creditcore/internal/usage/domain"
	pkgdb "github.com/scribeflow/creditcore/pkg/db"
)

const maxTxAttempts = 3

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	ledger   ledgerdomain.Service
	pricing  *config.PricingHolder
	registry *adapters.Registry
	outbox   *events.Outbox

	obsMetrics *obsmetrics.Metrics
}

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Ledger     ledgerdomain.Service
	Pricing    *config.PricingHolder
	Registry   *adapters.Registry
	Outbox     *events.Outbox      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		ledger:     p.Ledger,
		pricing:    p.Pricing,
		registry:   p.Registry,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	adapter, err := s.registry.Adapter(provider)
	if err != nil {
		return err
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.log.Debug("ignoring unhandled provider event",
				zap.String("provider", adapter.Provider()))
			return nil
		}
		return err
	}

	return s.ProcessEvent(ctx, event)
}

func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.Event) error {
	if event == nil || event.Payload == nil {
		return paymentdomain.ErrInvalidEvent
	}
	if strings.TrimSpace(event.ProviderEventID) == "" || strings.TrimSpace(event.CustomerRef) == "" {
		return paymentdomain.ErrInvalidEvent
	}

	err := s.runTx(ctx, func(tx *gorm.DB) error {
		account, err := findAccountByCustomerRef(tx, event.CustomerRef)
		if err != nil {
			return err
		}

		inserted := tx.Exec(
			`INSERT INTO processed_events (id, provider, provider_event_id, account_id, event_type, processed_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (provider, provider_event_id) DO NOTHING`,
			s.genID.Generate(), event.Provider, event.ProviderEventID,
			account.ID, eventTypeName(event.Payload), s.clock.Now(),
		)
		if inserted.Error != nil {
			return inserted.Error
		}
		if inserted.RowsAffected == 0 {
			// Redelivery of an already processed event.
			s.log.Info("skipping duplicate payment event",
				zap.String("provider", event.Provider),
				zap.String("provider_event_id", event.ProviderEventID))
			return nil
		}

		return s.applyEffect(ctx, tx, account, event)
	})
	if err == nil {
		s.obsMetrics.RecordPaymentEvent(ctx, event.Provider, eventTypeName(event.Payload))
	}
	return err
}

// runTx executes fn in a transaction, retrying on serialization conflicts.
func (s *Service) runTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(fn)
		if err == nil || !pkgdb.IsRetryableConflict(err) {
			return err
		}
		s.log.Warn("retrying payment event after conflict",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("%w: %v", ledgerdomain.ErrConflict, err)
}

func (s *Service) applyEffect(ctx context.Context, tx *gorm.DB, account accountRow, event *paymentdomain.Event) error {
	reference := event.Provider + ":" + event.ProviderEventID

	switch payload := event.Payload.(type) {
	case paymentdomain.SubscriptionPurchased:
		plan, err := s.lookupPlan(payload.PlanCode)
		if err != nil {
			return err
		}
		if err := s.updatePlan(ctx, tx, account, accountdomain.PlanTier(plan.Tier)); err != nil {
			return err
		}
		if plan.GrantCents > 0 {
			return s.ledger.GrantTx(ctx, tx, account.ID, plan.GrantCents, usagedomain.ReasonSubscription, reference)
		}
		return nil

	case paymentdomain.SubscriptionRenewed:
		plan, err := s.lookupPlan(payload.PlanCode)
		if err != nil {
			return err
		}
		grant := plan.RenewGrantCents
		if grant <= 0 {
			grant = plan.GrantCents
		}
		if grant > 0 {
			return s.ledger.GrantTx(ctx, tx, account.ID, grant, usagedomain.ReasonSubscription, reference)
		}
		return nil

	case paymentdomain.SubscriptionCancelled:
		return s.updatePlan(ctx, tx, account, accountdomain.PlanFree)

	case paymentdomain.OneTimePurchaseCompleted:
		credits, ok := s.pricing.Current().Packs[strings.ToLower(strings.TrimSpace(payload.PackCode))]
		if !ok || credits <= 0 {
			return fmt.Errorf("%w: pack %q", paymentdomain.ErrUnknownProduct, payload.PackCode)
		}
		return s.ledger.GrantTx(ctx, tx, account.ID, credits, usagedomain.ReasonPurchase, reference)

	default:
		return paymentdomain.ErrInvalidEvent
	}
}

func (s *Service) lookupPlan(planCode string) (config.PlanGrant, error) {
	plan, ok := s.pricing.Current().Plans[strings.ToLower(strings.TrimSpace(planCode))]
	if !ok {
		return config.PlanGrant{}, fmt.Errorf("%w: plan %q", paymentdomain.ErrUnknownProduct, planCode)
	}
	if _, err := accountdomain.ParsePlanTier(plan.Tier); err != nil {
		return config.PlanGrant{}, fmt.Errorf("%w: plan %q maps to unknown tier %q",
			paymentdomain.ErrUnknownProduct, planCode, plan.Tier)
	}
	return plan, nil
}

func (s *Service) updatePlan(ctx context.Context, tx *gorm.DB, account accountRow, plan accountdomain.PlanTier) error {
	if account.Plan == plan {
		return nil
	}
	updated := tx.Exec(
		`UPDATE accounts SET plan = ?, updated_at = ? WHERE id = ?`,
		string(plan), s.clock.Now(), account.ID,
	)
	if updated.Error != nil {
		return updated.Error
	}
	if updated.RowsAffected == 0 {
		return paymentdomain.ErrUnknownAccount
	}

	if s.outbox != nil {
		err := s.outbox.PublishTx(ctx, tx, events.Event{
			AccountID: account.ID,
			Type:      events.EventPlanChanged,
			Payload: map[string]any{
				"previous_plan": string(account.Plan),
				"plan":          string(plan),
			},
		})
		if err != nil {
			s.log.Warn("failed to publish plan change event", zap.Error(err))
		}
	}
	return nil
}

type accountRow struct {
	ID   snowflake.ID
	Plan accountdomain.PlanTier
}

func findAccountByCustomerRef(tx *gorm.DB, customerRef string) (accountRow, error) {
	var row accountRow
	result := tx.Raw(
		`SELECT id, plan FROM accounts WHERE payment_customer_id = ?`,
		strings.TrimSpace(customerRef),
	).Scan(&row)
	if result.Error != nil {
		return accountRow{}, result.Error
	}
	if result.RowsAffected == 0 {
		return accountRow{}, paymentdomain.ErrUnknownAccount
	}
	return row, nil
}

func eventTypeName(payload paymentdomain.Payload) string {
	switch payload.(type) {
	case paymentdomain.SubscriptionPurchased:
		return "subscription_purchased"
	case paymentdomain.SubscriptionRenewed:
		return "subscription_renewed"
	case paymentdomain.SubscriptionCancelled:
		return "subscription_cancelled"
	case paymentdomain.OneTimePurchaseCompleted:
		return "one_time_purchase_completed"
	default:
		return "unknown"
	}
}
