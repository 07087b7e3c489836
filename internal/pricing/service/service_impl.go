package service

import (
	"sort"
	"strings"

	accountdomain "github.com/scribeflow/creditcore/internal/account/domain"
	"github.com/scribeflow/creditcore/internal/config"
	pricingdomain "github.com/scribeflow/creditcore/internal/pricing/domain"
	"go.uber.org/fx"
)

type Service struct {
	pricing *config.PricingHolder
}

type ServiceParam struct {
	fx.In

	Pricing *config.PricingHolder
}

func NewService(p ServiceParam) pricingdomain.Service {
	return &Service{pricing: p.Pricing}
}

func (s *Service) Estimate(
	plan accountdomain.PlanTier,
	usage pricingdomain.UsageDescriptor,
	addons []pricingdomain.AddOnSelection,
) (pricingdomain.Quote, error) {
	if err := validateUsage(usage); err != nil {
		return pricingdomain.Quote{}, err
	}

	catalog := s.pricing.Current()
	if len(catalog.Tiers) == 0 {
		return pricingdomain.Quote{}, pricingdomain.ErrMissingCatalog
	}

	rates, ok := catalog.Tiers[string(plan)]
	if !ok {
		return pricingdomain.Quote{}, pricingdomain.ErrUnknownPlan
	}

	var base int64
	if usage.DurationSeconds > 0 {
		base = pricingdomain.BaseCostCents(usage.DurationSeconds, rates.SecondsPerCredit)
	} else {
		base = pricingdomain.BaseCostCents(usage.CharacterCount, rates.CharactersPerCredit)
	}

	charges, err := priceAddOns(catalog.AddOns, addons)
	if err != nil {
		return pricingdomain.Quote{}, err
	}

	total := base
	for _, charge := range charges {
		total += charge.TotalCents
	}

	return pricingdomain.Quote{
		BaseCents:  base,
		AddOns:     charges,
		TotalCents: total,
	}, nil
}

func validateUsage(usage pricingdomain.UsageDescriptor) error {
	if usage.DurationSeconds < 0 || usage.CharacterCount < 0 {
		return pricingdomain.ErrInvalidUsage
	}
	if usage.DurationSeconds > pricingdomain.MaxUsageUnits || usage.CharacterCount > pricingdomain.MaxUsageUnits {
		return pricingdomain.ErrInvalidUsage
	}
	hasDuration := usage.DurationSeconds > 0
	hasCharacters := usage.CharacterCount > 0
	if hasDuration == hasCharacters {
		return pricingdomain.ErrInvalidUsage
	}
	return nil
}

func priceAddOns(rates map[string]int64, addons []pricingdomain.AddOnSelection) ([]pricingdomain.AddOnCharge, error) {
	if len(addons) == 0 {
		return nil, nil
	}

	charges := make([]pricingdomain.AddOnCharge, 0, len(addons))
	seen := make(map[string]bool, len(addons))
	for _, selection := range addons {
		code := strings.ToLower(strings.TrimSpace(selection.Code))
		if code == "" || selection.Count <= 0 || selection.Count > pricingdomain.MaxUsageUnits {
			return nil, pricingdomain.ErrInvalidAddOn
		}
		if seen[code] {
			return nil, pricingdomain.ErrInvalidAddOn
		}
		seen[code] = true

		unit, ok := rates[code]
		if !ok {
			return nil, pricingdomain.ErrUnknownAddOn
		}
		charges = append(charges, pricingdomain.AddOnCharge{
			Code:       code,
			Count:      selection.Count,
			UnitCents:  unit,
			TotalCents: unit * selection.Count,
		})
	}

	sort.Slice(charges, func(i, j int) bool { return charges[i].Code < charges[j].Code })
	return charges, nil
}
