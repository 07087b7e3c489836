package domain

import (
	"errors"
	"math"

	accountdomain "github.com/scribeflow/creditcore/internal/account/domain"
)

// Service prices jobs. Estimate is pure: the same inputs always produce the
// same quote, and the same rule prices a job at authorize and commit time.
type Service interface {
	Estimate(plan accountdomain.PlanTier, usage UsageDescriptor, addons []AddOnSelection) (Quote, error)
}

var (
	ErrInvalidUsage   = errors.New("invalid_usage")
	ErrUnknownPlan    = errors.New("unknown_plan")
	ErrUnknownAddOn   = errors.New("unknown_add_on")
	ErrInvalidAddOn   = errors.New("invalid_add_on")
	ErrMissingCatalog = errors.New("missing_pricing_catalog")
)

// BaseCostCents is the single rounding rule for usage-based cost. Jobs at or
// below half the threshold cost the flat floor; everything else rounds the
// credit count up. The comparison and the ceiling never multiply units, so
// cost stays non-decreasing across the whole int64 range.
func BaseCostCents(units, threshold int64) int64 {
	if units <= 0 || threshold <= 0 {
		return 0
	}
	if units <= threshold/2 {
		return SmallJobFloorCents
	}
	credits := (units-1)/threshold + 1
	if credits > math.MaxInt64/CentsPerCredit {
		credits = math.MaxInt64 / CentsPerCredit
	}
	return credits * CentsPerCredit
}
