package domain

// Amounts are credit cents: one credit is 100 cents. The smallest billable
// job costs half a credit.
const (
	CentsPerCredit     int64 = 100
	SmallJobFloorCents int64 = 50

	// MaxUsageUnits bounds a single job's measured usage (seconds or
	// characters) so cost arithmetic stays within int64.
	MaxUsageUnits int64 = 1_000_000_000
)

// UsageDescriptor measures one job. Exactly one of the two fields must be
// positive: audio jobs are measured in seconds, text jobs in characters.
type UsageDescriptor struct {
	DurationSeconds int64 `json:"duration_seconds,omitempty"`
	CharacterCount  int64 `json:"character_count,omitempty"`
}

// AddOnSelection enables a per-unit add-on with an item count.
type AddOnSelection struct {
	Code  string `json:"code"`
	Count int64  `json:"count"`
}

// AddOnCharge is the priced form of a selection.
type AddOnCharge struct {
	Code       string `json:"code"`
	Count      int64  `json:"count"`
	UnitCents  int64  `json:"unit_cents"`
	TotalCents int64  `json:"total_cents"`
}

// Quote is the cost breakdown returned by Estimate.
type Quote struct {
	BaseCents  int64         `json:"base_cents"`
	AddOns     []AddOnCharge `json:"add_ons,omitempty"`
	TotalCents int64         `json:"total_cents"`
}
