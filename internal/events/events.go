package events

// Credit event types published to the outbox for downstream consumers.
const (
	EventHoldAuthorized = "credit.hold_authorized"
	EventHoldCommitted  = "credit.hold_committed"
	EventHoldReleased   = "credit.hold_released"
	EventCreditGranted  = "credit.granted"
	EventCreditDebited  = "credit.debited"
	EventPromoRedeemed  = "promo.redeemed"
	EventPlanChanged    = "account.plan_changed"
)
