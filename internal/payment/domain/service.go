package domain

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrUnknownAccount   = errors.New("unknown_account")
	ErrUnknownProduct   = errors.New("unknown_product")
)

// Service ingests payment provider webhooks and applies their credit
// effects exactly once per provider event id.
type Service interface {
	// Ingest verifies, parses and processes a raw webhook delivery.
	// Event types the adapter does not recognize are acknowledged
	// without effect.
	Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) error

	// ProcessEvent applies a parsed event. Redelivery of an already
	// processed event id returns nil without further effect.
	ProcessEvent(ctx context.Context, event *Event) error
}
