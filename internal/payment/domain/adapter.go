package domain

import (
	"context"
	"net/http"
)

// Adapter translates one provider's webhook deliveries into provider-neutral
// events. Verify must run before Parse; a payload that fails verification is
// never inspected further.
type Adapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Event, error)
}
