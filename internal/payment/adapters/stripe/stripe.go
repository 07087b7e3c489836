package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/scribeflow/creditcore/internal/payment/domain"
)

type Adapter struct {
	webhookSecret string
}

func NewAdapter(webhookSecret string) (*Adapter, error) {
	webhookSecret = strings.TrimSpace(webhookSecret)
	if webhookSecret == "" {
		return nil, errors.New("missing_webhook_secret")
	}
	return &Adapter{webhookSecret: webhookSecret}, nil
}

func (a *Adapter) Provider() string {
	return "stripe"
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.Event, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "checkout.session.completed":
		return a.parseCheckoutSession(event, payload)
	case "invoice.paid":
		return a.parseInvoicePaid(event, payload)
	case "customer.subscription.deleted":
		return a.parseSubscriptionDeleted(event, payload)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeCheckoutSession struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Mode     string            `json:"mode"`
	Created  int64             `json:"created"`
	Metadata map[string]string `json:"metadata"`
}

type stripeInvoice struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Created  int64             `json:"created"`
	Metadata map[string]string `json:"metadata"`
}

type stripeSubscription struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Created  int64  `json:"created"`
}

func (a *Adapter) parseCheckoutSession(event stripeEvent, payload []byte) (*paymentdomain.Event, error) {
	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	customer := strings.TrimSpace(session.Customer)
	if customer == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var effect paymentdomain.Payload
	switch strings.TrimSpace(session.Mode) {
	case "payment":
		pack := strings.TrimSpace(session.Metadata["pack_code"])
		if pack == "" {
			return nil, paymentdomain.ErrInvalidEvent
		}
		effect = paymentdomain.OneTimePurchaseCompleted{PackCode: pack}
	case "subscription":
		plan := strings.TrimSpace(session.Metadata["plan_code"])
		if plan == "" {
			return nil, paymentdomain.ErrInvalidEvent
		}
		effect = paymentdomain.SubscriptionPurchased{PlanCode: plan}
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	return &paymentdomain.Event{
		Provider:        a.Provider(),
		ProviderEventID: event.ID,
		CustomerRef:     customer,
		OccurredAt:      timestamp(session.Created, event.Created),
		Payload:         effect,
		Raw:             payload,
	}, nil
}

func (a *Adapter) parseInvoicePaid(event stripeEvent, payload []byte) (*paymentdomain.Event, error) {
	var invoice stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	customer := strings.TrimSpace(invoice.Customer)
	if customer == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	plan := strings.TrimSpace(invoice.Metadata["plan_code"])
	if plan == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	return &paymentdomain.Event{
		Provider:        a.Provider(),
		ProviderEventID: event.ID,
		CustomerRef:     customer,
		OccurredAt:      timestamp(invoice.Created, event.Created),
		Payload:         paymentdomain.SubscriptionRenewed{PlanCode: plan},
		Raw:             payload,
	}, nil
}

func (a *Adapter) parseSubscriptionDeleted(event stripeEvent, payload []byte) (*paymentdomain.Event, error) {
	var subscription stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &subscription); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	customer := strings.TrimSpace(subscription.Customer)
	if customer == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	return &paymentdomain.Event{
		Provider:        a.Provider(),
		ProviderEventID: event.ID,
		CustomerRef:     customer,
		OccurredAt:      timestamp(subscription.Created, event.Created),
		Payload:         paymentdomain.SubscriptionCancelled{},
		Raw:             payload,
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary, fallback int64) time.Time {
	if primary > 0 {
		return time.Unix(primary, 0).UTC()
	}
	if fallback > 0 {
		return time.Unix(fallback, 0).UTC()
	}
	return time.Now().UTC()
}
