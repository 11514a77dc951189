package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Event types delivered by the payment provider
const (
	EventTypeCheckoutCompleted     = "checkout_completed"
	EventTypeSlotCheckoutCompleted = "slot_checkout_completed"
	EventTypePaymentFailed         = "payment_failed"
)

// PaymentEvent is a signature-verified, typed provider notification.
// Concrete variants are discriminated by the provider's event type;
// anything unknown parses into UnhandledEvent.
type PaymentEvent interface {
	EventID() string
	EventType() string
}

// CheckoutCompletedEvent signals a completed payment for an order.
type CheckoutCompletedEvent struct {
	ID              string
	OrderID         int64
	UserID          int64
	PaymentIntentID string
}

func (e *CheckoutCompletedEvent) EventID() string   { return e.ID }
func (e *CheckoutCompletedEvent) EventType() string { return EventTypeCheckoutCompleted }

// SlotCheckoutCompletedEvent signals a completed deposit payment for a slot.
type SlotCheckoutCompletedEvent struct {
	ID              string
	SlotID          int64
	PaymentIntentID string
}

func (e *SlotCheckoutCompletedEvent) EventID() string   { return e.ID }
func (e *SlotCheckoutCompletedEvent) EventType() string { return EventTypeSlotCheckoutCompleted }

// PaymentFailedEvent signals a failed payment attempt.
type PaymentFailedEvent struct {
	ID      string
	OrderID int64
	Reason  string
}

func (e *PaymentFailedEvent) EventID() string   { return e.ID }
func (e *PaymentFailedEvent) EventType() string { return EventTypePaymentFailed }

// UnhandledEvent is the catch-all for event types this service does not
// reconcile. It is acknowledged and ignored.
type UnhandledEvent struct {
	ID   string
	Type string
}

func (e *UnhandledEvent) EventID() string   { return e.ID }
func (e *UnhandledEvent) EventType() string { return e.Type }

// providerEnvelope mirrors the provider's wire format: an event id, a
// type, and an inner payment object carrying string-valued metadata.
type providerEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
			Reason   string            `json:"reason,omitempty"`
		} `json:"object"`
	} `json:"data"`
}

// ParsePaymentEvent decodes a raw provider payload into a typed event.
// Metadata ids are parsed leniently: missing or garbage values become
// zero, which downstream handling treats as an acknowledged no-op.
func ParsePaymentEvent(raw []byte) (PaymentEvent, error) {
	var env providerEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode provider event: %w", err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("provider event missing id or type")
	}

	meta := env.Data.Object.Metadata

	switch env.Type {
	case EventTypeCheckoutCompleted:
		return &CheckoutCompletedEvent{
			ID:              env.ID,
			OrderID:         metaID(meta, "orderId"),
			UserID:          metaID(meta, "userId"),
			PaymentIntentID: env.Data.Object.ID,
		}, nil

	case EventTypeSlotCheckoutCompleted:
		return &SlotCheckoutCompletedEvent{
			ID:              env.ID,
			SlotID:          metaID(meta, "slotId"),
			PaymentIntentID: env.Data.Object.ID,
		}, nil

	case EventTypePaymentFailed:
		return &PaymentFailedEvent{
			ID:      env.ID,
			OrderID: metaID(meta, "orderId"),
			Reason:  env.Data.Object.Reason,
		}, nil

	default:
		return &UnhandledEvent{ID: env.ID, Type: env.Type}, nil
	}
}

func metaID(meta map[string]string, key string) int64 {
	id, err := strconv.ParseInt(meta[key], 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
