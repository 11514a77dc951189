package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCheckoutCompleted(t *testing.T) {
	raw := []byte(`{
		"id": "evt_100",
		"type": "checkout_completed",
		"data": {"object": {"id": "pi_abc", "metadata": {"orderId": "42", "userId": "7"}}}
	}`)

	event, err := ParsePaymentEvent(raw)
	require.NoError(t, err)

	checkout, ok := event.(*CheckoutCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, "evt_100", checkout.ID)
	assert.Equal(t, int64(42), checkout.OrderID)
	assert.Equal(t, int64(7), checkout.UserID)
	assert.Equal(t, "pi_abc", checkout.PaymentIntentID)
	assert.Equal(t, EventTypeCheckoutCompleted, checkout.EventType())
}

func TestParseSlotCheckoutCompleted(t *testing.T) {
	raw := []byte(`{
		"id": "evt_101",
		"type": "slot_checkout_completed",
		"data": {"object": {"id": "pi_slot", "metadata": {"slotId": "9"}}}
	}`)

	event, err := ParsePaymentEvent(raw)
	require.NoError(t, err)

	slot, ok := event.(*SlotCheckoutCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, int64(9), slot.SlotID)
	assert.Equal(t, "pi_slot", slot.PaymentIntentID)
}

func TestParsePaymentFailed(t *testing.T) {
	raw := []byte(`{
		"id": "evt_102",
		"type": "payment_failed",
		"data": {"object": {"id": "pi_x", "reason": "card_declined", "metadata": {"orderId": "42"}}}
	}`)

	event, err := ParsePaymentEvent(raw)
	require.NoError(t, err)

	failed, ok := event.(*PaymentFailedEvent)
	require.True(t, ok)
	assert.Equal(t, int64(42), failed.OrderID)
	assert.Equal(t, "card_declined", failed.Reason)
}

func TestParseUnknownTypeIsUnhandled(t *testing.T) {
	raw := []byte(`{"id": "evt_103", "type": "refund_created", "data": {"object": {}}}`)

	event, err := ParsePaymentEvent(raw)
	require.NoError(t, err)

	unhandled, ok := event.(*UnhandledEvent)
	require.True(t, ok)
	assert.Equal(t, "refund_created", unhandled.EventType())
}

func TestParseMissingOrGarbageMetadata(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no metadata", `{"id": "e1", "type": "checkout_completed", "data": {"object": {"id": "pi"}}}`},
		{"garbage ids", `{"id": "e2", "type": "checkout_completed", "data": {"object": {"metadata": {"orderId": "abc", "userId": "-3"}}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := ParsePaymentEvent([]byte(tt.raw))
			require.NoError(t, err)

			checkout, ok := event.(*CheckoutCompletedEvent)
			require.True(t, ok)
			assert.Zero(t, checkout.OrderID)
			assert.Zero(t, checkout.UserID)
		})
	}
}

func TestParseRejectsMalformedPayloads(t *testing.T) {
	_, err := ParsePaymentEvent([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParsePaymentEvent([]byte(`{"type": "checkout_completed"}`))
	assert.Error(t, err, "missing event id")

	_, err = ParsePaymentEvent([]byte(`{"id": "evt_1"}`))
	assert.Error(t, err, "missing event type")
}
