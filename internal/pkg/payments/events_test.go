package payments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvent_CheckoutCompleted(t *testing.T) {
	payload := []byte(`{
		"id": "evt_checkout_1",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": "cs_test_1",
				"customer": "cus_1",
				"subscription": "sub_1",
				"metadata": {"plan": "team", "seats": "3", "org_external_id": "org_abc"}
			}
		}
	}`)

	event, err := ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "evt_checkout_1", event.ID)
	assert.Equal(t, EventCheckoutCompleted, event.Type)
	require.NotNil(t, event.Checkout)
	assert.Equal(t, "cs_test_1", event.Checkout.SessionID)
	assert.Equal(t, "cus_1", event.Checkout.CustomerID)
	assert.Equal(t, "sub_1", event.Checkout.SubscriptionID)
	assert.Equal(t, "team", event.Checkout.Metadata["plan"])
	assert.Equal(t, "3", event.Checkout.Metadata["seats"])
	assert.Nil(t, event.Subscription)
	assert.Nil(t, event.Invoice)
}

func TestParseEvent_SubscriptionItems(t *testing.T) {
	payload := []byte(`{
		"id": "evt_sub_1",
		"type": "customer.subscription.created",
		"data": {
			"object": {
				"id": "sub_1",
				"customer": "cus_1",
				"status": "trialing",
				"current_period_start": 1756425600,
				"current_period_end": 1759017600,
				"cancel_at_period_end": false,
				"metadata": {"plan": "pro"},
				"items": {"data": [{"quantity": 2, "price": {"id": "price_pro_month"}}]}
			}
		}
	}`)

	event, err := ParseEvent(payload)
	require.NoError(t, err)
	require.NotNil(t, event.Subscription)
	sub := event.Subscription
	assert.Equal(t, "sub_1", sub.SubscriptionID)
	assert.Equal(t, "trialing", sub.Status)
	assert.Equal(t, "price_pro_month", sub.PriceRef)
	// Quantity comes from the first item when the top-level field is absent.
	assert.Equal(t, 2, sub.Quantity)
	require.NotNil(t, sub.CurrentPeriodStart)
	assert.Equal(t, time.Unix(1756425600, 0).UTC(), *sub.CurrentPeriodStart)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Empty(t, sub.PreviousStatus)
}

func TestParseEvent_SubscriptionPreviousAttributes(t *testing.T) {
	payload := []byte(`{
		"id": "evt_sub_2",
		"type": "customer.subscription.updated",
		"data": {
			"object": {
				"id": "sub_1",
				"customer": "cus_1",
				"status": "active",
				"quantity": 4,
				"items": {"data": [{"quantity": 4, "price": {"id": "price_team_year"}}]}
			},
			"previous_attributes": {"status": "trialing"}
		}
	}`)

	event, err := ParseEvent(payload)
	require.NoError(t, err)
	require.NotNil(t, event.Subscription)
	assert.Equal(t, "active", event.Subscription.Status)
	assert.Equal(t, "trialing", event.Subscription.PreviousStatus)
	assert.Equal(t, 4, event.Subscription.Quantity)
	assert.Nil(t, event.Subscription.CurrentPeriodStart)
}

func TestParseEvent_Invoice(t *testing.T) {
	payload := []byte(`{
		"id": "evt_inv_1",
		"type": "invoice.payment_succeeded",
		"data": {
			"object": {
				"id": "in_1",
				"customer": "cus_1",
				"subscription": "sub_1",
				"billing_reason": "subscription_cycle",
				"amount_paid": 2900
			}
		}
	}`)

	event, err := ParseEvent(payload)
	require.NoError(t, err)
	require.NotNil(t, event.Invoice)
	assert.Equal(t, "in_1", event.Invoice.InvoiceID)
	assert.Equal(t, "subscription_cycle", event.Invoice.BillingReason)
	assert.Equal(t, int64(2900), event.Invoice.AmountPaid)
}

func TestParseEvent_UnknownTypePassthrough(t *testing.T) {
	payload := []byte(`{"id": "evt_x", "type": "charge.refunded", "data": {"object": {"id": "ch_1"}}}`)

	event, err := ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "charge.refunded", event.Type)
	assert.Nil(t, event.Checkout)
	assert.Nil(t, event.Subscription)
	assert.Nil(t, event.Invoice)
	assert.False(t, IsKnownEventType(event.Type))
}

func TestParseEvent_Errors(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"not json", `{{`},
		{"missing type", `{"id": "evt_1", "data": {"object": {}}}`},
		{"checkout without session id", `{"id": "evt_1", "type": "checkout.session.completed", "data": {"object": {"customer": "cus_1"}}}`},
		{"subscription without id", `{"id": "evt_1", "type": "customer.subscription.updated", "data": {"object": {"status": "active"}}}`},
		{"invoice without id", `{"id": "evt_1", "type": "invoice.payment_failed", "data": {"object": {"customer": "cus_1"}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseEvent([]byte(tc.payload))
			assert.Error(t, err)
		})
	}
}

func TestIsKnownEventType(t *testing.T) {
	assert.True(t, IsKnownEventType(EventCheckoutCompleted))
	assert.True(t, IsKnownEventType(EventInvoiceFailed))
	assert.False(t, IsKnownEventType("payment_intent.succeeded"))
	assert.False(t, IsKnownEventType(""))
}
