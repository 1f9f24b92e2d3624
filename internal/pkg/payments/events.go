package payments

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Webhook event types this system reconciles.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.payment_succeeded"
	EventInvoiceFailed       = "invoice.payment_failed"
)

// CheckoutCompleted is the payload of checkout.session.completed.
type CheckoutCompleted struct {
	SessionID      string
	CustomerID     string
	SubscriptionID string
	// Metadata round-trips the plan/seat data set at session creation.
	Metadata map[string]string
}

// SubscriptionEvent is the payload of customer.subscription.* events.
type SubscriptionEvent struct {
	SubscriptionID     string
	CustomerID         string
	PriceRef           string
	Status             string
	Quantity           int
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	PreviousStatus     string
	Metadata           map[string]string
}

// InvoiceEvent is the payload of invoice.payment_* events.
type InvoiceEvent struct {
	InvoiceID      string
	CustomerID     string
	SubscriptionID string
	BillingReason  string
	AmountPaid     int64
}

// Event is a tagged union over payments webhook payloads, discriminated on
// the envelope type before any payload field is read.
type Event struct {
	ID           string
	Type         string
	Checkout     *CheckoutCompleted
	Subscription *SubscriptionEvent
	Invoice      *InvoiceEvent
}

// IsKnownEventType reports whether the event type is reconciled here.
func IsKnownEventType(t string) bool {
	switch t {
	case EventCheckoutCompleted,
		EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventInvoicePaid, EventInvoiceFailed:
		return true
	default:
		return false
	}
}

type rawEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object             json.RawMessage `json:"object"`
		PreviousAttributes json.RawMessage `json:"previous_attributes"`
	} `json:"data"`
}

type rawCheckoutSession struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type rawSubscription struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	Quantity           int               `json:"quantity"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			Quantity int `json:"quantity"`
			Price    struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type rawInvoice struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	Subscription  string `json:"subscription"`
	BillingReason string `json:"billing_reason"`
	AmountPaid    int64  `json:"amount_paid"`
}

// ParseEvent parses a raw webhook body into the tagged event union.
func ParseEvent(payload []byte) (*Event, error) {
	var env rawEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("invalid webhook envelope: %w", err)
	}
	eventType := strings.TrimSpace(env.Type)
	if eventType == "" {
		return nil, fmt.Errorf("webhook envelope has no type")
	}

	event := &Event{ID: strings.TrimSpace(env.ID), Type: eventType}
	switch eventType {
	case EventCheckoutCompleted:
		var obj rawCheckoutSession
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", eventType, err)
		}
		if obj.ID == "" {
			return nil, fmt.Errorf("%s payload has no session id", eventType)
		}
		event.Checkout = &CheckoutCompleted{
			SessionID:      obj.ID,
			CustomerID:     obj.Customer,
			SubscriptionID: obj.Subscription,
			Metadata:       obj.Metadata,
		}
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var obj rawSubscription
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", eventType, err)
		}
		if obj.ID == "" {
			return nil, fmt.Errorf("%s payload has no subscription id", eventType)
		}
		sub := &SubscriptionEvent{
			SubscriptionID:    obj.ID,
			CustomerID:        obj.Customer,
			Status:            obj.Status,
			Quantity:          obj.Quantity,
			CancelAtPeriodEnd: obj.CancelAtPeriodEnd,
			Metadata:          obj.Metadata,
		}
		if len(obj.Items.Data) > 0 {
			sub.PriceRef = obj.Items.Data[0].Price.ID
			if sub.Quantity == 0 {
				sub.Quantity = obj.Items.Data[0].Quantity
			}
		}
		if obj.CurrentPeriodStart > 0 {
			t := time.Unix(obj.CurrentPeriodStart, 0).UTC()
			sub.CurrentPeriodStart = &t
		}
		if obj.CurrentPeriodEnd > 0 {
			t := time.Unix(obj.CurrentPeriodEnd, 0).UTC()
			sub.CurrentPeriodEnd = &t
		}
		if len(env.Data.PreviousAttributes) > 0 {
			var prev struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(env.Data.PreviousAttributes, &prev); err == nil {
				sub.PreviousStatus = prev.Status
			}
		}
		event.Subscription = sub
	case EventInvoicePaid, EventInvoiceFailed:
		var obj rawInvoice
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", eventType, err)
		}
		if obj.ID == "" {
			return nil, fmt.Errorf("%s payload has no invoice id", eventType)
		}
		event.Invoice = &InvoiceEvent{
			InvoiceID:      obj.ID,
			CustomerID:     obj.Customer,
			SubscriptionID: obj.Subscription,
			BillingReason:  obj.BillingReason,
			AmountPaid:     obj.AmountPaid,
		}
	}
	return event, nil
}
