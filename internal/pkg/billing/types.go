package billing

import "time"

// CheckoutRequest is the normalized input for hosted checkout creation.
type CheckoutRequest struct {
	Plan            string
	BillingInterval string
	Seats           int
	Currency        string
	// OrgExternalID is set for organization (teams/enterprise) checkouts;
	// empty for individual plans.
	OrgExternalID string
	SuccessURL    string
	CancelURL     string
}

// NormalizedSubscription is the provider-agnostic shape written into local
// subscription tables during webhook reconciliation.
type NormalizedSubscription struct {
	PaymentsSubscriptionID string
	PaymentsCustomerID     string
	PriceRef               string
	Plan                   string
	BillingInterval        string
	Seats                  int
	Status                 string
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      bool
	RawPayloadJSON         string
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}
