package models

import "time"

const (
	BillingIntervalMonth = "month"
	BillingIntervalYear  = "year"
)

const (
	SubscriptionStatusActive     = "active"
	SubscriptionStatusTrialing   = "trialing"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusIncomplete = "incomplete"
)

// Subscription mirrors a payments-provider subscription for an individual
// user. Created on checkout completion, mutated only by provider webhooks.
// Canceled is terminal.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;index" json:"user_id"`
	PaymentsSubscriptionID string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"payments_subscription_id"`
	PaymentsPriceRef       string     `gorm:"type:varchar(191);not null;index" json:"payments_price_ref"`
	Plan                   string     `gorm:"type:varchar(50);not null;default:'starter';index" json:"plan"`
	BillingInterval        string     `gorm:"type:varchar(16);not null;default:'month'" json:"billing_interval"`
	Seats                  int        `gorm:"not null;default:1" json:"seats"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancel_at_period_end"`
	RawPayloadJSON         string     `gorm:"type:longtext" json:"-"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsEntitling reports whether the subscription status still grants plan
// benefits. past_due keeps access per the payment-failed policy.
func (s *Subscription) IsEntitling() bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}
