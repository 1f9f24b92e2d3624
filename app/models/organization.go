package models

import "time"

const (
	SeatStatusActive  = "active"
	SeatStatusRevoked = "revoked"

	SeatRoleMember = "member"
	SeatRoleAdmin  = "admin"
)

// Organization mirrors an identity-provider organization.
type Organization struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	ExternalID         string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"external_id"`
	Name               string    `gorm:"type:varchar(250);not null" json:"name"`
	Plan               string    `gorm:"type:varchar(50);not null;default:'teams'" json:"plan"`
	PaymentsCustomerID string    `gorm:"type:varchar(191);default:null;index" json:"-"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// OrganizationSeat links one user to one organization. A user holds at most
// one active seat per organization; revoked seats are kept for audit.
type OrganizationSeat struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	OrgID      uint       `gorm:"not null;index:ux_org_seats_org_user,unique,priority:1" json:"org_id"`
	UserID     uint       `gorm:"not null;index:ux_org_seats_org_user,unique,priority:2" json:"user_id"`
	Role       string     `gorm:"type:varchar(32);not null;default:'member'" json:"role"`
	Status     string     `gorm:"type:varchar(16);not null;default:'active';index" json:"status"`
	AssignedAt time.Time  `gorm:"type:timestamp;not null" json:"assigned_at"`
	RevokedAt  *time.Time `gorm:"type:timestamp;default:null" json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActive reports whether the seat currently entitles org-scoped claims.
func (s *OrganizationSeat) IsActive() bool {
	return s.Status == SeatStatusActive
}

// OrganizationSubscription mirrors Subscription but is scoped to an
// organization and carries the seat-derived credit pool
// (seats_total x plan credit rate).
type OrganizationSubscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	OrgID                  uint       `gorm:"not null;index" json:"org_id"`
	PaymentsSubscriptionID string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"payments_subscription_id"`
	PaymentsPriceRef       string     `gorm:"type:varchar(191);not null;index" json:"payments_price_ref"`
	Plan                   string     `gorm:"type:varchar(50);not null;default:'teams'" json:"plan"`
	BillingInterval        string     `gorm:"type:varchar(16);not null;default:'month'" json:"billing_interval"`
	SeatsTotal             int        `gorm:"not null;default:1" json:"seats_total"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancel_at_period_end"`
	RawPayloadJSON         string     `gorm:"type:longtext" json:"-"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// CreditPool returns the total credit allotment carried by the org
// subscription for one billing period.
func (s *OrganizationSubscription) CreditPool(ratePerSeat int64) int64 {
	if s.SeatsTotal <= 0 {
		return 0
	}
	return int64(s.SeatsTotal) * ratePerSeat
}
