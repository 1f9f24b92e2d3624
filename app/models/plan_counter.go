package models

import "time"

// PlanCounter accumulates flushed funnel counters per plan tier. Rows are
// written by the counter flush, one per plan.
type PlanCounter struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Plan           string    `gorm:"type:varchar(50);not null;uniqueIndex" json:"plan"`
	CheckoutStarts int64     `gorm:"not null;default:0" json:"checkout_starts"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
