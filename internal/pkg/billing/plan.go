package billing

import (
	"strings"

	"github.com/quillforge/quillforge/app/models"
	"github.com/quillforge/quillforge/internal/pkg/env"
)

// Credit allotment per seat per billing period. Flat multipliers, not
// prorated.
const (
	CreditRateMonthly = 500
	CreditRateYearly  = 6000

	// TrialGrantPerSeat is the partial allotment granted while a
	// subscription is still trialing; the trial-to-paid transition tops the
	// balance up to the full rate.
	TrialGrantPerSeat = 50

	// SignupBonus is granted exactly once when a user row is first created.
	SignupBonus = 150

	// StarterMonthlyAllotment is the free allotment starter users are reset
	// to by the monthly reset procedure.
	StarterMonthlyAllotment = 50
)

func normalizePlan(plan string) string {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case models.PlanPro:
		return models.PlanPro
	case models.PlanTeams:
		return models.PlanTeams
	case models.PlanEnterprise:
		return models.PlanEnterprise
	default:
		return models.PlanStarter
	}
}

func planRank(plan string) int {
	switch normalizePlan(plan) {
	case models.PlanEnterprise:
		return 3
	case models.PlanTeams:
		return 2
	case models.PlanPro:
		return 1
	default:
		return 0
	}
}

func normalizeInterval(interval string) string {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case "year", "yearly", "annual":
		return models.BillingIntervalYear
	default:
		return models.BillingIntervalMonth
	}
}

// CreditRatePerSeat returns the per-seat allotment for a billing interval.
func CreditRatePerSeat(interval string) int64 {
	if normalizeInterval(interval) == models.BillingIntervalYear {
		return CreditRateYearly
	}
	return CreditRateMonthly
}

// PriceRef resolves the provider price reference configured for a paid
// plan/interval pair. Empty when unconfigured or for the starter tier.
func PriceRef(plan, interval string) string {
	p := normalizePlan(plan)
	if p == models.PlanStarter {
		return ""
	}
	key := "PAYMENTS_PRICE_" + strings.ToUpper(p) + "_" + strings.ToUpper(normalizeInterval(interval))
	return strings.TrimSpace(env.GetEnv(key, ""))
}

// PlanForPriceRef reverse-maps a provider price reference to a plan/interval
// pair. Used as a fallback when webhook metadata went missing.
func PlanForPriceRef(ref string) (plan, interval string, ok bool) {
	r := strings.TrimSpace(ref)
	if r == "" {
		return "", "", false
	}
	for _, p := range []string{models.PlanPro, models.PlanTeams, models.PlanEnterprise} {
		for _, i := range []string{models.BillingIntervalMonth, models.BillingIntervalYear} {
			if PriceRef(p, i) == r {
				return p, i, true
			}
		}
	}
	return "", "", false
}

func isEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.SubscriptionStatusActive, models.SubscriptionStatusTrialing, models.SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}
