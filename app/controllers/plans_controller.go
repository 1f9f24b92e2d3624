package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/quillforge/quillforge/app/models"
	"github.com/quillforge/quillforge/internal/pkg/billing"
)

// HandleGetPlans is the public pricing endpoint backing the marketing site.
func HandleGetPlans(c *fiber.Ctx) error {
	plans := []fiber.Map{
		{
			"plan":            models.PlanStarter,
			"monthly_credits": billing.StarterMonthlyAllotment,
		},
	}
	for _, plan := range []string{models.PlanPro, models.PlanTeams, models.PlanEnterprise} {
		plans = append(plans, fiber.Map{
			"plan":                 plan,
			"credits_per_seat":     fiber.Map{"month": billing.CreditRateMonthly, "year": billing.CreditRateYearly},
			"price_ref_month":      billing.PriceRef(plan, models.BillingIntervalMonth),
			"price_ref_year":       billing.PriceRef(plan, models.BillingIntervalYear),
			"per_seat":             plan == models.PlanTeams || plan == models.PlanEnterprise,
			"signup_bonus_credits": billing.SignupBonus,
		})
	}
	return jsonSuccess(c, fiber.Map{"plans": plans})
}
