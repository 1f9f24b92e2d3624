package controllers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/quillforge/quillforge/internal/pkg/billing"
	"github.com/quillforge/quillforge/internal/pkg/database"
	"github.com/quillforge/quillforge/internal/pkg/metrics/counter"
)

// HandleResetMonthlyCredits triggers the monthly free-allotment reset for
// starter users. Called by the operator's scheduler, guarded by the internal
// key middleware.
func HandleResetMonthlyCredits(c *fiber.Ctx) error {
	db := database.GetDB()
	if err := db.Exec("CALL reset_monthly_credits(?)", billing.StarterMonthlyAllotment).Error; err != nil {
		log.Printf("monthly credit reset failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Monthly reset failed")
	}
	return jsonSuccess(c, fiber.Map{"reset": true})
}

// HandleFlushCounters drains the pending Redis usage counters into the
// database. Called periodically by the operator's scheduler.
func HandleFlushCounters(c *fiber.Ctx) error {
	if err := counter.FlushAll(); err != nil {
		log.Printf("counter flush failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Counter flush failed")
	}
	return jsonSuccess(c, fiber.Map{"flushed": true})
}
