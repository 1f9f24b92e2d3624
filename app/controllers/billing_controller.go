package controllers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/quillforge/quillforge/app/models"
	"github.com/quillforge/quillforge/internal/pkg/billing"
	"github.com/quillforge/quillforge/internal/pkg/database"
	"github.com/quillforge/quillforge/internal/pkg/metrics/counter"
	"github.com/quillforge/quillforge/internal/pkg/usercontext"
)

type checkoutRequest struct {
	Plan            string `json:"plan" form:"plan"`
	BillingInterval string `json:"billing_interval" form:"billing_interval"`
	Seats           int    `json:"seats" form:"seats"`
	Currency        string `json:"currency" form:"currency"`
	OrgExternalID   string `json:"org_external_id" form:"org_external_id"`
	SuccessURL      string `json:"success_url" form:"success_url"`
	CancelURL       string `json:"cancel_url" form:"cancel_url"`
}

// HandleCreateCheckout creates a hosted checkout session and returns the
// redirect URL. The browser does the actual payment flow; webhooks bring the
// result back.
func HandleCreateCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "invalid_credential", "Authentication required")
	}
	if userCtx.UserID == 0 {
		return jsonError(c, fiber.StatusNotFound, "not_found", "Account not initialized; call /users/init first")
	}

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Malformed request body")
	}
	if !models.IsValidPlan(req.Plan) || req.Plan == models.PlanStarter {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "plan must be one of pro, teams, enterprise")
	}

	var user models.User
	if err := database.GetDB().First(&user, userCtx.UserID).Error; err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Could not load account")
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	url, err := svc.CreateCheckout(ctx, &user, billing.CheckoutRequest{
		Plan:            req.Plan,
		BillingInterval: req.BillingInterval,
		Seats:           req.Seats,
		Currency:        req.Currency,
		OrgExternalID:   req.OrgExternalID,
		SuccessURL:      req.SuccessURL,
		CancelURL:       req.CancelURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrUnknownPlan):
			return jsonError(c, fiber.StatusBadRequest, "invalid_request", "No price configured for this plan and interval")
		case errors.Is(err, billing.ErrPaymentsProvider):
			log.Printf("checkout creation failed for user %d: %v", user.ID, err)
			return jsonError(c, fiber.StatusInternalServerError, "payments_provider_error", "Payment provider request failed")
		default:
			log.Printf("checkout creation failed for user %d: %v", user.ID, err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Could not create checkout session")
		}
	}

	if cntErr := counter.AddCheckoutStart(req.Plan); cntErr != nil {
		log.Printf("checkout counter: %v", cntErr)
	}

	return jsonSuccess(c, fiber.Map{"checkout_url": url})
}

// HandleCreatePortal creates a billing-portal session so an existing
// customer can manage payment methods and cancellations.
func HandleCreatePortal(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "invalid_credential", "Authentication required")
	}
	if userCtx.UserID == 0 {
		return jsonError(c, fiber.StatusNotFound, "not_found", "Account not initialized; call /users/init first")
	}

	var user models.User
	if err := database.GetDB().First(&user, userCtx.UserID).Error; err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Could not load account")
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	url, err := svc.CreatePortal(ctx, &user)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "No billing account yet; complete a checkout first")
		}
		log.Printf("portal creation failed for user %d: %v", user.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "payments_provider_error", "Payment provider request failed")
	}

	return jsonSuccess(c, fiber.Map{"portal_url": url})
}
