package controllers

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/quillforge/quillforge/app/models"
	"github.com/quillforge/quillforge/internal/pkg/billing"
	"github.com/quillforge/quillforge/internal/pkg/database"
	"github.com/quillforge/quillforge/internal/pkg/env"
	"github.com/quillforge/quillforge/internal/pkg/payments"
)

// HandlePaymentsWebhook receives payments-provider events. Every delivery is
// persisted before processing; a duplicate event id short-circuits to an OK
// acknowledgment so the provider stops retrying.
func HandlePaymentsWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Payments-Signature")

	secret, err := env.RequireEnv("PAYMENTS_WEBHOOK_SECRET")
	if err != nil {
		log.Printf("payments webhook: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "configuration_error", "Payments webhook secret is not configured")
	}

	if !payments.VerifyWebhookSignature(rawBody, signature, secret) {
		return jsonError(c, fiber.StatusBadRequest, "invalid_signature", "Webhook signature verification failed")
	}

	event, err := payments.ParseEvent(rawBody)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "Webhook payload could not be parsed")
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	created, stored, err := svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.WebhookProviderPayments,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		log.Printf("payments webhook persist failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Webhook could not be recorded")
	}
	if !created {
		return jsonSuccess(c, fiber.Map{"duplicate": true})
	}

	if !payments.IsKnownEventType(event.Type) {
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, nil)
		return jsonSuccess(c, fiber.Map{"ignored": true})
	}

	if err := svc.ProcessEvent(ctx, event); err != nil {
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, err)
		log.Printf("payments webhook %s (%s) failed: %v", event.ID, event.Type, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Webhook processing failed")
	}

	if err := svc.MarkWebhookProcessed(ctx, stored.ID, nil); err != nil {
		log.Printf("payments webhook %s mark processed: %v", event.ID, err)
	}
	return jsonSuccess(c, fiber.Map{"processed": true})
}
