package controllers

import (
	"bytes"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillforge/quillforge/internal/pkg/payments"
)

func TestHandlePaymentsWebhook_MissingSecret(t *testing.T) {
	withTestEnv(t, map[string]string{})
	t.Setenv("PAYMENTS_WEBHOOK_SECRET", "")

	app := fiber.New()
	app.Post("/webhooks/payments", HandlePaymentsWebhook)

	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/payments", bytes.NewReader([]byte(`{}`)))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestHandlePaymentsWebhook_BadSignature(t *testing.T) {
	withTestEnv(t, map[string]string{
		"PAYMENTS_WEBHOOK_SECRET": "whsec_payments_test",
	})

	app := fiber.New()
	app.Post("/webhooks/payments", HandlePaymentsWebhook)

	body := []byte(`{"id":"evt_1","type":"invoice.payment_succeeded","data":{"object":{"id":"in_1"}}}`)
	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	// Signed with the wrong secret.
	req.Header.Set("Payments-Signature", payments.SignPayload(body, "wrong-secret", time.Now()))

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
