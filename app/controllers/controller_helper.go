package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// jsonError writes the uniform error body. error_description is human
// readable, error is machine matchable.
func jsonError(c *fiber.Ctx, status int, code, description string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":             code,
		"error_description": description,
	})
}

// jsonSuccess writes the uniform success envelope with extra payload fields.
func jsonSuccess(c *fiber.Ctx, extra fiber.Map) error {
	body := fiber.Map{"success": true}
	for k, v := range extra {
		body[k] = v
	}
	return c.JSON(body)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// firstHeaderValue returns the first non-empty header among candidates.
func firstHeaderValue(c *fiber.Ctx, names ...string) string {
	for _, name := range names {
		if v := c.Get(name); v != "" {
			return v
		}
	}
	return ""
}
