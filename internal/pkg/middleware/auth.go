package middleware

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/quillforge/quillforge/app/repository"
	"github.com/quillforge/quillforge/internal/pkg/identity"
	"github.com/quillforge/quillforge/internal/pkg/usercontext"
)

// BearerAuthMiddleware verifies the identity provider's bearer credential
// and loads the matching user into the request context. Verification runs
// before any database access.
func BearerAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := ExtractBearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":             "invalid_credential",
				"error_description": "Missing bearer credential",
			})
		}

		verifier, err := identity.GetVerifier()
		if err != nil {
			log.Printf("auth middleware: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":             "configuration_error",
				"error_description": "Identity verification is not configured",
			})
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":             "invalid_credential",
				"error_description": "Credential is malformed, expired or has a bad signature",
			})
		}

		userCtx := usercontext.UserContext{
			Subject:    claims.Subject,
			Email:      claims.Email,
			SessionID:  claims.SessionID,
			IsLoggedIn: true,
			Claims:     claims,
		}

		// The user row may not exist yet (first call before /users/init);
		// handlers that need it check UserID themselves.
		repo := repository.GetGlobalFactory().GetUserRepository()
		user, err := repo.GetBySubject(claims.Subject)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("auth middleware: user lookup failed for %s: %v", claims.Subject, err)
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error":             "internal_error",
					"error_description": "User lookup failed",
				})
			}
		} else {
			userCtx.UserID = user.ID
			userCtx.Plan = user.Plan
		}

		usercontext.SetUserContext(c, userCtx)
		return c.Next()
	}
}

// InternalKeyMiddleware guards operator-only endpoints with a shared key.
func InternalKeyMiddleware(expectedKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if expectedKey == "" {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":             "configuration_error",
				"error_description": "INTERNAL_API_KEY is not configured",
			})
		}
		if c.Get("X-Internal-Key") != expectedKey {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":             "invalid_credential",
				"error_description": "Invalid internal key",
			})
		}
		return c.Next()
	}
}

// ExtractBearerToken reads the Authorization: Bearer <token> header.
func ExtractBearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
