package usercontext

import (
	"github.com/gofiber/fiber/v2"

	"github.com/quillforge/quillforge/internal/pkg/identity"
)

// UserContext represents the verified caller of a request.
type UserContext struct {
	UserID     uint             `json:"user_id"`
	Subject    string           `json:"subject"`
	Email      string           `json:"email"`
	Plan       string           `json:"plan"`
	SessionID  string           `json:"session_id"`
	IsLoggedIn bool             `json:"is_logged_in"`
	Claims     *identity.Claims `json:"-"`
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx := c.Locals(KeyUserContext); ctx != nil {
		return ctx.(UserContext)
	}
	return UserContext{IsLoggedIn: false}
}

// SetUserContext stores the user context for downstream handlers.
func SetUserContext(c *fiber.Ctx, ctx UserContext) {
	c.Locals(KeyUserContext, ctx)
}
