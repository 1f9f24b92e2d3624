package controllers

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/quillforge/quillforge/app/models"
	"github.com/quillforge/quillforge/app/repository"
	"github.com/quillforge/quillforge/internal/pkg/billing"
	"github.com/quillforge/quillforge/internal/pkg/credits"
	"github.com/quillforge/quillforge/internal/pkg/database"
	"github.com/quillforge/quillforge/internal/pkg/usercontext"
)

// HandleUserInit upserts the local record for a verified identity on first
// use. Re-calling is harmless: the upsert refreshes email/name and the
// signup bonus is keyed by subject, so it applies exactly once.
func HandleUserInit(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "invalid_credential", "Authentication required")
	}

	claims := userCtx.Claims
	repo := repository.GetGlobalFactory().GetUserRepository()
	user, err := repo.UpsertBySubject(userCtx.Subject, claims.Email, claims.Name, "")
	if err != nil {
		log.Printf("user init upsert failed for %s: %v", userCtx.Subject, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Could not initialize account")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ledger := credits.NewLedger(database.GetDB())
	bonusRef := "signup:" + user.IdentitySubject
	applied, err := ledger.HasReference(ctx, bonusRef)
	if err != nil {
		log.Printf("signup bonus check failed for %s: %v", user.IdentitySubject, err)
	} else if !applied {
		if _, err := ledger.Grant(ctx, user.IdentitySubject, int64(billing.SignupBonus),
			models.CreditTxBonus, "Welcome bonus", bonusRef); err != nil {
			log.Printf("signup bonus grant failed for %s: %v", user.IdentitySubject, err)
		} else {
			user.Credits += int64(billing.SignupBonus)
		}
	}

	return jsonSuccess(c, fiber.Map{"user": userProfile(user)})
}

// HandleGetMe returns the caller's profile and credit balance.
func HandleGetMe(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "invalid_credential", "Authentication required")
	}
	if userCtx.UserID == 0 {
		return jsonError(c, fiber.StatusNotFound, "not_found", "Account not initialized; call /users/init first")
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	user, err := repo.GetBySubject(userCtx.Subject)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Could not load account")
	}

	if err := repo.TouchLastSeen(user.ID); err != nil {
		log.Printf("last-seen update failed for user %d: %v", user.ID, err)
	}

	tokens, err := repository.GetGlobalFactory().GetTokenRepository().ListByUser(user.ID, false)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Could not load sessions")
	}
	sessions := make([]fiber.Map, 0, len(tokens))
	for _, t := range tokens {
		sessions = append(sessions, fiber.Map{
			"session_id":    t.SessionID,
			"label":         t.Label,
			"created_at":    t.CreatedAt.UTC().Format(time.RFC3339),
			"expires_at":    t.ExpiresAt.UTC().Format(time.RFC3339),
			"refresh_count": t.RefreshCount,
		})
	}

	return jsonSuccess(c, fiber.Map{
		"user":     userProfile(user),
		"sessions": sessions,
	})
}

func userProfile(user *models.User) fiber.Map {
	return fiber.Map{
		"id":           user.ID,
		"subject":      user.IdentitySubject,
		"email":        user.Email,
		"name":         user.Name,
		"plan":         user.Plan,
		"credits":      user.Credits,
		"created_at":   user.CreatedAt.UTC().Format(time.RFC3339),
		"last_seen_at": formatTimePtr(user.LastSeenAt),
	}
}
