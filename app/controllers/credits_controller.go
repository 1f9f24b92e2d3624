package controllers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/quillforge/quillforge/internal/pkg/credits"
	"github.com/quillforge/quillforge/internal/pkg/database"
	"github.com/quillforge/quillforge/internal/pkg/usercontext"
)

// HandleGetCredits returns the caller's balance and recent ledger entries.
func HandleGetCredits(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "invalid_credential", "Authentication required")
	}

	ledger := credits.NewLedger(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	balance, err := ledger.Balance(ctx, userCtx.Subject)
	if err != nil {
		if errors.Is(err, credits.ErrUserNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Account not initialized; call /users/init first")
		}
		log.Printf("balance read failed for %s: %v", userCtx.Subject, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Could not read balance")
	}

	history, err := ledger.History(ctx, userCtx.Subject, c.QueryInt("limit", 50))
	if err != nil {
		log.Printf("history read failed for %s: %v", userCtx.Subject, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Could not read transactions")
	}

	entries := make([]fiber.Map, 0, len(history))
	for _, tx := range history {
		entries = append(entries, fiber.Map{
			"id":            tx.ID,
			"kind":          tx.Kind,
			"amount":        tx.Amount,
			"balance_after": tx.BalanceAfter,
			"description":   tx.Description,
			"reference_id":  tx.ReferenceID,
			"created_at":    tx.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	return jsonSuccess(c, fiber.Map{
		"balance":      balance,
		"transactions": entries,
	})
}
