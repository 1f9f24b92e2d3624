package controllers

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/quillforge/quillforge/app/models"
	"github.com/quillforge/quillforge/internal/pkg/database"
	"github.com/quillforge/quillforge/internal/pkg/orgs"
	"github.com/quillforge/quillforge/internal/pkg/usercontext"
)

type assignSeatRequest struct {
	Subject string `json:"subject" form:"subject"`
	Role    string `json:"role" form:"role"`
}

// HandleGetMembership resolves the caller's role in an organization and the
// seat-gated attribution result.
func HandleGetMembership(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return jsonError(c, fiber.StatusUnauthorized, "invalid_credential", "Authentication required")
	}
	orgID := strings.TrimSpace(c.Params("orgID"))
	if orgID == "" {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Organization id is required")
	}

	svc := orgs.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	attribution, err := svc.ResolveAttribution(ctx, userCtx.Claims, userCtx.Subject, orgID)
	if err != nil {
		log.Printf("membership resolution failed for %s in %s: %v", userCtx.Subject, orgID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Membership resolution failed")
	}

	return jsonSuccess(c, fiber.Map{"membership": attribution})
}

// HandleAssignSeat assigns an organization seat, which also grants the
// per-seat credit allotment. Requires an admin role in the organization.
func HandleAssignSeat(c *fiber.Ctx) error {
	orgID, svc, ok, resp := requireOrgAdmin(c)
	if !ok {
		return resp
	}

	var req assignSeatRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Malformed request body")
	}
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "subject is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := svc.AssignSeat(ctx, orgID, subject, req.Role); err != nil {
		switch {
		case errors.Is(err, orgs.ErrOrgNotFound):
			return jsonError(c, fiber.StatusNotFound, "not_found", "Organization not found")
		case errors.Is(err, gorm.ErrRecordNotFound):
			return jsonError(c, fiber.StatusNotFound, "not_found", "No account for this subject; the user must sign in first")
		default:
			log.Printf("seat assignment failed in %s for %s: %v", orgID, subject, err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Seat assignment failed")
		}
	}

	return jsonSuccess(c, fiber.Map{"assigned": true})
}

// HandleRemoveSeat removes an organization seat and deducts the per-seat
// allotment, clamped at a zero balance.
func HandleRemoveSeat(c *fiber.Ctx) error {
	orgID, svc, ok, resp := requireOrgAdmin(c)
	if !ok {
		return resp
	}

	subject := strings.TrimSpace(c.Params("subject"))
	if subject == "" {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "subject is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := svc.RemoveSeat(ctx, orgID, subject); err != nil {
		switch {
		case errors.Is(err, orgs.ErrOrgNotFound):
			return jsonError(c, fiber.StatusNotFound, "not_found", "Organization not found")
		case errors.Is(err, gorm.ErrRecordNotFound):
			return jsonError(c, fiber.StatusNotFound, "not_found", "No account for this subject")
		default:
			log.Printf("seat removal failed in %s for %s: %v", orgID, subject, err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Seat removal failed")
		}
	}

	return jsonSuccess(c, fiber.Map{"removed": true})
}

// requireOrgAdmin authenticates the caller as an admin of the org named in
// the route. When ok is false the response has already been written.
func requireOrgAdmin(c *fiber.Ctx) (orgID string, svc *orgs.Service, ok bool, resp error) {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return "", nil, false, jsonError(c, fiber.StatusUnauthorized, "invalid_credential", "Authentication required")
	}
	orgID = strings.TrimSpace(c.Params("orgID"))
	if orgID == "" {
		return "", nil, false, jsonError(c, fiber.StatusBadRequest, "invalid_request", "Organization id is required")
	}

	svc = orgs.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	role, err := svc.ResolveMembership(ctx, userCtx.Claims, userCtx.Subject, orgID)
	if err != nil {
		if errors.Is(err, orgs.ErrNotMember) {
			return "", nil, false, jsonError(c, fiber.StatusForbidden, "forbidden", "Not a member of this organization")
		}
		log.Printf("membership check failed for %s in %s: %v", userCtx.Subject, orgID, err)
		return "", nil, false, jsonError(c, fiber.StatusInternalServerError, "internal_error", "Membership resolution failed")
	}
	if role != models.SeatRoleAdmin {
		return "", nil, false, jsonError(c, fiber.StatusForbidden, "forbidden", "Organization admin role required")
	}
	return orgID, svc, true, nil
}
