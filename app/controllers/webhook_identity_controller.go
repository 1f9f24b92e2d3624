package controllers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/quillforge/quillforge/app/models"
	"github.com/quillforge/quillforge/app/repository"
	"github.com/quillforge/quillforge/internal/pkg/billing"
	"github.com/quillforge/quillforge/internal/pkg/credits"
	"github.com/quillforge/quillforge/internal/pkg/database"
	"github.com/quillforge/quillforge/internal/pkg/env"
	"github.com/quillforge/quillforge/internal/pkg/identity"
	"github.com/quillforge/quillforge/internal/pkg/orgs"
)

// HandleIdentityWebhook receives identity-provider lifecycle events and
// mirrors them into local user, organization and seat state.
func HandleIdentityWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	msgID := firstHeaderValue(c, "Webhook-Id", "Svix-Id")
	timestamp := firstHeaderValue(c, "Webhook-Timestamp", "Svix-Timestamp")
	signature := firstHeaderValue(c, "Webhook-Signature", "Svix-Signature")

	secret, err := env.RequireEnv("IDENTITY_WEBHOOK_SECRET")
	if err != nil {
		log.Printf("identity webhook: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "configuration_error", "Identity webhook secret is not configured")
	}

	if !identity.VerifyWebhookSignature(rawBody, msgID, timestamp, signature, secret) {
		return jsonError(c, fiber.StatusBadRequest, "invalid_signature", "Webhook signature verification failed")
	}

	event, err := identity.ParseEvent(rawBody)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "Webhook payload could not be parsed")
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	created, stored, err := svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.WebhookProviderIdentity,
		ProviderEventID: msgID,
		EventType:       event.Type,
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		log.Printf("identity webhook persist failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Webhook could not be recorded")
	}
	if !created {
		return jsonSuccess(c, fiber.Map{"duplicate": true})
	}

	if !identity.IsKnownEventType(event.Type) {
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, nil)
		return jsonSuccess(c, fiber.Map{"ignored": true})
	}

	skipped, err := newIdentityEventProcessor().process(ctx, event)
	if err != nil {
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, err)
		log.Printf("identity webhook %s (%s) failed: %v", msgID, event.Type, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Webhook processing failed")
	}

	if err := svc.MarkWebhookProcessed(ctx, stored.ID, nil); err != nil {
		log.Printf("identity webhook %s mark processed: %v", msgID, err)
	}
	if skipped {
		return jsonSuccess(c, fiber.Map{"ignored": true})
	}
	return jsonSuccess(c, fiber.Map{"processed": true})
}

// identityUserStore is the slice of the user repository the event
// processor needs.
type identityUserStore interface {
	GetBySubject(subject string) (*models.User, error)
	UpsertBySubject(subject, email, name, avatarURL string) (*models.User, error)
	SoftDeleteBySubject(subject string) error
}

type identityTokenStore interface {
	RevokeAllForUser(userID uint) (int64, error)
}

type identitySeatManager interface {
	UpsertOrganization(ctx context.Context, externalID, name string) (*models.Organization, error)
	AssignSeat(ctx context.Context, orgExternalID, subject, role string) error
	RemoveSeat(ctx context.Context, orgExternalID, subject string) error
}

// identityEventProcessor applies lifecycle events through injected
// collaborators.
type identityEventProcessor struct {
	users      identityUserStore
	tokens     identityTokenStore
	seats      identitySeatManager
	grantBonus func(ctx context.Context, subject string)
}

func newIdentityEventProcessor() *identityEventProcessor {
	factory := repository.GetGlobalFactory()
	return &identityEventProcessor{
		users:      factory.GetUserRepository(),
		tokens:     factory.GetTokenRepository(),
		seats:      orgs.NewServiceFromDB(database.GetDB()),
		grantBonus: grantSignupBonus,
	}
}

// process applies one lifecycle event. The skipped return distinguishes
// deliberately ignored payloads from processed ones.
func (p *identityEventProcessor) process(ctx context.Context, event *identity.Event) (skipped bool, err error) {
	switch event.Type {
	case identity.EventUserCreated, identity.EventUserUpdated:
		u := event.User
		if event.Type == identity.EventUserCreated && u.Email == "" {
			// Accounts without a usable email address are not mirrored.
			log.Printf("identity: user.created for %s has no email, skipping", u.Subject)
			return true, nil
		}
		user, err := p.users.UpsertBySubject(u.Subject, u.Email, u.Name, u.AvatarURL)
		if err != nil {
			return false, err
		}
		if event.Type == identity.EventUserCreated {
			p.grantBonus(ctx, user.IdentitySubject)
		}
		return false, nil

	case identity.EventUserDeleted:
		user, err := p.users.GetBySubject(event.User.Subject)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return true, nil
			}
			return false, err
		}
		if _, err := p.tokens.RevokeAllForUser(user.ID); err != nil {
			return false, fmt.Errorf("revoke tokens for deleted user %d: %w", user.ID, err)
		}
		return false, p.users.SoftDeleteBySubject(event.User.Subject)

	case identity.EventMembershipCreated:
		m := event.Membership
		if _, err := p.seats.UpsertOrganization(ctx, m.OrgID, m.OrgName); err != nil {
			return false, err
		}
		if err := p.seats.AssignSeat(ctx, m.OrgID, m.Subject, m.Role); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// The member's own user.created event has not arrived yet;
				// the provider will retry this delivery.
				return false, fmt.Errorf("member %s not synchronized yet: %w", m.Subject, err)
			}
			return false, err
		}
		return false, nil

	case identity.EventMembershipDeleted:
		m := event.Membership
		if err := p.seats.RemoveSeat(ctx, m.OrgID, m.Subject); err != nil {
			if errors.Is(err, orgs.ErrOrgNotFound) || errors.Is(err, gorm.ErrRecordNotFound) {
				return true, nil
			}
			return false, err
		}
		return false, nil

	default:
		return true, nil
	}
}

// grantSignupBonus applies the one-time welcome grant. Best effort on the
// webhook path; /users/init re-checks with the same reference id.
func grantSignupBonus(ctx context.Context, subject string) {
	ledger := credits.NewLedger(database.GetDB())
	ref := "signup:" + subject
	applied, err := ledger.HasReference(ctx, ref)
	if err != nil || applied {
		return
	}
	if _, err := ledger.Grant(ctx, subject, int64(billing.SignupBonus),
		models.CreditTxBonus, "Welcome bonus", ref); err != nil {
		log.Printf("signup bonus grant failed for %s: %v", subject, err)
	}
}
