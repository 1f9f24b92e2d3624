// Package orgs synchronizes organization membership and seat assignment
// between the identity provider and the billing/credit system. Token claims
// act as a membership cache; the identity API is the source of truth on a
// miss. Seat credit accounting runs through stored procedures so two racing
// requests cannot double-grant or double-deduct.
package orgs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/quillforge/quillforge/app/models"
	"github.com/quillforge/quillforge/internal/pkg/billing"
	"github.com/quillforge/quillforge/internal/pkg/cache"
	"github.com/quillforge/quillforge/internal/pkg/identity"
)

var (
	// ErrNotMember means the subject holds no membership in the org.
	ErrNotMember = errors.New("not an organization member")
	// ErrOrgNotFound means the org has not been synchronized locally.
	ErrOrgNotFound = errors.New("organization not found")
)

const (
	membershipCacheTTL       = 2 * time.Minute
	membershipCacheKeyPrefix = "org:membership:"
)

// Attribution is the seat-gated result of resolving org-scoped claims.
// A confirmed member without an active seat falls back to personal scope.
type Attribution struct {
	OrgExternalID string `json:"org_external_id,omitempty"`
	Role          string `json:"role,omitempty"`
	SeatActive    bool   `json:"seat_active"`
	OrgScoped     bool   `json:"org_scoped"`
}

// identityAPI is the slice of the identity client this service needs.
type identityAPI interface {
	GetOrganization(ctx context.Context, orgID string) (*identity.Organization, error)
	GetUserMembership(ctx context.Context, orgID, subject string) (*identity.Membership, error)
}

// Service manages organization membership, seats and the seat credit pool.
type Service struct {
	db     *gorm.DB
	client identityAPI
}

// NewService creates an org service from injected collaborators.
func NewService(db *gorm.DB, client identityAPI) *Service {
	return &Service{db: db, client: client}
}

// NewServiceFromDB wires the env-configured identity client.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(db, identity.NewClientFromEnv())
}

// ResolveMembership returns the caller's role in the org. Claims first;
// on a claim miss the identity API decides, with a short Redis cache in
// between to keep webhook-adjacent handlers off the provider's rate limits.
func (s *Service) ResolveMembership(ctx context.Context, claims *identity.Claims, subject, orgID string) (string, error) {
	if claims != nil {
		if role, ok := claims.OrgRoles[orgID]; ok && role != "" {
			return role, nil
		}
	}

	cacheKey := membershipCacheKeyPrefix + orgID + ":" + subject
	if cached, err := cache.Get(cacheKey); err == nil {
		if cached == "none" {
			return "", ErrNotMember
		}
		return cached, nil
	}

	membership, err := s.client.GetUserMembership(ctx, orgID, subject)
	if err != nil {
		if errors.Is(err, identity.ErrMembershipNotFound) {
			if cacheErr := cache.Set(cacheKey, "none", membershipCacheTTL); cacheErr != nil {
				log.Printf("orgs: membership cache write failed: %v", cacheErr)
			}
			return "", ErrNotMember
		}
		return "", err
	}

	if cacheErr := cache.Set(cacheKey, membership.Role, membershipCacheTTL); cacheErr != nil {
		log.Printf("orgs: membership cache write failed: %v", cacheErr)
	}
	return membership.Role, nil
}

// ResolveAttribution seat-gates org-scoped claims: confirmed membership AND
// an active seat row are both required, otherwise the caller keeps personal
// scope.
func (s *Service) ResolveAttribution(ctx context.Context, claims *identity.Claims, subject, orgID string) (*Attribution, error) {
	role, err := s.ResolveMembership(ctx, claims, subject, orgID)
	if err != nil {
		if errors.Is(err, ErrNotMember) {
			return &Attribution{OrgScoped: false}, nil
		}
		return nil, err
	}

	seat, err := s.activeSeat(orgID, subject)
	if err != nil {
		return nil, err
	}
	if seat == nil {
		// Member without a seat: personal scope fallback.
		return &Attribution{OrgExternalID: orgID, Role: role, SeatActive: false, OrgScoped: false}, nil
	}
	return &Attribution{OrgExternalID: orgID, Role: role, SeatActive: true, OrgScoped: true}, nil
}

func (s *Service) activeSeat(orgExternalID, subject string) (*models.OrganizationSeat, error) {
	var seat models.OrganizationSeat
	err := s.db.
		Joins("JOIN organizations ON organizations.id = organization_seats.org_id").
		Joins("JOIN users ON users.id = organization_seats.user_id").
		Where("organizations.external_id = ? AND users.identity_subject = ? AND organization_seats.status = ?",
			orgExternalID, subject, models.SeatStatusActive).
		First(&seat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &seat, nil
}

// UpsertOrganization creates or renames the local mirror of a provider org.
func (s *Service) UpsertOrganization(ctx context.Context, externalID, name string) (*models.Organization, error) {
	extID := strings.TrimSpace(externalID)
	if extID == "" {
		return nil, errors.New("org external id is required")
	}
	if err := s.db.WithContext(ctx).Exec("CALL upsert_organization(?, ?)", extID, strings.TrimSpace(name)).Error; err != nil {
		return nil, err
	}
	var org models.Organization
	if err := s.db.Where("external_id = ?", extID).First(&org).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

// AssignSeat assigns (or reactivates) a seat and grants the per-seat credit
// allotment in one atomic database operation. Assigning an already-active
// seat is a no-op inside the procedure.
func (s *Service) AssignSeat(ctx context.Context, orgExternalID, subject, role string) error {
	if role != models.SeatRoleAdmin {
		role = models.SeatRoleMember
	}
	rate, err := s.seatCreditRate(orgExternalID)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Exec("CALL assign_organization_seat_with_credits(?, ?, ?, ?)", orgExternalID, subject, role, rate).Error
	if err != nil {
		return mapSeatProcedureError(err)
	}
	s.invalidateMembershipCache(orgExternalID, subject)
	return nil
}

// RemoveSeat revokes a seat and deducts the per-seat allotment, clamped so
// the balance never goes negative (the procedure deducts
// LEAST(balance, rate) and records the actual amount in the ledger).
func (s *Service) RemoveSeat(ctx context.Context, orgExternalID, subject string) error {
	rate, err := s.seatCreditRate(orgExternalID)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Exec("CALL remove_organization_seat_with_credits(?, ?, ?)", orgExternalID, subject, rate).Error
	if err != nil {
		return mapSeatProcedureError(err)
	}
	s.invalidateMembershipCache(orgExternalID, subject)
	return nil
}

// seatCreditRate derives the per-seat allotment from the org subscription's
// billing interval; orgs without a live subscription default to monthly.
func (s *Service) seatCreditRate(orgExternalID string) (int64, error) {
	org, err := s.getOrg(orgExternalID)
	if err != nil {
		return 0, err
	}

	var sub models.OrganizationSubscription
	err = s.db.
		Where("org_id = ? AND status IN ?", org.ID, []string{
			models.SubscriptionStatusActive,
			models.SubscriptionStatusTrialing,
			models.SubscriptionStatusPastDue,
		}).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return billing.CreditRateMonthly, nil
		}
		return 0, err
	}
	return billing.CreditRatePerSeat(sub.BillingInterval), nil
}

func (s *Service) getOrg(orgExternalID string) (*models.Organization, error) {
	var org models.Organization
	err := s.db.Where("external_id = ?", orgExternalID).First(&org).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrgNotFound
		}
		return nil, err
	}
	return &org, nil
}

func (s *Service) invalidateMembershipCache(orgExternalID, subject string) {
	if err := cache.Delete(membershipCacheKeyPrefix + orgExternalID + ":" + subject); err != nil {
		log.Printf("orgs: membership cache invalidation failed: %v", err)
	}
}

func mapSeatProcedureError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ORG_NOT_FOUND"):
		return ErrOrgNotFound
	case strings.Contains(msg, "USER_NOT_FOUND"):
		return fmt.Errorf("seat user not synchronized: %w", gorm.ErrRecordNotFound)
	default:
		return err
	}
}
