package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/quillforge/quillforge/app/models"
	"github.com/quillforge/quillforge/internal/pkg/credits"
	"github.com/quillforge/quillforge/internal/pkg/env"
	"github.com/quillforge/quillforge/internal/pkg/payments"
)

// ErrPaymentsProvider wraps any upstream payments API failure. Checkout
// creation is never retried automatically; retrying is the browser's call.
var ErrPaymentsProvider = errors.New("payments provider request failed")

// ErrUnknownPlan rejects checkout requests for unmapped plan/interval pairs.
var ErrUnknownPlan = errors.New("no price configured for plan")

// creditLedger is the slice of the credit ledger the orchestrator needs.
type creditLedger interface {
	Grant(ctx context.Context, subject string, amount int64, kind, description, referenceID string) (int64, error)
	HasReference(ctx context.Context, referenceID string) (bool, error)
}

// paymentsAPI is the slice of the payments client the orchestrator needs.
type paymentsAPI interface {
	GetCustomer(ctx context.Context, customerID string) (*payments.Customer, error)
	FindCustomerByEmail(ctx context.Context, email string) (*payments.Customer, error)
	CreateCustomer(ctx context.Context, email, name, subject string) (*payments.Customer, error)
	CreateCheckoutSession(ctx context.Context, p payments.CheckoutParams) (*payments.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*payments.PortalSession, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*payments.Subscription, error)
}

// Service bridges hosted checkout creation to subscription and credit state
// and reconciles payments-provider webhooks into local tables.
type Service struct {
	repo   Repository
	ledger creditLedger
	client paymentsAPI
}

// NewService creates a billing service from injected collaborators.
func NewService(repo Repository, ledger creditLedger, client paymentsAPI) *Service {
	return &Service{repo: repo, ledger: ledger, client: client}
}

// NewServiceFromDB creates a billing service from a GORM handle with the
// env-configured payments client.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), credits.NewLedger(db), payments.NewClientFromEnv())
}

// ResolveCustomer finds or creates the payments customer for a user with a
// fixed three-step priority: stored customer id, lookup by email, create.
// Each step's upstream failure surfaces as ErrPaymentsProvider.
func (s *Service) ResolveCustomer(ctx context.Context, user *models.User) (*payments.Customer, error) {
	// Step 1: stored customer id.
	if user.PaymentsCustomerID != "" {
		customer, err := s.client.GetCustomer(ctx, user.PaymentsCustomerID)
		if err == nil {
			return customer, nil
		}
		var provErr *payments.Error
		if errors.As(err, &provErr) && provErr.StatusCode == 404 {
			// Stored id is stale; fall through to lookup by email.
			log.Printf("billing: stored customer %s for user %d no longer exists", user.PaymentsCustomerID, user.ID)
		} else {
			return nil, fmt.Errorf("%w: %v", ErrPaymentsProvider, err)
		}
	}

	// Step 2: lookup by email.
	if user.Email != "" {
		customer, err := s.client.FindCustomerByEmail(ctx, user.Email)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPaymentsProvider, err)
		}
		if customer != nil {
			if err := s.repo.SetUserCustomerID(user.ID, customer.ID); err != nil {
				return nil, err
			}
			user.PaymentsCustomerID = customer.ID
			return customer, nil
		}
	}

	// Step 3: create.
	customer, err := s.client.CreateCustomer(ctx, user.Email, user.Name, user.IdentitySubject)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentsProvider, err)
	}
	if err := s.repo.SetUserCustomerID(user.ID, customer.ID); err != nil {
		return nil, err
	}
	user.PaymentsCustomerID = customer.ID
	return customer, nil
}

// CreateCheckout creates a hosted checkout session and returns the redirect
// URL. Plan, interval and seat count travel in session metadata so webhook
// reconciliation can correlate them later.
func (s *Service) CreateCheckout(ctx context.Context, user *models.User, req CheckoutRequest) (string, error) {
	plan := normalizePlan(req.Plan)
	interval := normalizeInterval(req.BillingInterval)
	seats := req.Seats
	if seats < 1 {
		seats = 1
	}

	priceRef := PriceRef(plan, interval)
	if priceRef == "" {
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownPlan, plan, interval)
	}

	customer, err := s.ResolveCustomer(ctx, user)
	if err != nil {
		return "", err
	}

	metadata := map[string]string{
		"identity_subject": user.IdentitySubject,
		"plan":             plan,
		"billing_interval": interval,
		"seats":            strconv.Itoa(seats),
	}
	if req.OrgExternalID != "" {
		metadata["org_external_id"] = req.OrgExternalID
	}

	session, err := s.client.CreateCheckoutSession(ctx, payments.CheckoutParams{
		CustomerID:     customer.ID,
		PriceRef:       priceRef,
		Quantity:       seats,
		Currency:       req.Currency,
		SuccessURL:     checkoutURL(req.SuccessURL, "SUCCESS"),
		CancelURL:      checkoutURL(req.CancelURL, "CANCEL"),
		IdempotencyKey: checkoutIdempotencyKey(user.IdentitySubject, plan, interval),
		Metadata:       metadata,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPaymentsProvider, err)
	}
	return session.URL, nil
}

// CreatePortal creates a hosted billing-portal session for the user's
// existing customer.
func (s *Service) CreatePortal(ctx context.Context, user *models.User) (string, error) {
	if user.PaymentsCustomerID == "" {
		return "", gorm.ErrRecordNotFound
	}
	returnURL := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/") + "/account"
	session, err := s.client.CreatePortalSession(ctx, user.PaymentsCustomerID, returnURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPaymentsProvider, err)
	}
	return session.URL, nil
}

// RecordWebhookEvent persists webhook payloads idempotently. The second
// delivery of the same provider event id reports created=false and must not
// reach business logic.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.WebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

// ProcessEvent dispatches a parsed payments event to its reconciler.
func (s *Service) ProcessEvent(ctx context.Context, ev *payments.Event) error {
	switch ev.Type {
	case payments.EventCheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, ev)
	case payments.EventSubscriptionCreated, payments.EventSubscriptionUpdated:
		return s.handleSubscriptionUpdated(ctx, ev)
	case payments.EventSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, ev)
	case payments.EventInvoicePaid:
		return s.handleInvoicePaid(ctx, ev)
	case payments.EventInvoiceFailed:
		return s.handleInvoiceFailed(ctx, ev)
	default:
		return nil
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, ev *payments.Event) error {
	checkout := ev.Checkout
	meta := checkout.Metadata
	plan := normalizePlan(meta["plan"])
	interval := normalizeInterval(meta["billing_interval"])
	seats, _ := strconv.Atoi(meta["seats"])
	if seats < 1 {
		seats = 1
	}

	user, err := s.resolveEventOwner(meta["identity_subject"], checkout.CustomerID)
	if err != nil {
		return err
	}

	// Status and period boundaries come from the subscription object; the
	// checkout payload does not carry them. Missing data degrades to an
	// active subscription with open periods.
	status := models.SubscriptionStatusActive
	sub := NormalizedSubscription{
		PaymentsSubscriptionID: checkout.SubscriptionID,
		PaymentsCustomerID:     checkout.CustomerID,
		Plan:                   plan,
		BillingInterval:        interval,
		Seats:                  seats,
		Status:                 status,
	}
	if checkout.SubscriptionID != "" {
		if remote, err := s.client.GetSubscription(ctx, checkout.SubscriptionID); err != nil {
			log.Printf("billing: could not fetch subscription %s after checkout: %v", checkout.SubscriptionID, err)
		} else {
			sub.Status = remote.Status
			if remote.CurrentPeriodStart > 0 {
				t := unixTime(remote.CurrentPeriodStart)
				sub.CurrentPeriodStart = &t
			}
			if remote.CurrentPeriodEnd > 0 {
				t := unixTime(remote.CurrentPeriodEnd)
				sub.CurrentPeriodEnd = &t
			}
		}
	}

	if orgExternalID := meta["org_external_id"]; orgExternalID != "" {
		return s.applyOrgSubscription(orgExternalID, sub)
	}

	if err := s.applyUserSubscription(user, sub); err != nil {
		return err
	}

	// Initial credit grant: flat per-seat multiplier, trialing starts with
	// the partial trial allotment.
	rate := CreditRatePerSeat(interval)
	amount := rate * int64(seats)
	if sub.Status == models.SubscriptionStatusTrialing {
		amount = TrialGrantPerSeat * int64(seats)
	}
	return s.grantOnce(ctx, user.IdentitySubject, amount,
		fmt.Sprintf("Initial %s plan credits (%s)", plan, interval), "evt:"+ev.ID)
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, ev *payments.Event) error {
	update := ev.Subscription

	// Org subscriptions are recognized by an existing org row or metadata.
	if orgExternalID := update.Metadata["org_external_id"]; orgExternalID != "" {
		return s.applyOrgSubscription(orgExternalID, normalizedFromEvent(update))
	}
	if _, err := s.repo.GetOrgSubscriptionByProviderID(update.SubscriptionID); err == nil {
		sub := normalizedFromEvent(update)
		return s.applyOrgSubscriptionExisting(update.SubscriptionID, sub)
	}

	user, err := s.resolveEventOwner(update.Metadata["identity_subject"], update.CustomerID)
	if err != nil {
		return err
	}

	sub := normalizedFromEvent(update)
	if err := s.applyUserSubscription(user, sub); err != nil {
		return err
	}

	// Trial-to-paid transition: top up to the full allotment. The trial
	// grant was TrialGrantPerSeat per seat; the difference completes it.
	if update.PreviousStatus == models.SubscriptionStatusTrialing &&
		update.Status == models.SubscriptionStatusActive {
		seats := sub.Seats
		if seats < 1 {
			seats = 1
		}
		topUp := (CreditRatePerSeat(sub.BillingInterval) - TrialGrantPerSeat) * int64(seats)
		if topUp > 0 {
			return s.grantOnce(ctx, user.IdentitySubject, topUp,
				"Trial conversion credit top-up", "evt:"+ev.ID)
		}
	}
	return nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, ev *payments.Event) error {
	_ = ctx
	deleted := ev.Subscription

	if orgSub, err := s.repo.GetOrgSubscriptionByProviderID(deleted.SubscriptionID); err == nil {
		orgSub.Status = models.SubscriptionStatusCanceled
		if err := s.repo.UpsertOrgSubscription(orgSub); err != nil {
			return err
		}
		return s.repo.SetOrgPlan(orgSub.OrgID, models.PlanStarter)
	}

	sub, err := s.repo.GetSubscriptionByProviderID(deleted.SubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Nothing local to cancel; acknowledge.
			return nil
		}
		return err
	}

	if err := s.repo.SetSubscriptionStatus(deleted.SubscriptionID, models.SubscriptionStatusCanceled); err != nil {
		return err
	}
	// Downgrade to the base tier. Unused credits are not clawed back.
	return s.repo.SetUserPlan(sub.UserID, models.PlanStarter)
}

func (s *Service) handleInvoicePaid(ctx context.Context, ev *payments.Event) error {
	invoice := ev.Invoice
	if invoice.SubscriptionID == "" || invoice.BillingReason != "subscription_cycle" {
		// Initial invoices are covered by the checkout grant.
		return nil
	}

	sub, err := s.repo.GetSubscriptionByProviderID(invoice.SubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Org pools renew through seat accounting, not invoices.
			return nil
		}
		return err
	}

	user, err := s.repo.GetUserByCustomerID(invoice.CustomerID)
	if err != nil {
		return err
	}

	seats := sub.Seats
	if seats < 1 {
		seats = 1
	}
	amount := CreditRatePerSeat(sub.BillingInterval) * int64(seats)
	return s.grantOnce(ctx, user.IdentitySubject, amount,
		fmt.Sprintf("Renewal credits (%s)", sub.BillingInterval), "evt:"+ev.ID)
}

func (s *Service) handleInvoiceFailed(ctx context.Context, ev *payments.Event) error {
	_ = ctx
	invoice := ev.Invoice
	if invoice.SubscriptionID == "" {
		return nil
	}
	// Mark past_due only; access is not suspended.
	if orgSub, err := s.repo.GetOrgSubscriptionByProviderID(invoice.SubscriptionID); err == nil {
		orgSub.Status = models.SubscriptionStatusPastDue
		return s.repo.UpsertOrgSubscription(orgSub)
	}
	return s.repo.SetSubscriptionStatus(invoice.SubscriptionID, models.SubscriptionStatusPastDue)
}

// grantOnce applies a credit grant at most once per reference id. The
// webhook-event table already blocks duplicate event ids; this second check
// covers manual replays that bypass it.
func (s *Service) grantOnce(ctx context.Context, subject string, amount int64, description, referenceID string) error {
	if amount <= 0 {
		return nil
	}
	applied, err := s.ledger.HasReference(ctx, referenceID)
	if err != nil {
		return err
	}
	if applied {
		log.Printf("billing: grant %s already applied, skipping", referenceID)
		return nil
	}
	_, err = s.ledger.Grant(ctx, subject, amount, models.CreditTxGrant, description, referenceID)
	return err
}

func (s *Service) applyUserSubscription(user *models.User, in NormalizedSubscription) error {
	sub := &models.Subscription{
		UserID:                 user.ID,
		PaymentsSubscriptionID: in.PaymentsSubscriptionID,
		PaymentsPriceRef:       in.PriceRef,
		Plan:                   in.Plan,
		BillingInterval:        in.BillingInterval,
		Seats:                  in.Seats,
		Status:                 in.Status,
		CurrentPeriodStart:     in.CurrentPeriodStart,
		CurrentPeriodEnd:       in.CurrentPeriodEnd,
		CancelAtPeriodEnd:      in.CancelAtPeriodEnd,
		RawPayloadJSON:         in.RawPayloadJSON,
	}
	if err := s.repo.UpsertSubscription(sub); err != nil {
		return err
	}
	if isEntitlingStatus(in.Status) && planRank(in.Plan) > 0 {
		return s.repo.SetUserPlan(user.ID, in.Plan)
	}
	return nil
}

func (s *Service) applyOrgSubscription(orgExternalID string, in NormalizedSubscription) error {
	org, err := s.repo.GetOrgByExternalID(orgExternalID)
	if err != nil {
		return fmt.Errorf("org %s not synchronized yet: %w", orgExternalID, err)
	}
	if in.PaymentsCustomerID != "" && in.PaymentsCustomerID != org.PaymentsCustomerID {
		if err := s.repo.SetOrgCustomerID(org.ID, in.PaymentsCustomerID); err != nil {
			return err
		}
	}
	sub := &models.OrganizationSubscription{
		OrgID:                  org.ID,
		PaymentsSubscriptionID: in.PaymentsSubscriptionID,
		PaymentsPriceRef:       in.PriceRef,
		Plan:                   in.Plan,
		BillingInterval:        in.BillingInterval,
		SeatsTotal:             in.Seats,
		Status:                 in.Status,
		CurrentPeriodStart:     in.CurrentPeriodStart,
		CurrentPeriodEnd:       in.CurrentPeriodEnd,
		CancelAtPeriodEnd:      in.CancelAtPeriodEnd,
		RawPayloadJSON:         in.RawPayloadJSON,
	}
	if err := s.repo.UpsertOrgSubscription(sub); err != nil {
		return err
	}
	if isEntitlingStatus(in.Status) && planRank(in.Plan) > 0 {
		return s.repo.SetOrgPlan(org.ID, in.Plan)
	}
	return nil
}

func (s *Service) applyOrgSubscriptionExisting(providerSubscriptionID string, in NormalizedSubscription) error {
	existing, err := s.repo.GetOrgSubscriptionByProviderID(providerSubscriptionID)
	if err != nil {
		return err
	}
	existing.PaymentsPriceRef = in.PriceRef
	existing.Status = in.Status
	existing.SeatsTotal = in.Seats
	existing.BillingInterval = in.BillingInterval
	existing.CurrentPeriodStart = in.CurrentPeriodStart
	existing.CurrentPeriodEnd = in.CurrentPeriodEnd
	existing.CancelAtPeriodEnd = in.CancelAtPeriodEnd
	return s.repo.UpsertOrgSubscription(existing)
}

// resolveEventOwner finds the local user for a webhook event, preferring
// the identity subject carried in metadata over the customer id.
func (s *Service) resolveEventOwner(subject, customerID string) (*models.User, error) {
	if subject != "" {
		user, err := s.repo.GetUserBySubject(subject)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if customerID != "" {
		return s.repo.GetUserByCustomerID(customerID)
	}
	return nil, gorm.ErrRecordNotFound
}

func normalizedFromEvent(update *payments.SubscriptionEvent) NormalizedSubscription {
	plan := normalizePlan(update.Metadata["plan"])
	interval := normalizeInterval(update.Metadata["billing_interval"])
	if plan == models.PlanStarter {
		if mapped, mappedInterval, ok := PlanForPriceRef(update.PriceRef); ok {
			plan = mapped
			interval = mappedInterval
		}
	}
	seats := update.Quantity
	if seats < 1 {
		seats = 1
	}
	return NormalizedSubscription{
		PaymentsSubscriptionID: update.SubscriptionID,
		PaymentsCustomerID:     update.CustomerID,
		PriceRef:               update.PriceRef,
		Plan:                   plan,
		BillingInterval:        interval,
		Seats:                  seats,
		Status:                 strings.ToLower(strings.TrimSpace(update.Status)),
		CurrentPeriodStart:     update.CurrentPeriodStart,
		CurrentPeriodEnd:       update.CurrentPeriodEnd,
		CancelAtPeriodEnd:      update.CancelAtPeriodEnd,
	}
}

func checkoutURL(explicit, kind string) string {
	if explicit != "" {
		return explicit
	}
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	if kind == "SUCCESS" {
		return base + "/checkout/success?session_id={CHECKOUT_SESSION_ID}"
	}
	return base + "/pricing"
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func checkoutIdempotencyKey(subject, plan, interval string) string {
	sum := sha256.Sum256([]byte(subject + "|" + plan + "|" + interval))
	return "checkout-" + hex.EncodeToString(sum[:16])
}
