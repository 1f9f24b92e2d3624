package billing

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quillforge/quillforge/app/models"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	GetUserBySubject(subject string) (*models.User, error)
	GetUserByCustomerID(customerID string) (*models.User, error)
	SetUserCustomerID(userID uint, customerID string) error
	SetUserPlan(userID uint, plan string) error

	UpsertSubscription(sub *models.Subscription) error
	GetSubscriptionByProviderID(providerSubscriptionID string) (*models.Subscription, error)
	SetSubscriptionStatus(providerSubscriptionID, status string) error

	GetOrgByExternalID(externalID string) (*models.Organization, error)
	SetOrgCustomerID(orgID uint, customerID string) error
	SetOrgPlan(orgID uint, plan string) error
	UpsertOrgSubscription(sub *models.OrganizationSubscription) error
	GetOrgSubscriptionByProviderID(providerSubscriptionID string) (*models.OrganizationSubscription, error)

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetUserBySubject(subject string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("identity_subject = ?", subject).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) GetUserByCustomerID(customerID string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("payments_customer_id = ?", customerID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) SetUserCustomerID(userID uint, customerID string) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).
		Update("payments_customer_id", customerID).Error
}

func (r *gormRepository) SetUserPlan(userID uint, plan string) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).
		Update("plan", plan).Error
}

func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "payments_subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"payments_price_ref",
			"plan",
			"billing_interval",
			"seats",
			"status",
			"current_period_start",
			"current_period_end",
			"cancel_at_period_end",
			"raw_payload_json",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("payments_subscription_id = ?", sub.PaymentsSubscriptionID).
		First(sub).Error
}

func (r *gormRepository) GetSubscriptionByProviderID(providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("payments_subscription_id = ?", providerSubscriptionID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) SetSubscriptionStatus(providerSubscriptionID, status string) error {
	return r.db.Model(&models.Subscription{}).
		Where("payments_subscription_id = ?", providerSubscriptionID).
		Update("status", status).Error
}

func (r *gormRepository) GetOrgByExternalID(externalID string) (*models.Organization, error) {
	var org models.Organization
	if err := r.db.Where("external_id = ?", externalID).First(&org).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *gormRepository) SetOrgCustomerID(orgID uint, customerID string) error {
	return r.db.Model(&models.Organization{}).Where("id = ?", orgID).
		Update("payments_customer_id", customerID).Error
}

func (r *gormRepository) SetOrgPlan(orgID uint, plan string) error {
	return r.db.Model(&models.Organization{}).Where("id = ?", orgID).
		Update("plan", plan).Error
}

func (r *gormRepository) UpsertOrgSubscription(sub *models.OrganizationSubscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "payments_subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"org_id",
			"payments_price_ref",
			"plan",
			"billing_interval",
			"seats_total",
			"status",
			"current_period_start",
			"current_period_end",
			"cancel_at_period_end",
			"raw_payload_json",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	return r.db.Where("payments_subscription_id = ?", sub.PaymentsSubscriptionID).
		First(sub).Error
}

func (r *gormRepository) GetOrgSubscriptionByProviderID(providerSubscriptionID string) (*models.OrganizationSubscription, error) {
	var sub models.OrganizationSubscription
	if err := r.db.Where("payments_subscription_id = ?", providerSubscriptionID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
