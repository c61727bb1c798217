package billing

import (
	"context"
	"time"

	"github.com/ManuelReschke/SaaSBase/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service.
// Lookups return gorm.ErrRecordNotFound when no row matches.
type Repository interface {
	LatestSubscriptionByOwner(ctx context.Context, ownerID string) (*models.UserSubscription, error)
	FindSubscriptionByExternalID(ctx context.Context, subscriptionID string) (*models.UserSubscription, error)
	CreateSubscription(ctx context.Context, sub *models.UserSubscription) error
	UpsertSubscription(ctx context.Context, sub *models.UserSubscription) error
	SaveSubscription(ctx context.Context, sub *models.UserSubscription) error
	ListStaleSubscriptions(ctx context.Context, updatedBefore time.Time, limit int) ([]models.UserSubscription, error)
	ListRecentSubscriptions(ctx context.Context, limit int) ([]models.UserSubscription, error)
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, outcome, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) LatestSubscriptionByOwner(ctx context.Context, ownerID string) (*models.UserSubscription, error) {
	var sub models.UserSubscription
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindSubscriptionByExternalID(ctx context.Context, subscriptionID string) (*models.UserSubscription, error) {
	var sub models.UserSubscription
	if err := r.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) CreateSubscription(ctx context.Context, sub *models.UserSubscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *gormRepository) UpsertSubscription(ctx context.Context, sub *models.UserSubscription) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"owner_id",
			"product_id",
			"status",
			"tier",
			"current_period_start",
			"current_period_end",
			"canceled_at",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID and created_at reflect the stored row after upsert.
	return db.Where("subscription_id = ?", sub.ExternalID()).First(sub).Error
}

func (r *gormRepository) SaveSubscription(ctx context.Context, sub *models.UserSubscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

// ListStaleSubscriptions returns provider-backed rows not touched since
// updatedBefore, oldest first. Canceled and expired rows are included so a
// missed uncancel can still be repaired.
func (r *gormRepository) ListStaleSubscriptions(ctx context.Context, updatedBefore time.Time, limit int) ([]models.UserSubscription, error) {
	var subs []models.UserSubscription
	err := r.db.WithContext(ctx).
		Where("subscription_id IS NOT NULL AND updated_at < ?", updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) ListRecentSubscriptions(ctx context.Context, limit int) ([]models.UserSubscription, error) {
	var subs []models.UserSubscription
	err := r.db.WithContext(ctx).
		Where("subscription_id IS NOT NULL").
		Order("updated_at DESC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
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
	var stored models.BillingWebhookEvent
	if err := db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, outcome, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"outcome":          outcome,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
