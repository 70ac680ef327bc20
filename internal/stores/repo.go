package stores

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shopraq/shopraq-backend/pkg/db/models"
	"github.com/shopraq/shopraq-backend/pkg/enums"
)

// Repository handles store persistence, including the embedded subscription
// columns.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, store *models.Store) error
	Update(ctx context.Context, store *models.Store) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Store, error)
	ActivateSubscription(ctx context.Context, storeID uuid.UUID, reference string, fields models.StoreSubscription) (bool, error)
	UpdateSubscriptionFields(ctx context.Context, storeID uuid.UUID, updates map[string]any) error
	SetStatus(ctx context.Context, storeID uuid.UUID, from, to enums.StoreStatus) (bool, error)
	ListExpiredForDeactivation(ctx context.Context, now time.Time, limit int) ([]models.Store, error)
	ListDueForRenewal(ctx context.Context, now time.Time, limit int) ([]models.Store, error)
	ListExpiringSoon(ctx context.Context, now time.Time, window time.Duration, limit int) ([]models.Store, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a store repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, store *models.Store) error {
	return r.db.WithContext(ctx).Create(store).Error
}

func (r *repository) Update(ctx context.Context, store *models.Store) error {
	return r.db.WithContext(ctx).Save(store).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Store, error) {
	var store models.Store
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&store).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &store, nil
}

// ActivateSubscription applies the subscription fields in a single conditional
// UPDATE keyed on the payment reference. The WHERE guard makes activation
// at-most-once per reference under concurrent webhook/polling delivery: a
// second caller matches zero rows. Returns whether this call won the update.
func (r *repository) ActivateSubscription(ctx context.Context, storeID uuid.UUID, reference string, fields models.StoreSubscription) (bool, error) {
	updates := map[string]any{
		"subscription_is_subscribed":     true,
		"subscription_plan_id":           fields.PlanID,
		"subscription_plan_type":         fields.PlanType,
		"subscription_start_date":        fields.StartDate,
		"subscription_end_date":          fields.EndDate,
		"subscription_last_payment_date": fields.LastPaymentDate,
		"subscription_next_payment_date": fields.NextPaymentDate,
		"subscription_reference_id":      reference,
		"subscription_amount":            fields.Amount,
		"subscription_currency":          fields.Currency,
		"status":                         enums.StoreStatusActive,
	}
	if fields.AuthorizationCode != nil {
		updates["subscription_authorization_code"] = fields.AuthorizationCode
	}

	result := r.db.WithContext(ctx).
		Model(&models.Store{}).
		Where("id = ?", storeID).
		Where("subscription_reference_id IS DISTINCT FROM ?", reference).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) UpdateSubscriptionFields(ctx context.Context, storeID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Store{}).
		Where("id = ?", storeID).
		Updates(updates).Error
}

// SetStatus transitions the store status only when it currently holds the
// expected value, so repeated sweeps do not record duplicate transitions.
func (r *repository) SetStatus(ctx context.Context, storeID uuid.UUID, from, to enums.StoreStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Store{}).
		Where("id = ? AND status = ?", storeID, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ListExpiredForDeactivation(ctx context.Context, now time.Time, limit int) ([]models.Store, error) {
	if limit <= 0 {
		limit = 250
	}
	var stores []models.Store
	query := r.db.WithContext(ctx).
		Model(&models.Store{}).
		Where("status = ?", enums.StoreStatusActive).
		Where(
			r.db.Where("subscription_is_subscribed = ? AND subscription_end_date IS NOT NULL AND subscription_end_date < ?", true, now).
				Or("subscription_is_subscribed = ? AND subscription_trial_end_date IS NOT NULL AND subscription_trial_end_date < ?", false, now),
		).
		Order("updated_at ASC").
		Limit(limit)
	if err := query.Find(&stores).Error; err != nil {
		return nil, err
	}
	return stores, nil
}

// ListDueForRenewal returns lapsed auto-renew stores that can be charged: the
// subscribed flag is off (the expiry sweep or a period close cleared it), the
// trial is over, and a stored authorization plus contact email exist. Store
// status is not filtered; a lapsed store is usually inactive by the time the
// charge runs, and the activation path restores it.
func (r *repository) ListDueForRenewal(ctx context.Context, now time.Time, limit int) ([]models.Store, error) {
	if limit <= 0 {
		limit = 250
	}
	var stores []models.Store
	query := r.db.WithContext(ctx).
		Model(&models.Store{}).
		Where("subscription_auto_renew = ?", true).
		Where("subscription_is_subscribed = ?", false).
		Where("(subscription_trial_end_date IS NULL OR subscription_trial_end_date <= ?)", now).
		Where("subscription_authorization_code IS NOT NULL").
		Where("email IS NOT NULL").
		Order("subscription_next_payment_date ASC").
		Limit(limit)
	if err := query.Find(&stores).Error; err != nil {
		return nil, err
	}
	return stores, nil
}

func (r *repository) ListExpiringSoon(ctx context.Context, now time.Time, window time.Duration, limit int) ([]models.Store, error) {
	if limit <= 0 {
		limit = 250
	}
	cutoff := now.Add(window)
	var stores []models.Store
	query := r.db.WithContext(ctx).
		Model(&models.Store{}).
		Where("status = ?", enums.StoreStatusActive).
		Where("subscription_is_subscribed = ?", true).
		Where("subscription_auto_renew = ?", false).
		Where("subscription_end_date IS NOT NULL AND subscription_end_date BETWEEN ? AND ?", now, cutoff).
		Order("subscription_end_date ASC").
		Limit(limit)
	if err := query.Find(&stores).Error; err != nil {
		return nil, err
	}
	return stores, nil
}
