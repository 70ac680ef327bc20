package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shopraq/shopraq-backend/pkg/db/models"
	"github.com/shopraq/shopraq-backend/pkg/enums"
)

// Repository handles pending payment persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.PendingPayment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PendingPayment, error)
	FindByReference(ctx context.Context, reference string) (*models.PendingPayment, error)
	ListByStore(ctx context.Context, storeID uuid.UUID, limit int) ([]models.PendingPayment, error)
	ListPollable(ctx context.Context, now time.Time, maxAttempts, limit int) ([]models.PendingPayment, error)
	CountPollable(ctx context.Context, now time.Time, maxAttempts int) (int64, error)
	SetStatus(ctx context.Context, id uuid.UUID, from, to enums.PendingPaymentStatus) (bool, error)
	IncrementCheckAttempts(ctx context.Context, id uuid.UUID, now time.Time) error
	MarkCompleted(ctx context.Context, id uuid.UUID, source enums.ActivationSource, now time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, now time.Time) error
	RecordError(ctx context.Context, id uuid.UUID, message string) (int, error)
	MarkExpiredAbandoned(ctx context.Context, now time.Time) (int64, error)
	DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.PendingPayment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PendingPayment, error) {
	var payment models.PendingPayment
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&payment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByReference(ctx context.Context, reference string) (*models.PendingPayment, error) {
	if reference == "" {
		return nil, nil
	}
	var payment models.PendingPayment
	if err := r.db.WithContext(ctx).
		Where("reference = ?", reference).
		First(&payment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) ListByStore(ctx context.Context, storeID uuid.UUID, limit int) ([]models.PendingPayment, error) {
	if limit <= 0 {
		limit = 50
	}
	var payments []models.PendingPayment
	if err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("created_at DESC").
		Limit(limit).
		Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

// ListPollable returns records the reconciliation loop should verify: still
// pending, inside their TTL window, and under the attempt cap. Oldest first so
// no record starves.
func (r *repository) ListPollable(ctx context.Context, now time.Time, maxAttempts, limit int) ([]models.PendingPayment, error) {
	if limit <= 0 {
		limit = 100
	}
	var payments []models.PendingPayment
	if err := r.pollableQuery(ctx, now, maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repository) CountPollable(ctx context.Context, now time.Time, maxAttempts int) (int64, error) {
	var count int64
	if err := r.pollableQuery(ctx, now, maxAttempts).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) pollableQuery(ctx context.Context, now time.Time, maxAttempts int) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.PendingPayment{}).
		Where("status = ?", enums.PendingPaymentStatusPending).
		Where("expires_at > ?", now).
		Where("check_attempts < ?", maxAttempts)
}

// SetStatus transitions only when the record currently holds the expected
// status, so it doubles as the claim primitive (pending -> processing).
func (r *repository) SetStatus(ctx context.Context, id uuid.UUID, from, to enums.PendingPaymentStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.PendingPayment{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) IncrementCheckAttempts(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.PendingPayment{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"check_attempts":  gorm.Expr("check_attempts + 1"),
			"last_checked_at": now,
		}).Error
}

func (r *repository) MarkCompleted(ctx context.Context, id uuid.UUID, source enums.ActivationSource, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.PendingPayment{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":                 enums.PendingPaymentStatusCompleted,
			"completed_at":           now,
			"subscription_activated": true,
			"activated_at":           now,
			"activation_source":      source,
		}).Error
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.PendingPayment{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       enums.PendingPaymentStatusFailed,
			"completed_at": now,
			"last_error":   reason,
			"error_count":  gorm.Expr("error_count + 1"),
		}).Error
}

// RecordError increments the verify-error counter and returns the new count.
func (r *repository) RecordError(ctx context.Context, id uuid.UUID, message string) (int, error) {
	if err := r.db.WithContext(ctx).
		Model(&models.PendingPayment{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"error_count": gorm.Expr("error_count + 1"),
			"last_error":  message,
		}).Error; err != nil {
		return 0, err
	}

	var payment models.PendingPayment
	if err := r.db.WithContext(ctx).
		Select("error_count").
		Where("id = ?", id).
		First(&payment).Error; err != nil {
		return 0, err
	}
	return payment.ErrorCount, nil
}

// MarkExpiredAbandoned moves non-terminal records past their TTL to abandoned.
func (r *repository) MarkExpiredAbandoned(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.PendingPayment{}).
		Where("status IN ?", []enums.PendingPaymentStatus{
			enums.PendingPaymentStatusPending,
			enums.PendingPaymentStatusProcessing,
		}).
		Where("expires_at <= ?", now).
		Update("status", enums.PendingPaymentStatusAbandoned)
	return result.RowsAffected, result.Error
}

// DeleteTerminalOlderThan physically removes settled records past retention.
func (r *repository) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN ?", []enums.PendingPaymentStatus{
			enums.PendingPaymentStatusCompleted,
			enums.PendingPaymentStatusFailed,
			enums.PendingPaymentStatusAbandoned,
			enums.PendingPaymentStatusCancelled,
			enums.PendingPaymentStatusExhausted,
		}).
		Where("updated_at < ?", cutoff).
		Delete(&models.PendingPayment{})
	return result.RowsAffected, result.Error
}
