package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shopraq/shopraq-backend/pkg/enums"
)

// PendingPayment is the durable ledger record for one initiated gateway
// transaction. Its lifecycle is independent of the Store row; the gateway
// reference is the global idempotency key for activation.
type PendingPayment struct {
	ID                    uuid.UUID                  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	StoreID               uuid.UUID                  `gorm:"column:store_id;type:uuid;not null;index"`
	Reference             string                     `gorm:"column:reference;not null;uniqueIndex"`
	PlanID                uuid.UUID                  `gorm:"column:plan_id;type:uuid;not null"`
	Amount                decimal.Decimal            `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency              string                     `gorm:"column:currency;not null"`
	Status                enums.PendingPaymentStatus `gorm:"column:status;type:pending_payment_status;not null;default:'pending';index"`
	CheckAttempts         int                        `gorm:"column:check_attempts;not null;default:0"`
	LastCheckedAt         *time.Time                 `gorm:"column:last_checked_at"`
	CompletedAt           *time.Time                 `gorm:"column:completed_at"`
	SubscriptionActivated bool                       `gorm:"column:subscription_activated;not null;default:false"`
	ActivatedAt           *time.Time                 `gorm:"column:activated_at"`
	ActivationSource      *enums.ActivationSource    `gorm:"column:activation_source;type:activation_source"`
	LastError             *string                    `gorm:"column:last_error"`
	ErrorCount            int                        `gorm:"column:error_count;not null;default:0"`
	CustomerEmail         *string                    `gorm:"column:customer_email"`
	CustomerName          *string                    `gorm:"column:customer_name"`
	CustomerPhone         *string                    `gorm:"column:customer_phone"`
	ExpiresAt             time.Time                  `gorm:"column:expires_at;not null;index"`
	CreatedAt             time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}
