package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shopraq/shopraq-backend/pkg/enums"
)

// StoreSubscription is the embedded subscription state carried on every store.
// The current lifecycle phase (trial/active/expired) is never stored; it is
// derived from these fields against the current time.
type StoreSubscription struct {
	IsSubscribed      bool            `gorm:"not null;default:false"`
	PlanID            *uuid.UUID      `gorm:"type:uuid"`
	PlanType          *enums.PlanType `gorm:"type:plan_type"`
	StartDate         *time.Time
	EndDate           *time.Time
	TrialEndDate      *time.Time
	LastPaymentDate   *time.Time
	NextPaymentDate   *time.Time
	AutoRenew         bool            `gorm:"not null;default:false"`
	ReferenceID       *string
	Amount            decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	Currency          string          `gorm:"not null;default:'ILS'"`
	AuthorizationCode *string
}

// Store represents the canonical tenant model.
type Store struct {
	ID               uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CompanyName      string            `gorm:"column:company_name;not null"`
	Email            *string           `gorm:"column:email"`
	Phone            *string           `gorm:"column:phone"`
	Status           enums.StoreStatus `gorm:"column:status;type:store_status;not null;default:'active'"`
	GatewaySecretKey *string           `gorm:"column:gateway_secret_key"`
	Subscription     StoreSubscription `gorm:"embedded;embeddedPrefix:subscription_"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
