package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/shopraq/shopraq-backend/pkg/enums"
)

// SubscriptionPlan defines a purchasable plan. Once a plan has been referenced
// by an activated subscription it only changes through explicit admin edits.
type SubscriptionPlan struct {
	ID           uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name         string          `gorm:"column:name;not null"`
	Type         enums.PlanType  `gorm:"column:type;type:plan_type;not null"`
	DurationDays int             `gorm:"column:duration_days;not null"`
	Price        decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Currency     string          `gorm:"column:currency;not null;default:'ILS'"`
	Features     pq.StringArray  `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	IsActive     bool            `gorm:"column:is_active;not null;default:true"`
	IsPopular    bool            `gorm:"column:is_popular;not null;default:false"`
	MaxProducts  int             `gorm:"column:max_products;not null;default:-1"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// Unlimited reports whether the product cap is disabled (-1 convention).
func (p *SubscriptionPlan) Unlimited() bool {
	return p.MaxProducts < 0
}
