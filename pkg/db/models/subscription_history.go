package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/shopraq/shopraq-backend/pkg/enums"
)

// SubscriptionHistory is an append-only audit row. Entries are never read by
// decision logic, only by reporting endpoints, and are only deleted with the
// store itself.
type SubscriptionHistory struct {
	ID          uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	StoreID     uuid.UUID           `gorm:"column:store_id;type:uuid;not null;index"`
	Action      enums.HistoryAction `gorm:"column:action;not null"`
	Description string              `gorm:"column:description;not null"`
	Details     json.RawMessage     `gorm:"column:details;type:jsonb"`
	PerformedBy *uuid.UUID          `gorm:"column:performed_by;type:uuid"` // nil means system-initiated
	PerformedAt time.Time           `gorm:"column:performed_at;not null"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
}
