package stores

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shopraq/shopraq-backend/api/responses"
	"github.com/shopraq/shopraq-backend/api/validators"
	subscriptionsvc "github.com/shopraq/shopraq-backend/internal/subscriptions"
	"github.com/shopraq/shopraq-backend/pkg/db/models"
	"github.com/shopraq/shopraq-backend/pkg/enums"
	pkgerrors "github.com/shopraq/shopraq-backend/pkg/errors"
	"github.com/shopraq/shopraq-backend/pkg/logger"
)

// SubscriptionService describes the lifecycle methods used by the store
// subscription controllers.
type SubscriptionService interface {
	ProvisionStore(ctx context.Context, input subscriptionsvc.ProvisionStoreInput) (*models.Store, error)
	Status(ctx context.Context, storeID uuid.UUID) (*models.Store, subscriptionsvc.State, error)
	Cancel(ctx context.Context, storeID uuid.UUID, performedBy *uuid.UUID) error
	ExtendTrial(ctx context.Context, storeID uuid.UUID, days int, performedBy *uuid.UUID) (*time.Time, error)
	SetAutoRenew(ctx context.Context, storeID uuid.UUID, enabled bool, performedBy *uuid.UUID) error
	Reactivate(ctx context.Context, storeID uuid.UUID, performedBy *uuid.UUID) error
	History(ctx context.Context, storeID uuid.UUID, limit, offset int) ([]models.SubscriptionHistory, int64, error)
}

type subscriptionStatusResponse struct {
	StoreID       string  `json:"store_id"`
	StoreStatus   string  `json:"store_status"`
	Phase         string  `json:"phase"`
	IsActive      bool    `json:"is_active"`
	IsSubscribed  bool    `json:"is_subscribed"`
	AutoRenew     bool    `json:"auto_renew"`
	DaysRemaining int     `json:"days_remaining"`
	PlanID        *string `json:"plan_id,omitempty"`
	PlanType      *string `json:"plan_type,omitempty"`
	Amount        string  `json:"amount"`
	Currency      string  `json:"currency"`
	StartDate     *string `json:"start_date,omitempty"`
	EndDate       *string `json:"end_date,omitempty"`
	TrialEndDate  *string `json:"trial_end_date,omitempty"`
	NextPayment   *string `json:"next_payment_date,omitempty"`
}

type historyEntryResponse struct {
	ID          string          `json:"id"`
	Action      string          `json:"action"`
	Description string          `json:"description"`
	Details     json.RawMessage `json:"details,omitempty"`
	PerformedBy *string         `json:"performed_by,omitempty"`
	PerformedAt string          `json:"performed_at"`
}

type historyListResponse struct {
	Entries []historyEntryResponse `json:"entries"`
	Total   int64                  `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// SubscriptionStatus returns the store's derived lifecycle state. The phase
// is computed at request time, never read from a column.
func SubscriptionStatus(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		storeID, err := storeIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		store, state, err := svc.Status(ctx, storeID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, statusToResponse(store, state))
	}
}

// SubscriptionHistory lists the store's audit trail, newest first.
func SubscriptionHistory(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		storeID, err := storeIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 1_000_000)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		entries, total, err := svc.History(ctx, storeID, limit, offset)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		items := make([]historyEntryResponse, 0, len(entries))
		for i := range entries {
			items = append(items, historyToResponse(&entries[i]))
		}
		responses.WriteSuccess(w, historyListResponse{
			Entries: items,
			Total:   total,
			Limit:   limit,
			Offset:  offset,
		})
	}
}

type performedByRequest struct {
	PerformedBy *string `json:"performed_by,omitempty" validate:"omitempty,uuid4"`
}

// SubscriptionCancel ends the subscription now: the store goes inactive and
// auto-renew is switched off.
func SubscriptionCancel(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		storeID, err := storeIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		performedBy, err := decodePerformedBy(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.Cancel(ctx, storeID, performedBy); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "cancelled"})
	}
}

// AutoRenewEnable turns automatic renewal back on. Requires a stored card
// authorization from a previous successful payment.
func AutoRenewEnable(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return setAutoRenew(svc, logg, true)
}

// AutoRenewDisable turns automatic renewal off.
func AutoRenewDisable(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return setAutoRenew(svc, logg, false)
}

func setAutoRenew(svc SubscriptionService, logg *logger.Logger, enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		storeID, err := storeIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		performedBy, err := decodePerformedBy(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.SetAutoRenew(ctx, storeID, enabled, performedBy); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"auto_renew": enabled})
	}
}

type createStoreRequest struct {
	CompanyName string  `json:"company_name" validate:"required"`
	Email       *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone       *string `json:"phone,omitempty"`
}

type createStoreResponse struct {
	StoreID      string  `json:"store_id"`
	Status       string  `json:"status"`
	TrialEndDate *string `json:"trial_end_date,omitempty"`
}

// AdminCreateStore provisions a tenant. The trial window is stamped once here
// and later payments never reset it.
func AdminCreateStore(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var payload createStoreRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		store, err := svc.ProvisionStore(ctx, subscriptionsvc.ProvisionStoreInput{
			CompanyName: payload.CompanyName,
			Email:       payload.Email,
			Phone:       payload.Phone,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, createStoreResponse{
			StoreID:      store.ID.String(),
			Status:       string(store.Status),
			TrialEndDate: formatTimePtr(store.Subscription.TrialEndDate),
		})
	}
}

type extendTrialRequest struct {
	Days        int     `json:"days" validate:"required,min=1,max=365"`
	PerformedBy *string `json:"performed_by,omitempty" validate:"omitempty,uuid4"`
}

// AdminExtendTrial pushes the trial end date forward by the given days.
func AdminExtendTrial(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		storeID, err := storeIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload extendTrialRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		performedBy, err := optionalUUID(payload.PerformedBy)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "performed_by must be a valid uuid"))
			return
		}

		newEnd, err := svc.ExtendTrial(ctx, storeID, payload.Days, performedBy)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{
			"trial_end_date": newEnd.UTC().Format(time.RFC3339),
		})
	}
}

// AdminReactivate restores an inactive store without a payment.
func AdminReactivate(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		storeID, err := storeIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		performedBy, err := decodePerformedBy(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.Reactivate(ctx, storeID, performedBy); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": string(enums.StoreStatusActive)})
	}
}

func statusToResponse(store *models.Store, state subscriptionsvc.State) subscriptionStatusResponse {
	sub := store.Subscription
	resp := subscriptionStatusResponse{
		StoreID:       store.ID.String(),
		StoreStatus:   string(store.Status),
		Phase:         string(state.Phase),
		IsActive:      state.IsActive(),
		IsSubscribed:  sub.IsSubscribed,
		AutoRenew:     sub.AutoRenew,
		DaysRemaining: state.DaysRemaining(time.Now().UTC()),
		Amount:        sub.Amount.StringFixed(2),
		Currency:      sub.Currency,
		StartDate:     formatTimePtr(sub.StartDate),
		EndDate:       formatTimePtr(sub.EndDate),
		TrialEndDate:  formatTimePtr(sub.TrialEndDate),
		NextPayment:   formatTimePtr(sub.NextPaymentDate),
	}
	if sub.PlanID != nil {
		id := sub.PlanID.String()
		resp.PlanID = &id
	}
	if sub.PlanType != nil {
		planType := string(*sub.PlanType)
		resp.PlanType = &planType
	}
	return resp
}

func historyToResponse(entry *models.SubscriptionHistory) historyEntryResponse {
	resp := historyEntryResponse{
		ID:          entry.ID.String(),
		Action:      string(entry.Action),
		Description: entry.Description,
		Details:     entry.Details,
		PerformedAt: entry.PerformedAt.UTC().Format(time.RFC3339),
	}
	if entry.PerformedBy != nil {
		id := entry.PerformedBy.String()
		resp.PerformedBy = &id
	}
	return resp
}

// decodePerformedBy reads an optional performed_by body. An empty body is
// allowed: these endpoints are callable without any payload.
func decodePerformedBy(r *http.Request) (*uuid.UUID, error) {
	if r.Body == nil || r.ContentLength == 0 {
		return nil, nil
	}
	var payload performedByRequest
	if err := validators.DecodeJSONBody(r, &payload); err != nil {
		return nil, err
	}
	id, err := optionalUUID(payload.PerformedBy)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "performed_by must be a valid uuid")
	}
	return id, nil
}

func storeIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "storeId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "store id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "store id must be a valid uuid")
	}
	return id, nil
}

func optionalUUID(raw *string) (*uuid.UUID, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	id, err := uuid.Parse(strings.TrimSpace(*raw))
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.UTC().Format(time.RFC3339)
	return &formatted
}
