package plans

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shopraq/shopraq-backend/api/responses"
	"github.com/shopraq/shopraq-backend/api/validators"
	planssvc "github.com/shopraq/shopraq-backend/internal/plans"
	"github.com/shopraq/shopraq-backend/pkg/db/models"
	"github.com/shopraq/shopraq-backend/pkg/enums"
	pkgerrors "github.com/shopraq/shopraq-backend/pkg/errors"
	"github.com/shopraq/shopraq-backend/pkg/logger"
)

// PlanService describes the catalog methods used by the HTTP controllers.
type PlanService interface {
	Create(ctx context.Context, input planssvc.CreatePlanInput) (*models.SubscriptionPlan, error)
	Update(ctx context.Context, id uuid.UUID, input planssvc.UpdatePlanInput) (*models.SubscriptionPlan, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error)
	List(ctx context.Context, activeOnly bool) ([]models.SubscriptionPlan, error)
}

type planResponse struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	DurationDays int      `json:"duration_days"`
	Price        string   `json:"price"`
	Currency     string   `json:"currency"`
	Features     []string `json:"features"`
	IsActive     bool     `json:"is_active"`
	IsPopular    bool     `json:"is_popular"`
	MaxProducts  int      `json:"max_products"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

type planListResponse struct {
	Plans []planResponse `json:"plans"`
}

type planCreateRequest struct {
	Name         string   `json:"name" validate:"required"`
	Type         string   `json:"type" validate:"required"`
	DurationDays int      `json:"duration_days"`
	PriceMinor   *int64   `json:"price_minor" validate:"required"`
	Currency     string   `json:"currency"`
	Features     []string `json:"features"`
	IsActive     *bool    `json:"is_active"`
	IsPopular    *bool    `json:"is_popular"`
	MaxProducts  *int     `json:"max_products"`
}

type planUpdateRequest struct {
	Name         *string  `json:"name"`
	DurationDays *int     `json:"duration_days"`
	PriceMinor   *int64   `json:"price_minor"`
	Currency     *string  `json:"currency"`
	Features     []string `json:"features"`
	IsActive     *bool    `json:"is_active"`
	IsPopular    *bool    `json:"is_popular"`
	MaxProducts  *int     `json:"max_products"`
}

// PublicList returns the purchasable catalog: active plans only.
func PublicList(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		plans, err := svc.List(ctx, true)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, planListResponse{Plans: plansToResponse(plans)})
	}
}

// AdminList returns the full catalog, optionally filtered to active plans.
func AdminList(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		activeOnly := false
		if raw := strings.TrimSpace(r.URL.Query().Get("active")); raw != "" {
			parsed, err := strconv.ParseBool(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "active must be a boolean"))
				return
			}
			activeOnly = parsed
		}

		plans, err := svc.List(ctx, activeOnly)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, planListResponse{Plans: plansToResponse(plans)})
	}
}

func AdminGet(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		planID, err := planIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		plan, err := svc.Get(ctx, planID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if plan == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found"))
			return
		}
		responses.WriteSuccess(w, planToResponse(plan))
	}
}

func AdminCreate(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var payload planCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		planType, err := enums.ParsePlanType(strings.TrimSpace(payload.Type))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan type"))
			return
		}
		if *payload.PriceMinor < 0 {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "price must be non-negative"))
			return
		}

		plan, err := svc.Create(ctx, planssvc.CreatePlanInput{
			Name:         payload.Name,
			Type:         planType,
			DurationDays: payload.DurationDays,
			Price:        decimal.NewFromInt(*payload.PriceMinor).Shift(-2),
			Currency:     payload.Currency,
			Features:     payload.Features,
			IsActive:     boolValue(payload.IsActive, true),
			IsPopular:    boolValue(payload.IsPopular, false),
			MaxProducts:  intValue(payload.MaxProducts, -1),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, planToResponse(plan))
	}
}

func AdminUpdate(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		planID, err := planIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload planUpdateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := planssvc.UpdatePlanInput{
			Name:         payload.Name,
			DurationDays: payload.DurationDays,
			Currency:     payload.Currency,
			Features:     payload.Features,
			IsActive:     payload.IsActive,
			IsPopular:    payload.IsPopular,
			MaxProducts:  payload.MaxProducts,
		}
		if payload.PriceMinor != nil {
			if *payload.PriceMinor < 0 {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "price must be non-negative"))
				return
			}
			price := decimal.NewFromInt(*payload.PriceMinor).Shift(-2)
			input.Price = &price
		}

		plan, err := svc.Update(ctx, planID, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, planToResponse(plan))
	}
}

func AdminDelete(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		planID, err := planIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := svc.Delete(ctx, planID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "deleted"})
	}
}

func plansToResponse(plans []models.SubscriptionPlan) []planResponse {
	result := make([]planResponse, 0, len(plans))
	for i := range plans {
		result = append(result, planToResponse(&plans[i]))
	}
	return result
}

func planToResponse(plan *models.SubscriptionPlan) planResponse {
	features := make([]string, len(plan.Features))
	copy(features, plan.Features)

	return planResponse{
		ID:           plan.ID.String(),
		Name:         plan.Name,
		Type:         string(plan.Type),
		DurationDays: plan.DurationDays,
		Price:        plan.Price.StringFixed(2),
		Currency:     plan.Currency,
		Features:     features,
		IsActive:     plan.IsActive,
		IsPopular:    plan.IsPopular,
		MaxProducts:  plan.MaxProducts,
		CreatedAt:    plan.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    plan.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func planIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "planId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "plan id must be a valid uuid")
	}
	return id, nil
}

func boolValue(ptr *bool, fallback bool) bool {
	if ptr == nil {
		return fallback
	}
	return *ptr
}

func intValue(ptr *int, fallback int) int {
	if ptr == nil {
		return fallback
	}
	return *ptr
}
