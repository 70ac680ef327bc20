package plans

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shopraq/shopraq-backend/pkg/db"
	"github.com/shopraq/shopraq-backend/pkg/db/models"
	"github.com/shopraq/shopraq-backend/pkg/enums"
	pkgerrors "github.com/shopraq/shopraq-backend/pkg/errors"
	"github.com/shopraq/shopraq-backend/pkg/logger"
)

// Service defines the subscription plan catalog surface.
type Service interface {
	Create(ctx context.Context, input CreatePlanInput) (*models.SubscriptionPlan, error)
	Update(ctx context.Context, id uuid.UUID, input UpdatePlanInput) (*models.SubscriptionPlan, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error)
	List(ctx context.Context, activeOnly bool) ([]models.SubscriptionPlan, error)
}

// ServiceParams groups dependencies for the plan service.
type ServiceParams struct {
	Repo   Repository
	Logger *logger.Logger
}

// CreatePlanInput captures the data required to publish a plan.
type CreatePlanInput struct {
	Name         string
	Type         enums.PlanType
	DurationDays int
	Price        decimal.Decimal
	Currency     string
	Features     []string
	IsActive     bool
	IsPopular    bool
	MaxProducts  int
}

// UpdatePlanInput carries optional plan edits. Nil fields are untouched.
type UpdatePlanInput struct {
	Name         *string
	DurationDays *int
	Price        *decimal.Decimal
	Currency     *string
	Features     []string
	IsActive     *bool
	IsPopular    *bool
	MaxProducts  *int
}

type service struct {
	repo Repository
	logg *logger.Logger
}

// NewService builds a plan service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("plan repo required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: params.Repo, logg: params.Logger}, nil
}

func (s *service) Create(ctx context.Context, input CreatePlanInput) (*models.SubscriptionPlan, error) {
	if err := validatePlanInput(input); err != nil {
		return nil, err
	}

	if input.Type != enums.PlanTypeCustom {
		existing, err := s.repo.FindByType(ctx, input.Type)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up plan by type")
		}
		if existing != nil {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("a %s plan already exists", input.Type))
		}
	}

	plan := &models.SubscriptionPlan{
		Name:         strings.TrimSpace(input.Name),
		Type:         input.Type,
		DurationDays: input.DurationDays,
		Price:        input.Price,
		Currency:     normalizeCurrency(input.Currency),
		Features:     input.Features,
		IsActive:     input.IsActive,
		IsPopular:    input.IsPopular,
		MaxProducts:  input.MaxProducts,
	}

	if err := s.repo.Create(ctx, plan); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("a %s plan already exists", input.Type))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating plan")
	}

	ctx = s.logg.WithField(ctx, "plan_id", plan.ID.String())
	s.logg.Info(ctx, "subscription plan created")
	return plan, nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdatePlanInput) (*models.SubscriptionPlan, error) {
	plan, err := s.findExisting(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan name cannot be empty")
		}
		plan.Name = strings.TrimSpace(*input.Name)
	}
	if input.DurationDays != nil {
		if *input.DurationDays < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "duration days cannot be negative")
		}
		plan.DurationDays = *input.DurationDays
	}
	if input.Price != nil {
		if input.Price.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "price cannot be negative")
		}
		plan.Price = *input.Price
	}
	if input.Currency != nil {
		plan.Currency = normalizeCurrency(*input.Currency)
	}
	if input.Features != nil {
		plan.Features = input.Features
	}
	if input.IsActive != nil {
		plan.IsActive = *input.IsActive
	}
	if input.IsPopular != nil {
		plan.IsPopular = *input.IsPopular
	}
	if input.MaxProducts != nil {
		plan.MaxProducts = *input.MaxProducts
	}

	if err := s.repo.Update(ctx, plan); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating plan")
	}

	ctx = s.logg.WithField(ctx, "plan_id", plan.ID.String())
	s.logg.Info(ctx, "subscription plan updated")
	return plan, nil
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.findExisting(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deleting plan")
	}

	ctx = s.logg.WithField(ctx, "plan_id", id.String())
	s.logg.Info(ctx, "subscription plan deleted")
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error) {
	return s.findExisting(ctx, id)
}

func (s *service) List(ctx context.Context, activeOnly bool) ([]models.SubscriptionPlan, error) {
	plansList, err := s.repo.List(ctx, activeOnly)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing plans")
	}
	return plansList, nil
}

func (s *service) findExisting(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required")
	}
	plan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	return plan, nil
}

func validatePlanInput(input CreatePlanInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "plan name is required")
	}
	if !input.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid plan type %q", input.Type))
	}
	if input.Price.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "price cannot be negative")
	}
	if input.DurationDays < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "duration days cannot be negative")
	}
	if input.Type != enums.PlanTypeFree && input.Type != enums.PlanTypeCustom && input.DurationDays == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "duration days is required for recurring plans")
	}
	return nil
}

func normalizeCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "ILS"
	}
	return currency
}
