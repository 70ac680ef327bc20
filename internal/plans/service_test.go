package plans

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shopraq/shopraq-backend/pkg/db/models"
	"github.com/shopraq/shopraq-backend/pkg/enums"
	pkgerrors "github.com/shopraq/shopraq-backend/pkg/errors"
	"github.com/shopraq/shopraq-backend/pkg/logger"
)

type fakePlanRepo struct {
	byType  *models.SubscriptionPlan
	byID    *models.SubscriptionPlan
	created *models.SubscriptionPlan
	updated *models.SubscriptionPlan
	deleted []uuid.UUID
}

func (f *fakePlanRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakePlanRepo) Create(ctx context.Context, plan *models.SubscriptionPlan) error {
	plan.ID = uuid.New()
	f.created = plan
	return nil
}

func (f *fakePlanRepo) Update(ctx context.Context, plan *models.SubscriptionPlan) error {
	f.updated = plan
	return nil
}

func (f *fakePlanRepo) Delete(ctx context.Context, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakePlanRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error) {
	if f.byID != nil && f.byID.ID == id {
		return f.byID, nil
	}
	return nil, nil
}

func (f *fakePlanRepo) FindByType(ctx context.Context, planType enums.PlanType) (*models.SubscriptionPlan, error) {
	if f.byType != nil && f.byType.Type == planType {
		return f.byType, nil
	}
	return nil, nil
}

func (f *fakePlanRepo) List(ctx context.Context, activeOnly bool) ([]models.SubscriptionPlan, error) {
	return nil, nil
}

func newPlanService(t *testing.T, repo Repository) Service {
	t.Helper()

	svc, err := NewService(ServiceParams{
		Repo:   repo,
		Logger: logger.New(logger.Options{ServiceName: "test"}),
	})
	require.NoError(t, err)
	return svc
}

func monthlyInput() CreatePlanInput {
	return CreatePlanInput{
		Name:         "Monthly",
		Type:         enums.PlanTypeMonthly,
		DurationDays: 30,
		Price:        decimal.NewFromInt(99),
		Currency:     "ils",
		Features:     []string{"unlimited_products"},
		IsActive:     true,
		MaxProducts:  -1,
	}
}

func TestPlanCreateNormalizes(t *testing.T) {
	repo := &fakePlanRepo{}
	svc := newPlanService(t, repo)

	input := monthlyInput()
	input.Name = "  Monthly  "
	plan, err := svc.Create(context.Background(), input)
	require.NoError(t, err)
	require.NotNil(t, repo.created)

	assert.Equal(t, "Monthly", plan.Name)
	assert.Equal(t, "ILS", plan.Currency)
	assert.NotEqual(t, uuid.Nil, plan.ID)
}

func TestPlanCreateDuplicateType(t *testing.T) {
	repo := &fakePlanRepo{
		byType: &models.SubscriptionPlan{ID: uuid.New(), Type: enums.PlanTypeMonthly},
	}
	svc := newPlanService(t, repo)

	_, err := svc.Create(context.Background(), monthlyInput())
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())
	assert.Nil(t, repo.created)
}

func TestPlanCreateAllowsMultipleCustomPlans(t *testing.T) {
	repo := &fakePlanRepo{
		byType: &models.SubscriptionPlan{ID: uuid.New(), Type: enums.PlanTypeCustom},
	}
	svc := newPlanService(t, repo)

	input := monthlyInput()
	input.Type = enums.PlanTypeCustom
	input.DurationDays = 90

	_, err := svc.Create(context.Background(), input)
	require.NoError(t, err)
	require.NotNil(t, repo.created)
}

func TestPlanCreateValidation(t *testing.T) {
	svc := newPlanService(t, &fakePlanRepo{})

	tests := []struct {
		name   string
		mutate func(i *CreatePlanInput)
	}{
		{
			name:   "blank name",
			mutate: func(i *CreatePlanInput) { i.Name = "  " },
		},
		{
			name:   "invalid type",
			mutate: func(i *CreatePlanInput) { i.Type = "weekly" },
		},
		{
			name:   "negative price",
			mutate: func(i *CreatePlanInput) { i.Price = decimal.NewFromInt(-1) },
		},
		{
			name:   "negative duration",
			mutate: func(i *CreatePlanInput) { i.DurationDays = -1 },
		},
		{
			name:   "recurring plan without duration",
			mutate: func(i *CreatePlanInput) { i.DurationDays = 0 },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			input := monthlyInput()
			tc.mutate(&input)

			_, err := svc.Create(context.Background(), input)
			require.Error(t, err)

			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
		})
	}
}

func TestPlanCreateFreeWithoutDuration(t *testing.T) {
	repo := &fakePlanRepo{}
	svc := newPlanService(t, repo)

	input := monthlyInput()
	input.Type = enums.PlanTypeFree
	input.DurationDays = 0
	input.Price = decimal.Zero

	_, err := svc.Create(context.Background(), input)
	require.NoError(t, err)
	require.NotNil(t, repo.created)
}

func TestPlanUpdateAppliesOnlyProvidedFields(t *testing.T) {
	existing := &models.SubscriptionPlan{
		ID:           uuid.New(),
		Name:         "Monthly",
		Type:         enums.PlanTypeMonthly,
		DurationDays: 30,
		Price:        decimal.NewFromInt(99),
		Currency:     "ILS",
		IsActive:     true,
		MaxProducts:  -1,
	}
	repo := &fakePlanRepo{byID: existing}
	svc := newPlanService(t, repo)

	newPrice := decimal.NewFromInt(129)
	inactive := false
	plan, err := svc.Update(context.Background(), existing.ID, UpdatePlanInput{
		Price:    &newPrice,
		IsActive: &inactive,
	})
	require.NoError(t, err)
	require.NotNil(t, repo.updated)

	assert.True(t, plan.Price.Equal(newPrice))
	assert.False(t, plan.IsActive)
	assert.Equal(t, "Monthly", plan.Name)
	assert.Equal(t, 30, plan.DurationDays)
}

func TestPlanUpdateRejectsEmptyName(t *testing.T) {
	existing := &models.SubscriptionPlan{ID: uuid.New(), Name: "Monthly", Type: enums.PlanTypeMonthly}
	repo := &fakePlanRepo{byID: existing}
	svc := newPlanService(t, repo)

	blank := "  "
	_, err := svc.Update(context.Background(), existing.ID, UpdatePlanInput{Name: &blank})
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	assert.Nil(t, repo.updated)
}

func TestPlanUpdateUnknownPlan(t *testing.T) {
	svc := newPlanService(t, &fakePlanRepo{})

	name := "Renamed"
	_, err := svc.Update(context.Background(), uuid.New(), UpdatePlanInput{Name: &name})
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestPlanDelete(t *testing.T) {
	existing := &models.SubscriptionPlan{ID: uuid.New(), Name: "Monthly", Type: enums.PlanTypeMonthly}
	repo := &fakePlanRepo{byID: existing}
	svc := newPlanService(t, repo)

	require.NoError(t, svc.Delete(context.Background(), existing.ID))
	require.Len(t, repo.deleted, 1)
	assert.Equal(t, existing.ID, repo.deleted[0])

	err := svc.Delete(context.Background(), uuid.New())
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}
