package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shopraq/shopraq-backend/pkg/config"
	"github.com/shopraq/shopraq-backend/pkg/db/models"
	"github.com/shopraq/shopraq-backend/pkg/enums"
	pkgerrors "github.com/shopraq/shopraq-backend/pkg/errors"
	"github.com/shopraq/shopraq-backend/pkg/logger"
)

type fakeLedgerRepo struct {
	createErr    error
	created      *models.PendingPayment
	statusCalls  []enums.PendingPaymentStatus
	statusResult bool
	increments   int
	errorCount   int
	failedReason string
	failedAt     *time.Time
	abandoned    int64
	deleted      int64
	cleanupErr   error
}

func (f *fakeLedgerRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeLedgerRepo) Create(ctx context.Context, payment *models.PendingPayment) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = payment
	return nil
}

func (f *fakeLedgerRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.PendingPayment, error) {
	return nil, nil
}

func (f *fakeLedgerRepo) FindByReference(ctx context.Context, reference string) (*models.PendingPayment, error) {
	return nil, nil
}

func (f *fakeLedgerRepo) ListByStore(ctx context.Context, storeID uuid.UUID, limit int) ([]models.PendingPayment, error) {
	return nil, nil
}

func (f *fakeLedgerRepo) ListPollable(ctx context.Context, now time.Time, maxAttempts, limit int) ([]models.PendingPayment, error) {
	return nil, nil
}

func (f *fakeLedgerRepo) CountPollable(ctx context.Context, now time.Time, maxAttempts int) (int64, error) {
	return 0, nil
}

func (f *fakeLedgerRepo) SetStatus(ctx context.Context, id uuid.UUID, from, to enums.PendingPaymentStatus) (bool, error) {
	f.statusCalls = append(f.statusCalls, to)
	return f.statusResult, nil
}

func (f *fakeLedgerRepo) IncrementCheckAttempts(ctx context.Context, id uuid.UUID, now time.Time) error {
	f.increments++
	return nil
}

func (f *fakeLedgerRepo) MarkCompleted(ctx context.Context, id uuid.UUID, source enums.ActivationSource, now time.Time) error {
	return nil
}

func (f *fakeLedgerRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string, now time.Time) error {
	f.failedReason = reason
	f.failedAt = &now
	return nil
}

func (f *fakeLedgerRepo) RecordError(ctx context.Context, id uuid.UUID, message string) (int, error) {
	f.errorCount++
	return f.errorCount, nil
}

func (f *fakeLedgerRepo) MarkExpiredAbandoned(ctx context.Context, now time.Time) (int64, error) {
	if f.cleanupErr != nil {
		return 0, f.cleanupErr
	}
	return f.abandoned, nil
}

func (f *fakeLedgerRepo) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return f.deleted, nil
}

func testSubscriptionConfig() config.SubscriptionConfig {
	return config.SubscriptionConfig{
		TrialDays:           14,
		PendingPaymentTTL:   24 * time.Hour,
		MaxCheckAttempts:    50,
		MaxActivationErrors: 5,
		ExpiryWarningWindow: 72 * time.Hour,
		CleanupRetention:    24 * time.Hour,
	}
}

func newLedgerService(t *testing.T, repo Repository, now time.Time) Service {
	t.Helper()

	svc, err := NewService(ServiceParams{
		Repo:   repo,
		Config: testSubscriptionConfig(),
		Logger: logger.New(logger.Options{ServiceName: "test"}),
	})
	require.NoError(t, err)
	svc.(*service).now = func() time.Time { return now }
	return svc
}

func TestLedgerServiceCreateSetsExpiry(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &fakeLedgerRepo{}
	svc := newLedgerService(t, repo, now)

	payment, err := svc.Create(context.Background(), CreateInput{
		StoreID:   uuid.New(),
		Reference: "  shprq_abc  ",
		PlanID:    uuid.New(),
		Amount:    decimal.NewFromInt(99),
		Currency:  "ils",
	})
	require.NoError(t, err)
	require.NotNil(t, repo.created)

	assert.Equal(t, "shprq_abc", payment.Reference)
	assert.Equal(t, "ILS", payment.Currency)
	assert.Equal(t, enums.PendingPaymentStatusPending, payment.Status)
	assert.Equal(t, now.Add(24*time.Hour), payment.ExpiresAt)
}

func TestLedgerServiceCreateDuplicateReference(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &fakeLedgerRepo{createErr: errors.New("UNIQUE constraint failed: pending_payments.reference")}
	svc := newLedgerService(t, repo, now)

	_, err := svc.Create(context.Background(), CreateInput{
		StoreID:   uuid.New(),
		Reference: "shprq_abc",
		PlanID:    uuid.New(),
		Amount:    decimal.NewFromInt(99),
		Currency:  "ILS",
	})
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())
}

func TestLedgerServiceCreateValidation(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := newLedgerService(t, &fakeLedgerRepo{}, now)

	tests := []struct {
		name  string
		input CreateInput
	}{
		{
			name: "missing store",
			input: CreateInput{
				Reference: "shprq_abc",
				PlanID:    uuid.New(),
			},
		},
		{
			name: "blank reference",
			input: CreateInput{
				StoreID:   uuid.New(),
				Reference: "   ",
				PlanID:    uuid.New(),
			},
		},
		{
			name: "missing plan",
			input: CreateInput{
				StoreID:   uuid.New(),
				Reference: "shprq_abc",
			},
		},
		{
			name: "negative amount",
			input: CreateInput{
				StoreID:   uuid.New(),
				Reference: "shprq_abc",
				PlanID:    uuid.New(),
				Amount:    decimal.NewFromInt(-1),
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tc.input)
			require.Error(t, err)

			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
		})
	}
}

func TestLedgerServiceClaimAndRelease(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &fakeLedgerRepo{statusResult: true}
	svc := newLedgerService(t, repo, now)

	claimed, err := svc.Claim(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, claimed)

	require.NoError(t, svc.Release(context.Background(), uuid.New()))

	require.Len(t, repo.statusCalls, 2)
	assert.Equal(t, enums.PendingPaymentStatusProcessing, repo.statusCalls[0])
	assert.Equal(t, enums.PendingPaymentStatusPending, repo.statusCalls[1])
}

func TestLedgerServiceRecordCheckBelowCap(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &fakeLedgerRepo{}
	svc := newLedgerService(t, repo, now)

	payment := &models.PendingPayment{
		ID:            uuid.New(),
		Reference:     "shprq_abc",
		Status:        enums.PendingPaymentStatusProcessing,
		CheckAttempts: 3,
	}
	require.NoError(t, svc.RecordCheck(context.Background(), payment))

	assert.Equal(t, 1, repo.increments)
	assert.Equal(t, 4, payment.CheckAttempts)
	require.NotNil(t, payment.LastCheckedAt)
	assert.Equal(t, now, *payment.LastCheckedAt)
	assert.Empty(t, repo.statusCalls)
	assert.Equal(t, enums.PendingPaymentStatusProcessing, payment.Status)
}

func TestLedgerServiceRecordCheckExhaustsAtCap(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &fakeLedgerRepo{statusResult: true}
	svc := newLedgerService(t, repo, now)

	payment := &models.PendingPayment{
		ID:            uuid.New(),
		Reference:     "shprq_abc",
		Status:        enums.PendingPaymentStatusProcessing,
		CheckAttempts: 49,
	}
	require.NoError(t, svc.RecordCheck(context.Background(), payment))

	assert.Equal(t, 50, payment.CheckAttempts)
	assert.Equal(t, enums.PendingPaymentStatusExhausted, payment.Status)
	require.Len(t, repo.statusCalls, 1)
	assert.Equal(t, enums.PendingPaymentStatusExhausted, repo.statusCalls[0])
}

func TestLedgerServiceRecordErrorBelowCap(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &fakeLedgerRepo{}
	svc := newLedgerService(t, repo, now)

	for i := 0; i < 4; i++ {
		promoted, err := svc.RecordError(context.Background(), uuid.New(), "gateway timeout")
		require.NoError(t, err)
		assert.False(t, promoted)
	}
	assert.Empty(t, repo.failedReason)
}

func TestLedgerServiceRecordErrorPromotesAtCap(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &fakeLedgerRepo{errorCount: 4}
	svc := newLedgerService(t, repo, now)

	promoted, err := svc.RecordError(context.Background(), uuid.New(), "gateway timeout")
	require.NoError(t, err)
	assert.True(t, promoted)
	assert.Equal(t, "gave up after 5 verification errors: gateway timeout", repo.failedReason)
	require.NotNil(t, repo.failedAt)
	assert.Equal(t, now, *repo.failedAt)
}

func TestLedgerServiceCleanup(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &fakeLedgerRepo{abandoned: 3, deleted: 7}
	svc := newLedgerService(t, repo, now)

	result, err := svc.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Abandoned)
	assert.Equal(t, int64(7), result.Deleted)
}

func TestLedgerServiceCleanupAbandonError(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &fakeLedgerRepo{cleanupErr: errors.New("db down")}
	svc := newLedgerService(t, repo, now)

	_, err := svc.Cleanup(context.Background())
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInternal, typed.Code())
}
