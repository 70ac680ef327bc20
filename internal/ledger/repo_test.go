package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/shopraq/shopraq-backend/pkg/db/models"
	"github.com/shopraq/shopraq-backend/pkg/enums"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS pending_payments (
  id TEXT PRIMARY KEY,
  store_id TEXT NOT NULL,
  reference TEXT NOT NULL UNIQUE,
  plan_id TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  currency TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  check_attempts INTEGER NOT NULL DEFAULT 0,
  last_checked_at DATETIME,
  completed_at DATETIME,
  subscription_activated INTEGER NOT NULL DEFAULT 0,
  activated_at DATETIME,
  activation_source TEXT,
  last_error TEXT,
  error_count INTEGER NOT NULL DEFAULT 0,
  customer_email TEXT,
  customer_name TEXT,
  customer_phone TEXT,
  expires_at DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, conn.Exec(schema).Error)
	return conn
}

func seedPayment(t *testing.T, conn *gorm.DB, mutate func(p *models.PendingPayment)) *models.PendingPayment {
	t.Helper()

	payment := &models.PendingPayment{
		ID:        uuid.New(),
		StoreID:   uuid.New(),
		Reference: "ref_" + uuid.NewString(),
		PlanID:    uuid.New(),
		Amount:    decimal.NewFromInt(99),
		Currency:  "ILS",
		Status:    enums.PendingPaymentStatusPending,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	if mutate != nil {
		mutate(payment)
	}
	require.NoError(t, conn.Create(payment).Error)
	return payment
}

func TestLedgerRepositoryPollableFilters(t *testing.T) {
	conn := setupLedgerTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	pollable := seedPayment(t, conn, nil)
	seedPayment(t, conn, func(p *models.PendingPayment) {
		p.Status = enums.PendingPaymentStatusCompleted
	})
	seedPayment(t, conn, func(p *models.PendingPayment) {
		p.ExpiresAt = now.Add(-time.Minute)
	})
	seedPayment(t, conn, func(p *models.PendingPayment) {
		p.CheckAttempts = 50
	})
	seedPayment(t, conn, func(p *models.PendingPayment) {
		p.Status = enums.PendingPaymentStatusProcessing
	})

	payments, err := repo.ListPollable(ctx, now, 50, 10)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, pollable.ID, payments[0].ID)

	count, err := repo.CountPollable(ctx, now, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestLedgerRepositoryPollableOldestFirst(t *testing.T) {
	conn := setupLedgerTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	newer := seedPayment(t, conn, func(p *models.PendingPayment) {
		p.CreatedAt = now.Add(-time.Minute)
	})
	older := seedPayment(t, conn, func(p *models.PendingPayment) {
		p.CreatedAt = now.Add(-time.Hour)
	})

	payments, err := repo.ListPollable(ctx, now, 50, 10)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, older.ID, payments[0].ID)
	assert.Equal(t, newer.ID, payments[1].ID)
}

func TestLedgerRepositorySetStatusGuard(t *testing.T) {
	conn := setupLedgerTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	payment := seedPayment(t, conn, nil)

	claimed, err := repo.SetStatus(ctx, payment.ID, enums.PendingPaymentStatusPending, enums.PendingPaymentStatusProcessing)
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second claim must observe the changed status and lose.
	claimed, err = repo.SetStatus(ctx, payment.ID, enums.PendingPaymentStatusPending, enums.PendingPaymentStatusProcessing)
	require.NoError(t, err)
	assert.False(t, claimed)

	stored, err := repo.FindByID(ctx, payment.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, enums.PendingPaymentStatusProcessing, stored.Status)
}

func TestLedgerRepositoryFindByReference(t *testing.T) {
	conn := setupLedgerTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	payment := seedPayment(t, conn, nil)

	found, err := repo.FindByReference(ctx, payment.Reference)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, payment.ID, found.ID)

	missing, err := repo.FindByReference(ctx, "ref_unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLedgerRepositoryIncrementCheckAttempts(t *testing.T) {
	conn := setupLedgerTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	payment := seedPayment(t, conn, nil)

	require.NoError(t, repo.IncrementCheckAttempts(ctx, payment.ID, now))
	require.NoError(t, repo.IncrementCheckAttempts(ctx, payment.ID, now))

	stored, err := repo.FindByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CheckAttempts)
	assert.NotNil(t, stored.LastCheckedAt)
}

func TestLedgerRepositoryMarkCompleted(t *testing.T) {
	conn := setupLedgerTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	payment := seedPayment(t, conn, nil)

	require.NoError(t, repo.MarkCompleted(ctx, payment.ID, enums.ActivationSourceWebhook, now))

	stored, err := repo.FindByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PendingPaymentStatusCompleted, stored.Status)
	assert.True(t, stored.SubscriptionActivated)
	require.NotNil(t, stored.ActivationSource)
	assert.Equal(t, enums.ActivationSourceWebhook, *stored.ActivationSource)
	assert.NotNil(t, stored.CompletedAt)
}

func TestLedgerRepositoryMarkFailed(t *testing.T) {
	conn := setupLedgerTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	payment := seedPayment(t, conn, func(p *models.PendingPayment) {
		p.Status = enums.PendingPaymentStatusProcessing
		p.ErrorCount = 2
	})

	require.NoError(t, repo.MarkFailed(ctx, payment.ID, "card declined", now))

	stored, err := repo.FindByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PendingPaymentStatusFailed, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "card declined", *stored.LastError)
	assert.Equal(t, 3, stored.ErrorCount)
}

func TestLedgerRepositoryRecordError(t *testing.T) {
	conn := setupLedgerTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	payment := seedPayment(t, conn, nil)

	count, err := repo.RecordError(ctx, payment.ID, "timeout")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = repo.RecordError(ctx, payment.ID, "timeout again")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	stored, err := repo.FindByID(ctx, payment.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "timeout again", *stored.LastError)
}

func TestLedgerRepositoryMarkExpiredAbandoned(t *testing.T) {
	conn := setupLedgerTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := seedPayment(t, conn, func(p *models.PendingPayment) {
		p.ExpiresAt = now.Add(-time.Minute)
	})
	expiredProcessing := seedPayment(t, conn, func(p *models.PendingPayment) {
		p.Status = enums.PendingPaymentStatusProcessing
		p.ExpiresAt = now.Add(-time.Minute)
	})
	live := seedPayment(t, conn, nil)
	settled := seedPayment(t, conn, func(p *models.PendingPayment) {
		p.Status = enums.PendingPaymentStatusCompleted
		p.ExpiresAt = now.Add(-time.Minute)
	})

	abandoned, err := repo.MarkExpiredAbandoned(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), abandoned)

	for _, id := range []uuid.UUID{expired.ID, expiredProcessing.ID} {
		stored, err := repo.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, enums.PendingPaymentStatusAbandoned, stored.Status)
	}

	stored, err := repo.FindByID(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PendingPaymentStatusPending, stored.Status)

	stored, err = repo.FindByID(ctx, settled.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PendingPaymentStatusCompleted, stored.Status)
}

func TestLedgerRepositoryDeleteTerminalOlderThan(t *testing.T) {
	conn := setupLedgerTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	oldFailed := seedPayment(t, conn, func(p *models.PendingPayment) {
		p.Status = enums.PendingPaymentStatusFailed
	})
	require.NoError(t, conn.Model(&models.PendingPayment{}).
		Where("id = ?", oldFailed.ID).
		Update("updated_at", now.Add(-48*time.Hour)).Error)

	freshCompleted := seedPayment(t, conn, func(p *models.PendingPayment) {
		p.Status = enums.PendingPaymentStatusCompleted
	})
	oldPending := seedPayment(t, conn, nil)
	require.NoError(t, conn.Model(&models.PendingPayment{}).
		Where("id = ?", oldPending.ID).
		Update("updated_at", now.Add(-48*time.Hour)).Error)

	deleted, err := repo.DeleteTerminalOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	stored, err := repo.FindByID(ctx, oldFailed.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)

	for _, id := range []uuid.UUID{freshCompleted.ID, oldPending.ID} {
		stored, err := repo.FindByID(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, stored)
	}
}
