package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopraq/shopraq-backend/internal/ledger"
	"github.com/shopraq/shopraq-backend/pkg/db/models"
	"github.com/shopraq/shopraq-backend/pkg/enums"
	"github.com/shopraq/shopraq-backend/pkg/logger"
)

type fakeExpiringRepo struct {
	stores []models.Store
	window time.Duration
}

func (f *fakeExpiringRepo) ListExpiringSoon(ctx context.Context, now time.Time, window time.Duration, limit int) ([]models.Store, error) {
	f.window = window
	return f.stores, nil
}

type fakeWarningHistory struct {
	actions []enums.HistoryAction
	stores  []uuid.UUID
	err     error
}

func (f *fakeWarningHistory) AppendHistory(ctx context.Context, storeID uuid.UUID, action enums.HistoryAction, description string, details map[string]any, performedBy *uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.actions = append(f.actions, action)
	f.stores = append(f.stores, storeID)
	return nil
}

type fakeNotifier struct {
	notified []uuid.UUID
	err      error
}

func (f *fakeNotifier) NotifyExpiringSoon(ctx context.Context, store *models.Store, endsAt time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.notified = append(f.notified, store.ID)
	return nil
}

func expiringStore(end time.Time) models.Store {
	return models.Store{
		ID:     uuid.New(),
		Status: enums.StoreStatusActive,
		Subscription: models.StoreSubscription{
			IsSubscribed: true,
			EndDate:      &end,
		},
	}
}

func TestExpiringSoonJobWarnsStores(t *testing.T) {
	end := time.Now().UTC().Add(24 * time.Hour)
	store := expiringStore(end)
	repo := &fakeExpiringRepo{stores: []models.Store{store}}
	history := &fakeWarningHistory{}
	notifier := &fakeNotifier{}

	job, err := NewExpiringSoonJob(ExpiringSoonJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		StoreRepo: repo,
		History:   history,
		Notifier:  notifier,
		Window:    72 * time.Hour,
		Interval:  time.Hour,
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 72*time.Hour, repo.window)
	assert.Equal(t, []uuid.UUID{store.ID}, notifier.notified)
	assert.Equal(t, []enums.HistoryAction{enums.HistoryExpiryWarningSent}, history.actions)
}

func TestExpiringSoonJobWorksWithoutNotifier(t *testing.T) {
	end := time.Now().UTC().Add(24 * time.Hour)
	store := expiringStore(end)
	repo := &fakeExpiringRepo{stores: []models.Store{store}}
	history := &fakeWarningHistory{}

	job, err := NewExpiringSoonJob(ExpiringSoonJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		StoreRepo: repo,
		History:   history,
		Window:    72 * time.Hour,
		Interval:  time.Hour,
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []uuid.UUID{store.ID}, history.stores)
}

func TestExpiringSoonJobSkipsNotifyFailure(t *testing.T) {
	end := time.Now().UTC().Add(24 * time.Hour)
	repo := &fakeExpiringRepo{stores: []models.Store{expiringStore(end)}}
	history := &fakeWarningHistory{}
	notifier := &fakeNotifier{err: errors.New("smtp down")}

	job, err := NewExpiringSoonJob(ExpiringSoonJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		StoreRepo: repo,
		History:   history,
		Notifier:  notifier,
		Window:    72 * time.Hour,
		Interval:  time.Hour,
	})
	require.NoError(t, err)

	runErr := job.Run(context.Background())
	require.Error(t, runErr)

	// No history entry when delivery failed; the next sweep retries.
	assert.Empty(t, history.actions)
}

func TestExpiringSoonJobRequiresWindow(t *testing.T) {
	_, err := NewExpiringSoonJob(ExpiringSoonJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		StoreRepo: &fakeExpiringRepo{},
		History:   &fakeWarningHistory{},
		Interval:  time.Hour,
	})
	require.Error(t, err)
}

type fakeCleanupLedger struct {
	result ledger.CleanupResult
	err    error
	calls  int
}

func (f *fakeCleanupLedger) Cleanup(ctx context.Context) (ledger.CleanupResult, error) {
	f.calls++
	if f.err != nil {
		return ledger.CleanupResult{}, f.err
	}
	return f.result, nil
}

func TestPaymentCleanupJob(t *testing.T) {
	led := &fakeCleanupLedger{result: ledger.CleanupResult{Abandoned: 2, Deleted: 5}}
	job, err := NewPaymentCleanupJob(PaymentCleanupJobParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		Ledger:   led,
		Interval: time.Hour,
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, led.calls)

	led.err = errors.New("db down")
	require.Error(t, job.Run(context.Background()))
}
