package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/shopraq/shopraq-backend/pkg/db/models"
	"github.com/shopraq/shopraq-backend/pkg/logger"
)

const defaultExpiryLimit = 250

type expiryStoreRepository interface {
	ListExpiredForDeactivation(ctx context.Context, now time.Time, limit int) ([]models.Store, error)
}

type expiryService interface {
	DeactivateIfExpired(ctx context.Context, store *models.Store, now time.Time) (bool, error)
}

// SubscriptionExpiryJobParams configures the expiry sweep.
type SubscriptionExpiryJobParams struct {
	Logger    *logger.Logger
	StoreRepo expiryStoreRepository
	Subs      expiryService
	Interval  time.Duration
	Limit     int
	Now       func() time.Time
}

// NewSubscriptionExpiryJob builds the job that deactivates stores whose trial
// or subscription has lapsed.
func NewSubscriptionExpiryJob(params SubscriptionExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.StoreRepo == nil {
		return nil, fmt.Errorf("store repository required")
	}
	if params.Subs == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultExpiryLimit
	}
	return &subscriptionExpiryJob{
		logg:      params.Logger,
		storeRepo: params.StoreRepo,
		subs:      params.Subs,
		interval:  params.Interval,
		limit:     limit,
		now:       now,
	}, nil
}

type subscriptionExpiryJob struct {
	logg      *logger.Logger
	storeRepo expiryStoreRepository
	subs      expiryService
	interval  time.Duration
	limit     int
	now       func() time.Time
}

func (j *subscriptionExpiryJob) Name() string { return "subscription-expiry" }

func (j *subscriptionExpiryJob) Interval() time.Duration { return j.interval }

func (j *subscriptionExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	candidates, err := j.storeRepo.ListExpiredForDeactivation(ctx, now, j.limit)
	if err != nil {
		return fmt.Errorf("list expired stores: %w", err)
	}

	var errs error
	deactivated := 0
	for i := range candidates {
		changed, err := j.subs.DeactivateIfExpired(ctx, &candidates[i], now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("store %s: %w", candidates[i].ID, err))
			continue
		}
		if changed {
			deactivated++
		}
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates":  len(candidates),
		"deactivated": deactivated,
	})
	j.logg.Info(reportCtx, "subscription expiry sweep complete")
	return errs
}
