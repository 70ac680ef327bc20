package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/shopraq/shopraq-backend/pkg/db/models"
	"github.com/shopraq/shopraq-backend/pkg/enums"
	"github.com/shopraq/shopraq-backend/pkg/logger"
)

const defaultExpiringSoonLimit = 250

type expiringStoreRepository interface {
	ListExpiringSoon(ctx context.Context, now time.Time, window time.Duration, limit int) ([]models.Store, error)
}

type warningHistoryService interface {
	AppendHistory(ctx context.Context, storeID uuid.UUID, action enums.HistoryAction, description string, details map[string]any, performedBy *uuid.UUID) error
}

// Notifier delivers expiry warnings to store owners. The default
// implementation only logs; delivery channels plug in here.
type Notifier interface {
	NotifyExpiringSoon(ctx context.Context, store *models.Store, endsAt time.Time) error
}

// ExpiringSoonJobParams configures the expiry warning sweep.
type ExpiringSoonJobParams struct {
	Logger    *logger.Logger
	StoreRepo expiringStoreRepository
	History   warningHistoryService
	Notifier  Notifier
	Window    time.Duration
	Interval  time.Duration
	Limit     int
	Now       func() time.Time
}

// NewExpiringSoonJob builds the job that warns stores whose paid period ends
// inside the warning window and will not auto-renew. It never mutates
// subscription state.
func NewExpiringSoonJob(params ExpiringSoonJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.StoreRepo == nil {
		return nil, fmt.Errorf("store repository required")
	}
	if params.History == nil {
		return nil, fmt.Errorf("history service required")
	}
	if params.Window <= 0 {
		return nil, fmt.Errorf("warning window must be positive")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultExpiringSoonLimit
	}
	return &expiringSoonJob{
		logg:      params.Logger,
		storeRepo: params.StoreRepo,
		history:   params.History,
		notifier:  params.Notifier,
		window:    params.Window,
		interval:  params.Interval,
		limit:     limit,
		now:       now,
	}, nil
}

type expiringSoonJob struct {
	logg      *logger.Logger
	storeRepo expiringStoreRepository
	history   warningHistoryService
	notifier  Notifier
	window    time.Duration
	interval  time.Duration
	limit     int
	now       func() time.Time
}

func (j *expiringSoonJob) Name() string { return "expiring-soon" }

func (j *expiringSoonJob) Interval() time.Duration { return j.interval }

func (j *expiringSoonJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	expiring, err := j.storeRepo.ListExpiringSoon(ctx, now, j.window, j.limit)
	if err != nil {
		return fmt.Errorf("list expiring stores: %w", err)
	}

	var errs error
	warned := 0
	for i := range expiring {
		store := &expiring[i]
		if store.Subscription.EndDate == nil {
			continue
		}
		storeCtx := j.logg.WithStoreID(ctx, store.ID.String())

		if j.notifier != nil {
			if err := j.notifier.NotifyExpiringSoon(storeCtx, store, *store.Subscription.EndDate); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("store %s: %w", store.ID, err))
				continue
			}
		}

		details := map[string]any{
			"ends_at": store.Subscription.EndDate.Format(time.RFC3339),
		}
		if err := j.history.AppendHistory(storeCtx, store.ID, enums.HistoryExpiryWarningSent, "subscription expiry warning sent", details, nil); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("store %s: %w", store.ID, err))
			continue
		}
		warned++
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"expiring": len(expiring),
		"warned":   warned,
	})
	j.logg.Info(reportCtx, "expiring soon sweep complete")
	return errs
}
