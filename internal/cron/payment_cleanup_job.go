package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/shopraq/shopraq-backend/internal/ledger"
	"github.com/shopraq/shopraq-backend/pkg/logger"
)

type cleanupLedgerService interface {
	Cleanup(ctx context.Context) (ledger.CleanupResult, error)
}

// PaymentCleanupJobParams configures the ledger aging job.
type PaymentCleanupJobParams struct {
	Logger   *logger.Logger
	Ledger   cleanupLedgerService
	Interval time.Duration
}

// NewPaymentCleanupJob builds the job that ages out the pending payment
// ledger: TTL-expired records become abandoned and settled records past
// retention are removed.
func NewPaymentCleanupJob(params PaymentCleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	return &paymentCleanupJob{
		logg:     params.Logger,
		ledger:   params.Ledger,
		interval: params.Interval,
	}, nil
}

type paymentCleanupJob struct {
	logg     *logger.Logger
	ledger   cleanupLedgerService
	interval time.Duration
}

func (j *paymentCleanupJob) Name() string { return "payment-cleanup" }

func (j *paymentCleanupJob) Interval() time.Duration { return j.interval }

func (j *paymentCleanupJob) Run(ctx context.Context) error {
	result, err := j.ledger.Cleanup(ctx)
	if err != nil {
		return fmt.Errorf("cleanup pending payments: %w", err)
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"abandoned": result.Abandoned,
		"deleted":   result.Deleted,
	})
	j.logg.Info(reportCtx, "payment cleanup complete")
	return nil
}
