package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/shopraq/shopraq-backend/internal/ledger"
	"github.com/shopraq/shopraq-backend/internal/subscriptions"
	"github.com/shopraq/shopraq-backend/pkg/db/models"
	"github.com/shopraq/shopraq-backend/pkg/enums"
	"github.com/shopraq/shopraq-backend/pkg/logger"
	"github.com/shopraq/shopraq-backend/pkg/paygate"
)

const defaultRenewLimit = 100

type renewStoreRepository interface {
	ListDueForRenewal(ctx context.Context, now time.Time, limit int) ([]models.Store, error)
}

type renewSubscriptionService interface {
	Activate(ctx context.Context, input subscriptions.ActivateInput) (*subscriptions.ActivateResult, error)
	AppendHistory(ctx context.Context, storeID uuid.UUID, action enums.HistoryAction, description string, details map[string]any, performedBy *uuid.UUID) error
	SetAutoRenew(ctx context.Context, storeID uuid.UUID, enabled bool, performedBy *uuid.UUID) error
}

type renewLedgerService interface {
	Create(ctx context.Context, input ledger.CreateInput) (*models.PendingPayment, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, source enums.ActivationSource) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

type renewGateway interface {
	ChargeAuthorization(ctx context.Context, secretKey string, params paygate.ChargeParams) (*paygate.Transaction, error)
}

// AutoRenewJobParams configures the renewal charge sweep.
type AutoRenewJobParams struct {
	Logger    *logger.Logger
	StoreRepo renewStoreRepository
	Subs      renewSubscriptionService
	Ledger    renewLedgerService
	Gateway   renewGateway
	Interval  time.Duration
	Limit     int
	Now       func() time.Time
}

// NewAutoRenewJob builds the job that charges stored authorizations for
// lapsed stores that opted into auto-renew. A failed charge is recorded and
// simply retried on the next cycle; there is no dedicated retry schedule.
func NewAutoRenewJob(params AutoRenewJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.StoreRepo == nil {
		return nil, fmt.Errorf("store repository required")
	}
	if params.Subs == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultRenewLimit
	}
	return &autoRenewJob{
		logg:      params.Logger,
		storeRepo: params.StoreRepo,
		subs:      params.Subs,
		ledger:    params.Ledger,
		gateway:   params.Gateway,
		interval:  params.Interval,
		limit:     limit,
		now:       now,
	}, nil
}

type autoRenewJob struct {
	logg      *logger.Logger
	storeRepo renewStoreRepository
	subs      renewSubscriptionService
	ledger    renewLedgerService
	gateway   renewGateway
	interval  time.Duration
	limit     int
	now       func() time.Time
}

func (j *autoRenewJob) Name() string { return "auto-renew" }

func (j *autoRenewJob) Interval() time.Duration { return j.interval }

func (j *autoRenewJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	due, err := j.storeRepo.ListDueForRenewal(ctx, now, j.limit)
	if err != nil {
		return fmt.Errorf("list stores due for renewal: %w", err)
	}

	var errs error
	renewed := 0
	for i := range due {
		if err := j.renewStore(ctx, &due[i]); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("store %s: %w", due[i].ID, err))
			continue
		}
		renewed++
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"due":     len(due),
		"renewed": renewed,
	})
	j.logg.Info(reportCtx, "auto renew sweep complete")
	return errs
}

func (j *autoRenewJob) renewStore(ctx context.Context, store *models.Store) error {
	ctx = j.logg.WithStoreID(ctx, store.ID.String())

	sub := store.Subscription
	if sub.AuthorizationCode == nil || store.Email == nil || sub.PlanID == nil {
		return fmt.Errorf("store not chargeable: missing authorization, email or plan")
	}
	if store.GatewaySecretKey == nil {
		return fmt.Errorf("store has no gateway credentials")
	}

	reference := "renew_" + uuid.NewString()
	record, err := j.ledger.Create(ctx, ledger.CreateInput{
		StoreID:       store.ID,
		Reference:     reference,
		PlanID:        *sub.PlanID,
		Amount:        sub.Amount,
		Currency:      sub.Currency,
		CustomerEmail: store.Email,
	})
	if err != nil {
		return fmt.Errorf("record renewal attempt: %w", err)
	}

	txn, err := j.gateway.ChargeAuthorization(ctx, *store.GatewaySecretKey, paygate.ChargeParams{
		Email:             *store.Email,
		Amount:            sub.Amount,
		Currency:          sub.Currency,
		Reference:         reference,
		AuthorizationCode: *sub.AuthorizationCode,
	})
	if err != nil {
		return j.recordChargeFailure(ctx, store.ID, record.ID, err.Error())
	}

	if paygate.ClassifyStatus(txn.Status) != paygate.OutcomeSuccess {
		reason := txn.GatewayResponse
		if reason == "" {
			reason = txn.Status
		}
		return j.recordChargeFailure(ctx, store.ID, record.ID, reason)
	}

	if _, err := j.subs.Activate(ctx, subscriptions.ActivateInput{
		StoreID:           store.ID,
		Reference:         reference,
		PlanID:            *sub.PlanID,
		Source:            enums.ActivationSourceRenewal,
		Amount:            paygate.FromMinorUnits(txn.Amount),
		Currency:          txn.Currency,
		AuthorizationCode: sub.AuthorizationCode,
	}); err != nil {
		return fmt.Errorf("apply renewal: %w", err)
	}
	if err := j.ledger.MarkCompleted(ctx, record.ID, enums.ActivationSourceRenewal); err != nil {
		j.logg.Error(ctx, "marking renewal ledger record completed", err)
	}

	details := map[string]any{
		"reference": reference,
		"amount":    sub.Amount.String(),
		"currency":  sub.Currency,
	}
	if err := j.subs.AppendHistory(ctx, store.ID, enums.HistoryPaymentReceived, "auto renewal charged", details, nil); err != nil {
		j.logg.Error(ctx, "recording renewal history", err)
	}

	j.logg.Info(ctx, "subscription auto renewed")
	return nil
}

func (j *autoRenewJob) recordChargeFailure(ctx context.Context, storeID, paymentID uuid.UUID, reason string) error {
	if err := j.ledger.MarkFailed(ctx, paymentID, reason); err != nil {
		j.logg.Error(ctx, "marking renewal ledger record failed", err)
	}
	details := map[string]any{"reason": reason}
	if err := j.subs.AppendHistory(ctx, storeID, enums.HistoryPaymentFailed, "auto renewal charge failed", details, nil); err != nil {
		j.logg.Error(ctx, "recording renewal failure history", err)
	}
	return fmt.Errorf("charge failed: %s", reason)
}
