package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/shopraq/shopraq-backend/internal/ledger"
	"github.com/shopraq/shopraq-backend/internal/subscriptions"
	"github.com/shopraq/shopraq-backend/pkg/config"
	"github.com/shopraq/shopraq-backend/pkg/db/models"
	"github.com/shopraq/shopraq-backend/pkg/enums"
	pkgerrors "github.com/shopraq/shopraq-backend/pkg/errors"
	"github.com/shopraq/shopraq-backend/pkg/logger"
	"github.com/shopraq/shopraq-backend/pkg/metrics"
	"github.com/shopraq/shopraq-backend/pkg/paygate"
)

type ledgerService interface {
	Create(ctx context.Context, input ledger.CreateInput) (*models.PendingPayment, error)
	FindByReference(ctx context.Context, reference string) (*models.PendingPayment, error)
	ListPollable(ctx context.Context, limit int) ([]models.PendingPayment, error)
	CountPollable(ctx context.Context) (int64, error)
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	Release(ctx context.Context, id uuid.UUID) error
	RecordCheck(ctx context.Context, payment *models.PendingPayment) error
	MarkCompleted(ctx context.Context, id uuid.UUID, source enums.ActivationSource) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	RecordError(ctx context.Context, id uuid.UUID, message string) (bool, error)
}

type subscriptionService interface {
	Activate(ctx context.Context, input subscriptions.ActivateInput) (*subscriptions.ActivateResult, error)
	AppendHistory(ctx context.Context, storeID uuid.UUID, action enums.HistoryAction, description string, details map[string]any, performedBy *uuid.UUID) error
}

type storeFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Store, error)
}

type planFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error)
}

type gatewayClient interface {
	Initialize(ctx context.Context, secretKey string, params paygate.InitializeParams) (*paygate.InitializeResult, error)
	Verify(ctx context.Context, secretKey, reference string) (*paygate.Transaction, error)
}

type snapshotWriter interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Engine owns payment reconciliation: the adaptive polling loop, and the one
// activation routine shared by every trigger (webhook, server polling, client
// polling, manual).
type Engine struct {
	ledger   ledgerService
	subs     subscriptionService
	stores   storeFinder
	plans    planFinder
	gateway  gatewayClient
	snapshot snapshotWriter
	metrics  *metrics.ReconcileMetrics
	logg     *logger.Logger
	cfg      config.ReconcilerConfig
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// EngineParams groups dependencies for the reconciliation engine.
type EngineParams struct {
	Ledger   ledgerService
	Subs     subscriptionService
	Stores   storeFinder
	Plans    planFinder
	Gateway  gatewayClient
	Snapshot snapshotWriter
	Metrics  *metrics.ReconcileMetrics
	Logger   *logger.Logger
	Config   config.ReconcilerConfig
}

// NewEngine builds a reconciliation engine with the required dependencies.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Subs == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	if params.Stores == nil {
		return nil, fmt.Errorf("store repo required")
	}
	if params.Plans == nil {
		return nil, fmt.Errorf("plan repo required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Config.IdleInterval <= 0 || params.Config.ActiveInterval <= 0 {
		return nil, fmt.Errorf("reconciler intervals must be positive")
	}
	return &Engine{
		ledger:   params.Ledger,
		subs:     params.Subs,
		stores:   params.Stores,
		plans:    params.Plans,
		gateway:  params.Gateway,
		snapshot: params.Snapshot,
		metrics:  params.Metrics,
		logg:     params.Logger,
		cfg:      params.Config,
		now:      time.Now,
		sleep:    sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run drives the adaptive polling loop until the context is cancelled. The
// loop rests on the idle interval while the ledger is quiet and tightens to
// the active interval as soon as a sweep observes pending work.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.IdleInterval
	e.logg.Info(e.logg.WithField(ctx, "interval", interval.String()), "reconciliation loop started")

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logg.Info(ctx, "reconciliation loop stopped")
			return ctx.Err()
		case <-timer.C:
		}

		pending, err := e.Sweep(ctx)
		if err != nil {
			// Sweep errors are per-item and already aggregated; the loop
			// itself must keep running.
			e.logg.Error(ctx, "reconciliation sweep finished with errors", err)
		}

		if pending > 0 {
			interval = e.cfg.ActiveInterval
		} else {
			interval = e.cfg.IdleInterval
		}
		e.publishSnapshot(ctx, interval, pending)
		timer.Reset(interval)
	}
}

// Sweep verifies every pollable ledger record once, serially, with a fixed
// delay between gateway calls. Returns the number of records still pending
// afterwards. Individual failures never abort the sweep.
func (e *Engine) Sweep(ctx context.Context) (int64, error) {
	start := e.now()
	payments, err := e.ledger.ListPollable(ctx, e.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("list pollable payments: %w", err)
	}

	var errs error
	processed := 0
	for i := range payments {
		if ctx.Err() != nil {
			break
		}
		if err := e.processItem(ctx, &payments[i]); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reference %s: %w", payments[i].Reference, err))
		}
		processed++
		if i < len(payments)-1 {
			if err := e.sleep(ctx, e.cfg.ItemDelay); err != nil {
				break
			}
		}
	}

	pending, countErr := e.ledger.CountPollable(ctx)
	if countErr != nil {
		errs = multierr.Append(errs, fmt.Errorf("count pollable payments: %w", countErr))
	}

	mode := modeFor(pending)
	e.observeSweep(mode, e.now().Sub(start), pending)

	reportCtx := e.logg.WithFields(ctx, map[string]any{
		"processed": processed,
		"pending":   pending,
		"mode":      mode,
	})
	e.logg.Info(reportCtx, "reconciliation sweep complete")
	return pending, errs
}

func (e *Engine) processItem(ctx context.Context, payment *models.PendingPayment) error {
	ctx = e.logg.WithReference(ctx, payment.Reference)

	claimed, err := e.ledger.Claim(ctx, payment.ID)
	if err != nil {
		return err
	}
	if !claimed {
		// Another path settled or claimed it since the list query.
		return nil
	}
	payment.Status = enums.PendingPaymentStatusProcessing

	if err := e.ledger.RecordCheck(ctx, payment); err != nil {
		return err
	}
	if payment.Status == enums.PendingPaymentStatusExhausted {
		return nil
	}

	store, err := e.stores.FindByID(ctx, payment.StoreID)
	if err != nil {
		return e.handleVerifyError(ctx, payment, fmt.Errorf("load store: %w", err))
	}
	if store == nil || store.GatewaySecretKey == nil || strings.TrimSpace(*store.GatewaySecretKey) == "" {
		return e.handleVerifyError(ctx, payment, fmt.Errorf("store %s has no gateway credentials", payment.StoreID))
	}

	txn, err := e.gateway.Verify(ctx, *store.GatewaySecretKey, payment.Reference)
	if err != nil {
		e.incVerify("error")
		return e.handleVerifyError(ctx, payment, err)
	}

	outcome := paygate.ClassifyStatus(txn.Status)
	e.incVerify(string(outcome))

	switch outcome {
	case paygate.OutcomeSuccess:
		_, err := e.Activate(ctx, ActivateParams{
			StoreID:           payment.StoreID,
			Reference:         payment.Reference,
			PlanID:            payment.PlanID,
			Source:            enums.ActivationSourcePolling,
			Amount:            paygate.FromMinorUnits(txn.Amount),
			Currency:          txn.Currency,
			AuthorizationCode: authorizationCode(txn),
		})
		return err
	case paygate.OutcomeFailure:
		reason := txn.GatewayResponse
		if reason == "" {
			reason = txn.Status
		}
		return e.ledger.MarkFailed(ctx, payment.ID, reason)
	default:
		// Indeterminate (including gateway "abandoned"): put it back and
		// keep polling until TTL or the attempt cap.
		return e.ledger.Release(ctx, payment.ID)
	}
}

func (e *Engine) handleVerifyError(ctx context.Context, payment *models.PendingPayment, cause error) error {
	promoted, err := e.ledger.RecordError(ctx, payment.ID, cause.Error())
	if err != nil {
		return multierr.Append(cause, err)
	}
	if promoted {
		e.logg.Warn(ctx, "pending payment failed at verification error cap")
		return cause
	}
	if err := e.ledger.Release(ctx, payment.ID); err != nil {
		return multierr.Append(cause, err)
	}
	return cause
}

// ActivateParams describes one activation request against the ledger.
type ActivateParams struct {
	StoreID           uuid.UUID
	Reference         string
	PlanID            uuid.UUID
	Source            enums.ActivationSource
	Amount            decimal.Decimal
	Currency          string
	AuthorizationCode *string
	PerformedBy       *uuid.UUID
}

// ActivateOutcome reports what one activation call did.
type ActivateOutcome struct {
	Activated        bool
	AlreadyActivated bool
	EndDate          *time.Time
}

// Activate is the single idempotent activation routine. Every trigger funnels
// through here: it applies the subscription via the conditional store update,
// then settles the ledger record. Calling it repeatedly for the same
// reference is safe.
func (e *Engine) Activate(ctx context.Context, params ActivateParams) (*ActivateOutcome, error) {
	reference := strings.TrimSpace(params.Reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}

	payment, err := e.ledger.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no pending payment for reference")
	}
	if params.StoreID != uuid.Nil && payment.StoreID != params.StoreID {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "reference belongs to a different store")
	}
	if payment.SubscriptionActivated {
		return &ActivateOutcome{AlreadyActivated: true}, nil
	}

	planID := params.PlanID
	if planID == uuid.Nil {
		planID = payment.PlanID
	}
	amount := params.Amount
	if amount.IsZero() {
		amount = payment.Amount
	}
	currency := params.Currency
	if currency == "" {
		currency = payment.Currency
	}

	result, err := e.subs.Activate(ctx, subscriptions.ActivateInput{
		StoreID:           payment.StoreID,
		Reference:         reference,
		PlanID:            planID,
		Source:            params.Source,
		Amount:            amount,
		Currency:          currency,
		AuthorizationCode: params.AuthorizationCode,
		PerformedBy:       params.PerformedBy,
	})
	if err != nil {
		if _, recErr := e.ledger.RecordError(ctx, payment.ID, err.Error()); recErr != nil {
			e.logg.Error(ctx, "recording activation error", recErr)
		}
		return nil, err
	}

	if err := e.ledger.MarkCompleted(ctx, payment.ID, params.Source); err != nil {
		// The subscription is already applied; the ledger catches up on the
		// next sweep because the guarded store update is reference-keyed.
		e.logg.Error(ctx, "marking ledger record completed", err)
	}

	if result.Activated {
		e.incActivation(string(params.Source))
	}
	return &ActivateOutcome{
		Activated:        result.Activated,
		AlreadyActivated: result.AlreadyActivated,
		EndDate:          result.EndDate,
	}, nil
}

// InitializeParams starts a checkout for a store and plan.
type InitializeParams struct {
	StoreID       uuid.UUID
	PlanID        uuid.UUID
	CustomerEmail string
	CustomerName  *string
	CustomerPhone *string
	CallbackURL   string
}

// InitializeOutcome carries the checkout redirect plus the ledger reference.
type InitializeOutcome struct {
	Reference        string
	AuthorizationURL string
	AccessCode       string
	Amount           decimal.Decimal
	Currency         string
}

// InitializePayment creates the gateway checkout session and the matching
// ledger record. The reference is generated server-side so the ledger row and
// the gateway transaction can never disagree on the key.
func (e *Engine) InitializePayment(ctx context.Context, params InitializeParams) (*InitializeOutcome, error) {
	if params.StoreID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id is required")
	}
	if params.PlanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required")
	}
	email := strings.TrimSpace(params.CustomerEmail)
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer email is required")
	}

	store, err := e.stores.FindByID(ctx, params.StoreID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up store")
	}
	if store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "store not found")
	}
	if store.GatewaySecretKey == nil || strings.TrimSpace(*store.GatewaySecretKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "store has no gateway credentials")
	}

	plan, err := e.plans.FindByID(ctx, params.PlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	if !plan.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "plan is not active")
	}

	reference := newReference()
	ctx = e.logg.WithReference(ctx, reference)

	session, err := e.gateway.Initialize(ctx, *store.GatewaySecretKey, paygate.InitializeParams{
		Email:       email,
		Amount:      plan.Price,
		Currency:    plan.Currency,
		Reference:   reference,
		CallbackURL: params.CallbackURL,
		Metadata: map[string]any{
			"store_id": params.StoreID.String(),
			"plan_id":  params.PlanID.String(),
		},
	})
	if err != nil {
		return nil, err
	}

	if _, err := e.ledger.Create(ctx, ledger.CreateInput{
		StoreID:       params.StoreID,
		Reference:     reference,
		PlanID:        params.PlanID,
		Amount:        plan.Price,
		Currency:      plan.Currency,
		CustomerEmail: &email,
		CustomerName:  params.CustomerName,
		CustomerPhone: params.CustomerPhone,
	}); err != nil {
		return nil, err
	}

	details := map[string]any{
		"reference": reference,
		"plan_id":   params.PlanID.String(),
		"amount":    plan.Price.String(),
	}
	if err := e.subs.AppendHistory(ctx, params.StoreID, enums.HistoryPaymentInitiated, "checkout session created", details, nil); err != nil {
		e.logg.Error(ctx, "recording payment initiation history", err)
	}

	e.logg.Info(ctx, "payment initialized")
	return &InitializeOutcome{
		Reference:        reference,
		AuthorizationURL: session.AuthorizationURL,
		AccessCode:       session.AccessCode,
		Amount:           plan.Price,
		Currency:         plan.Currency,
	}, nil
}

// VerifyOutcome is the contract the client polling endpoints return.
type VerifyOutcome struct {
	Status                string
	ShouldContinuePolling bool
	SubscriptionActivated bool
	AlreadyActivated      bool
}

// VerifyAndActivate verifies one reference against the gateway and activates
// on success. Used by the explicit verify endpoint, the client poll endpoint
// and manual operator activation.
func (e *Engine) VerifyAndActivate(ctx context.Context, storeID uuid.UUID, reference string, source enums.ActivationSource) (*VerifyOutcome, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	ctx = e.logg.WithReference(ctx, reference)

	payment, err := e.ledger.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no pending payment for reference")
	}
	if storeID != uuid.Nil && payment.StoreID != storeID {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "reference belongs to a different store")
	}
	if payment.SubscriptionActivated {
		return &VerifyOutcome{
			Status:                string(payment.Status),
			SubscriptionActivated: true,
			AlreadyActivated:      true,
		}, nil
	}
	if payment.Status.IsTerminal() {
		return &VerifyOutcome{Status: string(payment.Status)}, nil
	}

	store, err := e.stores.FindByID(ctx, payment.StoreID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up store")
	}
	if store == nil || store.GatewaySecretKey == nil || strings.TrimSpace(*store.GatewaySecretKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "store has no gateway credentials")
	}

	txn, err := e.gateway.Verify(ctx, *store.GatewaySecretKey, reference)
	if err != nil {
		e.incVerify("error")
		return nil, err
	}

	outcome := paygate.ClassifyStatus(txn.Status)
	e.incVerify(string(outcome))

	switch outcome {
	case paygate.OutcomeSuccess:
		activation, err := e.Activate(ctx, ActivateParams{
			StoreID:           payment.StoreID,
			Reference:         reference,
			PlanID:            payment.PlanID,
			Source:            source,
			Amount:            paygate.FromMinorUnits(txn.Amount),
			Currency:          txn.Currency,
			AuthorizationCode: authorizationCode(txn),
		})
		if err != nil {
			return nil, err
		}
		return &VerifyOutcome{
			Status:                txn.Status,
			SubscriptionActivated: true,
			AlreadyActivated:      activation.AlreadyActivated,
		}, nil
	case paygate.OutcomeFailure:
		reason := txn.GatewayResponse
		if reason == "" {
			reason = txn.Status
		}
		if err := e.ledger.MarkFailed(ctx, payment.ID, reason); err != nil {
			return nil, err
		}
		return &VerifyOutcome{Status: txn.Status}, nil
	default:
		return &VerifyOutcome{Status: txn.Status, ShouldContinuePolling: true}, nil
	}
}

func authorizationCode(txn *paygate.Transaction) *string {
	if txn == nil || !txn.Authorization.Reusable {
		return nil
	}
	code := strings.TrimSpace(txn.Authorization.AuthorizationCode)
	if code == "" {
		return nil
	}
	return &code
}

func newReference() string {
	return "shprq_" + uuid.NewString()
}

func modeFor(pending int64) string {
	if pending > 0 {
		return "fast"
	}
	return "idle"
}

func (e *Engine) observeSweep(mode string, duration time.Duration, pending int64) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveSweep(mode, duration, int(pending))
}

func (e *Engine) incVerify(outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.IncVerify(outcome)
}

func (e *Engine) incActivation(source string) {
	if e.metrics == nil {
		return
	}
	e.metrics.IncActivation(source)
}
