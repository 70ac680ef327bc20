package subscriptions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shopraq/shopraq-backend/pkg/db/models"
	"github.com/shopraq/shopraq-backend/pkg/enums"
	pkgerrors "github.com/shopraq/shopraq-backend/pkg/errors"
	"github.com/shopraq/shopraq-backend/pkg/logger"
)

type storeRepository interface {
	Create(ctx context.Context, store *models.Store) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Store, error)
	ActivateSubscription(ctx context.Context, storeID uuid.UUID, reference string, fields models.StoreSubscription) (bool, error)
	UpdateSubscriptionFields(ctx context.Context, storeID uuid.UUID, updates map[string]any) error
	SetStatus(ctx context.Context, storeID uuid.UUID, from, to enums.StoreStatus) (bool, error)
}

type planRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error)
}

// Service defines the subscription lifecycle surface.
type Service interface {
	ProvisionStore(ctx context.Context, input ProvisionStoreInput) (*models.Store, error)
	Activate(ctx context.Context, input ActivateInput) (*ActivateResult, error)
	Status(ctx context.Context, storeID uuid.UUID) (*models.Store, State, error)
	Cancel(ctx context.Context, storeID uuid.UUID, performedBy *uuid.UUID) error
	ExtendTrial(ctx context.Context, storeID uuid.UUID, days int, performedBy *uuid.UUID) (*time.Time, error)
	SetAutoRenew(ctx context.Context, storeID uuid.UUID, enabled bool, performedBy *uuid.UUID) error
	DeactivateIfExpired(ctx context.Context, store *models.Store, now time.Time) (bool, error)
	Reactivate(ctx context.Context, storeID uuid.UUID, performedBy *uuid.UUID) error
	History(ctx context.Context, storeID uuid.UUID, limit, offset int) ([]models.SubscriptionHistory, int64, error)
	AppendHistory(ctx context.Context, storeID uuid.UUID, action enums.HistoryAction, description string, details map[string]any, performedBy *uuid.UUID) error
}

// ServiceParams groups dependencies for the subscription service. TrialDays
// is the fixed trial window stamped on every newly provisioned store.
type ServiceParams struct {
	StoreRepo   storeRepository
	PlanRepo    planRepository
	HistoryRepo Repository
	Logger      *logger.Logger
	TrialDays   int
}

// ProvisionStoreInput captures a new tenant. The trial window starts
// immediately and is never reset by later payments.
type ProvisionStoreInput struct {
	CompanyName string
	Email       *string
	Phone       *string
}

// ActivateInput captures one activation request. Reference is the gateway
// payment reference and acts as the idempotency key.
type ActivateInput struct {
	StoreID           uuid.UUID
	Reference         string
	PlanID            uuid.UUID
	Source            enums.ActivationSource
	Amount            decimal.Decimal
	Currency          string
	AuthorizationCode *string
	PerformedBy       *uuid.UUID

	// StartDate/EndDate override the plan duration for custom plans only.
	StartDate *time.Time
	EndDate   *time.Time
}

// ActivateResult reports what one Activate call did.
type ActivateResult struct {
	Activated        bool
	AlreadyActivated bool
	EndDate          *time.Time
}

type service struct {
	storeRepo   storeRepository
	planRepo    planRepository
	historyRepo Repository
	logg        *logger.Logger
	trialDays   int
	now         func() time.Time
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.StoreRepo == nil {
		return nil, fmt.Errorf("store repo required")
	}
	if params.PlanRepo == nil {
		return nil, fmt.Errorf("plan repo required")
	}
	if params.HistoryRepo == nil {
		return nil, fmt.Errorf("history repo required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.TrialDays <= 0 {
		return nil, fmt.Errorf("trial days must be positive")
	}
	return &service{
		storeRepo:   params.StoreRepo,
		planRepo:    params.PlanRepo,
		historyRepo: params.HistoryRepo,
		logg:        params.Logger,
		trialDays:   params.TrialDays,
		now:         time.Now,
	}, nil
}

// ProvisionStore creates an active tenant with a fresh trial window of the
// configured length.
func (s *service) ProvisionStore(ctx context.Context, input ProvisionStoreInput) (*models.Store, error) {
	name := strings.TrimSpace(input.CompanyName)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company name is required")
	}

	now := s.now().UTC()
	trialEnd := now.AddDate(0, 0, s.trialDays)
	store := &models.Store{
		ID:          uuid.New(),
		CompanyName: name,
		Email:       input.Email,
		Phone:       input.Phone,
		Status:      enums.StoreStatusActive,
		Subscription: models.StoreSubscription{
			TrialEndDate: &trialEnd,
		},
	}
	if err := s.storeRepo.Create(ctx, store); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating store")
	}

	details := map[string]any{
		"trial_days":     s.trialDays,
		"trial_end_date": trialEnd.Format(time.RFC3339),
	}
	if err := s.AppendHistory(ctx, store.ID, enums.HistoryStoreCreated, fmt.Sprintf("store created with %d day trial", s.trialDays), details, nil); err != nil {
		s.logg.Error(ctx, "recording store creation history", err)
	}

	ctx = s.logg.WithStoreID(ctx, store.ID.String())
	s.logg.Info(ctx, "store provisioned")
	return store, nil
}

// Activate applies a verified payment to the store's subscription. It is safe
// to call from any number of concurrent paths for the same reference: the
// store update is a conditional write keyed on the reference, so only one
// caller activates and the rest observe AlreadyActivated.
func (s *service) Activate(ctx context.Context, input ActivateInput) (*ActivateResult, error) {
	if input.StoreID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id is required")
	}
	reference := strings.TrimSpace(input.Reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	if input.PlanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required")
	}
	if !input.Source.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid activation source %q", input.Source))
	}

	store, err := s.storeRepo.FindByID(ctx, input.StoreID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up store")
	}
	if store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "store not found")
	}

	plan, err := s.planRepo.FindByID(ctx, input.PlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	if !plan.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "plan is not active")
	}

	now := s.now().UTC()
	startDate, endDate, err := resolvePeriod(plan, input, now)
	if err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = plan.Currency
	}
	amount := input.Amount
	if amount.IsZero() {
		amount = plan.Price
	}

	planType := plan.Type
	fields := models.StoreSubscription{
		PlanID:            &plan.ID,
		PlanType:          &planType,
		StartDate:         &startDate,
		EndDate:           endDate,
		LastPaymentDate:   &now,
		NextPaymentDate:   endDate,
		Amount:            amount,
		Currency:          currency,
		AuthorizationCode: input.AuthorizationCode,
	}

	won, err := s.storeRepo.ActivateSubscription(ctx, input.StoreID, reference, fields)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "activating subscription")
	}
	if !won {
		// The reference is already applied; a concurrent path got there first.
		return &ActivateResult{AlreadyActivated: true, EndDate: endDate}, nil
	}

	action := enums.HistorySubscriptionActivated
	switch {
	case input.Source == enums.ActivationSourceManual:
		action = enums.HistoryManualActivation
	case input.Source == enums.ActivationSourceRenewal, store.Subscription.IsSubscribed:
		action = enums.HistorySubscriptionRenewed
	}

	details := map[string]any{
		"reference": reference,
		"plan_id":   plan.ID.String(),
		"plan_type": plan.Type.String(),
		"amount":    amount.String(),
		"currency":  currency,
		"source":    input.Source.String(),
	}
	if endDate != nil {
		details["end_date"] = endDate.Format(time.RFC3339)
	}
	if err := s.AppendHistory(ctx, input.StoreID, action, fmt.Sprintf("subscription activated via %s", input.Source), details, input.PerformedBy); err != nil {
		s.logg.Error(ctx, "recording activation history", err)
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"store_id":  input.StoreID.String(),
		"reference": reference,
		"source":    input.Source.String(),
	})
	s.logg.Info(ctx, "subscription activated")

	return &ActivateResult{Activated: true, EndDate: endDate}, nil
}

func resolvePeriod(plan *models.SubscriptionPlan, input ActivateInput, now time.Time) (time.Time, *time.Time, error) {
	if plan.Type == enums.PlanTypeCustom {
		if input.StartDate == nil || input.EndDate == nil {
			return time.Time{}, nil, pkgerrors.New(pkgerrors.CodeValidation, "custom plans require explicit start and end dates")
		}
		if !input.EndDate.After(*input.StartDate) {
			return time.Time{}, nil, pkgerrors.New(pkgerrors.CodeValidation, "end date must be after start date")
		}
		return input.StartDate.UTC(), ptrTime(input.EndDate.UTC()), nil
	}

	if plan.DurationDays <= 0 {
		// Free plans have no boundary.
		return now, nil, nil
	}
	end := now.AddDate(0, 0, plan.DurationDays)
	return now, &end, nil
}

// Status loads the store and derives its current lifecycle state.
func (s *service) Status(ctx context.Context, storeID uuid.UUID) (*models.Store, State, error) {
	store, err := s.findStore(ctx, storeID)
	if err != nil {
		return nil, State{}, err
	}
	state := Derive(store.Subscription.IsSubscribed, store.Subscription.EndDate, store.Subscription.TrialEndDate, s.now().UTC())
	return store, state, nil
}

// Cancel ends the subscription immediately: the subscribed flag is cleared,
// the period is closed at now and the store goes inactive.
func (s *service) Cancel(ctx context.Context, storeID uuid.UUID, performedBy *uuid.UUID) error {
	store, err := s.findStore(ctx, storeID)
	if err != nil {
		return err
	}
	if !store.Subscription.IsSubscribed {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "store has no subscription to cancel")
	}

	now := s.now().UTC()
	updates := map[string]any{
		"subscription_is_subscribed": false,
		"subscription_auto_renew":    false,
		"subscription_end_date":      now,
		"status":                     enums.StoreStatusInactive,
	}
	if err := s.storeRepo.UpdateSubscriptionFields(ctx, storeID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancelling subscription")
	}

	details := map[string]any{
		"cancelled_at": now.Format(time.RFC3339),
	}
	if err := s.AppendHistory(ctx, storeID, enums.HistorySubscriptionCancelled, "subscription cancelled", details, performedBy); err != nil {
		s.logg.Error(ctx, "recording cancel history", err)
	}
	return nil
}

// ExtendTrial pushes the trial end date forward by the given number of days,
// measured from the later of now and the current trial end.
func (s *service) ExtendTrial(ctx context.Context, storeID uuid.UUID, days int, performedBy *uuid.UUID) (*time.Time, error) {
	if days <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "extension days must be positive")
	}
	store, err := s.findStore(ctx, storeID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	base := now
	if store.Subscription.TrialEndDate != nil && store.Subscription.TrialEndDate.After(now) {
		base = store.Subscription.TrialEndDate.UTC()
	}
	newEnd := base.AddDate(0, 0, days)

	// The extension puts the store back on trial gating, so the subscribed
	// flag is cleared in the same write.
	updates := map[string]any{
		"subscription_trial_end_date": newEnd,
		"subscription_is_subscribed":  false,
	}
	if err := s.storeRepo.UpdateSubscriptionFields(ctx, storeID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "extending trial")
	}

	details := map[string]any{
		"days":          days,
		"new_trial_end": newEnd.Format(time.RFC3339),
	}
	if err := s.AppendHistory(ctx, storeID, enums.HistoryTrialExtended, fmt.Sprintf("trial extended by %d days", days), details, performedBy); err != nil {
		s.logg.Error(ctx, "recording trial extension history", err)
	}
	return &newEnd, nil
}

// SetAutoRenew toggles automatic renewal for a subscribed store.
func (s *service) SetAutoRenew(ctx context.Context, storeID uuid.UUID, enabled bool, performedBy *uuid.UUID) error {
	store, err := s.findStore(ctx, storeID)
	if err != nil {
		return err
	}
	if !store.Subscription.IsSubscribed {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "store has no subscription")
	}
	if store.Subscription.AutoRenew == enabled {
		if enabled {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "auto renew is already enabled")
		}
		return pkgerrors.New(pkgerrors.CodeStateConflict, "auto renew is already disabled")
	}
	if enabled && store.Subscription.AuthorizationCode == nil {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "no stored payment authorization; renew requires a completed card payment")
	}

	updates := map[string]any{
		"subscription_auto_renew": enabled,
	}
	if err := s.storeRepo.UpdateSubscriptionFields(ctx, storeID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating auto renew")
	}

	action := enums.HistoryAutoRenewDisabled
	description := "auto renew disabled"
	if enabled {
		action = enums.HistoryAutoRenewEnabled
		description = "auto renew enabled"
	}
	if err := s.AppendHistory(ctx, storeID, action, description, nil, performedBy); err != nil {
		s.logg.Error(ctx, "recording auto renew history", err)
	}
	return nil
}

// DeactivateIfExpired cuts access when the derived state says the store's
// trial or subscription has lapsed. Stores that are already inactive are left
// untouched so repeated sweeps do not write duplicate history.
func (s *service) DeactivateIfExpired(ctx context.Context, store *models.Store, now time.Time) (bool, error) {
	if store == nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "store is required")
	}
	if store.Status != enums.StoreStatusActive {
		return false, nil
	}

	state := Derive(store.Subscription.IsSubscribed, store.Subscription.EndDate, store.Subscription.TrialEndDate, now)
	if !state.ShouldDeactivate() {
		return false, nil
	}

	changed, err := s.storeRepo.SetStatus(ctx, store.ID, enums.StoreStatusActive, enums.StoreStatusInactive)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deactivating store")
	}
	if !changed {
		return false, nil
	}

	// Clearing the subscribed flag is what makes the store visible to the
	// auto-renew sweep as a lapsed candidate.
	if err := s.storeRepo.UpdateSubscriptionFields(ctx, store.ID, map[string]any{
		"subscription_is_subscribed": false,
	}); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clearing subscription flag")
	}

	description := "trial expired, store deactivated"
	if state.Phase == PhaseSubscriptionExpired {
		description = "subscription expired, store deactivated"
	}
	details := map[string]any{"phase": string(state.Phase)}
	if state.Boundary != nil {
		details["expired_at"] = state.Boundary.Format(time.RFC3339)
	}
	if err := s.AppendHistory(ctx, store.ID, enums.HistoryStoreDeactivated, description, details, nil); err != nil {
		s.logg.Error(ctx, "recording deactivation history", err)
	}

	ctx = s.logg.WithStoreID(ctx, store.ID.String())
	s.logg.Info(ctx, "store deactivated after expiry")
	return true, nil
}

// Reactivate is an operator override that restores access without a payment.
func (s *service) Reactivate(ctx context.Context, storeID uuid.UUID, performedBy *uuid.UUID) error {
	store, err := s.findStore(ctx, storeID)
	if err != nil {
		return err
	}
	if store.Status == enums.StoreStatusActive {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "store is already active")
	}

	changed, err := s.storeRepo.SetStatus(ctx, storeID, store.Status, enums.StoreStatusActive)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reactivating store")
	}
	if !changed {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "store status changed concurrently")
	}

	if err := s.AppendHistory(ctx, storeID, enums.HistoryStoreReactivated, "store reactivated by operator", nil, performedBy); err != nil {
		s.logg.Error(ctx, "recording reactivation history", err)
	}
	return nil
}

// History lists audit entries newest-first with the total count.
func (s *service) History(ctx context.Context, storeID uuid.UUID, limit, offset int) ([]models.SubscriptionHistory, int64, error) {
	if storeID == uuid.Nil {
		return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, "store id is required")
	}
	entries, err := s.historyRepo.ListByStore(ctx, storeID, limit, offset)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing history")
	}
	total, err := s.historyRepo.CountByStore(ctx, storeID)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "counting history")
	}
	return entries, total, nil
}

// AppendHistory writes one audit entry. Nil performedBy marks a system action.
func (s *service) AppendHistory(ctx context.Context, storeID uuid.UUID, action enums.HistoryAction, description string, details map[string]any, performedBy *uuid.UUID) error {
	entry := &models.SubscriptionHistory{
		StoreID:     storeID,
		Action:      action,
		Description: description,
		PerformedBy: performedBy,
		PerformedAt: s.now().UTC(),
	}
	if len(details) > 0 {
		raw, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("encoding history details: %w", err)
		}
		entry.Details = raw
	}
	return s.historyRepo.Append(ctx, entry)
}

func (s *service) findStore(ctx context.Context, storeID uuid.UUID) (*models.Store, error) {
	if storeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id is required")
	}
	store, err := s.storeRepo.FindByID(ctx, storeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up store")
	}
	if store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "store not found")
	}
	return store, nil
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
