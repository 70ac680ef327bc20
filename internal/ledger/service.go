package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shopraq/shopraq-backend/pkg/config"
	"github.com/shopraq/shopraq-backend/pkg/db"
	"github.com/shopraq/shopraq-backend/pkg/db/models"
	"github.com/shopraq/shopraq-backend/pkg/enums"
	pkgerrors "github.com/shopraq/shopraq-backend/pkg/errors"
	"github.com/shopraq/shopraq-backend/pkg/logger"
)

// Service defines the pending payment ledger surface.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.PendingPayment, error)
	FindByReference(ctx context.Context, reference string) (*models.PendingPayment, error)
	ListByStore(ctx context.Context, storeID uuid.UUID, limit int) ([]models.PendingPayment, error)
	ListPollable(ctx context.Context, limit int) ([]models.PendingPayment, error)
	CountPollable(ctx context.Context) (int64, error)
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	Release(ctx context.Context, id uuid.UUID) error
	RecordCheck(ctx context.Context, payment *models.PendingPayment) error
	MarkCompleted(ctx context.Context, id uuid.UUID, source enums.ActivationSource) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	RecordError(ctx context.Context, id uuid.UUID, message string) (bool, error)
	Cleanup(ctx context.Context) (CleanupResult, error)
}

// ServiceParams groups dependencies for the ledger service.
type ServiceParams struct {
	Repo   Repository
	Config config.SubscriptionConfig
	Logger *logger.Logger
}

// CreateInput captures a new initiated payment.
type CreateInput struct {
	StoreID       uuid.UUID
	Reference     string
	PlanID        uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	CustomerEmail *string
	CustomerName  *string
	CustomerPhone *string
}

// CleanupResult reports what one cleanup pass did.
type CleanupResult struct {
	Abandoned int64
	Deleted   int64
}

type service struct {
	repo Repository
	cfg  config.SubscriptionConfig
	logg *logger.Logger
	now  func() time.Time
}

// NewService builds a ledger service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repo required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Config.MaxCheckAttempts <= 0 {
		return nil, fmt.Errorf("max check attempts must be positive")
	}
	if params.Config.MaxActivationErrors <= 0 {
		return nil, fmt.Errorf("max activation errors must be positive")
	}
	if params.Config.PendingPaymentTTL <= 0 {
		return nil, fmt.Errorf("pending payment ttl must be positive")
	}
	return &service{
		repo: params.Repo,
		cfg:  params.Config,
		logg: params.Logger,
		now:  time.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.PendingPayment, error) {
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
	if input.Amount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount cannot be negative")
	}

	now := s.now().UTC()
	payment := &models.PendingPayment{
		StoreID:       input.StoreID,
		Reference:     reference,
		PlanID:        input.PlanID,
		Amount:        input.Amount,
		Currency:      strings.ToUpper(strings.TrimSpace(input.Currency)),
		Status:        enums.PendingPaymentStatusPending,
		CustomerEmail: input.CustomerEmail,
		CustomerName:  input.CustomerName,
		CustomerPhone: input.CustomerPhone,
		ExpiresAt:     now.Add(s.cfg.PendingPaymentTTL),
	}

	if err := s.repo.Create(ctx, payment); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("payment reference %q already recorded", reference))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating pending payment")
	}

	ctx = s.logg.WithReference(ctx, reference)
	s.logg.Info(ctx, "pending payment recorded")
	return payment, nil
}

func (s *service) FindByReference(ctx context.Context, reference string) (*models.PendingPayment, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	payment, err := s.repo.FindByReference(ctx, reference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up payment")
	}
	return payment, nil
}

func (s *service) ListByStore(ctx context.Context, storeID uuid.UUID, limit int) ([]models.PendingPayment, error) {
	if storeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id is required")
	}
	payments, err := s.repo.ListByStore(ctx, storeID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing payments")
	}
	return payments, nil
}

func (s *service) ListPollable(ctx context.Context, limit int) ([]models.PendingPayment, error) {
	payments, err := s.repo.ListPollable(ctx, s.now().UTC(), s.cfg.MaxCheckAttempts, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing pollable payments")
	}
	return payments, nil
}

func (s *service) CountPollable(ctx context.Context) (int64, error) {
	count, err := s.repo.CountPollable(ctx, s.now().UTC(), s.cfg.MaxCheckAttempts)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "counting pollable payments")
	}
	return count, nil
}

// Claim flags a record as processing so exactly one poller verifies it.
func (s *service) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	claimed, err := s.repo.SetStatus(ctx, id, enums.PendingPaymentStatusPending, enums.PendingPaymentStatusProcessing)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claiming payment")
	}
	return claimed, nil
}

// Release puts a claimed record back so the next sweep retries it.
func (s *service) Release(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.SetStatus(ctx, id, enums.PendingPaymentStatusProcessing, enums.PendingPaymentStatusPending); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "releasing payment")
	}
	return nil
}

// RecordCheck counts one verify attempt. When the attempt cap is reached the
// record transitions to exhausted and drops out of polling for good.
func (s *service) RecordCheck(ctx context.Context, payment *models.PendingPayment) error {
	if payment == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment is required")
	}
	now := s.now().UTC()
	if err := s.repo.IncrementCheckAttempts(ctx, payment.ID, now); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording check attempt")
	}
	payment.CheckAttempts++
	payment.LastCheckedAt = &now

	if payment.CheckAttempts >= s.cfg.MaxCheckAttempts {
		if _, err := s.repo.SetStatus(ctx, payment.ID, enums.PendingPaymentStatusProcessing, enums.PendingPaymentStatusExhausted); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking payment exhausted")
		}
		payment.Status = enums.PendingPaymentStatusExhausted

		ctx = s.logg.WithReference(ctx, payment.Reference)
		s.logg.Warn(ctx, "pending payment exhausted check attempts")
	}
	return nil
}

func (s *service) MarkCompleted(ctx context.Context, id uuid.UUID, source enums.ActivationSource) error {
	if err := s.repo.MarkCompleted(ctx, id, source, s.now().UTC()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking payment completed")
	}
	return nil
}

func (s *service) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	if err := s.repo.MarkFailed(ctx, id, reason, s.now().UTC()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking payment failed")
	}
	return nil
}

func (s *service) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.SetStatus(ctx, id, enums.PendingPaymentStatusPending, enums.PendingPaymentStatusCancelled); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancelling payment")
	}
	return nil
}

// RecordError counts a transient verify failure. Returns true when the error
// cap promoted the record to failed.
func (s *service) RecordError(ctx context.Context, id uuid.UUID, message string) (bool, error) {
	count, err := s.repo.RecordError(ctx, id, message)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording payment error")
	}
	if count < s.cfg.MaxActivationErrors {
		return false, nil
	}
	if err := s.repo.MarkFailed(ctx, id, fmt.Sprintf("gave up after %d verification errors: %s", count, message), s.now().UTC()); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failing payment at error cap")
	}
	return true, nil
}

// Cleanup ages out the ledger: TTL-expired records become abandoned, settled
// records past retention are deleted.
func (s *service) Cleanup(ctx context.Context) (CleanupResult, error) {
	now := s.now().UTC()

	abandoned, err := s.repo.MarkExpiredAbandoned(ctx, now)
	if err != nil {
		return CleanupResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "abandoning expired payments")
	}

	deleted, err := s.repo.DeleteTerminalOlderThan(ctx, now.Add(-s.cfg.CleanupRetention))
	if err != nil {
		return CleanupResult{Abandoned: abandoned}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deleting settled payments")
	}

	if abandoned > 0 || deleted > 0 {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"abandoned": abandoned,
			"deleted":   deleted,
		})
		s.logg.Info(ctx, "pending payment cleanup finished")
	}
	return CleanupResult{Abandoned: abandoned, Deleted: deleted}, nil
}
