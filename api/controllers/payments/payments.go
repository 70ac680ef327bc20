package payments

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shopraq/shopraq-backend/api/responses"
	"github.com/shopraq/shopraq-backend/api/validators"
	"github.com/shopraq/shopraq-backend/internal/reconcile"
	"github.com/shopraq/shopraq-backend/pkg/db/models"
	"github.com/shopraq/shopraq-backend/pkg/enums"
	pkgerrors "github.com/shopraq/shopraq-backend/pkg/errors"
	"github.com/shopraq/shopraq-backend/pkg/logger"
)

// ReconcileEngine describes the reconciliation engine methods used by the
// payment controllers.
type ReconcileEngine interface {
	InitializePayment(ctx context.Context, params reconcile.InitializeParams) (*reconcile.InitializeOutcome, error)
	VerifyAndActivate(ctx context.Context, storeID uuid.UUID, reference string, source enums.ActivationSource) (*reconcile.VerifyOutcome, error)
	Activate(ctx context.Context, params reconcile.ActivateParams) (*reconcile.ActivateOutcome, error)
}

// LedgerReader exposes the ledger lookups the read-only endpoints need.
type LedgerReader interface {
	FindByReference(ctx context.Context, reference string) (*models.PendingPayment, error)
	ListByStore(ctx context.Context, storeID uuid.UUID, limit int) ([]models.PendingPayment, error)
}

type initializeRequest struct {
	PlanID      string  `json:"plan_id" validate:"required,uuid4"`
	Email       string  `json:"email" validate:"required,email"`
	Name        *string `json:"name,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	CallbackURL string  `json:"callback_url,omitempty" validate:"omitempty,url"`
}

type initializeResponse struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
}

type verifyRequest struct {
	Reference string `json:"reference" validate:"required"`
}

type verifyResponse struct {
	Status                string `json:"status"`
	ShouldContinuePolling bool   `json:"should_continue_polling"`
	SubscriptionActivated bool   `json:"subscription_activated"`
	AlreadyActivated      bool   `json:"already_activated"`
}

type paymentStatusResponse struct {
	Reference             string  `json:"reference"`
	Status                string  `json:"status"`
	Amount                string  `json:"amount"`
	Currency              string  `json:"currency"`
	CheckAttempts         int     `json:"check_attempts"`
	SubscriptionActivated bool    `json:"subscription_activated"`
	ActivationSource      *string `json:"activation_source,omitempty"`
	LastError             *string `json:"last_error,omitempty"`
	ExpiresAt             string  `json:"expires_at"`
	CreatedAt             string  `json:"created_at"`
	CompletedAt           *string `json:"completed_at,omitempty"`
}

// Initialize starts a gateway checkout session for the store and plan.
func Initialize(engine ReconcileEngine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		storeID, err := storeIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload initializeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		planID, err := uuid.Parse(payload.PlanID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "plan_id must be a valid uuid"))
			return
		}

		outcome, err := engine.InitializePayment(ctx, reconcile.InitializeParams{
			StoreID:       storeID,
			PlanID:        planID,
			CustomerEmail: payload.Email,
			CustomerName:  payload.Name,
			CustomerPhone: payload.Phone,
			CallbackURL:   payload.CallbackURL,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, initializeResponse{
			Reference:        outcome.Reference,
			AuthorizationURL: outcome.AuthorizationURL,
			AccessCode:       outcome.AccessCode,
			Amount:           outcome.Amount.StringFixed(2),
			Currency:         outcome.Currency,
		})
	}
}

// Verify checks one reference against the gateway and activates on success.
// It backs up the webhook and polling paths for clients returning from the
// gateway redirect.
func Verify(engine ReconcileEngine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		storeID, err := storeIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload verifyRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		outcome, err := engine.VerifyAndActivate(ctx, storeID, payload.Reference, enums.ActivationSourceVerifyBackup)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, verifyOutcomeToResponse(outcome))
	}
}

// Poll is the client polling endpoint. Same contract as Verify but keyed by
// URL so clients can poll with a plain GET.
func Poll(engine ReconcileEngine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		storeID, err := storeIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		reference := strings.TrimSpace(chi.URLParam(r, "reference"))
		if reference == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "reference is required"))
			return
		}

		outcome, err := engine.VerifyAndActivate(ctx, storeID, reference, enums.ActivationSourcePolling)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, verifyOutcomeToResponse(outcome))
	}
}

// Status returns the ledger record for one reference without touching the
// gateway.
func Status(ledger LedgerReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		storeID, err := storeIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		reference := strings.TrimSpace(chi.URLParam(r, "reference"))
		if reference == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "reference is required"))
			return
		}

		payment, err := ledger.FindByReference(ctx, reference)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if payment == nil || payment.StoreID != storeID {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "no payment for reference"))
			return
		}

		responses.WriteSuccess(w, paymentToResponse(payment))
	}
}

// List returns the store's recent ledger records, newest first.
func List(ledger LedgerReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		storeID, err := storeIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, 100)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		payments, err := ledger.ListByStore(ctx, storeID, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		items := make([]paymentStatusResponse, 0, len(payments))
		for i := range payments {
			items = append(items, paymentToResponse(&payments[i]))
		}
		responses.WriteSuccess(w, map[string]any{"payments": items})
	}
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
	} `json:"data"`
}

// Webhook receives gateway charge notifications. The payload is only a hint:
// the engine re-verifies the reference with the gateway before activating, so
// a forged body cannot activate anything. Once the payload parses the gateway
// always gets a 200; internal failures are logged and the polling loop
// settles the record later.
func Webhook(engine ReconcileEngine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		// Gateway payloads carry fields beyond this shape, so decode
		// leniently instead of through DecodeJSONBody.
		var payload webhookPayload
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&payload); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook body"))
			return
		}
		reference := strings.TrimSpace(payload.Data.Reference)
		if reference == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "data.reference is required"))
			return
		}

		ctx = logg.WithFields(ctx, map[string]any{
			"reference": reference,
			"event":     payload.Event,
		})
		logg.Info(ctx, "gateway webhook received")

		if _, err := engine.VerifyAndActivate(ctx, uuid.Nil, reference, enums.ActivationSourceWebhook); err != nil {
			logg.Error(ctx, "webhook processing failed", err)
		}
		responses.WriteSuccess(w, map[string]string{"status": "received"})
	}
}

type manualActivateRequest struct {
	Reference   string  `json:"reference" validate:"required"`
	PerformedBy *string `json:"performed_by,omitempty" validate:"omitempty,uuid4"`
}

// ManualActivate is the operator escape hatch for a payment the gateway
// confirmed out of band. It still runs through the idempotent activation
// routine, so repeating it is harmless.
func ManualActivate(engine ReconcileEngine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		storeID, err := storeIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload manualActivateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		performedBy, err := optionalUUID(payload.PerformedBy)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "performed_by must be a valid uuid"))
			return
		}

		outcome, err := engine.Activate(ctx, reconcile.ActivateParams{
			StoreID:     storeID,
			Reference:   payload.Reference,
			Source:      enums.ActivationSourceManual,
			PerformedBy: performedBy,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"activated":         outcome.Activated,
			"already_activated": outcome.AlreadyActivated,
			"end_date":          formatTimePtr(outcome.EndDate),
		})
	}
}

type snapshotReader interface {
	Get(ctx context.Context, key string) (string, error)
}

// PollingStatus exposes the reconciliation loop's last published snapshot.
func PollingStatus(store snapshotReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		snap, err := reconcile.ReadSnapshot(ctx, store)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading reconcile snapshot"))
			return
		}
		if snap == nil {
			responses.WriteSuccess(w, map[string]any{"running": false})
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"running":          true,
			"mode":             snap.Mode,
			"interval_seconds": snap.IntervalSeconds,
			"pending_payments": snap.PendingPayments,
			"updated_at":       snap.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
}

func verifyOutcomeToResponse(outcome *reconcile.VerifyOutcome) verifyResponse {
	return verifyResponse{
		Status:                outcome.Status,
		ShouldContinuePolling: outcome.ShouldContinuePolling,
		SubscriptionActivated: outcome.SubscriptionActivated,
		AlreadyActivated:      outcome.AlreadyActivated,
	}
}

func paymentToResponse(payment *models.PendingPayment) paymentStatusResponse {
	resp := paymentStatusResponse{
		Reference:             payment.Reference,
		Status:                string(payment.Status),
		Amount:                payment.Amount.StringFixed(2),
		Currency:              payment.Currency,
		CheckAttempts:         payment.CheckAttempts,
		SubscriptionActivated: payment.SubscriptionActivated,
		LastError:             payment.LastError,
		ExpiresAt:             payment.ExpiresAt.UTC().Format(time.RFC3339),
		CreatedAt:             payment.CreatedAt.UTC().Format(time.RFC3339),
	}
	if payment.ActivationSource != nil {
		source := string(*payment.ActivationSource)
		resp.ActivationSource = &source
	}
	if payment.CompletedAt != nil {
		completed := payment.CompletedAt.UTC().Format(time.RFC3339)
		resp.CompletedAt = &completed
	}
	return resp
}

func storeIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "storeId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "store id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "store id must be a valid uuid")
	}
	return id, nil
}

func optionalUUID(raw *string) (*uuid.UUID, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	id, err := uuid.Parse(strings.TrimSpace(*raw))
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.UTC().Format(time.RFC3339)
	return &formatted
}
