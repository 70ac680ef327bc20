package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopraq/shopraq-backend/internal/reconcile"
	"github.com/shopraq/shopraq-backend/pkg/db/models"
	"github.com/shopraq/shopraq-backend/pkg/enums"
	"github.com/shopraq/shopraq-backend/pkg/logger"
	pkgredis "github.com/shopraq/shopraq-backend/pkg/redis"
)

type fakeEngine struct {
	initOutcome   *reconcile.InitializeOutcome
	initErr       error
	initParams    *reconcile.InitializeParams
	verifyOutcome *reconcile.VerifyOutcome
	verifyErr     error
	verifyStore   uuid.UUID
	verifyRef     string
	verifySource  enums.ActivationSource
	activateOut   *reconcile.ActivateOutcome
	activateErr   error
	activateIn    *reconcile.ActivateParams
}

func (f *fakeEngine) InitializePayment(ctx context.Context, params reconcile.InitializeParams) (*reconcile.InitializeOutcome, error) {
	f.initParams = &params
	if f.initErr != nil {
		return nil, f.initErr
	}
	return f.initOutcome, nil
}

func (f *fakeEngine) VerifyAndActivate(ctx context.Context, storeID uuid.UUID, reference string, source enums.ActivationSource) (*reconcile.VerifyOutcome, error) {
	f.verifyStore = storeID
	f.verifyRef = reference
	f.verifySource = source
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.verifyOutcome, nil
}

func (f *fakeEngine) Activate(ctx context.Context, params reconcile.ActivateParams) (*reconcile.ActivateOutcome, error) {
	f.activateIn = &params
	if f.activateErr != nil {
		return nil, f.activateErr
	}
	return f.activateOut, nil
}

type fakeLedgerReader struct {
	payment  *models.PendingPayment
	payments []models.PendingPayment
	limit    int
}

func (f *fakeLedgerReader) FindByReference(ctx context.Context, reference string) (*models.PendingPayment, error) {
	if f.payment != nil && f.payment.Reference == reference {
		return f.payment, nil
	}
	return nil, nil
}

func (f *fakeLedgerReader) ListByStore(ctx context.Context, storeID uuid.UUID, limit int) ([]models.PendingPayment, error) {
	f.limit = limit
	return f.payments, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test"})
}

func doRequest(handler http.HandlerFunc, method, target string, body string, params map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var envelope struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Error.Code
}

func TestInitializeHandler(t *testing.T) {
	storeID := uuid.New()
	planID := uuid.New()
	engine := &fakeEngine{
		initOutcome: &reconcile.InitializeOutcome{
			Reference:        "shprq_abc",
			AuthorizationURL: "https://gateway.example/checkout/xyz",
			AccessCode:       "xyz",
			Amount:           decimal.NewFromInt(99),
			Currency:         "ILS",
		},
	}

	body := `{"plan_id":"` + planID.String() + `","email":"owner@example.com"}`
	rec := doRequest(Initialize(engine, testLogger()), http.MethodPost, "/", body, map[string]string{"storeId": storeID.String()})

	require.Equal(t, http.StatusCreated, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, "shprq_abc", data["reference"])
	assert.Equal(t, "99.00", data["amount"])
	assert.Equal(t, "ILS", data["currency"])

	require.NotNil(t, engine.initParams)
	assert.Equal(t, storeID, engine.initParams.StoreID)
	assert.Equal(t, planID, engine.initParams.PlanID)
	assert.Equal(t, "owner@example.com", engine.initParams.CustomerEmail)
}

func TestInitializeHandlerValidation(t *testing.T) {
	storeID := uuid.New()

	tests := []struct {
		name string
		body string
	}{
		{name: "missing email", body: `{"plan_id":"` + uuid.NewString() + `"}`},
		{name: "bad plan id", body: `{"plan_id":"not-a-uuid","email":"owner@example.com"}`},
		{name: "unknown field", body: `{"plan_id":"` + uuid.NewString() + `","email":"owner@example.com","extra":true}`},
		{name: "empty body", body: `{}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			engine := &fakeEngine{}
			rec := doRequest(Initialize(engine, testLogger()), http.MethodPost, "/", tc.body, map[string]string{"storeId": storeID.String()})

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "VALIDATION_ERROR", decodeErrorCode(t, rec))
			assert.Nil(t, engine.initParams)
		})
	}
}

func TestInitializeHandlerBadStoreID(t *testing.T) {
	engine := &fakeEngine{}
	rec := doRequest(Initialize(engine, testLogger()), http.MethodPost, "/", `{}`, map[string]string{"storeId": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyHandlerSource(t *testing.T) {
	storeID := uuid.New()
	engine := &fakeEngine{
		verifyOutcome: &reconcile.VerifyOutcome{Status: "success", SubscriptionActivated: true},
	}

	rec := doRequest(Verify(engine, testLogger()), http.MethodPost, "/", `{"reference":"shprq_abc"}`, map[string]string{"storeId": storeID.String()})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, enums.ActivationSourceVerifyBackup, engine.verifySource)
	assert.Equal(t, storeID, engine.verifyStore)
	assert.Equal(t, "shprq_abc", engine.verifyRef)

	data := decodeData(t, rec)
	assert.Equal(t, "success", data["status"])
	assert.Equal(t, true, data["subscription_activated"])
	assert.Equal(t, false, data["should_continue_polling"])
	assert.Equal(t, false, data["already_activated"])
}

func TestPollHandlerSource(t *testing.T) {
	storeID := uuid.New()
	engine := &fakeEngine{
		verifyOutcome: &reconcile.VerifyOutcome{Status: "pending", ShouldContinuePolling: true},
	}

	rec := doRequest(Poll(engine, testLogger()), http.MethodGet, "/", "", map[string]string{
		"storeId":   storeID.String(),
		"reference": "shprq_abc",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, enums.ActivationSourcePolling, engine.verifySource)

	data := decodeData(t, rec)
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, true, data["should_continue_polling"])
}

func TestPollHandlerMissingReference(t *testing.T) {
	engine := &fakeEngine{}
	rec := doRequest(Poll(engine, testLogger()), http.MethodGet, "/", "", map[string]string{
		"storeId": uuid.NewString(),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusHandler(t *testing.T) {
	storeID := uuid.New()
	payment := &models.PendingPayment{
		ID:        uuid.New(),
		StoreID:   storeID,
		Reference: "shprq_abc",
		Amount:    decimal.NewFromInt(99),
		Currency:  "ILS",
		Status:    enums.PendingPaymentStatusPending,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	reader := &fakeLedgerReader{payment: payment}

	rec := doRequest(Status(reader, testLogger()), http.MethodGet, "/", "", map[string]string{
		"storeId":   storeID.String(),
		"reference": "shprq_abc",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, "shprq_abc", data["reference"])
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, "99.00", data["amount"])
}

func TestStatusHandlerWrongStore(t *testing.T) {
	payment := &models.PendingPayment{
		ID:        uuid.New(),
		StoreID:   uuid.New(),
		Reference: "shprq_abc",
		ExpiresAt: time.Now().UTC(),
	}
	reader := &fakeLedgerReader{payment: payment}

	// A reference that exists but belongs to another store reads as missing.
	rec := doRequest(Status(reader, testLogger()), http.MethodGet, "/", "", map[string]string{
		"storeId":   uuid.NewString(),
		"reference": "shprq_abc",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(Status(reader, testLogger()), http.MethodGet, "/", "", map[string]string{
		"storeId":   uuid.NewString(),
		"reference": "shprq_unknown",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListHandlerClampsLimit(t *testing.T) {
	reader := &fakeLedgerReader{}
	rec := doRequest(List(reader, testLogger()), http.MethodGet, "/?limit=500", "", map[string]string{
		"storeId": uuid.NewString(),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(List(reader, testLogger()), http.MethodGet, "/", "", map[string]string{
		"storeId": uuid.NewString(),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, reader.limit)
}

func TestWebhookAlwaysAcknowledges(t *testing.T) {
	engine := &fakeEngine{verifyErr: errors.New("gateway unreachable")}

	body := `{"event":"charge.success","data":{"reference":"shprq_abc","status":"success","extra_field":123}}`
	rec := doRequest(Webhook(engine, testLogger()), http.MethodPost, "/", body, nil)

	// Internal failures must not make the gateway retry forever.
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, "received", data["status"])

	assert.Equal(t, uuid.Nil, engine.verifyStore)
	assert.Equal(t, "shprq_abc", engine.verifyRef)
	assert.Equal(t, enums.ActivationSourceWebhook, engine.verifySource)
}

func TestWebhookRejectsMissingReference(t *testing.T) {
	engine := &fakeEngine{}
	rec := doRequest(Webhook(engine, testLogger()), http.MethodPost, "/", `{"event":"charge.success","data":{}}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, engine.verifyRef)
}

func TestManualActivateHandler(t *testing.T) {
	storeID := uuid.New()
	operator := uuid.New()
	end := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	engine := &fakeEngine{
		activateOut: &reconcile.ActivateOutcome{Activated: true, EndDate: &end},
	}

	body := `{"reference":"shprq_abc","performed_by":"` + operator.String() + `"}`
	rec := doRequest(ManualActivate(engine, testLogger()), http.MethodPost, "/", body, map[string]string{"storeId": storeID.String()})

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, true, data["activated"])
	assert.Equal(t, "2026-04-10T12:00:00Z", data["end_date"])

	require.NotNil(t, engine.activateIn)
	assert.Equal(t, enums.ActivationSourceManual, engine.activateIn.Source)
	require.NotNil(t, engine.activateIn.PerformedBy)
	assert.Equal(t, operator, *engine.activateIn.PerformedBy)
}

type fakeSnapshotReader struct {
	value string
	err   error
}

func (f *fakeSnapshotReader) Get(ctx context.Context, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.value, nil
}

func TestPollingStatusHandler(t *testing.T) {
	updated := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	snap := reconcile.Snapshot{
		Mode:            "active",
		IntervalSeconds: 10,
		PendingPayments: 4,
		UpdatedAt:       updated,
	}
	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	rec := doRequest(PollingStatus(&fakeSnapshotReader{value: string(raw)}, testLogger()), http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeData(t, rec)
	assert.Equal(t, true, data["running"])
	assert.Equal(t, "active", data["mode"])
	assert.Equal(t, float64(10), data["interval_seconds"])
	assert.Equal(t, float64(4), data["pending_payments"])
	assert.Equal(t, "2026-03-10T12:00:00Z", data["updated_at"])
}

func TestPollingStatusHandlerNotRunning(t *testing.T) {
	rec := doRequest(PollingStatus(&fakeSnapshotReader{err: pkgredis.Nil}, testLogger()), http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeData(t, rec)
	assert.Equal(t, false, data["running"])
}
