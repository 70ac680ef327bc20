package paygate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopraq/shopraq-backend/pkg/config"
	pkgerrors "github.com/shopraq/shopraq-backend/pkg/errors"
	"github.com/shopraq/shopraq-backend/pkg/logger"
)

var (
	errBaseURLRequired   = errors.New("gateway base url is required")
	errLoggerRequired    = errors.New("gateway logger is required")
	errSecretKeyRequired = errors.New("gateway secret key is required")
	errReferenceRequired = errors.New("transaction reference is required")
)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client exposes the payment gateway's transaction API with centralized auth,
// logging, and error mapping. Each store carries its own secret key, so the
// key is supplied per call rather than held on the client.
type Client struct {
	httpClient  httpDoer
	baseURL     string
	callbackURL string
	logger      *logger.Logger
}

// NewClient initializes the gateway wrapper and validates the configuration.
func NewClient(cfg config.GatewayConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:     baseURL,
		callbackURL: strings.TrimSpace(cfg.CallbackURL),
		logger:      logg,
	}, nil
}

// Initialize creates a hosted-checkout session and returns the redirect URL.
func (c *Client) Initialize(ctx context.Context, secretKey string, params InitializeParams) (*InitializeResult, error) {
	body := initializeRequest{
		Email:       params.Email,
		Amount:      ToMinorUnits(params.Amount),
		Currency:    params.Currency,
		Reference:   params.Reference,
		CallbackURL: params.CallbackURL,
		Metadata:    params.Metadata,
	}
	if body.CallbackURL == "" {
		body.CallbackURL = c.callbackURL
	}

	c.log(ctx, "request", "initialize_transaction", map[string]any{
		"reference": params.Reference,
		"amount":    body.Amount,
		"currency":  params.Currency,
	})

	var env initializeEnvelope
	if err := c.call(ctx, secretKey, http.MethodPost, "/transaction/initialize", body, &env); err != nil {
		c.log(ctx, "error", "initialize_transaction", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "initialize_transaction", map[string]any{
		"reference":   env.Data.Reference,
		"access_code": env.Data.AccessCode,
	})
	return &env.Data, nil
}

// Verify fetches the authoritative state of a transaction by reference.
func (c *Client) Verify(ctx context.Context, secretKey, reference string) (*Transaction, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, errReferenceRequired.Error())
	}

	c.log(ctx, "request", "verify_transaction", map[string]any{"reference": reference})

	var env transactionEnvelope
	path := "/transaction/verify/" + reference
	if err := c.call(ctx, secretKey, http.MethodGet, path, nil, &env); err != nil {
		c.log(ctx, "error", "verify_transaction", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "verify_transaction", map[string]any{
		"reference": env.Data.Reference,
		"status":    env.Data.Status,
	})
	return &env.Data, nil
}

// ChargeAuthorization charges a stored card authorization without customer
// interaction. Used for auto-renewals.
func (c *Client) ChargeAuthorization(ctx context.Context, secretKey string, params ChargeParams) (*Transaction, error) {
	if strings.TrimSpace(params.AuthorizationCode) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "authorization code is required")
	}

	body := chargeRequest{
		Email:             params.Email,
		Amount:            ToMinorUnits(params.Amount),
		Currency:          params.Currency,
		Reference:         params.Reference,
		AuthorizationCode: params.AuthorizationCode,
		Metadata:          params.Metadata,
	}

	c.log(ctx, "request", "charge_authorization", map[string]any{
		"reference":          params.Reference,
		"amount":             body.Amount,
		"authorization_code": params.AuthorizationCode,
	})

	var env transactionEnvelope
	if err := c.call(ctx, secretKey, http.MethodPost, "/transaction/charge_authorization", body, &env); err != nil {
		c.log(ctx, "error", "charge_authorization", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "charge_authorization", map[string]any{
		"reference": env.Data.Reference,
		"status":    env.Data.Status,
	})
	return &env.Data, nil
}

func (c *Client) call(ctx context.Context, secretKey, method, path string, body any, out any) error {
	if strings.TrimSpace(secretKey) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, errSecretKeyRequired.Error())
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding gateway request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building gateway request")
	}
	req.Header.Set("Authorization", "Bearer "+secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "calling payment gateway")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading gateway response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.mapGatewayError(resp.StatusCode, raw)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding gateway response")
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && !env.Status {
		msg := env.Message
		if msg == "" {
			msg = "gateway rejected the request"
		}
		return pkgerrors.New(pkgerrors.CodeDependency, msg)
	}
	return nil
}

func (c *Client) mapGatewayError(status int, raw []byte) error {
	var env envelope
	msg := "gateway request failed"
	if err := json.Unmarshal(raw, &env); err == nil && env.Message != "" {
		msg = env.Message
	}
	return pkgerrors.New(domainCodeForStatus(status), msg)
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case http.StatusBadRequest:
		return pkgerrors.CodeValidation
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeValidation
		}
		return pkgerrors.CodeDependency
	}
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = c.redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("gateway %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("gateway %s", phase))
	}
}

func (c *Client) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"authorization_code", "secret", "email", "phone", "card"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}
