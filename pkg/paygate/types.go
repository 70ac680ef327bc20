package paygate

import "github.com/shopspring/decimal"

// InitializeParams describes a hosted-checkout session request.
type InitializeParams struct {
	Email       string
	Amount      decimal.Decimal
	Currency    string
	Reference   string
	CallbackURL string
	Metadata    map[string]any
}

// ChargeParams describes a charge against a stored authorization.
type ChargeParams struct {
	Email             string
	Amount            decimal.Decimal
	Currency          string
	Reference         string
	AuthorizationCode string
	Metadata          map[string]any
}

// InitializeResult carries the checkout redirect returned by the gateway.
type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Transaction is the gateway's view of a payment.
type Transaction struct {
	ID              int64           `json:"id"`
	Status          string          `json:"status"`
	Reference       string          `json:"reference"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	GatewayResponse string          `json:"gateway_response"`
	PaidAt          string          `json:"paid_at"`
	Channel         string          `json:"channel"`
	Customer        Customer        `json:"customer"`
	Authorization   Authorization   `json:"authorization"`
	Metadata        map[string]any  `json:"metadata"`
}

// Customer identifies the payer on a transaction.
type Customer struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// Authorization is the reusable card token attached to a successful charge.
type Authorization struct {
	AuthorizationCode string `json:"authorization_code"`
	CardType          string `json:"card_type"`
	Last4             string `json:"last4"`
	ExpMonth          string `json:"exp_month"`
	ExpYear           string `json:"exp_year"`
	Reusable          bool   `json:"reusable"`
}

type envelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

type initializeEnvelope struct {
	envelope
	Data InitializeResult `json:"data"`
}

type transactionEnvelope struct {
	envelope
	Data Transaction `json:"data"`
}

type initializeRequest struct {
	Email       string         `json:"email"`
	Amount      int64          `json:"amount"`
	Currency    string         `json:"currency,omitempty"`
	Reference   string         `json:"reference,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type chargeRequest struct {
	Email             string         `json:"email"`
	Amount            int64          `json:"amount"`
	Currency          string         `json:"currency,omitempty"`
	Reference         string         `json:"reference,omitempty"`
	AuthorizationCode string         `json:"authorization_code"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}
