// Package payment holds the clients for the two payment providers used at checkout: a
// card-token provider (Stripe) and a nonce provider (Braintree).
package payment

import (
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrCardDeclined = errors.New("card declined")

// CardCharge is a direct charge against a tokenized card.
type CardCharge struct {
	AmountCents    int64
	Currency       string
	Description    string
	SourceToken    string
	IdempotencyKey string
}

type CardReceipt struct {
	ChargeID string
	Amount   int64
	Currency string
	Paid     bool
}

// NonceSale is a transaction paid with a one-time nonce from the client-side widget.
type NonceSale struct {
	Amount              decimal.Decimal
	PaymentMethodNonce  string
	SubmitForSettlement bool
}

type NonceTransaction struct {
	ID     string
	Status string
}

// DeepError is one field-level validation failure reported by the nonce provider.
type DeepError struct {
	Attribute string
	Code      string
	Message   string
}

func (e DeepError) String() string {
	return e.Message
}

type NonceResult struct {
	Success     bool
	Transaction *NonceTransaction
	DeepErrors  []DeepError
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
