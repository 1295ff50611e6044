package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentProvider string

const (
	ProviderStripe    PaymentProvider = "stripe"
	ProviderBraintree PaymentProvider = "braintree"
)

// Transaction is the append-only log row written when an order is finalized.
type Transaction struct {
	ID        int             `json:"id"`
	ProfileID int             `json:"profile_id"`
	Token     string          `json:"token"`
	OrderID   int             `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Success   bool            `json:"success"`
	Timestamp time.Time       `json:"timestamp"`
}

// PaymentReceipt proves that a gateway accepted a payment for an order. Finalization consumes it.
type PaymentReceipt struct {
	Token      string          `json:"token"`
	ProfileID  int             `json:"profile_id"`
	OrderID    int             `json:"order_id"`
	Provider   PaymentProvider `json:"provider"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"created_at"`
	ConsumedAt *time.Time      `json:"consumed_at,omitempty"`
}

type CheckoutRequest struct {
	StripeToken        string `form:"stripeToken"`
	PaymentMethodNonce string `form:"payment_method_nonce"`
	IdempotencyKey     string `form:"idempotency_key"`
}

type CheckoutView struct {
	Order          *Order   `json:"order"`
	Total          string   `json:"total,omitempty"`
	ClientToken    string   `json:"client_token"`
	PublishableKey string   `json:"publishable_key"`
	IdempotencyKey string   `json:"idempotency_key"`
	Messages       []string `json:"messages"`
}
