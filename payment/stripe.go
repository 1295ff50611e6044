package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cart-svc/circuitbreaker"
	"cart-svc/config"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

type StripeClient struct {
	api            *client.API
	circuitBreaker *circuitbreaker.CircuitBreaker
	timeout        time.Duration
	logger         *zap.Logger
}

func NewStripeClient(cfg config.StripeConfig, timeout time.Duration, logger *zap.Logger) *StripeClient {
	backendConfig := &stripe.BackendConfig{
		HTTPClient: newHTTPClient(timeout),
	}
	return newStripeClient(cfg.SecretKey, backendConfig, timeout, logger)
}

func newStripeClient(secretKey string, backendConfig *stripe.BackendConfig, timeout time.Duration, logger *zap.Logger) *StripeClient {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig)
	api := client.New(secretKey, &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})

	return &StripeClient{
		api:            api,
		circuitBreaker: circuitbreaker.NewCircuitBreaker("stripe", 5, 30*time.Second),
		timeout:        timeout,
		logger:         logger,
	}
}

// Charge creates a charge for req. A declined card is reported as ErrCardDeclined and does not
// count against the circuit breaker.
func (c *StripeClient) Charge(ctx context.Context, req CardCharge) (*CardReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		charge   *stripe.Charge
		rejected error
	)
	err := c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		params := &stripe.ChargeParams{
			Amount:      stripe.Int64(req.AmountCents),
			Currency:    stripe.String(req.Currency),
			Description: stripe.String(req.Description),
			Source:      &stripe.PaymentSourceSourceParams{Token: stripe.String(req.SourceToken)},
		}
		params.Context = ctx
		if req.IdempotencyKey != "" {
			params.SetIdempotencyKey(req.IdempotencyKey)
		}

		ch, err := c.api.Charges.New(params)
		if err != nil {
			var stripeErr *stripe.Error
			if errors.As(err, &stripeErr) {
				if stripeErr.Type == stripe.ErrorTypeCard {
					rejected = fmt.Errorf("%w: %s", ErrCardDeclined, stripeErr.Msg)
					return nil
				}
				if stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 {
					rejected = fmt.Errorf("stripe rejected charge: %w", err)
					return nil
				}
			}
			return err
		}
		charge = ch
		return nil
	})
	if err != nil {
		c.logger.Error("Stripe charge failed",
			zap.Int64("amount", req.AmountCents),
			zap.String("breaker", c.circuitBreaker.Name()),
			zap.String("circuit_state", c.circuitBreaker.GetState().String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("stripe charge: %w", err)
	}
	if rejected != nil {
		c.logger.Info("Stripe charge rejected", zap.Int64("amount", req.AmountCents), zap.Error(rejected))
		return nil, rejected
	}

	c.logger.Info("Stripe charge created",
		zap.String("charge_id", charge.ID),
		zap.Int64("amount", charge.Amount),
	)
	return &CardReceipt{
		ChargeID: charge.ID,
		Amount:   charge.Amount,
		Currency: string(charge.Currency),
		Paid:     charge.Paid,
	}, nil
}
