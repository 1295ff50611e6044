// Package cart implements the shopping-cart operations: keeping the pending order, checking
// out through one of the two payment providers and finalizing the purchase.
package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cart-svc/database"
	"cart-svc/models"
	"cart-svc/payment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	ErrProfileNotFound       = errors.New("profile not found")
	ErrProductNotFound       = errors.New("product not found")
	ErrNoPendingOrder        = errors.New("no pending order")
	ErrEmptyCart             = errors.New("cart is empty")
	ErrMissingPaymentDetails = errors.New("payment details are required")
	ErrDuplicateSubmission   = errors.New("checkout already submitted")
	ErrPaymentFailed         = errors.New("payment could not be processed")
	ErrUnknownPayment        = errors.New("payment token does not match the pending order")
)

const currencyUSD = "usd"

var tracer = otel.Tracer("cart-service")

type CardGateway interface {
	Charge(ctx context.Context, req payment.CardCharge) (*payment.CardReceipt, error)
}

type NonceGateway interface {
	Sale(ctx context.Context, sale payment.NonceSale) (*payment.NonceResult, error)
	ClientToken(ctx context.Context) (string, error)
}

type CheckoutGuard interface {
	Acquire(ctx context.Context, userID int, idempotencyKey string) (bool, error)
	Release(ctx context.Context, userID int, idempotencyKey string) error
}

type Service struct {
	store          *database.Store
	cards          CardGateway
	nonces         NonceGateway
	guard          CheckoutGuard
	publishableKey string
	logger         *zap.Logger

	now        func() time.Time
	newRefCode func(time.Time) string
	newKey     func() string
}

func NewService(
	store *database.Store,
	cards CardGateway,
	nonces NonceGateway,
	guard CheckoutGuard,
	publishableKey string,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:          store,
		cards:          cards,
		nonces:         nonces,
		guard:          guard,
		publishableKey: publishableKey,
		logger:         logger,
		now:            time.Now,
		newRefCode:     generateRefCode,
		newKey:         uuid.NewString,
	}
}

// generateRefCode builds a reference code such as 20261016-3F2A9C0D41B7.
func generateRefCode(now time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102"), strings.ToUpper(id[:12]))
}

func (s *Service) profile(ctx context.Context, q *database.Queries, userID int) (*models.Profile, error) {
	profile, err := q.ProfileByUser(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrProfileNotFound
	}
	return profile, err
}

// PendingOrder returns the user's unfinalized order with its items, or nil when there is none.
func (s *Service) PendingOrder(ctx context.Context, userID int) (*models.Order, error) {
	q := s.store.Queries()
	profile, err := s.profile(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	return s.pendingOrder(ctx, q, profile.ID)
}

func (s *Service) pendingOrder(ctx context.Context, q *database.Queries, profileID int) (*models.Order, error) {
	order, err := q.PendingOrder(ctx, profileID, false)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	items, err := q.OrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

type AddItemResult struct {
	Order        *models.Order
	AlreadyOwned bool
	OrderCreated bool
	ItemCreated  bool
}

// AddItem puts a product into the user's pending order, creating the order on first use.
// Products the user already owns are left out.
func (s *Service) AddItem(ctx context.Context, userID, productID int) (*AddItemResult, error) {
	result := &AddItemResult{}
	err := s.store.InTx(ctx, func(q *database.Queries) error {
		profile, err := s.profile(ctx, q, userID)
		if err != nil {
			return err
		}

		if _, err := q.ProductByID(ctx, productID); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return ErrProductNotFound
			}
			return err
		}

		owned, err := q.OwnsProduct(ctx, profile.ID, productID)
		if err != nil {
			return err
		}
		if owned {
			result.AlreadyOwned = true
			return nil
		}

		order, err := q.PendingOrder(ctx, profile.ID, true)
		switch {
		case errors.Is(err, database.ErrNotFound):
			order, result.OrderCreated, err = q.CreatePendingOrder(ctx, profile.ID, s.newRefCode(s.now()))
			if err != nil {
				return err
			}
		case err != nil:
			return err
		}
		result.Order = order

		result.ItemCreated, err = q.AddOrderItem(ctx, order.ID, productID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if result.OrderCreated {
		s.logger.Info("Pending order created",
			zap.Int("user_id", userID),
			zap.Int("order_id", result.Order.ID),
			zap.String("ref_code", result.Order.RefCode),
		)
	}
	return result, nil
}

// RemoveItem deletes an item from the user's pending order. Unknown ids are ignored.
func (s *Service) RemoveItem(ctx context.Context, userID, itemID int) (bool, error) {
	q := s.store.Queries()
	profile, err := s.profile(ctx, q, userID)
	if err != nil {
		return false, err
	}
	return q.DeletePendingOrderItem(ctx, profile.ID, itemID)
}

// CheckoutView gathers what the payment form needs. A failure to get a client token only
// disables the nonce provider for this view.
func (s *Service) CheckoutView(ctx context.Context, userID int) (*models.CheckoutView, error) {
	order, err := s.PendingOrder(ctx, userID)
	if err != nil {
		return nil, err
	}

	clientToken, err := s.nonces.ClientToken(ctx)
	if err != nil {
		s.logger.Warn("Failed to generate client token", zap.Int("user_id", userID), zap.Error(err))
	}

	view := &models.CheckoutView{
		Order:          order,
		ClientToken:    clientToken,
		PublishableKey: s.publishableKey,
		IdempotencyKey: s.newKey(),
	}
	if order != nil {
		view.Total = order.CartTotal().StringFixed(2)
	}
	return view, nil
}

// CheckoutResult describes a payment attempt. Reference is the provider's id for the payment:
// the charge id for cards, the transaction id for nonces.
type CheckoutResult struct {
	Provider   models.PaymentProvider
	Token      string
	Reference  string
	Declined   bool
	DeepErrors []payment.DeepError
}

// Approved reports whether the payment went through and the order can be finalized.
func (r *CheckoutResult) Approved() bool {
	return r.Token != ""
}

// Checkout pays for the pending order. A card token goes to the card provider; otherwise the
// nonce goes to the nonce provider. Declines and validation failures are reported in the
// result; errors are reserved for conditions the user cannot fix by re-entering details.
func (s *Service) Checkout(ctx context.Context, userID int, req models.CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := tracer.Start(ctx, "cart.Checkout")
	defer span.End()

	if req.StripeToken == "" && req.PaymentMethodNonce == "" {
		return nil, ErrMissingPaymentDetails
	}

	q := s.store.Queries()
	profile, err := s.profile(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	order, err := s.pendingOrder(ctx, q, profile.ID)
	if err != nil {
		return nil, err
	}
	if order == nil || len(order.Items) == 0 {
		return nil, ErrEmptyCart
	}
	span.SetAttributes(attribute.Int("order.id", order.ID))

	key := req.IdempotencyKey
	if key == "" {
		key = s.newKey()
	}
	acquired, err := s.guard.Acquire(ctx, userID, key)
	if err != nil {
		return nil, fmt.Errorf("acquire checkout guard: %w", err)
	}
	if !acquired {
		return nil, ErrDuplicateSubmission
	}

	approved := false
	defer func() {
		if approved {
			return
		}
		if err := s.guard.Release(context.WithoutCancel(ctx), userID, key); err != nil {
			s.logger.Warn("Failed to release checkout guard", zap.Int("user_id", userID), zap.Error(err))
		}
	}()

	total := order.CartTotal()
	var result *CheckoutResult
	if req.StripeToken != "" {
		result, err = s.chargeCard(ctx, order, total, req.StripeToken, key)
	} else {
		result, err = s.chargeNonce(ctx, order, total, req.PaymentMethodNonce)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("payment.provider", string(result.Provider)),
		attribute.Bool("payment.approved", result.Approved()),
	)
	if !result.Approved() {
		return result, nil
	}

	receipt := &models.PaymentReceipt{
		Token:     result.Token,
		ProfileID: profile.ID,
		OrderID:   order.ID,
		Provider:  result.Provider,
		Amount:    total,
	}
	if err := q.InsertReceipt(ctx, receipt); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, ErrDuplicateSubmission
		}
		s.logger.Error("Payment accepted but receipt not stored",
			zap.Int("user_id", userID),
			zap.Int("order_id", order.ID),
			zap.String("provider", string(result.Provider)),
			zap.String("token", result.Token),
			zap.String("reference", result.Reference),
			zap.Error(err),
		)
		return nil, err
	}

	approved = true
	s.logger.Info("Payment accepted",
		zap.Int("user_id", userID),
		zap.Int("order_id", order.ID),
		zap.String("provider", string(result.Provider)),
		zap.String("reference", result.Reference),
		zap.String("amount", total.StringFixed(2)),
	)
	return result, nil
}

func (s *Service) chargeCard(ctx context.Context, order *models.Order, total decimal.Decimal, token, key string) (*CheckoutResult, error) {
	result := &CheckoutResult{Provider: models.ProviderStripe}
	receipt, err := s.cards.Charge(ctx, payment.CardCharge{
		AmountCents:    models.MinorUnits(total),
		Currency:       currencyUSD,
		Description:    "Order " + order.RefCode,
		SourceToken:    token,
		IdempotencyKey: key,
	})
	if errors.Is(err, payment.ErrCardDeclined) {
		result.Declined = true
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPaymentFailed, err)
	}
	result.Token = token
	result.Reference = receipt.ChargeID
	return result, nil
}

func (s *Service) chargeNonce(ctx context.Context, order *models.Order, total decimal.Decimal, nonce string) (*CheckoutResult, error) {
	result := &CheckoutResult{Provider: models.ProviderBraintree}
	sale, err := s.nonces.Sale(ctx, payment.NonceSale{
		Amount:              total,
		PaymentMethodNonce:  nonce,
		SubmitForSettlement: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPaymentFailed, err)
	}
	if sale.Transaction != nil {
		if len(sale.DeepErrors) > 0 {
			s.logger.Warn("Nonce sale returned a transaction with errors",
				zap.Int("order_id", order.ID),
				zap.String("transaction_id", sale.Transaction.ID),
				zap.Int("errors", len(sale.DeepErrors)),
			)
		}
		result.Token = sale.Transaction.ID
		result.Reference = sale.Transaction.ID
		return result, nil
	}
	if sale.Success {
		return nil, fmt.Errorf("%w: sale reported success without a transaction", ErrPaymentFailed)
	}
	result.DeepErrors = sale.DeepErrors
	return result, nil
}

// Finalize completes the purchase paid with token: the order and its items are marked
// ordered, the products join the user's library and the transaction is logged, all in one
// database transaction.
func (s *Service) Finalize(ctx context.Context, userID int, token string) (*models.Transaction, error) {
	ctx, span := tracer.Start(ctx, "cart.Finalize")
	defer span.End()

	var (
		txn   *models.Transaction
		order *models.Order
	)
	err := s.store.InTx(ctx, func(q *database.Queries) error {
		profile, err := s.profile(ctx, q, userID)
		if err != nil {
			return err
		}

		order, err = q.PendingOrder(ctx, profile.ID, true)
		if errors.Is(err, database.ErrNotFound) {
			return ErrNoPendingOrder
		}
		if err != nil {
			return err
		}

		now := s.now()
		receipt, err := q.ConsumeReceipt(ctx, token, profile.ID, order.ID, now)
		if errors.Is(err, database.ErrNotFound) {
			return ErrUnknownPayment
		}
		if err != nil {
			return err
		}

		if err := q.MarkOrderOrdered(ctx, order.ID, now); err != nil {
			return err
		}
		order.IsOrdered = true
		order.DateOrdered = &now

		items, err := q.OrderItems(ctx, order.ID)
		if err != nil {
			return err
		}
		if _, err := q.MarkOrderItemsOrdered(ctx, order.ID, now); err != nil {
			return err
		}
		for i := range items {
			items[i].IsOrdered = true
			items[i].DateOrdered = &now
		}
		order.Items = items

		productIDs := make([]int64, len(items))
		for i, item := range items {
			productIDs[i] = int64(item.Product.ID)
		}
		if err := q.AddEbooks(ctx, profile.ID, productIDs); err != nil {
			return err
		}
		if err := q.TouchProfile(ctx, profile.ID, now); err != nil {
			return err
		}

		total := order.CartTotal()
		if !total.Equal(receipt.Amount) {
			s.logger.Warn("Cart total changed after payment",
				zap.Int("order_id", order.ID),
				zap.String("charged", receipt.Amount.StringFixed(2)),
				zap.String("total", total.StringFixed(2)),
			)
		}

		txn = &models.Transaction{
			ProfileID: profile.ID,
			Token:     token,
			OrderID:   order.ID,
			Amount:    total,
			Success:   true,
			Timestamp: now,
		}
		if err := q.InsertTransaction(ctx, txn); err != nil {
			return err
		}

		payload, err := finalizedEvent(userID, profile.ID, order, txn, productIDs)
		if err != nil {
			return err
		}
		return q.InsertOutboxEvent(ctx, models.EventOrderFinalized, payload)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("order.id", order.ID), attribute.Int("transaction.id", txn.ID))
	s.logger.Info("Order finalized",
		zap.Int("user_id", userID),
		zap.Int("order_id", order.ID),
		zap.Int("transaction_id", txn.ID),
		zap.String("amount", txn.Amount.StringFixed(2)),
	)
	return txn, nil
}

// Library returns the user's profile and the products they own.
func (s *Service) Library(ctx context.Context, userID int) (*models.Profile, []models.Product, error) {
	q := s.store.Queries()
	profile, err := s.profile(ctx, q, userID)
	if err != nil {
		return nil, nil, err
	}
	products, err := q.OwnedProducts(ctx, profile.ID)
	if err != nil {
		return nil, nil, err
	}
	return profile, products, nil
}
