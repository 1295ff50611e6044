package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"cart-svc/cart"
	"cart-svc/middleware"
	"cart-svc/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	msgAlreadyOwned       = "You already own this product"
	msgItemAdded          = "Item added to cart"
	msgItemDeleted        = "Item has been deleted"
	msgEmptyCart          = "Your cart is empty"
	msgAlreadyProcessing  = "This payment is already being processed"
	msgCardDeclined       = "Your card has been declined."
	msgPaymentFailed      = "We could not process your payment. Please try again."
	msgPaymentRequired    = "Payment details are required"
	msgPaymentNotVerified = "We could not verify your payment. Please try again."
	msgPurchaseSuccess    = "Thank you! Your purchase was successful!"
)

const (
	productsPath = "/products"
	summaryPath  = "/cart/summary"
	checkoutPath = "/cart/checkout"
	finalizePath = "/cart/update-transaction/"
	profilePath  = "/profile"
)

type CartService interface {
	PendingOrder(ctx context.Context, userID int) (*models.Order, error)
	AddItem(ctx context.Context, userID, productID int) (*cart.AddItemResult, error)
	RemoveItem(ctx context.Context, userID, itemID int) (bool, error)
	CheckoutView(ctx context.Context, userID int) (*models.CheckoutView, error)
	Checkout(ctx context.Context, userID int, req models.CheckoutRequest) (*cart.CheckoutResult, error)
	Finalize(ctx context.Context, userID int, token string) (*models.Transaction, error)
	Library(ctx context.Context, userID int) (*models.Profile, []models.Product, error)
}

type MessageQueue interface {
	Push(ctx context.Context, userID int, messages ...string) error
	Drain(ctx context.Context, userID int) ([]string, error)
}

type CartHandler struct {
	service  CartService
	messages MessageQueue
	logger   *zap.Logger
}

func NewCartHandler(service CartService, messages MessageQueue, logger *zap.Logger) *CartHandler {
	return &CartHandler{
		service:  service,
		messages: messages,
		logger:   logger,
	}
}

func (h *CartHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/cart/items/:id", h.AddItem)
	rg.DELETE("/cart/items/:id", h.RemoveItem)
	rg.POST("/cart/items/:id/delete", h.RemoveItem)
	rg.GET("/cart/summary", h.Summary)
	rg.GET("/cart/checkout", h.CheckoutView)
	rg.POST("/cart/checkout", h.Checkout)
	rg.GET("/cart/update-transaction/:token", h.Finalize)
	rg.GET("/cart/success", h.Success)
	rg.GET("/profile", h.Profile)
}

func (h *CartHandler) AddItem(c *gin.Context) {
	ctx, span := otel.Tracer("cart-service").Start(c.Request.Context(), "AddItem")
	defer span.End()

	userID := middleware.UserID(c)
	productID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}
	span.SetAttributes(attribute.Int("user_id", userID), attribute.Int("product_id", productID))

	result, err := h.service.AddItem(ctx, userID, productID)
	if err != nil {
		span.RecordError(err)
		h.fail(ctx, c, err)
		return
	}

	switch {
	case result.AlreadyOwned:
		middleware.RecordItemAdded("owned")
		h.push(ctx, userID, msgAlreadyOwned)
	case result.ItemCreated:
		middleware.RecordItemAdded("added")
		h.push(ctx, userID, msgItemAdded)
	default:
		middleware.RecordItemAdded("duplicate")
		h.push(ctx, userID, msgItemAdded)
	}
	c.Redirect(http.StatusSeeOther, productsPath)
}

func (h *CartHandler) RemoveItem(c *gin.Context) {
	ctx, span := otel.Tracer("cart-service").Start(c.Request.Context(), "RemoveItem")
	defer span.End()

	userID := middleware.UserID(c)
	itemID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.Redirect(http.StatusSeeOther, summaryPath)
		return
	}

	removed, err := h.service.RemoveItem(ctx, userID, itemID)
	if err != nil {
		span.RecordError(err)
		h.fail(ctx, c, err)
		return
	}
	if removed {
		h.push(ctx, userID, msgItemDeleted)
	}
	c.Redirect(http.StatusSeeOther, summaryPath)
}

func (h *CartHandler) Summary(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	order, err := h.service.PendingOrder(ctx, userID)
	if err != nil {
		h.fail(ctx, c, err)
		return
	}

	view := models.OrderView{Order: order, Messages: h.drain(ctx, userID)}
	if order != nil {
		view.Total = order.CartTotal().StringFixed(2)
	}
	c.JSON(http.StatusOK, view)
}

func (h *CartHandler) CheckoutView(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	view, err := h.service.CheckoutView(ctx, userID)
	if err != nil {
		h.fail(ctx, c, err)
		return
	}
	view.Messages = h.drain(ctx, userID)
	c.JSON(http.StatusOK, view)
}

func (h *CartHandler) Checkout(c *gin.Context) {
	ctx, span := otel.Tracer("cart-service").Start(c.Request.Context(), "Checkout")
	defer span.End()

	userID := middleware.UserID(c)
	var req models.CheckoutRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	provider := string(models.ProviderBraintree)
	if req.StripeToken != "" {
		provider = string(models.ProviderStripe)
	}

	result, err := h.service.Checkout(ctx, userID, req)
	switch {
	case errors.Is(err, cart.ErrMissingPaymentDetails):
		h.push(ctx, userID, msgPaymentRequired)
		c.Redirect(http.StatusSeeOther, checkoutPath)
		return
	case errors.Is(err, cart.ErrEmptyCart):
		middleware.RecordCheckout(provider, "empty")
		h.push(ctx, userID, msgEmptyCart)
		c.Redirect(http.StatusSeeOther, summaryPath)
		return
	case errors.Is(err, cart.ErrDuplicateSubmission):
		middleware.RecordCheckout(provider, "duplicate")
		h.push(ctx, userID, msgAlreadyProcessing)
		c.Redirect(http.StatusSeeOther, summaryPath)
		return
	case errors.Is(err, cart.ErrPaymentFailed):
		middleware.RecordCheckout(provider, "error")
		h.logger.Warn("Payment provider failed",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.Int("user_id", userID),
			zap.String("provider", provider),
			zap.Error(err),
		)
		h.push(ctx, userID, msgPaymentFailed)
		c.Redirect(http.StatusSeeOther, checkoutPath)
		return
	case err != nil:
		span.RecordError(err)
		middleware.RecordCheckout(provider, "error")
		h.fail(ctx, c, err)
		return
	}

	switch {
	case result.Approved():
		middleware.RecordCheckout(provider, "approved")
		c.Redirect(http.StatusSeeOther, finalizePath+url.PathEscape(result.Token))
	case result.Declined:
		middleware.RecordCheckout(provider, "declined")
		h.push(ctx, userID, msgCardDeclined)
		c.Redirect(http.StatusSeeOther, checkoutPath)
	default:
		middleware.RecordCheckout(provider, "rejected")
		messages := make([]string, 0, len(result.DeepErrors))
		for _, deepErr := range result.DeepErrors {
			messages = append(messages, deepErr.String())
		}
		if len(messages) == 0 {
			messages = append(messages, msgPaymentFailed)
		}
		h.push(ctx, userID, messages...)
		c.Redirect(http.StatusSeeOther, checkoutPath)
	}
}

func (h *CartHandler) Finalize(c *gin.Context) {
	ctx, span := otel.Tracer("cart-service").Start(c.Request.Context(), "Finalize")
	defer span.End()

	userID := middleware.UserID(c)
	token := c.Param("token")

	_, err := h.service.Finalize(ctx, userID, token)
	switch {
	case errors.Is(err, cart.ErrNoPendingOrder):
		h.push(ctx, userID, msgEmptyCart)
		c.Redirect(http.StatusSeeOther, summaryPath)
		return
	case errors.Is(err, cart.ErrUnknownPayment):
		h.logger.Warn("Finalize with unknown payment token",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.Int("user_id", userID),
		)
		h.push(ctx, userID, msgPaymentNotVerified)
		c.Redirect(http.StatusSeeOther, checkoutPath)
		return
	case err != nil:
		span.RecordError(err)
		h.fail(ctx, c, err)
		return
	}

	middleware.RecordOrderFinalized()
	h.push(ctx, userID, msgPurchaseSuccess)
	c.Redirect(http.StatusSeeOther, profilePath)
}

func (h *CartHandler) Success(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": msgPurchaseSuccess,
	})
}

func (h *CartHandler) Profile(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	profile, ebooks, err := h.service.Library(ctx, userID)
	if err != nil {
		h.fail(ctx, c, err)
		return
	}
	c.JSON(http.StatusOK, models.ProfileView{
		Profile:  profile,
		Ebooks:   ebooks,
		Messages: h.drain(ctx, userID),
	})
}

// fail writes the response for errors the user cannot recover from by retrying the form.
func (h *CartHandler) fail(ctx context.Context, c *gin.Context, err error) {
	switch {
	case errors.Is(err, cart.ErrProfileNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
	case errors.Is(err, cart.ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
	default:
		h.logger.Error("Request failed",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func (h *CartHandler) push(ctx context.Context, userID int, messages ...string) {
	if err := h.messages.Push(ctx, userID, messages...); err != nil {
		h.logger.Warn("Failed to queue messages",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.Int("user_id", userID),
			zap.Error(err),
		)
	}
}

func (h *CartHandler) drain(ctx context.Context, userID int) []string {
	messages, err := h.messages.Drain(ctx, userID)
	if err != nil {
		h.logger.Warn("Failed to read messages",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.Int("user_id", userID),
			zap.Error(err),
		)
	}
	if messages == nil {
		messages = []string{}
	}
	return messages
}
