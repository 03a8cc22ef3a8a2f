package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/merchflow/merchflow/internal/middleware"
	"github.com/merchflow/merchflow/internal/order"
	"github.com/merchflow/merchflow/internal/payment"
)

// PaymentHandlers holds dependencies for payment-intent HTTP handlers.
type PaymentHandlers struct {
	intents *payment.IntentService
}

// NewPaymentHandlers creates a new PaymentHandlers instance.
func NewPaymentHandlers(intents *payment.IntentService) *PaymentHandlers {
	return &PaymentHandlers{intents: intents}
}

// CreatePaymentIntentRequest represents the request body for creating a payment intent.
type CreatePaymentIntentRequest struct {
	OrderID      string `json:"order_id"`
	ReceiptEmail string `json:"receipt_email,omitempty"`
}

// CreatePaymentIntent returns the order's payment intent, creating one on
// first call. Re-entry returns the existing intent's client secret.
// POST /payments/create-payment-intent
func (h *PaymentHandlers) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserID(ctx)
	if userID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	var req CreatePaymentIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	if req.OrderID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "order_id is required")
		return
	}

	intent, err := h.intents.CreateOrGetIntent(ctx, req.OrderID, userID, req.ReceiptEmail)
	if err != nil {
		h.writePaymentError(w, ctx, err, req.OrderID)
		return
	}

	writeJSON(w, ctx, http.StatusOK, intent)
}

// GetPaymentStatus merges local order state with a best-effort live view
// from the processor.
// GET /payments/order/{orderId}/status
func (h *PaymentHandlers) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserID(ctx)
	if userID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	orderID := r.PathValue("orderId")
	if orderID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "order id is required")
		return
	}

	snapshot, err := h.intents.GetPaymentStatus(ctx, orderID, userID)
	if err != nil {
		h.writePaymentError(w, ctx, err, orderID)
		return
	}

	writeJSON(w, ctx, http.StatusOK, snapshot)
}

// writePaymentError maps payment service errors to API error responses.
func (h *PaymentHandlers) writePaymentError(w http.ResponseWriter, ctx context.Context, err error, orderID string) {
	switch {
	case errors.Is(err, order.ErrNotFound):
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "order not found")
	case errors.Is(err, payment.ErrForbidden):
		ctx = middleware.SetErrorCode(ctx, ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "order does not belong to requester")
	case errors.Is(err, payment.ErrOrderNotPayable):
		ctx = middleware.SetErrorCode(ctx, ErrCodeOrderNotPayable)
		WriteError(w, ctx, http.StatusConflict, ErrCodeOrderNotPayable, "order is not in a payable status")
	case errors.Is(err, payment.ErrUpstream):
		slog.ErrorContext(ctx, "payment processor call failed", "order_id", orderID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeUpstream)
		WriteError(w, ctx, http.StatusBadGateway, ErrCodeUpstream, "payment processor unavailable")
	default:
		slog.ErrorContext(ctx, "payment operation failed", "order_id", orderID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}
