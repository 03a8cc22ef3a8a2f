package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/merchflow/merchflow/internal/cart"
	"github.com/merchflow/merchflow/internal/idempotency"
	"github.com/merchflow/merchflow/internal/middleware"
	"github.com/merchflow/merchflow/internal/order"
	"github.com/merchflow/merchflow/internal/payment"
	"github.com/merchflow/merchflow/internal/validate"
)

// CheckoutHandlers holds dependencies for checkout-session HTTP handlers.
type CheckoutHandlers struct {
	checkout *payment.CheckoutService

	// Fallback redirect URLs for clients that don't supply their own.
	defaultSuccessURL string
	defaultCancelURL  string
}

// NewCheckoutHandlers creates a new CheckoutHandlers instance. The default
// URLs may be empty, in which case every request must carry its own.
func NewCheckoutHandlers(checkout *payment.CheckoutService, defaultSuccessURL, defaultCancelURL string) *CheckoutHandlers {
	return &CheckoutHandlers{
		checkout:          checkout,
		defaultSuccessURL: defaultSuccessURL,
		defaultCancelURL:  defaultCancelURL,
	}
}

// CreateCheckoutSessionRequest represents the request body for creating a
// hosted checkout session.
type CreateCheckoutSessionRequest struct {
	CartID     string `json:"cart_id"`
	CouponCode string `json:"coupon_code,omitempty"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

// CreateCheckoutSession validates the cart and optional coupon, creates a
// provisional pending order, and returns the hosted checkout redirect URL.
// POST /payments/create-checkout-session
func (h *CheckoutHandlers) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserID(ctx)
	if userID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	var req CreateCheckoutSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	if req.CartID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "cart_id is required")
		return
	}
	if req.SuccessURL == "" {
		req.SuccessURL = h.defaultSuccessURL
	}
	if req.CancelURL == "" {
		req.CancelURL = h.defaultCancelURL
	}
	if req.SuccessURL == "" || req.CancelURL == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "success_url and cancel_url are required")
		return
	}

	sess, err := h.checkout.CreateSession(ctx, userID, req.CartID, req.CouponCode, req.SuccessURL, req.CancelURL)
	if err != nil {
		h.writeCheckoutError(w, ctx, err)
		return
	}

	writeJSON(w, ctx, http.StatusOK, sess)
}

// CheckoutSuccessRequest represents the request body for completing checkout.
type CheckoutSuccessRequest struct {
	SessionID string `json:"session_id"`
}

// CheckoutSuccess exchanges a paid checkout session for its finalized order.
// Completion is idempotent per session id, so double-clicks and repeat visits
// to the success page return the same order.
// POST /payments/checkout-success
func (h *CheckoutHandlers) CheckoutSuccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserID(ctx)
	if userID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	var req CheckoutSuccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	if req.SessionID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "session_id is required")
		return
	}

	o, err := h.checkout.CompleteCheckout(ctx, req.SessionID, userID)
	if err != nil {
		h.writeCheckoutError(w, ctx, err)
		return
	}

	writeJSON(w, ctx, http.StatusOK, o)
}

// writeCheckoutError maps checkout service errors to API error responses.
func (h *CheckoutHandlers) writeCheckoutError(w http.ResponseWriter, ctx context.Context, err error) {
	switch {
	case errors.Is(err, cart.ErrNotFound):
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "cart not found")
	case errors.Is(err, order.ErrNotFound):
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "no order for this checkout session")
	case errors.Is(err, payment.ErrForbidden):
		ctx = middleware.SetErrorCode(ctx, ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "resource does not belong to requester")
	case errors.Is(err, cart.ErrEmptyCart), errors.Is(err, cart.ErrInvalidItem):
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, validate.ErrInvalidURL),
		errors.Is(err, validate.ErrDisallowedScheme),
		errors.Is(err, validate.ErrSSRFRisk):
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "invalid redirect URL")
	case errors.Is(err, payment.ErrInvalidCoupon):
		ctx = middleware.SetErrorCode(ctx, ErrCodeInvalidCoupon)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidCoupon, "coupon cannot be applied")
	case errors.Is(err, payment.ErrPaymentIncomplete):
		ctx = middleware.SetErrorCode(ctx, ErrCodePaymentIncomplete)
		WriteError(w, ctx, http.StatusPaymentRequired, ErrCodePaymentIncomplete, "checkout session is not paid")
	case errors.Is(err, idempotency.ErrConflict):
		ctx = middleware.SetErrorCode(ctx, ErrCodeConflict)
		WriteError(w, ctx, http.StatusConflict, ErrCodeConflict, "a request for this session is already in progress")
	case errors.Is(err, idempotency.ErrRecordedFailure):
		ctx = middleware.SetErrorCode(ctx, ErrCodeConflict)
		WriteError(w, ctx, http.StatusConflict, ErrCodeConflict, "a previous attempt for this session failed")
	case errors.Is(err, payment.ErrUpstream):
		slog.ErrorContext(ctx, "payment processor call failed", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeUpstream)
		WriteError(w, ctx, http.StatusBadGateway, ErrCodeUpstream, "payment processor unavailable")
	default:
		slog.ErrorContext(ctx, "checkout operation failed", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}
