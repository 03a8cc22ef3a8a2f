package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/merchflow/merchflow/internal/idempotency"
	"github.com/merchflow/merchflow/internal/middleware"
	"github.com/merchflow/merchflow/internal/payment"
	"github.com/merchflow/merchflow/internal/subscription"
	"github.com/merchflow/merchflow/internal/validate"
)

// SubscriptionHandlers holds dependencies for subscription HTTP handlers.
type SubscriptionHandlers struct {
	subs *subscription.Service
}

// NewSubscriptionHandlers creates a new SubscriptionHandlers instance.
func NewSubscriptionHandlers(subs *subscription.Service) *SubscriptionHandlers {
	return &SubscriptionHandlers{subs: subs}
}

// CreateSubscriptionRequest represents the request body for creating a subscription.
type CreateSubscriptionRequest struct {
	PriceID         string `json:"price_id"`
	PaymentMethodID string `json:"payment_method_id,omitempty"`
}

// CreateSubscription creates a recurring billing subscription for the
// authenticated user. Requires an Idempotency-Key header; retries with the
// same key replay the first result instead of double-billing.
// POST /subscriptions
func (h *SubscriptionHandlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserID(ctx)
	if userID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}
	email := middleware.GetUserEmail(ctx)
	idemKey := middleware.GetIdempotencyKey(ctx)

	var req CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	if req.PriceID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "price_id is required")
		return
	}

	sub, err := h.subs.Create(ctx, userID, email, req.PriceID, req.PaymentMethodID, idemKey)
	if err != nil {
		h.writeSubscriptionError(w, ctx, err)
		return
	}

	writeJSON(w, ctx, http.StatusCreated, sub)
}

// GetSubscription returns the authenticated user's subscription. The local
// mirror may lag the processor briefly; pass ?refresh=true to force a live
// fetch.
// GET /subscriptions/{id}
func (h *SubscriptionHandlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserID(ctx)
	if userID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	subscriptionID := r.PathValue("id")
	if subscriptionID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "subscription id is required")
		return
	}

	var (
		sub *subscription.Subscription
		err error
	)
	if r.URL.Query().Get("refresh") == "true" {
		sub, err = h.subs.GetLive(ctx, subscriptionID, userID)
	} else {
		sub, err = h.subs.Get(ctx, subscriptionID, userID)
	}
	if err != nil {
		h.writeSubscriptionError(w, ctx, err)
		return
	}

	writeJSON(w, ctx, http.StatusOK, sub)
}

// CancelSubscriptionRequest represents the request body for cancelling a subscription.
type CancelSubscriptionRequest struct {
	CancelAtPeriodEnd bool `json:"cancel_at_period_end"`
}

// CancelSubscription cancels the subscription immediately or at period end.
// The local mirror is updated from the processor's response, not from
// assumed success.
// POST /subscriptions/{id}/cancel
func (h *SubscriptionHandlers) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserID(ctx)
	if userID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication required")
		return
	}

	subscriptionID := r.PathValue("id")
	if subscriptionID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "subscription id is required")
		return
	}

	// An empty body defaults to immediate cancellation.
	var req CancelSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	sub, err := h.subs.Cancel(ctx, subscriptionID, userID, req.CancelAtPeriodEnd)
	if err != nil {
		h.writeSubscriptionError(w, ctx, err)
		return
	}

	writeJSON(w, ctx, http.StatusOK, sub)
}

// writeSubscriptionError maps subscription service errors to API error responses.
func (h *SubscriptionHandlers) writeSubscriptionError(w http.ResponseWriter, ctx context.Context, err error) {
	switch {
	case errors.Is(err, subscription.ErrNotFound):
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "subscription not found")
	case errors.Is(err, payment.ErrForbidden):
		ctx = middleware.SetErrorCode(ctx, ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "subscription does not belong to requester")
	case errors.Is(err, validate.ErrInvalidEmail),
		errors.Is(err, validate.ErrEmpty),
		errors.Is(err, validate.ErrStringTooLong):
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "invalid email address")
	case errors.Is(err, idempotency.ErrInvalidKey), errors.Is(err, idempotency.ErrKeyTooLong):
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "invalid idempotency key")
	case errors.Is(err, idempotency.ErrConflict):
		ctx = middleware.SetErrorCode(ctx, ErrCodeConflict)
		WriteError(w, ctx, http.StatusConflict, ErrCodeConflict, "a request with this idempotency key is already in progress")
	case errors.Is(err, idempotency.ErrRecordedFailure):
		ctx = middleware.SetErrorCode(ctx, ErrCodeConflict)
		WriteError(w, ctx, http.StatusConflict, ErrCodeConflict, "a previous attempt with this idempotency key failed")
	case errors.Is(err, payment.ErrUpstream):
		slog.ErrorContext(ctx, "payment processor call failed", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeUpstream)
		WriteError(w, ctx, http.StatusBadGateway, ErrCodeUpstream, "payment processor unavailable")
	default:
		slog.ErrorContext(ctx, "subscription operation failed", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}
