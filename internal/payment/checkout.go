// Package payment provides the checkout session service.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v81"

	"github.com/merchflow/merchflow/internal/cart"
	"github.com/merchflow/merchflow/internal/coupon"
	"github.com/merchflow/merchflow/internal/idempotency"
	"github.com/merchflow/merchflow/internal/order"
	"github.com/merchflow/merchflow/internal/validate"
)

var (
	// ErrPaymentIncomplete is returned when checkout completion is
	// attempted before the session has been paid.
	ErrPaymentIncomplete = errors.New("checkout session is not paid")

	// ErrInvalidCoupon is returned when a supplied coupon code cannot be
	// applied. Never a silent no-discount fallback.
	ErrInvalidCoupon = errors.New("coupon cannot be applied")
)

// completeCheckoutOp names the idempotency scope for checkout completion.
const completeCheckoutOp = "checkout.complete"

// CheckoutSession is the client-facing result of session creation.
type CheckoutSession struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
}

// CheckoutService creates hosted checkout sessions from carts and exchanges
// completed sessions for paid orders.
type CheckoutService struct {
	carts   cart.Repository
	coupons coupon.Repository
	orders  order.Repository
	client  Client
	exec    *idempotency.Executor
	metrics *Metrics
}

// NewCheckoutService creates a new CheckoutService.
func NewCheckoutService(
	carts cart.Repository,
	coupons coupon.Repository,
	orders order.Repository,
	client Client,
	exec *idempotency.Executor,
	metrics *Metrics,
) *CheckoutService {
	return &CheckoutService{
		carts:   carts,
		coupons: coupons,
		orders:  orders,
		client:  client,
		exec:    exec,
		metrics: metrics,
	}
}

// CreateSession validates the cart and coupon, creates a provisional pending
// order with prices snapshotted and the discount applied, and returns the
// hosted checkout URL. The order is created when checkout begins; it is never
// deleted, only status-transitioned.
func (s *CheckoutService) CreateSession(ctx context.Context, userID, cartID, couponCode, successURL, cancelURL string) (*CheckoutSession, error) {
	c, err := s.carts.GetByID(cartID)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrForbidden
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	if _, err := validate.URL(successURL, validate.CheckoutRedirectConstraints); err != nil {
		return nil, fmt.Errorf("invalid success_url: %w", err)
	}
	if _, err := validate.URL(cancelURL, validate.CheckoutRedirectConstraints); err != nil {
		return nil, fmt.Errorf("invalid cancel_url: %w", err)
	}

	subtotal := c.Subtotal()
	total := subtotal
	if couponCode != "" {
		cp, err := s.coupons.GetByCode(couponCode)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCoupon, err)
		}
		if err := cp.Validate(time.Now()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCoupon, err)
		}
		total = subtotal - cp.Discount(subtotal)
	}

	items := make([]order.Item, len(c.Items))
	for i, it := range c.Items {
		items[i] = order.Item{
			ProductID:  it.ProductID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitAmount: it.UnitAmount,
		}
	}

	o := &order.Order{
		UserID:      userID,
		Items:       items,
		TotalAmount: total,
		Currency:    c.Currency,
		Status:      order.StatusPending,
	}
	if err := s.orders.Insert(o); err != nil {
		return nil, err
	}

	sess, err := s.client.CreateCheckoutSession(ctx, &SessionParams{
		AmountCents: total,
		Currency:    c.Currency,
		Description: fmt.Sprintf("Order (%d items)", len(items)),
		SuccessURL:  successURL,
		CancelURL:   cancelURL,
		OrderID:     o.ID,
		CouponCode:  couponCode,
	})
	if err != nil {
		s.metrics.IncProcessorErrors("create_checkout_session")
		slog.ErrorContext(ctx, "failed to create checkout session", "order_id", o.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if err := s.orders.AttachCheckoutSession(o.ID, sess.ID); err != nil {
		slog.ErrorContext(ctx, "failed to attach checkout session", "order_id", o.ID, "session_id", sess.ID, "error", err)
		return nil, err
	}

	s.metrics.IncSessionsCreated()
	slog.InfoContext(ctx, "checkout session created",
		"order_id", o.ID, "session_id", sess.ID, "amount", total, "currency", c.Currency)

	return &CheckoutSession{
		URL:       sess.URL,
		SessionID: sess.ID,
		OrderID:   o.ID,
		Amount:    total,
	}, nil
}

// CompleteCheckout exchanges a paid session id for its order, exactly once
// per session id. Duplicate completion calls (double clicks, revisits of the
// success page) replay the first result through the idempotency store.
func (s *CheckoutService) CompleteCheckout(ctx context.Context, sessionID, userID string) (*order.Order, error) {
	// Ownership is checked before entering the idempotent section so a
	// non-owner's attempt cannot record a failure against the session.
	existing, err := s.orders.GetByCheckoutSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if existing.UserID != userID {
		return nil, ErrForbidden
	}

	// The paid check also stays outside: a recorded failure replays forever,
	// and an early success-page visit must not lock the order out of
	// completion once the payment settles.
	sess, err := s.client.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		s.metrics.IncProcessorErrors("get_checkout_session")
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, fmt.Errorf("%w: session payment status is %s", ErrPaymentIncomplete, sess.PaymentStatus)
	}

	result, err := s.exec.Execute(ctx, sessionID, completeCheckoutOp, func(ctx context.Context) ([]byte, error) {
		o, err := s.finalize(ctx, sess)
		if err != nil {
			return nil, err
		}
		return json.Marshal(o)
	})
	if err != nil {
		return nil, err
	}

	var o order.Order
	if err := json.Unmarshal(result, &o); err != nil {
		return nil, fmt.Errorf("decode completed order: %w", err)
	}

	// The stored result may predate this caller; enforce ownership on
	// every call, not just the first.
	if o.UserID != userID {
		return nil, ErrForbidden
	}
	return &o, nil
}

// finalize settles the order for a session already verified as paid.
func (s *CheckoutService) finalize(ctx context.Context, sess *stripe.CheckoutSession) (*order.Order, error) {
	o, err := s.orders.GetByCheckoutSessionID(sess.ID)
	if err != nil {
		return nil, err
	}

	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		if err := s.orders.AttachPaymentIntent(o.ID, sess.PaymentIntent.ID); err != nil && err != order.ErrIntentAlreadyAttached {
			return nil, err
		}
	}

	applied, err := s.orders.TransitionStatus(o.ID,
		[]string{order.StatusPending, order.StatusProcessing}, order.StatusPaid, "paid", nil)
	if err != nil {
		return nil, err
	}
	if applied {
		s.metrics.IncOrdersPaid()
		slog.InfoContext(ctx, "order paid via checkout session",
			"order_id", o.ID, "session_id", sess.ID)
	}

	return s.orders.GetByID(o.ID)
}
