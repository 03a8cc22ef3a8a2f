package payment_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v81"

	"github.com/merchflow/merchflow/internal/cart"
	"github.com/merchflow/merchflow/internal/coupon"
	"github.com/merchflow/merchflow/internal/idempotency"
	"github.com/merchflow/merchflow/internal/order"
	"github.com/merchflow/merchflow/internal/payment"
	"github.com/merchflow/merchflow/internal/payment/paymenttest"
)

const (
	successURL = "https://shop.example.com/thanks"
	cancelURL  = "https://shop.example.com/cancel"
)

type checkoutFixture struct {
	svc     *payment.CheckoutService
	carts   *cart.InMemoryRepository
	coupons *coupon.InMemoryRepository
	orders  *order.InMemoryRepository
	client  *paymenttest.FakeClient
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	f := &checkoutFixture{
		carts:   cart.NewInMemoryRepository(),
		coupons: coupon.NewInMemoryRepository(),
		orders:  order.NewInMemoryRepository(),
		client:  paymenttest.NewFakeClient(),
	}
	exec := idempotency.NewExecutor(idempotency.NewInMemoryRepository())
	f.svc = payment.NewCheckoutService(f.carts, f.coupons, f.orders, f.client, exec, nil)
	return f
}

func (f *checkoutFixture) insertCart(t *testing.T, userID string, items ...cart.Item) *cart.Cart {
	t.Helper()
	c := &cart.Cart{UserID: userID, Items: items, Currency: "usd"}
	if err := f.carts.Insert(c); err != nil {
		t.Fatalf("insert cart: %v", err)
	}
	return c
}

func twoItems() []cart.Item {
	return []cart.Item{
		{ProductID: "prod-1", Name: "Tour Tee", Quantity: 2, UnitAmount: 2500},
		{ProductID: "prod-2", Name: "Sticker Pack", Quantity: 1, UnitAmount: 500},
	}
}

func TestCreateSession(t *testing.T) {
	f := newCheckoutFixture(t)
	c := f.insertCart(t, "user-1", twoItems()...)

	sess, err := f.svc.CreateSession(context.Background(), "user-1", c.ID, "", successURL, cancelURL)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if sess.URL == "" || sess.SessionID == "" {
		t.Fatalf("incomplete session: %+v", sess)
	}
	if sess.Amount != 5500 {
		t.Errorf("Amount = %d, want 5500", sess.Amount)
	}

	// The order exists from the moment checkout begins, prices snapshotted.
	o, err := f.orders.GetByID(sess.OrderID)
	if err != nil {
		t.Fatalf("order not created: %v", err)
	}
	if o.Status != order.StatusPending {
		t.Errorf("order status = %q, want %q", o.Status, order.StatusPending)
	}
	if o.TotalAmount != 5500 {
		t.Errorf("order total = %d, want 5500", o.TotalAmount)
	}
	if len(o.Items) != 2 {
		t.Errorf("order items = %d, want 2", len(o.Items))
	}
	if o.CheckoutSessionID == nil || *o.CheckoutSessionID != sess.SessionID {
		t.Error("session id not attached to order")
	}
}

func TestCreateSessionWithCoupon(t *testing.T) {
	f := newCheckoutFixture(t)
	c := f.insertCart(t, "user-1", twoItems()...)
	f.coupons.Insert(&coupon.Coupon{Code: "SAVE20", PercentOff: 20, Active: true})

	sess, err := f.svc.CreateSession(context.Background(), "user-1", c.ID, "SAVE20", successURL, cancelURL)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if sess.Amount != 4400 {
		t.Errorf("discounted amount = %d, want 4400", sess.Amount)
	}

	o, err := f.orders.GetByID(sess.OrderID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if o.TotalAmount != 4400 {
		t.Errorf("order total = %d, want 4400", o.TotalAmount)
	}
}

func TestCreateSessionInvalidCoupon(t *testing.T) {
	f := newCheckoutFixture(t)
	expired := time.Now().Add(-time.Hour)
	f.coupons.Insert(&coupon.Coupon{Code: "OLD", PercentOff: 10, Active: true, ExpiresAt: &expired})
	f.coupons.Insert(&coupon.Coupon{Code: "OFF", PercentOff: 10, Active: false})

	tests := []struct {
		name string
		code string
	}{
		{name: "unknown code", code: "NOPE"},
		{name: "expired", code: "OLD"},
		{name: "inactive", code: "OFF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := f.insertCart(t, "user-1", twoItems()...)
			_, err := f.svc.CreateSession(context.Background(), "user-1", c.ID, tt.code, successURL, cancelURL)
			if !errors.Is(err, payment.ErrInvalidCoupon) {
				t.Errorf("expected ErrInvalidCoupon, got %v", err)
			}
		})
	}
}

func TestCreateSessionInvalidCart(t *testing.T) {
	f := newCheckoutFixture(t)

	empty := f.insertCart(t, "user-1")
	if _, err := f.svc.CreateSession(context.Background(), "user-1", empty.ID, "", successURL, cancelURL); !errors.Is(err, cart.ErrEmptyCart) {
		t.Errorf("expected ErrEmptyCart, got %v", err)
	}

	bad := f.insertCart(t, "user-1", cart.Item{ProductID: "prod-1", Name: "", Quantity: 1, UnitAmount: 100})
	if _, err := f.svc.CreateSession(context.Background(), "user-1", bad.ID, "", successURL, cancelURL); !errors.Is(err, cart.ErrInvalidItem) {
		t.Errorf("expected ErrInvalidItem, got %v", err)
	}
}

func TestCreateSessionInvalidRedirects(t *testing.T) {
	f := newCheckoutFixture(t)
	c := f.insertCart(t, "user-1", twoItems()...)

	if _, err := f.svc.CreateSession(context.Background(), "user-1", c.ID, "", "not a url://", cancelURL); err == nil {
		t.Error("expected error for malformed success_url")
	}
	if _, err := f.svc.CreateSession(context.Background(), "user-1", c.ID, "", successURL, "ftp://shop.example.com/cancel"); err == nil {
		t.Error("expected error for disallowed cancel_url scheme")
	}
}

func TestCreateSessionForbidden(t *testing.T) {
	f := newCheckoutFixture(t)
	c := f.insertCart(t, "user-1", twoItems()...)

	_, err := f.svc.CreateSession(context.Background(), "user-2", c.ID, "", successURL, cancelURL)
	if !errors.Is(err, payment.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestCompleteCheckout(t *testing.T) {
	f := newCheckoutFixture(t)
	c := f.insertCart(t, "user-1", twoItems()...)

	sess, err := f.svc.CreateSession(context.Background(), "user-1", c.ID, "", successURL, cancelURL)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	o, err := f.svc.CompleteCheckout(context.Background(), sess.SessionID, "user-1")
	if err != nil {
		t.Fatalf("CompleteCheckout failed: %v", err)
	}
	if o.Status != order.StatusPaid {
		t.Errorf("order status = %q, want %q", o.Status, order.StatusPaid)
	}
	if o.PaymentIntentID == nil || *o.PaymentIntentID == "" {
		t.Error("expected the session's payment intent to be attached")
	}
}

func TestCompleteCheckoutIdempotent(t *testing.T) {
	f := newCheckoutFixture(t)
	c := f.insertCart(t, "user-1", twoItems()...)

	sess, err := f.svc.CreateSession(context.Background(), "user-1", c.ID, "", successURL, cancelURL)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	first, err := f.svc.CompleteCheckout(context.Background(), sess.SessionID, "user-1")
	if err != nil {
		t.Fatalf("first CompleteCheckout failed: %v", err)
	}
	// User double-clicks, or revisits the success page.
	second, err := f.svc.CompleteCheckout(context.Background(), sess.SessionID, "user-1")
	if err != nil {
		t.Fatalf("duplicate CompleteCheckout failed: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("duplicate completion returned a different order: %q vs %q", second.ID, first.ID)
	}

	stored, err := f.orders.GetByID(first.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.UpdateCount != 1 {
		t.Errorf("UpdateCount = %d, want exactly 1 paid transition", stored.UpdateCount)
	}
}

func TestCompleteCheckoutPaymentIncomplete(t *testing.T) {
	f := newCheckoutFixture(t)
	c := f.insertCart(t, "user-1", twoItems()...)

	sess, err := f.svc.CreateSession(context.Background(), "user-1", c.ID, "", successURL, cancelURL)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	f.client.SetSessionPaymentStatus(sess.SessionID, stripe.CheckoutSessionPaymentStatusUnpaid)

	_, err = f.svc.CompleteCheckout(context.Background(), sess.SessionID, "user-1")
	if !errors.Is(err, payment.ErrPaymentIncomplete) {
		t.Errorf("expected ErrPaymentIncomplete, got %v", err)
	}

	o, _ := f.orders.GetByID(sess.OrderID)
	if o.Status != order.StatusPending {
		t.Errorf("order status = %q, want unchanged %q", o.Status, order.StatusPending)
	}
}

func TestCompleteCheckoutRetryAfterPaymentSettles(t *testing.T) {
	f := newCheckoutFixture(t)
	c := f.insertCart(t, "user-1", twoItems()...)

	sess, err := f.svc.CreateSession(context.Background(), "user-1", c.ID, "", successURL, cancelURL)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// The user lands on the success page before the payment settles.
	f.client.SetSessionPaymentStatus(sess.SessionID, stripe.CheckoutSessionPaymentStatusUnpaid)
	if _, err := f.svc.CompleteCheckout(context.Background(), sess.SessionID, "user-1"); !errors.Is(err, payment.ErrPaymentIncomplete) {
		t.Fatalf("expected ErrPaymentIncomplete, got %v", err)
	}

	// Once it settles, the retry must complete the order; the premature
	// attempt must not have been recorded as a terminal failure.
	f.client.SetSessionPaymentStatus(sess.SessionID, stripe.CheckoutSessionPaymentStatusPaid)
	o, err := f.svc.CompleteCheckout(context.Background(), sess.SessionID, "user-1")
	if err != nil {
		t.Fatalf("retry after settlement failed: %v", err)
	}
	if o.Status != order.StatusPaid {
		t.Errorf("order status = %q, want %q", o.Status, order.StatusPaid)
	}
}

func TestCompleteCheckoutLiveModeSessionID(t *testing.T) {
	f := newCheckoutFixture(t)

	// Live-mode session ids run to 66 characters.
	sessionID := "cs_live_" + strings.Repeat("a", 58)

	o := &order.Order{
		UserID:      "user-1",
		Items:       []order.Item{{ProductID: "prod-1", Name: "Tour Tee", Quantity: 1, UnitAmount: 2500}},
		TotalAmount: 2500,
		Currency:    "usd",
		Status:      order.StatusPending,
	}
	if err := f.orders.Insert(o); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	if err := f.orders.AttachCheckoutSession(o.ID, sessionID); err != nil {
		t.Fatalf("attach session: %v", err)
	}
	f.client.SeedCheckoutSession(&stripe.CheckoutSession{
		ID:            sessionID,
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_live_1"},
	})

	completed, err := f.svc.CompleteCheckout(context.Background(), sessionID, "user-1")
	if err != nil {
		t.Fatalf("CompleteCheckout failed for live-length session id: %v", err)
	}
	if completed.Status != order.StatusPaid {
		t.Errorf("order status = %q, want %q", completed.Status, order.StatusPaid)
	}
}

func TestCompleteCheckoutForbidden(t *testing.T) {
	f := newCheckoutFixture(t)
	c := f.insertCart(t, "user-1", twoItems()...)

	sess, err := f.svc.CreateSession(context.Background(), "user-1", c.ID, "", successURL, cancelURL)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if _, err := f.svc.CompleteCheckout(context.Background(), sess.SessionID, "user-2"); !errors.Is(err, payment.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}

	// The completion itself succeeded and is replayed for the owner, but a
	// different caller still cannot read it.
	if _, err := f.svc.CompleteCheckout(context.Background(), sess.SessionID, "user-1"); err != nil {
		t.Fatalf("owner CompleteCheckout failed: %v", err)
	}
	if _, err := f.svc.CompleteCheckout(context.Background(), sess.SessionID, "user-2"); !errors.Is(err, payment.ErrForbidden) {
		t.Errorf("expected ErrForbidden on replay, got %v", err)
	}
}

func TestCompleteCheckoutUnknownSession(t *testing.T) {
	f := newCheckoutFixture(t)

	_, err := f.svc.CompleteCheckout(context.Background(), "cs_missing", "user-1")
	if !errors.Is(err, order.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
