package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/merchflow/merchflow/internal/auth"
	"github.com/merchflow/merchflow/internal/cart"
	"github.com/merchflow/merchflow/internal/coupon"
	"github.com/merchflow/merchflow/internal/idempotency"
	"github.com/merchflow/merchflow/internal/order"
	"github.com/merchflow/merchflow/internal/payment"
	"github.com/merchflow/merchflow/internal/payment/paymenttest"
	"github.com/merchflow/merchflow/internal/subscription"
)

const (
	testJWTSecret     = "api-test-jwt-secret"
	testWebhookSecret = "whsec_test_secret"
)

// errTest stands in for an arbitrary processor failure.
var errTest = errors.New("processor unavailable")

// testEnv wires handlers over in-memory repositories and a fake processor.
type testEnv struct {
	orders    *order.InMemoryRepository
	carts     *cart.InMemoryRepository
	coupons   *coupon.InMemoryRepository
	subs      *subscription.InMemoryRepository
	customers *subscription.InMemoryCustomerRepository
	webhooks  *payment.InMemoryWebhookRepository
	client    *paymenttest.FakeClient
	jwt       *auth.JWTService
	handler   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		orders:    order.NewInMemoryRepository(),
		carts:     cart.NewInMemoryRepository(),
		coupons:   coupon.NewInMemoryRepository(),
		subs:      subscription.NewInMemoryRepository(),
		customers: subscription.NewInMemoryCustomerRepository(),
		webhooks:  payment.NewInMemoryWebhookRepository(),
		client:    paymenttest.NewFakeClient(),
		jwt:       auth.NewJWTService(testJWTSecret),
	}

	metrics := payment.NewMetrics()
	exec := idempotency.NewExecutor(idempotency.NewInMemoryRepository())

	intentSvc := payment.NewIntentService(env.orders, env.client, metrics)
	checkoutSvc := payment.NewCheckoutService(env.carts, env.coupons, env.orders, env.client, exec, metrics)
	subSvc := subscription.NewService(env.subs, env.customers, env.client, exec, metrics)

	env.handler = NewRouter(RouterConfig{
		Payments: NewPaymentHandlers(intentSvc),
		Checkout: NewCheckoutHandlers(checkoutSvc, "", ""),
		Webhooks: NewWebhookHandlers(
			testWebhookSecret, env.orders, env.webhooks, subSvc,
			LoggingFulfiller{}, LoggingNotifier{}, metrics),
		Subscriptions: NewSubscriptionHandlers(subSvc),
		Health:        NewHealthHandlers(HealthHandlersConfig{}),
		JWTService:    env.jwt,
	})

	return env
}

// token mints a valid access token for the given user.
func (e *testEnv) token(t *testing.T, userID, email string) string {
	t.Helper()
	token, err := e.jwt.GenerateAccessToken(userID, email)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	return token
}

// do sends a JSON request through the router. A non-empty token is attached
// as a Bearer credential.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// insertOrder seeds a pending order and returns it.
func (e *testEnv) insertOrder(t *testing.T, userID string, amount int64) *order.Order {
	t.Helper()
	o := &order.Order{
		UserID: userID,
		Items: []order.Item{
			{ProductID: "prod_1", Name: "Tour Shirt", Quantity: 1, UnitAmount: amount},
		},
		TotalAmount: amount,
		Currency:    "usd",
		Status:      order.StatusPending,
	}
	if err := e.orders.Insert(o); err != nil {
		t.Fatalf("failed to insert order: %v", err)
	}
	return o
}

// insertCart seeds a cart for the user and returns it.
func (e *testEnv) insertCart(t *testing.T, userID string, items []cart.Item) *cart.Cart {
	t.Helper()
	c := &cart.Cart{
		UserID:   userID,
		Items:    items,
		Currency: "usd",
	}
	if err := e.carts.Insert(c); err != nil {
		t.Fatalf("failed to insert cart: %v", err)
	}
	return c
}

// decodeError parses the standard error envelope.
func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v, body: %s", err, rr.Body.String())
	}
	return resp.Error
}
