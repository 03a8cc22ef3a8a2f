package api

import (
	"log/slog"
	"net/http"

	"github.com/merchflow/merchflow/internal/auth"
	"github.com/merchflow/merchflow/internal/middleware"
)

// RouterConfig holds the handlers and middleware dependencies for the router.
type RouterConfig struct {
	Payments      *PaymentHandlers
	Checkout      *CheckoutHandlers
	Webhooks      *WebhookHandlers
	Subscriptions *SubscriptionHandlers
	Health        *HealthHandlers

	JWTService *auth.JWTService

	// RateLimitStore is optional; when absent no per-user payment rate
	// limiting is applied (tests). The global IP limit is applied by the
	// caller around the whole router.
	RateLimitStore middleware.RateLimitStore
	PaymentLimit   middleware.RateLimitConfig

	// MetricsHandler serves GET /metrics when set (Prometheus scrape).
	MetricsHandler http.Handler
}

// NewRouter builds the route table. Authentication wraps every route except
// the webhook endpoint, which authenticates by signature instead, and the
// health probes.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	authn := middleware.Auth(cfg.JWTService)
	limited := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimitStore != nil {
		limited = middleware.RateLimiter(cfg.RateLimitStore, cfg.PaymentLimit, middleware.UserKeyFunc())
	}

	protect := func(h http.HandlerFunc) http.Handler {
		return authn(limited(h))
	}

	// Payment intents
	mux.Handle("POST /payments/create-payment-intent", protect(cfg.Payments.CreatePaymentIntent))
	mux.Handle("GET /payments/order/{orderId}/status", protect(cfg.Payments.GetPaymentStatus))

	// Hosted checkout
	mux.Handle("POST /payments/create-checkout-session", protect(cfg.Checkout.CreateCheckoutSession))
	mux.Handle("POST /payments/checkout-success", protect(cfg.Checkout.CheckoutSuccess))

	// Processor webhook: signature-verified, never JWT-authenticated.
	mux.HandleFunc("POST /payments/webhook", cfg.Webhooks.HandleStripeWebhook)

	// Subscriptions. Creation is billing-sensitive and demands an
	// idempotency key from the caller.
	mux.Handle("POST /subscriptions",
		authn(limited(middleware.RequireIdempotencyKey(http.HandlerFunc(cfg.Subscriptions.CreateSubscription)))))
	mux.Handle("GET /subscriptions/{id}", protect(cfg.Subscriptions.GetSubscription))
	mux.Handle("POST /subscriptions/{id}/cancel", protect(cfg.Subscriptions.CancelSubscription))

	// Probes and scrape target
	mux.HandleFunc("GET /health", cfg.Health.Health)
	mux.HandleFunc("GET /ready", cfg.Health.Ready)
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"merchflow-api","version":"0.1.0"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	return mux
}
