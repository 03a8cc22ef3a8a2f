// Package payment provides the processor client and the payment intent and
// checkout session services built on it.
package payment

import (
	"context"

	"github.com/stripe/stripe-go/v81"
)

// IntentParams represents parameters for creating a payment intent.
type IntentParams struct {
	AmountCents  int64
	Currency     string
	ReceiptEmail string
	OrderID      string
	// IdempotencyKey is forwarded to the processor so a retried create
	// call cannot mint a second intent.
	IdempotencyKey string
}

// SessionParams represents parameters for creating a hosted checkout session.
type SessionParams struct {
	AmountCents int64
	Currency    string
	Description string
	Quantity    int64
	SuccessURL  string
	CancelURL   string
	OrderID     string
	CouponCode  string
}

// SubscriptionParams represents parameters for creating a subscription.
type SubscriptionParams struct {
	CustomerID      string
	PriceID         string
	PaymentMethodID string
	UserID          string
}

// Client is an interface for processor operations to enable testing with
// fakes. The real implementation is StripeClient. Every call takes a context
// carrying the bounded processor timeout.
type Client interface {
	CreatePaymentIntent(ctx context.Context, params *IntentParams) (*stripe.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, intentID string) (*stripe.PaymentIntent, error)

	CreateCheckoutSession(ctx context.Context, params *SessionParams) (*stripe.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)

	CreateCustomer(ctx context.Context, email, userID string) (*stripe.Customer, error)
	CreateSubscription(ctx context.Context, params *SubscriptionParams) (*stripe.Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	SetSubscriptionCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*stripe.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
}
