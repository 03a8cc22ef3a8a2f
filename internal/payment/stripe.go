// Package payment provides the Stripe implementation of the processor client.
package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/customer"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/subscription"

	"github.com/merchflow/merchflow/internal/tracing"
)

// DefaultProcessorTimeout bounds every processor call. A timed-out call is
// failed-unknown: the caller polls status instead of retrying blindly.
const DefaultProcessorTimeout = 15 * time.Second

// StripeClient implements the Client interface using the real Stripe SDK.
type StripeClient struct {
	timeout time.Duration
}

// NewStripeClient creates a new Stripe client with the given API key and
// per-call timeout. A non-positive timeout falls back to the default.
func NewStripeClient(apiKey string, timeout time.Duration) *StripeClient {
	stripe.Key = apiKey
	if timeout <= 0 {
		timeout = DefaultProcessorTimeout
	}
	return &StripeClient{timeout: timeout}
}

// startCall bounds the processor call with the client timeout and opens a
// span around it. The returned done function ends the span with the call's
// outcome and releases the timeout.
func (c *StripeClient) startCall(ctx context.Context, operation string) (context.Context, func(error)) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	ctx, end := tracing.StartProcessorSpan(ctx, operation)
	return ctx, func(err error) {
		end(err)
		cancel()
	}
}

// CreatePaymentIntent creates a processor payment intent for an order total.
func (c *StripeClient) CreatePaymentIntent(ctx context.Context, params *IntentParams) (*stripe.PaymentIntent, error) {
	ctx, done := c.startCall(ctx, "create_payment_intent")

	piParams := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(params.AmountCents),
		Currency: stripe.String(strings.ToLower(params.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			"order_id": params.OrderID,
		},
	}
	piParams.Context = ctx

	if params.ReceiptEmail != "" {
		piParams.ReceiptEmail = stripe.String(params.ReceiptEmail)
	}
	if params.IdempotencyKey != "" {
		piParams.SetIdempotencyKey(params.IdempotencyKey)
	}

	pi, err := paymentintent.New(piParams)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return pi, nil
}

// GetPaymentIntent retrieves a payment intent by id.
func (c *StripeClient) GetPaymentIntent(ctx context.Context, intentID string) (*stripe.PaymentIntent, error) {
	ctx, done := c.startCall(ctx, "get_payment_intent")

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(intentID, params)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("get payment intent %s: %w", intentID, err)
	}
	return pi, nil
}

// CreateCheckoutSession creates a hosted checkout session charging the
// already-discounted order total as a single line item. The itemized detail
// lives on the local order; the session carries the order id in metadata.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, params *SessionParams) (*stripe.CheckoutSession, error) {
	ctx, done := c.startCall(ctx, "create_checkout_session")

	sessParams := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(params.Currency)),
					UnitAmount: stripe.Int64(params.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(params.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		Metadata: map[string]string{
			"order_id":    params.OrderID,
			"coupon_code": params.CouponCode,
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{
				"order_id": params.OrderID,
			},
		},
	}
	sessParams.Context = ctx

	sess, err := session.New(sessParams)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return sess, nil
}

// GetCheckoutSession retrieves a checkout session by id.
func (c *StripeClient) GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	ctx, done := c.startCall(ctx, "get_checkout_session")

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	sess, err := session.Get(sessionID, params)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("get checkout session %s: %w", sessionID, err)
	}
	return sess, nil
}

// CreateCustomer creates a processor customer for a user.
func (c *StripeClient) CreateCustomer(ctx context.Context, email, userID string) (*stripe.Customer, error) {
	ctx, done := c.startCall(ctx, "create_customer")

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Metadata: map[string]string{
			"user_id": userID,
		},
	}
	params.Context = ctx

	cust, err := customer.New(params)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return cust, nil
}

// CreateSubscription creates a processor subscription in default_incomplete
// payment behavior so the first invoice's payment intent can be confirmed by
// the frontend.
func (c *StripeClient) CreateSubscription(ctx context.Context, params *SubscriptionParams) (*stripe.Subscription, error) {
	ctx, done := c.startCall(ctx, "create_subscription")

	subParams := &stripe.SubscriptionParams{
		Customer: stripe.String(params.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(params.PriceID)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
		Metadata: map[string]string{
			"user_id": params.UserID,
		},
	}
	subParams.Context = ctx
	subParams.AddExpand("latest_invoice.payment_intent")

	if params.PaymentMethodID != "" {
		subParams.DefaultPaymentMethod = stripe.String(params.PaymentMethodID)
	}

	sub, err := subscription.New(subParams)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return sub, nil
}

// GetSubscription retrieves a subscription by id.
func (c *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	ctx, done := c.startCall(ctx, "get_subscription")

	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := subscription.Get(subscriptionID, params)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", subscriptionID, err)
	}
	return sub, nil
}

// SetSubscriptionCancelAtPeriodEnd schedules or unschedules cancellation at
// the end of the current billing period.
func (c *StripeClient) SetSubscriptionCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*stripe.Subscription, error) {
	ctx, done := c.startCall(ctx, "update_subscription")

	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	params.Context = ctx

	sub, err := subscription.Update(subscriptionID, params)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("update subscription %s: %w", subscriptionID, err)
	}
	return sub, nil
}

// CancelSubscription cancels a subscription immediately.
func (c *StripeClient) CancelSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	ctx, done := c.startCall(ctx, "cancel_subscription")

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	sub, err := subscription.Cancel(subscriptionID, params)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("cancel subscription %s: %w", subscriptionID, err)
	}
	return sub, nil
}
