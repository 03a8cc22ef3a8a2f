// Package paymenttest provides a fake processor client for tests.
package paymenttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/stripe/stripe-go/v81"

	"github.com/merchflow/merchflow/internal/payment"
)

// FakeClient implements payment.Client in memory. Each Create* call mints an
// object and remembers it so the matching Get* call can return it. Any of the
// Err fields, when set, is returned by the corresponding call.
type FakeClient struct {
	mu sync.Mutex

	intents       map[string]*stripe.PaymentIntent
	sessions      map[string]*stripe.CheckoutSession
	customers     map[string]*stripe.Customer
	subscriptions map[string]*stripe.Subscription

	intentSeq   int
	sessionSeq  int
	customerSeq int
	subSeq      int

	// SessionPaymentStatus is the payment status new sessions report when
	// fetched. Defaults to paid so completion flows succeed.
	SessionPaymentStatus stripe.CheckoutSessionPaymentStatus

	CreateIntentErr  error
	GetIntentErr     error
	CreateSessionErr error
	GetSessionErr    error
	CreateCustErr    error
	CreateSubErr     error
	GetSubErr        error
	UpdateSubErr     error
	CancelSubErr     error

	// CreateIntentCalls counts processor-side intent creations, letting
	// tests assert the create-or-get guard held.
	CreateIntentCalls int
	CreateSubCalls    int
	CreateCustCalls   int
}

// NewFakeClient creates a FakeClient with empty state.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		intents:              make(map[string]*stripe.PaymentIntent),
		sessions:             make(map[string]*stripe.CheckoutSession),
		customers:            make(map[string]*stripe.Customer),
		subscriptions:        make(map[string]*stripe.Subscription),
		SessionPaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
	}
}

// CreatePaymentIntent mints a new intent.
func (f *FakeClient) CreatePaymentIntent(ctx context.Context, params *payment.IntentParams) (*stripe.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateIntentErr != nil {
		return nil, f.CreateIntentErr
	}

	f.CreateIntentCalls++
	f.intentSeq++
	pi := &stripe.PaymentIntent{
		ID:           fmt.Sprintf("pi_fake_%d", f.intentSeq),
		ClientSecret: fmt.Sprintf("pi_fake_%d_secret", f.intentSeq),
		Amount:       params.AmountCents,
		Currency:     stripe.Currency(params.Currency),
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
	}
	f.intents[pi.ID] = pi
	return pi, nil
}

// GetPaymentIntent returns a previously minted intent.
func (f *FakeClient) GetPaymentIntent(ctx context.Context, intentID string) (*stripe.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.GetIntentErr != nil {
		return nil, f.GetIntentErr
	}
	pi, ok := f.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("no such payment intent %s", intentID)
	}
	return pi, nil
}

// SetIntentStatus overrides a stored intent's status.
func (f *FakeClient) SetIntentStatus(intentID string, status stripe.PaymentIntentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pi, ok := f.intents[intentID]; ok {
		pi.Status = status
	}
}

// CreateCheckoutSession mints a new session with a paired payment intent.
func (f *FakeClient) CreateCheckoutSession(ctx context.Context, params *payment.SessionParams) (*stripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateSessionErr != nil {
		return nil, f.CreateSessionErr
	}

	f.sessionSeq++
	f.intentSeq++
	pi := &stripe.PaymentIntent{
		ID:     fmt.Sprintf("pi_fake_%d", f.intentSeq),
		Amount: params.AmountCents,
	}
	f.intents[pi.ID] = pi

	sess := &stripe.CheckoutSession{
		ID:            fmt.Sprintf("cs_fake_%d", f.sessionSeq),
		URL:           fmt.Sprintf("https://checkout.example.com/pay/cs_fake_%d", f.sessionSeq),
		AmountTotal:   params.AmountCents,
		PaymentStatus: f.SessionPaymentStatus,
		PaymentIntent: pi,
	}
	f.sessions[sess.ID] = sess
	return sess, nil
}

// GetCheckoutSession returns a previously minted session.
func (f *FakeClient) GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.GetSessionErr != nil {
		return nil, f.GetSessionErr
	}
	sess, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("no such checkout session %s", sessionID)
	}
	return sess, nil
}

// SeedCheckoutSession stores a session under a caller-chosen id, for tests
// that need processor-realistic identifiers rather than minted ones.
func (f *FakeClient) SeedCheckoutSession(sess *stripe.CheckoutSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sess.ID] = sess
}

// SetSessionPaymentStatus overrides a stored session's payment status.
func (f *FakeClient) SetSessionPaymentStatus(sessionID string, status stripe.CheckoutSessionPaymentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sess, ok := f.sessions[sessionID]; ok {
		sess.PaymentStatus = status
	}
}

// CreateCustomer mints a new customer.
func (f *FakeClient) CreateCustomer(ctx context.Context, email, userID string) (*stripe.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateCustErr != nil {
		return nil, f.CreateCustErr
	}

	f.CreateCustCalls++
	f.customerSeq++
	cust := &stripe.Customer{
		ID:    fmt.Sprintf("cus_fake_%d", f.customerSeq),
		Email: email,
	}
	f.customers[cust.ID] = cust
	return cust, nil
}

// CreateSubscription mints a new subscription with an incomplete status and
// a latest invoice carrying a confirmable payment intent.
func (f *FakeClient) CreateSubscription(ctx context.Context, params *payment.SubscriptionParams) (*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateSubErr != nil {
		return nil, f.CreateSubErr
	}

	f.CreateSubCalls++
	f.subSeq++
	f.intentSeq++
	pi := &stripe.PaymentIntent{
		ID:           fmt.Sprintf("pi_fake_%d", f.intentSeq),
		ClientSecret: fmt.Sprintf("pi_fake_%d_secret", f.intentSeq),
	}

	sub := &stripe.Subscription{
		ID:                fmt.Sprintf("sub_fake_%d", f.subSeq),
		Status:            stripe.SubscriptionStatusIncomplete,
		CancelAtPeriodEnd: false,
		Customer:          &stripe.Customer{ID: params.CustomerID},
		LatestInvoice:     &stripe.Invoice{PaymentIntent: pi},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{Price: &stripe.Price{ID: params.PriceID}},
			},
		},
	}
	f.subscriptions[sub.ID] = sub
	return sub, nil
}

// GetSubscription returns a previously minted subscription.
func (f *FakeClient) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.GetSubErr != nil {
		return nil, f.GetSubErr
	}
	sub, ok := f.subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("no such subscription %s", subscriptionID)
	}
	return sub, nil
}

// SetSubscriptionStatus overrides a stored subscription's status.
func (f *FakeClient) SetSubscriptionStatus(subscriptionID string, status stripe.SubscriptionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subscriptions[subscriptionID]; ok {
		sub.Status = status
	}
}

// SetSubscriptionCancelAtPeriodEnd schedules cancellation at period end.
func (f *FakeClient) SetSubscriptionCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.UpdateSubErr != nil {
		return nil, f.UpdateSubErr
	}
	sub, ok := f.subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("no such subscription %s", subscriptionID)
	}
	sub.CancelAtPeriodEnd = cancel
	return sub, nil
}

// CancelSubscription cancels a subscription immediately.
func (f *FakeClient) CancelSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CancelSubErr != nil {
		return nil, f.CancelSubErr
	}
	sub, ok := f.subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("no such subscription %s", subscriptionID)
	}
	sub.Status = stripe.SubscriptionStatusCanceled
	return sub, nil
}
