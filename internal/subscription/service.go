package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v81"

	"github.com/merchflow/merchflow/internal/idempotency"
	"github.com/merchflow/merchflow/internal/payment"
	"github.com/merchflow/merchflow/internal/validate"
)

// createOp names the idempotency scope for subscription creation.
const createOp = "subscription.create"

// Service manages subscription lifecycle against the processor, keeping the
// local mirror in sync with processor responses.
type Service struct {
	subs      Repository
	customers CustomerRepository
	client    payment.Client
	exec      *idempotency.Executor
	metrics   *payment.Metrics
}

// NewService creates a new subscription Service.
func NewService(
	subs Repository,
	customers CustomerRepository,
	client payment.Client,
	exec *idempotency.Executor,
	metrics *payment.Metrics,
) *Service {
	return &Service{
		subs:      subs,
		customers: customers,
		client:    client,
		exec:      exec,
		metrics:   metrics,
	}
}

// Create starts a subscription for the user. Creation is billing-sensitive
// and not safely retryable, so the whole flow runs under the caller-supplied
// idempotency key: a retried request replays the first result instead of
// minting a second processor subscription.
//
// The returned subscription carries the client secret of the first invoice's
// payment intent, which the client confirms to activate billing.
func (s *Service) Create(ctx context.Context, userID, email, priceID, paymentMethodID, idemKey string) (*Subscription, error) {
	if _, err := validate.Email(email); err != nil {
		return nil, fmt.Errorf("invalid email: %w", err)
	}
	if priceID == "" {
		return nil, fmt.Errorf("price id is required")
	}

	result, err := s.exec.Execute(ctx, idemKey, createOp, func(ctx context.Context) ([]byte, error) {
		sub, err := s.create(ctx, userID, email, priceID, paymentMethodID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(sub)
	})
	if err != nil {
		return nil, err
	}

	var sub Subscription
	if err := json.Unmarshal(result, &sub); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	if sub.UserID != userID {
		return nil, payment.ErrForbidden
	}
	return &sub, nil
}

func (s *Service) create(ctx context.Context, userID, email, priceID, paymentMethodID string) (*Subscription, error) {
	customerID, err := s.ensureCustomer(ctx, userID, email)
	if err != nil {
		return nil, err
	}

	processorSub, err := s.client.CreateSubscription(ctx, &payment.SubscriptionParams{
		CustomerID:      customerID,
		PriceID:         priceID,
		PaymentMethodID: paymentMethodID,
		UserID:          userID,
	})
	if err != nil {
		s.metrics.IncProcessorErrors("create_subscription")
		slog.ErrorContext(ctx, "failed to create subscription", "user_id", userID, "price_id", priceID, "error", err)
		return nil, fmt.Errorf("%w: %v", payment.ErrUpstream, err)
	}

	sub := FromProcessor(processorSub)
	sub.UserID = userID
	sub.PriceID = priceID
	err = s.subs.Insert(sub)
	if err == ErrAlreadyExists {
		// The processor can deliver the creation webhook before this
		// response returns, leaving an ownerless mirror row. Claim it.
		err = s.subs.Upsert(sub)
	}
	if err != nil {
		// The processor side succeeded; surface the storage failure rather
		// than leaving an unmirrored subscription silently billing.
		slog.ErrorContext(ctx, "failed to persist subscription mirror",
			"subscription_id", sub.ID, "user_id", userID, "error", err)
		return nil, err
	}

	if processorSub.LatestInvoice != nil && processorSub.LatestInvoice.PaymentIntent != nil {
		sub.ClientSecret = processorSub.LatestInvoice.PaymentIntent.ClientSecret
	}

	s.metrics.IncSubscriptionsCreated()
	slog.InfoContext(ctx, "subscription created",
		"subscription_id", sub.ID, "user_id", userID, "price_id", priceID, "status", sub.Status)
	return sub, nil
}

// ensureCustomer returns the user's processor customer id, creating the
// customer and storing the mapping on first use.
func (s *Service) ensureCustomer(ctx context.Context, userID, email string) (string, error) {
	customerID, err := s.customers.GetCustomerID(userID)
	if err == nil {
		return customerID, nil
	}
	if err != ErrCustomerNotFound {
		return "", err
	}

	cust, err := s.client.CreateCustomer(ctx, email, userID)
	if err != nil {
		s.metrics.IncProcessorErrors("create_customer")
		return "", fmt.Errorf("%w: %v", payment.ErrUpstream, err)
	}
	if err := s.customers.SaveCustomerID(userID, cust.ID); err != nil {
		return "", err
	}

	// A concurrent request may have won the save; use the stored mapping.
	return s.customers.GetCustomerID(userID)
}

// Get returns the local mirror of the subscription. The mirror may lag the
// processor briefly between a state change and the next webhook.
func (s *Service) Get(ctx context.Context, subscriptionID, userID string) (*Subscription, error) {
	sub, err := s.subs.GetByID(subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, payment.ErrForbidden
	}
	return sub, nil
}

// GetLive force-refreshes the mirror from the processor before returning it,
// for callers that cannot tolerate staleness.
func (s *Service) GetLive(ctx context.Context, subscriptionID, userID string) (*Subscription, error) {
	sub, err := s.Get(ctx, subscriptionID, userID)
	if err != nil {
		return nil, err
	}

	processorSub, err := s.client.GetSubscription(ctx, subscriptionID)
	if err != nil {
		s.metrics.IncProcessorErrors("get_subscription")
		slog.WarnContext(ctx, "live subscription fetch failed, serving mirror",
			"subscription_id", subscriptionID, "error", err)
		return sub, nil
	}
	return s.applyProcessorState(ctx, processorSub, sub.UserID)
}

// Cancel cancels the subscription, immediately or at period end. The mirror
// is updated from the processor's response, not from assumed success.
func (s *Service) Cancel(ctx context.Context, subscriptionID, userID string, cancelAtPeriodEnd bool) (*Subscription, error) {
	sub, err := s.subs.GetByID(subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, payment.ErrForbidden
	}

	var processorSub *stripe.Subscription
	if cancelAtPeriodEnd {
		processorSub, err = s.client.SetSubscriptionCancelAtPeriodEnd(ctx, subscriptionID, true)
	} else {
		processorSub, err = s.client.CancelSubscription(ctx, subscriptionID)
	}
	if err != nil {
		s.metrics.IncProcessorErrors("cancel_subscription")
		slog.ErrorContext(ctx, "failed to cancel subscription",
			"subscription_id", subscriptionID, "at_period_end", cancelAtPeriodEnd, "error", err)
		return nil, fmt.Errorf("%w: %v", payment.ErrUpstream, err)
	}

	updated, err := s.applyProcessorState(ctx, processorSub, sub.UserID)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "subscription cancelled",
		"subscription_id", subscriptionID, "at_period_end", cancelAtPeriodEnd, "status", updated.Status)
	return updated, nil
}

// SyncFromProcessor overwrites the mirror with processor-reported state.
// Driven by subscription webhooks and live fetches.
func (s *Service) SyncFromProcessor(ctx context.Context, processorSub *stripe.Subscription) (*Subscription, error) {
	return s.applyProcessorState(ctx, processorSub, "")
}

func (s *Service) applyProcessorState(ctx context.Context, processorSub *stripe.Subscription, userID string) (*Subscription, error) {
	sub := FromProcessor(processorSub)
	sub.UserID = userID
	if err := s.subs.Upsert(sub); err != nil {
		return nil, err
	}
	return s.subs.GetByID(sub.ID)
}
