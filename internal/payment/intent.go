// Package payment provides the payment intent service.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/merchflow/merchflow/internal/order"
)

var (
	// ErrForbidden is returned when the requester does not own the order.
	ErrForbidden = errors.New("order does not belong to requester")

	// ErrOrderNotPayable is returned when the order's status no longer
	// accepts payment.
	ErrOrderNotPayable = errors.New("order is not in a payable status")

	// ErrUpstream is returned when a processor call fails or times out.
	// Not retried here; the client decides whether to retry or poll.
	ErrUpstream = errors.New("payment processor call failed")
)

// Intent is the client-facing result of create-or-get.
type Intent struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	OrderID      string `json:"order_id"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// StatusSnapshot merges the local order state with a best-effort live view
// from the processor.
type StatusSnapshot struct {
	OrderID         string `json:"order_id"`
	Status          string `json:"status"`
	PaymentStatus   string `json:"payment_status,omitempty"`
	ProcessorStatus string `json:"processor_status,omitempty"`
	ProcessorLive   bool   `json:"processor_live"`
	Retryable       bool   `json:"retryable"`
	FailureReason   string `json:"failure_reason,omitempty"`
}

// IntentService creates and retrieves payment intents for orders.
type IntentService struct {
	orders  order.Repository
	client  Client
	metrics *Metrics
}

// NewIntentService creates a new IntentService.
func NewIntentService(orders order.Repository, client Client, metrics *Metrics) *IntentService {
	return &IntentService{
		orders:  orders,
		client:  client,
		metrics: metrics,
	}
}

// CreateOrGetIntent returns the order's payment intent, creating one on
// first call. Re-entry (page reloads, client retries) retrieves the existing
// intent rather than minting a second charge. The attach is compare-and-set:
// a concurrent duplicate that loses the race re-reads the order and returns
// the winner's intent.
func (s *IntentService) CreateOrGetIntent(ctx context.Context, orderID, userID, receiptEmail string) (*Intent, error) {
	o, err := s.orders.GetByID(orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrForbidden
	}
	if !order.Payable(o.Status) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotPayable, o.Status)
	}

	if o.PaymentIntentID != nil && *o.PaymentIntentID != "" {
		return s.retrieve(ctx, o, *o.PaymentIntentID)
	}

	pi, err := s.client.CreatePaymentIntent(ctx, &IntentParams{
		AmountCents:    o.TotalAmount,
		Currency:       o.Currency,
		ReceiptEmail:   receiptEmail,
		OrderID:        o.ID,
		IdempotencyKey: "order-intent-" + o.ID,
	})
	if err != nil {
		s.metrics.IncProcessorErrors("create_payment_intent")
		slog.ErrorContext(ctx, "failed to create payment intent", "order_id", o.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if err := s.orders.AttachPaymentIntent(o.ID, pi.ID); err != nil {
		if err == order.ErrIntentAlreadyAttached {
			// Lost the race; use the winner's intent.
			fresh, readErr := s.orders.GetByID(o.ID)
			if readErr != nil {
				return nil, readErr
			}
			return s.retrieve(ctx, fresh, *fresh.PaymentIntentID)
		}
		return nil, err
	}

	s.metrics.IncIntentsCreated()
	slog.InfoContext(ctx, "payment intent created",
		"order_id", o.ID, "intent_id", pi.ID, "amount", o.TotalAmount, "currency", o.Currency)

	return &Intent{
		IntentID:     pi.ID,
		ClientSecret: pi.ClientSecret,
		OrderID:      o.ID,
		Amount:       o.TotalAmount,
		Currency:     o.Currency,
	}, nil
}

func (s *IntentService) retrieve(ctx context.Context, o *order.Order, intentID string) (*Intent, error) {
	pi, err := s.client.GetPaymentIntent(ctx, intentID)
	if err != nil {
		s.metrics.IncProcessorErrors("get_payment_intent")
		slog.ErrorContext(ctx, "failed to retrieve payment intent", "order_id", o.ID, "intent_id", intentID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	return &Intent{
		IntentID:     pi.ID,
		ClientSecret: pi.ClientSecret,
		OrderID:      o.ID,
		Amount:       o.TotalAmount,
		Currency:     o.Currency,
	}, nil
}

// GetPaymentStatus returns a status snapshot for the order. The live
// processor fetch is best-effort: when it fails the snapshot degrades to
// local state only instead of failing the request.
func (s *IntentService) GetPaymentStatus(ctx context.Context, orderID, userID string) (*StatusSnapshot, error) {
	o, err := s.orders.GetByID(orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrForbidden
	}

	snapshot := &StatusSnapshot{
		OrderID:       o.ID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Retryable:     order.Payable(o.Status) || o.Status == order.StatusFailed,
	}
	if o.FailureReason != nil {
		snapshot.FailureReason = *o.FailureReason
	}

	if o.PaymentIntentID == nil || *o.PaymentIntentID == "" {
		return snapshot, nil
	}

	pi, err := s.client.GetPaymentIntent(ctx, *o.PaymentIntentID)
	if err != nil {
		s.metrics.IncProcessorErrors("get_payment_intent")
		slog.WarnContext(ctx, "live payment status fetch failed, serving local state",
			"order_id", o.ID, "error", err)
		return snapshot, nil
	}

	snapshot.ProcessorStatus = string(pi.Status)
	snapshot.ProcessorLive = true
	return snapshot, nil
}
