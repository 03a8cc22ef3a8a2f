// Package order provides repositories for order persistence.
package order

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")

	// ErrInvalidTransition is returned when a status change would run the
	// state machine backward or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid order status transition")

	// ErrStatusChanged is returned by compare-and-set updates when the
	// order's status no longer matches any expected value.
	ErrStatusChanged = errors.New("order status changed concurrently")

	// ErrIntentAlreadyAttached is returned when an order already carries a
	// payment intent id. The caller should re-read the order and use the
	// winner's intent.
	ErrIntentAlreadyAttached = errors.New("payment intent already attached")
)

// Repository defines methods for order persistence. All status mutations are
// conditional on the current status so concurrent webhook deliveries and
// user-facing requests cannot overwrite each other.
type Repository interface {
	Insert(o *Order) error
	GetByID(id string) (*Order, error)
	GetByPaymentIntentID(intentID string) (*Order, error)
	GetByCheckoutSessionID(sessionID string) (*Order, error)

	// AttachPaymentIntent sets the payment intent id if and only if the
	// order has none yet. Returns ErrIntentAlreadyAttached if one is set.
	AttachPaymentIntent(orderID, intentID string) error

	// AttachCheckoutSession sets the checkout session id if none is set.
	AttachCheckoutSession(orderID, sessionID string) error

	// TransitionStatus moves the order to a new status if its current
	// status is one of the expected values. Re-applying the current status
	// is a no-op returning (false, nil). An illegal transition returns
	// ErrInvalidTransition; a status outside the expected set returns
	// ErrStatusChanged. The bool reports whether a transition was applied.
	TransitionStatus(orderID string, expected []string, to string, paymentStatus string, failureReason *string) (bool, error)
}

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

// NewInMemoryRepository creates a new in-memory order repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		orders: make(map[string]*Order),
	}
}

// Insert adds a new order, assigning an id and timestamps if absent.
func (r *InMemoryRepository) Insert(o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.Status == "" {
		o.Status = StatusPending
	}

	now := time.Now()
	if o.CreatedAt == nil {
		o.CreatedAt = &now
	}
	if o.UpdatedAt == nil {
		o.UpdatedAt = &now
	}

	r.orders[o.ID] = copyOrder(o)
	return nil
}

// GetByID retrieves an order by id.
func (r *InMemoryRepository) GetByID(id string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOrder(o), nil
}

// GetByPaymentIntentID retrieves the order carrying the given intent id.
func (r *InMemoryRepository) GetByPaymentIntentID(intentID string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, o := range r.orders {
		if o.PaymentIntentID != nil && *o.PaymentIntentID == intentID {
			return copyOrder(o), nil
		}
	}
	return nil, ErrNotFound
}

// GetByCheckoutSessionID retrieves the order carrying the given session id.
func (r *InMemoryRepository) GetByCheckoutSessionID(sessionID string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, o := range r.orders {
		if o.CheckoutSessionID != nil && *o.CheckoutSessionID == sessionID {
			return copyOrder(o), nil
		}
	}
	return nil, ErrNotFound
}

// AttachPaymentIntent sets the intent id only when none is present.
func (r *InMemoryRepository) AttachPaymentIntent(orderID, intentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if o.PaymentIntentID != nil && *o.PaymentIntentID != "" {
		return ErrIntentAlreadyAttached
	}

	id := intentID
	o.PaymentIntentID = &id
	now := time.Now()
	o.UpdatedAt = &now
	return nil
}

// AttachCheckoutSession sets the session id only when none is present.
func (r *InMemoryRepository) AttachCheckoutSession(orderID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if o.CheckoutSessionID != nil && *o.CheckoutSessionID != "" {
		return ErrIntentAlreadyAttached
	}

	id := sessionID
	o.CheckoutSessionID = &id
	now := time.Now()
	o.UpdatedAt = &now
	return nil
}

// TransitionStatus applies a compare-and-set status change.
func (r *InMemoryRepository) TransitionStatus(orderID string, expected []string, to string, paymentStatus string, failureReason *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return false, ErrNotFound
	}

	// Idempotent re-application of the current status.
	if o.Status == to {
		return false, nil
	}

	matched := false
	for _, s := range expected {
		if o.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return false, ErrStatusChanged
	}

	if !CanTransition(o.Status, to) {
		return false, ErrInvalidTransition
	}

	o.Status = to
	if paymentStatus != "" {
		o.PaymentStatus = paymentStatus
	}
	if failureReason != nil {
		o.FailureReason = failureReason
	}
	o.UpdateCount++
	now := time.Now()
	o.UpdatedAt = &now
	return true, nil
}

// copyOrder creates a deep copy to prevent external mutation.
func copyOrder(o *Order) *Order {
	if o == nil {
		return nil
	}
	copied := *o
	if o.Items != nil {
		copied.Items = make([]Item, len(o.Items))
		copy(copied.Items, o.Items)
	}
	if o.PaymentIntentID != nil {
		v := *o.PaymentIntentID
		copied.PaymentIntentID = &v
	}
	if o.CheckoutSessionID != nil {
		v := *o.CheckoutSessionID
		copied.CheckoutSessionID = &v
	}
	if o.FailureReason != nil {
		v := *o.FailureReason
		copied.FailureReason = &v
	}
	if o.CreatedAt != nil {
		v := *o.CreatedAt
		copied.CreatedAt = &v
	}
	if o.UpdatedAt != nil {
		v := *o.UpdatedAt
		copied.UpdatedAt = &v
	}
	return &copied
}
