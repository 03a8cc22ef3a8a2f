package subscription

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a subscription does not exist.
	ErrNotFound = errors.New("subscription not found")

	// ErrCustomerNotFound is returned when no processor customer mapping
	// exists for a user.
	ErrCustomerNotFound = errors.New("customer mapping not found")

	// ErrAlreadyExists is returned when inserting a duplicate id.
	ErrAlreadyExists = errors.New("subscription already exists")
)

// Repository defines storage for subscription mirror rows.
type Repository interface {
	Insert(sub *Subscription) error
	GetByID(id string) (*Subscription, error)
	ListByUserID(userID string) ([]*Subscription, error)
	// Update overwrites the mirror fields of an existing row.
	Update(sub *Subscription) error
	// Upsert inserts or overwrites. Used by webhook-driven sync, which may
	// see a subscription before the creating request has returned.
	Upsert(sub *Subscription) error
}

// CustomerRepository stores the one-time mapping from a user to their
// processor customer id.
type CustomerRepository interface {
	GetCustomerID(userID string) (string, error)
	SaveCustomerID(userID, customerID string) error
}

// InMemoryRepository is an in-memory implementation of Repository.
type InMemoryRepository struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewInMemoryRepository creates a new in-memory subscription repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		subs: make(map[string]*Subscription),
	}
}

// Insert adds a new subscription row.
func (r *InMemoryRepository) Insert(sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.subs[sub.ID]; exists {
		return ErrAlreadyExists
	}

	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	r.subs[sub.ID] = copySubscription(sub)
	return nil
}

// GetByID returns the subscription with the given id.
func (r *InMemoryRepository) GetByID(id string) (*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySubscription(sub), nil
}

// ListByUserID returns all subscriptions owned by the user.
func (r *InMemoryRepository) ListByUserID(userID string) ([]*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Subscription
	for _, sub := range r.subs {
		if sub.UserID == userID {
			out = append(out, copySubscription(sub))
		}
	}
	return out, nil
}

// Update overwrites the mirror fields of an existing row.
func (r *InMemoryRepository) Update(sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.subs[sub.ID]
	if !ok {
		return ErrNotFound
	}

	updated := copySubscription(sub)
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now()
	r.subs[sub.ID] = updated
	return nil
}

// Upsert inserts or overwrites the row.
func (r *InMemoryRepository) Upsert(sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	updated := copySubscription(sub)
	if existing, ok := r.subs[sub.ID]; ok {
		updated.CreatedAt = existing.CreatedAt
		// Sync payloads may not carry identity fields; keep what we know.
		if updated.UserID == "" {
			updated.UserID = existing.UserID
		}
		if updated.CustomerID == "" {
			updated.CustomerID = existing.CustomerID
		}
		if updated.PriceID == "" {
			updated.PriceID = existing.PriceID
		}
	} else {
		updated.CreatedAt = now
	}
	updated.UpdatedAt = now
	r.subs[sub.ID] = updated
	return nil
}

func copySubscription(sub *Subscription) *Subscription {
	c := *sub
	c.ClientSecret = ""
	return &c
}

// InMemoryCustomerRepository is an in-memory implementation of
// CustomerRepository.
type InMemoryCustomerRepository struct {
	mu        sync.RWMutex
	customers map[string]string
}

// NewInMemoryCustomerRepository creates a new in-memory customer mapping.
func NewInMemoryCustomerRepository() *InMemoryCustomerRepository {
	return &InMemoryCustomerRepository{
		customers: make(map[string]string),
	}
}

// GetCustomerID returns the processor customer id for a user.
func (r *InMemoryCustomerRepository) GetCustomerID(userID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.customers[userID]
	if !ok {
		return "", ErrCustomerNotFound
	}
	return id, nil
}

// SaveCustomerID stores the mapping. The first write wins; a remap would
// orphan processor-side billing history.
func (r *InMemoryCustomerRepository) SaveCustomerID(userID, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.customers[userID]; exists {
		return nil
	}
	r.customers[userID] = customerID
	return nil
}
