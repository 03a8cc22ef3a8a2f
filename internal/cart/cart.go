// Package cart provides the cart model and repository feeding checkout.
package cart

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a cart does not exist.
	ErrNotFound = errors.New("cart not found")

	// ErrEmptyCart is returned when checkout is attempted on a cart with
	// no items.
	ErrEmptyCart = errors.New("cart has no items")

	// ErrInvalidItem is returned when a line item is missing its name,
	// price, or a positive quantity.
	ErrInvalidItem = errors.New("cart item is missing name, price, or quantity")
)

// Item is a cart line. UnitAmount is the price in minor currency units at
// the time the item was added; checkout snapshots it onto the order.
type Item struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	Quantity   int64  `json:"quantity"`
	UnitAmount int64  `json:"unit_amount"`
}

// Cart holds a user's pending line items.
type Cart struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Items     []Item     `json:"items"`
	Currency  string     `json:"currency"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Subtotal returns the undiscounted total in minor currency units.
func (c *Cart) Subtotal() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.UnitAmount * item.Quantity
	}
	return total
}

// Validate checks the cart is usable for checkout.
func (c *Cart) Validate() error {
	if len(c.Items) == 0 {
		return ErrEmptyCart
	}
	for _, item := range c.Items {
		if item.Name == "" || item.UnitAmount <= 0 || item.Quantity <= 0 {
			return ErrInvalidItem
		}
	}
	return nil
}

// Repository defines methods for cart persistence.
type Repository interface {
	Insert(c *Cart) error
	GetByID(id string) (*Cart, error)
}

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu    sync.RWMutex
	carts map[string]*Cart
}

// NewInMemoryRepository creates a new in-memory cart repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		carts: make(map[string]*Cart),
	}
}

// Insert adds a new cart.
func (r *InMemoryRepository) Insert(c *Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now()
	if c.CreatedAt == nil {
		c.CreatedAt = &now
	}
	if c.UpdatedAt == nil {
		c.UpdatedAt = &now
	}

	r.carts[c.ID] = copyCart(c)
	return nil
}

// GetByID retrieves a cart by id.
func (r *InMemoryRepository) GetByID(id string) (*Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.carts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCart(c), nil
}

func copyCart(c *Cart) *Cart {
	if c == nil {
		return nil
	}
	copied := *c
	if c.Items != nil {
		copied.Items = make([]Item, len(c.Items))
		copy(copied.Items, c.Items)
	}
	return &copied
}
