// Package coupon provides coupon lookup and discount application for checkout.
package coupon

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a coupon code does not exist.
	ErrNotFound = errors.New("coupon not found")

	// ErrExpired is returned when a coupon is past its expiry.
	ErrExpired = errors.New("coupon has expired")

	// ErrInactive is returned when a coupon has been disabled.
	ErrInactive = errors.New("coupon is not active")
)

// Coupon applies either a percentage or a fixed amount off an order total.
// Exactly one of PercentOff/AmountOff is non-zero.
type Coupon struct {
	Code       string     `json:"code"`
	PercentOff int64      `json:"percent_off,omitempty"` // 1..100
	AmountOff  int64      `json:"amount_off,omitempty"`  // minor currency units
	Active     bool       `json:"active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Discount returns the discount in minor currency units for the given
// subtotal, capped at the subtotal so totals never go negative.
func (c *Coupon) Discount(subtotal int64) int64 {
	var discount int64
	if c.PercentOff > 0 {
		discount = subtotal * c.PercentOff / 100
	} else {
		discount = c.AmountOff
	}
	if discount > subtotal {
		return subtotal
	}
	return discount
}

// Validate checks the coupon is redeemable at the given time.
func (c *Coupon) Validate(now time.Time) error {
	if !c.Active {
		return ErrInactive
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return ErrExpired
	}
	return nil
}

// Repository defines methods for coupon lookup.
type Repository interface {
	// GetByCode retrieves a coupon by code, case-insensitively.
	// Returns ErrNotFound if the code doesn't exist.
	GetByCode(code string) (*Coupon, error)
}

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu      sync.RWMutex
	coupons map[string]*Coupon
}

// NewInMemoryRepository creates a new in-memory coupon repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		coupons: make(map[string]*Coupon),
	}
}

// Insert adds or replaces a coupon.
func (r *InMemoryRepository) Insert(c *Coupon) {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *c
	r.coupons[strings.ToLower(c.Code)] = &copied
}

// GetByCode retrieves a coupon by code.
func (r *InMemoryRepository) GetByCode(code string) (*Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.coupons[strings.ToLower(code)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *c
	return &copied, nil
}
