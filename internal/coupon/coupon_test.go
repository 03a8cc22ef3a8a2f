package coupon

import (
	"testing"
	"time"
)

// TestDiscount_PercentOff tests percentage discounts.
func TestDiscount_PercentOff(t *testing.T) {
	c := &Coupon{Code: "TEN", PercentOff: 10, Active: true}

	if got := c.Discount(10000); got != 1000 {
		t.Errorf("expected discount 1000, got %d", got)
	}
}

// TestDiscount_AmountOff tests fixed discounts and the subtotal cap.
func TestDiscount_AmountOff(t *testing.T) {
	c := &Coupon{Code: "FIVEOFF", AmountOff: 500, Active: true}

	if got := c.Discount(10000); got != 500 {
		t.Errorf("expected discount 500, got %d", got)
	}
	// Discount never exceeds the subtotal.
	if got := c.Discount(300); got != 300 {
		t.Errorf("expected capped discount 300, got %d", got)
	}
}

// TestValidate covers expiry and the active flag.
func TestValidate(t *testing.T) {
	now := time.Now()

	inactive := &Coupon{Code: "OLD", PercentOff: 10}
	if err := inactive.Validate(now); err != ErrInactive {
		t.Errorf("expected ErrInactive, got %v", err)
	}

	past := now.Add(-time.Hour)
	expired := &Coupon{Code: "GONE", PercentOff: 10, Active: true, ExpiresAt: &past}
	if err := expired.Validate(now); err != ErrExpired {
		t.Errorf("expected ErrExpired, got %v", err)
	}

	future := now.Add(time.Hour)
	valid := &Coupon{Code: "LIVE", PercentOff: 10, Active: true, ExpiresAt: &future}
	if err := valid.Validate(now); err != nil {
		t.Errorf("expected valid coupon, got %v", err)
	}
}

// TestGetByCode_CaseInsensitive tests code normalization.
func TestGetByCode_CaseInsensitive(t *testing.T) {
	repo := NewInMemoryRepository()
	repo.Insert(&Coupon{Code: "Summer10", PercentOff: 10, Active: true})

	got, err := repo.GetByCode("SUMMER10")
	if err != nil {
		t.Fatalf("GetByCode failed: %v", err)
	}
	if got.PercentOff != 10 {
		t.Errorf("unexpected coupon: %+v", got)
	}

	if _, err := repo.GetByCode("missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
