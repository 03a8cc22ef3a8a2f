// Package subscription manages recurring billing subscriptions. The local
// rows mirror processor state and are a cache, not the source of truth:
// they are updated from processor responses and webhook-driven sync, and may
// be briefly stale between a state change and the next webhook.
package subscription

import (
	"time"

	"github.com/stripe/stripe-go/v81"
)

// Subscription statuses, mirroring the processor's vocabulary.
const (
	StatusIncomplete = "incomplete"
	StatusActive     = "active"
	StatusPastDue    = "past_due"
	StatusCanceled   = "canceled"
	StatusUnpaid     = "unpaid"
)

// Subscription is the local mirror of a processor subscription.
type Subscription struct {
	// ID is the processor-assigned subscription id, authoritative.
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	CustomerID        string    `json:"customer_id"`
	PriceID           string    `json:"price_id"`
	Status            string    `json:"status"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end"`
	CurrentPeriodEnd  time.Time `json:"current_period_end"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`

	// ClientSecret is only populated on creation, when the first invoice's
	// payment intent still needs client-side confirmation. Never stored.
	ClientSecret string `json:"client_secret,omitempty"`
}

// FromProcessor maps a processor subscription onto the local mirror fields.
// Identity-and-ownership fields (UserID) are left for the caller.
func FromProcessor(sub *stripe.Subscription) *Subscription {
	s := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		s.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		s.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		s.PriceID = sub.Items.Data[0].Price.ID
	}
	return s
}
