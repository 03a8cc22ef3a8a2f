// Package order provides the order model and its payment status state machine.
package order

import "time"

// Status values for an order. Transitions are monotonic: an order moves
// forward through pending -> processing -> paid|failed and only an explicit
// refund or cancel may leave paid.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusPaid       = "paid"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusRefunded   = "refunded"
)

// Item is a single order line. UnitAmount is snapshotted at order creation
// time and never re-read from the live product.
type Item struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	Quantity   int64  `json:"quantity"`
	UnitAmount int64  `json:"unit_amount"` // minor currency units
}

// Order is the single shared mutable resource contended over by the
// user-facing payment path and the webhook path. Status mutations go through
// the repository's compare-and-set methods; there is no unconditional write.
type Order struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	Items             []Item     `json:"items"`
	TotalAmount       int64      `json:"total_amount"` // minor currency units, fixed at creation
	Currency          string     `json:"currency"`
	Status            string     `json:"status"`
	PaymentIntentID   *string    `json:"payment_intent_id,omitempty"`
	CheckoutSessionID *string    `json:"checkout_session_id,omitempty"`
	PaymentStatus     string     `json:"payment_status,omitempty"` // processor status vocabulary
	FailureReason     *string    `json:"failure_reason,omitempty"`
	UpdateCount       int        `json:"update_count"` // incremented on every status transition
	CreatedAt         *time.Time `json:"created_at,omitempty"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
}

// transitions maps each status to the set of statuses it may move to.
// Applying the current status again is a no-op handled by the repository,
// not a transition.
var transitions = map[string]map[string]bool{
	StatusPending:    {StatusProcessing: true, StatusPaid: true, StatusFailed: true, StatusCancelled: true},
	StatusProcessing: {StatusPaid: true, StatusFailed: true, StatusCancelled: true},
	StatusPaid:       {StatusRefunded: true, StatusCancelled: true},
	StatusFailed:     {},
	StatusCancelled:  {},
	StatusRefunded:   {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to string) bool {
	return transitions[from][to]
}

// LegalSources filters an expected-status set down to the statuses from
// which the target is actually reachable, so a conditional update can never
// apply a transition the table forbids.
func LegalSources(expected []string, to string) []string {
	legal := make([]string, 0, len(expected))
	for _, s := range expected {
		if CanTransition(s, to) {
			legal = append(legal, s)
		}
	}
	return legal
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status string) bool {
	return len(transitions[status]) == 0
}

// Payable reports whether an order in this status may have a payment intent
// created or retrieved for it.
func Payable(status string) bool {
	return status == StatusPending || status == StatusProcessing
}
