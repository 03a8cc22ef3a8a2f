package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/merchflow/merchflow/internal/middleware"
	"github.com/merchflow/merchflow/internal/order"
	"github.com/merchflow/merchflow/internal/payment"
	"github.com/merchflow/merchflow/internal/subscription"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

// maxWebhookBodyBytes bounds the webhook payload size.
const maxWebhookBodyBytes = 1 << 16

// Fulfiller is the downstream collaborator triggered when an order is paid.
// Fulfillment is best-effort and must never block the webhook acknowledgement.
type Fulfiller interface {
	Fulfill(ctx context.Context, o *order.Order) error
}

// Notifier is the downstream collaborator informed of failed payments.
type Notifier interface {
	NotifyPaymentFailed(ctx context.Context, o *order.Order, reason string) error
}

// eventHandler processes a single verified, deduplicated webhook event.
// Returning an error leaves the event unrecorded so the processor redelivers.
type eventHandler func(ctx context.Context, event stripe.Event) error

// WebhookHandlers verifies inbound signed processor events, dedupes them by
// event id, and dispatches them to state-transition handlers.
type WebhookHandlers struct {
	webhookSecret string
	orders        order.Repository
	webhookRepo   payment.WebhookRepository
	subs          *subscription.Service
	fulfiller     Fulfiller
	notifier      Notifier
	metrics       *payment.Metrics

	// handlers maps event types to their transitions. Unknown types fall
	// through to an acknowledged no-op.
	handlers map[stripe.EventType]eventHandler
}

// NewWebhookHandlers creates a new WebhookHandlers instance. The fulfiller
// and notifier may be nil, in which case the corresponding side effects are
// skipped.
func NewWebhookHandlers(
	webhookSecret string,
	orders order.Repository,
	webhookRepo payment.WebhookRepository,
	subs *subscription.Service,
	fulfiller Fulfiller,
	notifier Notifier,
	metrics *payment.Metrics,
) *WebhookHandlers {
	h := &WebhookHandlers{
		webhookSecret: webhookSecret,
		orders:        orders,
		webhookRepo:   webhookRepo,
		subs:          subs,
		fulfiller:     fulfiller,
		notifier:      notifier,
		metrics:       metrics,
	}
	h.handlers = map[stripe.EventType]eventHandler{
		"payment_intent.succeeded":      h.handlePaymentIntentSucceeded,
		"payment_intent.payment_failed": h.handlePaymentIntentFailed,
		"checkout.session.completed":    h.handleCheckoutSessionCompleted,
		"customer.subscription.updated": h.handleSubscriptionUpdated,
		"customer.subscription.deleted": h.handleSubscriptionDeleted,
	}
	return h
}

// HandleStripeWebhook processes processor webhook events.
// POST /payments/webhook
//
// Signature verification happens before anything else; an unverified payload
// causes no state mutation. The event id is recorded only after the driven
// transition commits, so a crash mid-processing leaves the event unrecorded
// and the processor's redelivery retries it.
func (h *WebhookHandlers) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "failed to read request body")
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeInvalidSignature)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidSignature, "missing Stripe-Signature header")
		return
	}

	// Accounts pin their own API version, which rarely matches the SDK's;
	// the signature covers the raw body either way.
	event, err := webhook.ConstructEventWithOptions(body, signature, h.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		slog.WarnContext(ctx, "webhook signature verification failed", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInvalidSignature)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidSignature, "invalid signature")
		return
	}

	slog.InfoContext(ctx, "webhook event received", "event_type", event.Type, "event_id", event.ID)

	processed, err := h.webhookRepo.HasProcessed(event.ID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to check webhook dedup", "event_id", event.ID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to process webhook")
		return
	}
	if processed {
		slog.InfoContext(ctx, "webhook event already processed, ignoring", "event_id", event.ID)
		h.metrics.IncWebhookDuplicates()
		h.ack(w, ctx)
		return
	}

	handler, known := h.handlers[event.Type]
	if !known {
		slog.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.Type, "event_id", event.ID)
	} else if err := handler(ctx, event); err != nil {
		// Leave the event unrecorded so redelivery retries the transition.
		slog.ErrorContext(ctx, "webhook event processing failed",
			"event_type", event.Type, "event_id", event.ID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to process webhook")
		return
	}

	if err := h.webhookRepo.RecordEvent(event.ID, string(event.Type)); err != nil && err != payment.ErrEventAlreadyProcessed {
		// The transition committed; a record failure only risks duplicate
		// work on redelivery, which the state machine tolerates.
		slog.ErrorContext(ctx, "failed to record webhook event", "event_id", event.ID, "error", err)
	}
	h.metrics.IncWebhookEvents(string(event.Type))

	h.ack(w, ctx)
}

// ack acknowledges receipt. The processor stops redelivering on any 2xx.
func (h *WebhookHandlers) ack(w http.ResponseWriter, ctx context.Context) {
	writeJSON(w, ctx, http.StatusOK, map[string]bool{"received": true})
}

// handlePaymentIntentSucceeded marks the intent's order paid and triggers
// fulfillment. An order that is already paid is left untouched.
func (h *WebhookHandlers) handlePaymentIntentSucceeded(ctx context.Context, event stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		slog.ErrorContext(ctx, "failed to parse payment intent", "event_id", event.ID, "error", err)
		// A malformed payload never becomes parseable on redelivery.
		return nil
	}

	o, err := h.orders.GetByPaymentIntentID(pi.ID)
	if err != nil {
		if err == order.ErrNotFound {
			slog.WarnContext(ctx, "no order for payment intent", "payment_intent_id", pi.ID)
			return nil
		}
		return err
	}

	applied, err := h.orders.TransitionStatus(o.ID,
		[]string{order.StatusPending, order.StatusProcessing},
		order.StatusPaid, string(pi.Status), nil)
	if err != nil {
		if err == order.ErrStatusChanged {
			current, readErr := h.orders.GetByID(o.ID)
			if readErr == nil && current.Status == order.StatusPaid {
				// Late or duplicate confirmation of an already paid order.
				slog.InfoContext(ctx, "order already paid, ignoring confirmation",
					"order_id", o.ID, "payment_intent_id", pi.ID)
				return nil
			}
			slog.WarnContext(ctx, "payment succeeded for order in terminal state",
				"order_id", o.ID, "status", currentStatus(current, readErr))
			h.metrics.IncWebhookAnomalies()
			return nil
		}
		return err
	}
	if !applied {
		return nil
	}

	h.metrics.IncOrdersPaid()
	slog.InfoContext(ctx, "order marked paid", "order_id", o.ID, "payment_intent_id", pi.ID)

	if h.fulfiller != nil {
		paid, err := h.orders.GetByID(o.ID)
		if err != nil {
			paid = o
		}
		go func(o *order.Order) {
			// Fire and forget: fulfillment failures never block the ack.
			if err := h.fulfiller.Fulfill(context.WithoutCancel(ctx), o); err != nil {
				slog.Error("fulfillment hook failed", "order_id", o.ID, "error", err)
			}
		}(paid)
	}
	return nil
}

// handlePaymentIntentFailed marks the intent's order failed. A failure event
// arriving after the order is paid is an anomaly and must not regress status.
func (h *WebhookHandlers) handlePaymentIntentFailed(ctx context.Context, event stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		slog.ErrorContext(ctx, "failed to parse payment intent", "event_id", event.ID, "error", err)
		return nil
	}

	reason := "payment failed"
	if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
		reason = pi.LastPaymentError.Msg
	}

	o, err := h.orders.GetByPaymentIntentID(pi.ID)
	if err != nil {
		if err == order.ErrNotFound {
			slog.WarnContext(ctx, "no order for payment intent", "payment_intent_id", pi.ID)
			return nil
		}
		return err
	}

	applied, err := h.orders.TransitionStatus(o.ID,
		[]string{order.StatusPending, order.StatusProcessing},
		order.StatusFailed, string(pi.Status), &reason)
	if err != nil {
		if err == order.ErrStatusChanged || err == order.ErrInvalidTransition {
			current, readErr := h.orders.GetByID(o.ID)
			if readErr == nil && current.Status == order.StatusPaid {
				slog.WarnContext(ctx, "failure event for already paid order, rejecting regression",
					"order_id", o.ID, "payment_intent_id", pi.ID)
				h.metrics.IncWebhookAnomalies()
				return nil
			}
			slog.InfoContext(ctx, "order already settled, ignoring failure event",
				"order_id", o.ID, "status", currentStatus(current, readErr))
			return nil
		}
		return err
	}
	if !applied {
		return nil
	}

	h.metrics.IncOrdersFailed()
	slog.InfoContext(ctx, "order marked failed",
		"order_id", o.ID, "payment_intent_id", pi.ID, "reason", reason)

	if h.notifier != nil {
		go func(o *order.Order, reason string) {
			if err := h.notifier.NotifyPaymentFailed(context.WithoutCancel(ctx), o, reason); err != nil {
				slog.Error("payment failure notification failed", "order_id", o.ID, "error", err)
			}
		}(o, reason)
	}
	return nil
}

// handleCheckoutSessionCompleted attaches the session's payment intent to the
// order and moves it to processing. Final settlement waits for the
// payment_intent.succeeded event.
func (h *WebhookHandlers) handleCheckoutSessionCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		slog.ErrorContext(ctx, "failed to parse checkout session", "event_id", event.ID, "error", err)
		return nil
	}

	o, err := h.orders.GetByCheckoutSessionID(sess.ID)
	if err != nil {
		if err == order.ErrNotFound {
			slog.WarnContext(ctx, "no order for checkout session", "session_id", sess.ID)
			return nil
		}
		return err
	}

	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		if err := h.orders.AttachPaymentIntent(o.ID, sess.PaymentIntent.ID); err != nil && err != order.ErrIntentAlreadyAttached {
			return err
		}
	}

	// The session may complete after the intent already settled the order;
	// an out-of-set status here is not an error.
	if _, err := h.orders.TransitionStatus(o.ID,
		[]string{order.StatusPending},
		order.StatusProcessing, string(sess.PaymentStatus), nil); err != nil {
		if err != order.ErrStatusChanged && err != order.ErrInvalidTransition {
			return err
		}
	}

	slog.InfoContext(ctx, "checkout session completed", "order_id", o.ID, "session_id", sess.ID)
	return nil
}

// handleSubscriptionUpdated syncs the local mirror from the processor state.
func (h *WebhookHandlers) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	return h.syncSubscription(ctx, event)
}

// handleSubscriptionDeleted syncs the cancellation into the local mirror.
// The processor reports the final state on the event itself.
func (h *WebhookHandlers) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	return h.syncSubscription(ctx, event)
}

func (h *WebhookHandlers) syncSubscription(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		slog.ErrorContext(ctx, "failed to parse subscription", "event_id", event.ID, "error", err)
		return nil
	}

	synced, err := h.subs.SyncFromProcessor(ctx, &sub)
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "subscription mirror synced",
		"subscription_id", synced.ID, "status", synced.Status)
	return nil
}

// currentStatus formats an order's status for logging, tolerating a failed read.
func currentStatus(o *order.Order, err error) string {
	if err != nil || o == nil {
		return "unknown"
	}
	return o.Status
}

// LoggingFulfiller is a Fulfiller that only logs. It stands in until a real
// fulfillment integration (warehouse, email) is wired up.
type LoggingFulfiller struct{}

// Fulfill logs the paid order.
func (LoggingFulfiller) Fulfill(ctx context.Context, o *order.Order) error {
	slog.InfoContext(ctx, "order ready for fulfillment", "order_id", o.ID, "total_amount", o.TotalAmount)
	return nil
}

// LoggingNotifier is a Notifier that only logs.
type LoggingNotifier struct{}

// NotifyPaymentFailed logs the failed payment.
func (LoggingNotifier) NotifyPaymentFailed(ctx context.Context, o *order.Order, reason string) error {
	slog.InfoContext(ctx, "payment failed notification", "order_id", o.ID, "reason", reason)
	return nil
}
