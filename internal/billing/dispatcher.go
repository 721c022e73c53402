package billing

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"pulseboard/internal/types"
)

// HandlerFunc processes a single verified, reserved event.
type HandlerFunc func(ctx context.Context, ev *Event) error

// Dispatcher routes events to handlers via an explicit table built at
// construction. Exactly one handler per recognized type; unknown types are
// recorded as ignored rather than failed, so new Stripe event types never
// break delivery.
type Dispatcher struct {
	table  map[string]HandlerFunc
	logger *slog.Logger
}

// NewDispatcher builds the dispatch table over the given handler set.
func NewDispatcher(h *Handlers, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger,
		table: map[string]HandlerFunc{
			EventCustomerCreated: h.CustomerUpsert,
			EventCustomerUpdated: h.CustomerUpsert,
			EventCustomerDeleted: h.CustomerDeleted,

			EventSubscriptionCreated:      h.SubscriptionUpsert,
			EventSubscriptionUpdated:      h.SubscriptionUpsert,
			EventSubscriptionDeleted:      h.SubscriptionDeleted,
			EventSubscriptionTrialWillEnd: h.TrialWillEnd,

			EventInvoiceCreated:       h.InvoiceUpsert,
			EventInvoiceUpdated:       h.InvoiceUpsert,
			EventInvoiceFinalized:     h.InvoiceUpsert,
			EventInvoicePaid:          h.InvoicePaid,
			EventInvoicePaymentFailed: h.InvoicePaymentFailed,

			EventPaymentMethodAttached: h.PaymentMethodUpsert,
			EventPaymentMethodUpdated:  h.PaymentMethodUpsert,
			EventPaymentMethodDetached: h.PaymentMethodDetached,

			EventCheckoutCompleted:             h.CheckoutCompleted,
			EventCheckoutAsyncPaymentSucceeded: h.CheckoutAsyncPaymentSucceeded,
			EventCheckoutAsyncPaymentFailed:    h.CheckoutAsyncPaymentFailed,
		},
	}
}

// Recognized reports whether the event type has a handler.
func (d *Dispatcher) Recognized(eventType string) bool {
	_, ok := d.table[eventType]
	return ok
}

// Dispatch runs the handler for the event's type and returns the resulting
// ledger status. A missing handler yields ignored with no error. A handler
// error or panic yields failed with the message captured; the panic is
// contained at this boundary so one malformed payload cannot take down the
// server.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) (status types.EventStatus, err error) {
	handler, ok := d.table[ev.Type]
	if !ok {
		d.logger.InfoContext(ctx, "unhandled event type",
			"event_id", ev.ID,
			"event_type", ev.Type,
		)
		return types.EventStatusIgnored, nil
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "handler panicked",
				"event_id", ev.ID,
				"event_type", ev.Type,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			status = types.EventStatusFailed
			err = fmt.Errorf("handler for %s panicked: %v", ev.Type, r)
		}
	}()

	if err := handler(ctx, ev); err != nil {
		return types.EventStatusFailed, err
	}
	return types.EventStatusProcessed, nil
}
