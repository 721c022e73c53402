package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"pulseboard/internal/types"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *handlerMocks) {
	t.Helper()
	h, m := newTestHandlers(t)
	return NewDispatcher(h, slog.New(slog.NewTextHandler(io.Discard, nil))), m
}

func TestDispatcher_AllRecognizedTypesHaveHandlers(t *testing.T) {
	d, _ := newTestDispatcher(t)

	recognized := []string{
		EventCustomerCreated, EventCustomerUpdated, EventCustomerDeleted,
		EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventSubscriptionTrialWillEnd,
		EventInvoiceCreated, EventInvoiceUpdated, EventInvoicePaid,
		EventInvoicePaymentFailed, EventInvoiceFinalized,
		EventPaymentMethodAttached, EventPaymentMethodDetached, EventPaymentMethodUpdated,
		EventCheckoutCompleted, EventCheckoutAsyncPaymentSucceeded, EventCheckoutAsyncPaymentFailed,
	}

	if len(recognized) != len(d.table) {
		t.Errorf("dispatch table has %d entries, expected %d", len(d.table), len(recognized))
	}
	for _, eventType := range recognized {
		if !d.Recognized(eventType) {
			t.Errorf("expected handler for %s", eventType)
		}
	}
}

func TestDispatch_UnknownTypeIgnored(t *testing.T) {
	d, m := newTestDispatcher(t)

	ev := makeEvent(t, "evt_1", "charge.succeeded", map[string]any{"id": "ch_123"})
	status, err := d.Dispatch(context.Background(), ev)
	if err != nil {
		t.Fatalf("unknown type must not error, got: %v", err)
	}
	if status != types.EventStatusIgnored {
		t.Errorf("expected status ignored, got %s", status)
	}
	if len(m.customers.upserted)+len(m.invoices.upserted)+len(m.subscriptions.upserted) != 0 {
		t.Error("expected no handler side effects for unknown type")
	}
}

func TestDispatch_HandlerSuccess(t *testing.T) {
	d, m := newTestDispatcher(t)

	ev := makeEvent(t, "evt_1", EventInvoicePaid, invoicePayload())
	status, err := d.Dispatch(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != types.EventStatusProcessed {
		t.Errorf("expected status processed, got %s", status)
	}
	if len(m.invoices.upserted) != 1 {
		t.Error("expected invoice handler to run")
	}
}

func TestDispatch_HandlerErrorFails(t *testing.T) {
	h, m := newTestHandlers(t)
	m.invoices.err = errors.New("db down")
	d := NewDispatcher(h, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ev := makeEvent(t, "evt_1", EventInvoicePaid, invoicePayload())
	status, err := d.Dispatch(context.Background(), ev)
	if err == nil {
		t.Fatal("expected handler error to surface")
	}
	if status != types.EventStatusFailed {
		t.Errorf("expected status failed, got %s", status)
	}
}

func TestDispatch_PanicContained(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.table["invoice.paid"] = func(context.Context, *Event) error {
		panic("boom")
	}

	ev := makeEvent(t, "evt_1", EventInvoicePaid, invoicePayload())
	status, err := d.Dispatch(context.Background(), ev)
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	if status != types.EventStatusFailed {
		t.Errorf("expected status failed, got %s", status)
	}
}
