package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"pulseboard/internal/types"
)

// Persistence collaborators. Handlers construct the values to write; the db
// package owns storage. Interfaces are satisfied by the concrete repos in
// internal/db and by mocks in tests.

type CustomerStore interface {
	Upsert(ctx context.Context, c *types.Customer) error
	SoftDelete(ctx context.Context, stripeCustomerID string) error
}

type SubscriptionStore interface {
	Upsert(ctx context.Context, s *types.Subscription) error
	MarkEnded(ctx context.Context, stripeSubscriptionID, stripeCustomerID string, endedAt time.Time) error
}

type InvoiceStore interface {
	Upsert(ctx context.Context, inv *types.Invoice) error
}

type PaymentMethodStore interface {
	Upsert(ctx context.Context, pm *types.PaymentMethod) error
	SetDefault(ctx context.Context, stripeCustomerID, stripePaymentMethodID string) error
	Delete(ctx context.Context, stripePaymentMethodID string) error
}

type EntitlementStore interface {
	Activate(ctx context.Context, stripeCustomerID, planName, sourceEventID string) error
	Deactivate(ctx context.Context, stripeCustomerID, sourceEventID string) error
}

// Notifier enqueues a billing notification for the email worker.
type Notifier interface {
	Notify(ctx context.Context, msg types.NotificationMessage) error
}

// Handlers holds the per-event-type routines. Each handler is idempotent and
// commutative with respect to other event types touching the same entity:
// delivery order across distinct webhook types is not guaranteed.
type Handlers struct {
	customers      CustomerStore
	subscriptions  SubscriptionStore
	invoices       InvoiceStore
	paymentMethods PaymentMethodStore
	entitlements   EntitlementStore
	notifier       Notifier
	catalog        *Catalog
	logger         *slog.Logger

	// When true, a notification enqueue failure fails the event so the
	// provider redelivers. Default is log-and-continue.
	notifyFailuresFatal bool
}

// HandlersConfig wires a Handlers instance.
type HandlersConfig struct {
	Customers           CustomerStore
	Subscriptions       SubscriptionStore
	Invoices            InvoiceStore
	PaymentMethods      PaymentMethodStore
	Entitlements        EntitlementStore
	Notifier            Notifier
	Catalog             *Catalog
	Logger              *slog.Logger
	NotifyFailuresFatal bool
}

// NewHandlers creates the handler set.
func NewHandlers(cfg HandlersConfig) *Handlers {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		customers:           cfg.Customers,
		subscriptions:       cfg.Subscriptions,
		invoices:            cfg.Invoices,
		paymentMethods:      cfg.PaymentMethods,
		entitlements:        cfg.Entitlements,
		notifier:            cfg.Notifier,
		catalog:             cfg.Catalog,
		logger:              logger,
		notifyFailuresFatal: cfg.NotifyFailuresFatal,
	}
}

// decodeObject unmarshals the event's data.object into the handler's shape.
func decodeObject[T any](ev *Event) (*T, error) {
	var obj T
	if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeWebhookMalformedEvent,
			fmt.Sprintf("failed to decode %s object", ev.Type),
			err,
		)
	}
	return &obj, nil
}

// notify enqueues a notification, honoring the fatality toggle.
func (h *Handlers) notify(ctx context.Context, msg types.NotificationMessage) error {
	if err := h.notifier.Notify(ctx, msg); err != nil {
		if h.notifyFailuresFatal {
			return err
		}
		h.logger.ErrorContext(ctx, "notification enqueue failed",
			"kind", string(msg.Kind),
			"source_event_id", msg.SourceEventID,
			"error", err,
		)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Customers
// ---------------------------------------------------------------------------

// CustomerUpsert mirrors customer.created and customer.updated. When the
// customer's default payment method changes, the local default flag follows.
func (h *Handlers) CustomerUpsert(ctx context.Context, ev *Event) error {
	cust, err := decodeObject[customerObject](ev)
	if err != nil {
		return err
	}

	if err := h.customers.Upsert(ctx, &types.Customer{
		StripeCustomerID: cust.ID,
		Email:            cust.Email,
		Name:             cust.Name,
		UserID:           cust.Metadata["user_id"],
	}); err != nil {
		return err
	}

	if pmID := cust.InvoiceSettings.DefaultPaymentMethod; pmID != "" {
		if err := h.paymentMethods.SetDefault(ctx, cust.ID, pmID); err != nil {
			return err
		}
	}
	return nil
}

// CustomerDeleted soft-deletes the mirror row; historical invoices and
// subscriptions keep their customer reference.
func (h *Handlers) CustomerDeleted(ctx context.Context, ev *Event) error {
	cust, err := decodeObject[customerObject](ev)
	if err != nil {
		return err
	}
	return h.customers.SoftDelete(ctx, cust.ID)
}

// ---------------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------------

// terminalSubscriptionStatus reports whether the status revokes entitlement.
// past_due and incomplete do not: a single failed retry must not lock the
// user out.
func terminalSubscriptionStatus(s types.SubscriptionStatus) bool {
	switch s {
	case types.SubStatusCanceled, types.SubStatusUnpaid, types.SubStatusIncompleteExpired:
		return true
	}
	return false
}

// SubscriptionUpsert mirrors customer.subscription.created/updated and keeps
// the entitlement in step with the subscription status.
func (h *Handlers) SubscriptionUpsert(ctx context.Context, ev *Event) error {
	sub, err := decodeObject[subscriptionObject](ev)
	if err != nil {
		return err
	}

	price := sub.price()
	status := types.SubscriptionStatus(sub.Status)

	if err := h.subscriptions.Upsert(ctx, &types.Subscription{
		StripeSubscriptionID: sub.ID,
		StripeCustomerID:     sub.Customer,
		Status:               status,
		StripePriceID:        price.ID,
		PlanName:             h.catalog.PlanNameByPriceID(price.ID, price.Nickname),
		PlanAmount:           price.UnitAmount,
		PlanCurrency:         price.Currency,
		PlanInterval:         price.Recurring.Interval,
		PlanIntervalCount:    price.Recurring.IntervalCount,
		CurrentPeriodStart:   unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:     unixTime(sub.CurrentPeriodEnd),
		TrialStart:           unixTimePtr(sub.TrialStart),
		TrialEnd:             unixTimePtr(sub.TrialEnd),
		CancelAt:             unixTimePtr(sub.CancelAt),
		CanceledAt:           unixTimePtr(sub.CanceledAt),
		EndedAt:              unixTimePtr(sub.EndedAt),
		Metadata:             sub.Metadata,
	}); err != nil {
		return err
	}

	switch {
	case status == types.SubStatusActive || status == types.SubStatusTrialing:
		return h.entitlements.Activate(ctx, sub.Customer, h.catalog.PlanNameByPriceID(price.ID, price.Nickname), ev.ID)
	case terminalSubscriptionStatus(status):
		return h.entitlements.Deactivate(ctx, sub.Customer, ev.ID)
	}
	return nil
}

// SubscriptionDeleted handles customer.subscription.deleted. The local status
// is forced to canceled and an end timestamp is stamped regardless of what
// the payload says, since the provider may send partial data on hard
// deletion.
func (h *Handlers) SubscriptionDeleted(ctx context.Context, ev *Event) error {
	sub, err := decodeObject[subscriptionObject](ev)
	if err != nil {
		return err
	}

	endedAt := time.Time{}
	if t := unixTimePtr(sub.EndedAt); t != nil {
		endedAt = *t
	}

	if err := h.subscriptions.MarkEnded(ctx, sub.ID, sub.Customer, endedAt); err != nil {
		return err
	}
	return h.entitlements.Deactivate(ctx, sub.Customer, ev.ID)
}

// TrialWillEnd sends the trial-expiry notification. No state mutation.
func (h *Handlers) TrialWillEnd(ctx context.Context, ev *Event) error {
	sub, err := decodeObject[subscriptionObject](ev)
	if err != nil {
		return err
	}

	payload := map[string]interface{}{}
	if t := unixTimePtr(sub.TrialEnd); t != nil {
		payload["trial_end"] = t.Format(time.RFC3339)
	}

	return h.notify(ctx, types.NotificationMessage{
		Kind:                 types.NotifyTrialWillEnd,
		StripeCustomerID:     sub.Customer,
		StripeSubscriptionID: sub.ID,
		SourceEventID:        ev.ID,
		Payload:              payload,
	})
}

// ---------------------------------------------------------------------------
// Invoices
// ---------------------------------------------------------------------------

func (h *Handlers) invoiceFromObject(inv *invoiceObject) *types.Invoice {
	return &types.Invoice{
		StripeInvoiceID:      inv.ID,
		StripeCustomerID:     inv.Customer,
		StripeSubscriptionID: inv.Subscription,
		Status:               inv.Status,
		AmountDue:            inv.AmountDue,
		AmountPaid:           inv.AmountPaid,
		AmountRemaining:      inv.AmountRemaining,
		Currency:             inv.Currency,
		PeriodStart:          unixTime(inv.PeriodStart),
		PeriodEnd:            unixTime(inv.PeriodEnd),
		HostedInvoiceURL:     inv.HostedInvoiceURL,
		InvoicePDF:           inv.InvoicePDF,
	}
}

// InvoiceUpsert mirrors invoice.created/updated/finalized.
func (h *Handlers) InvoiceUpsert(ctx context.Context, ev *Event) error {
	inv, err := decodeObject[invoiceObject](ev)
	if err != nil {
		return err
	}
	return h.invoices.Upsert(ctx, h.invoiceFromObject(inv))
}

// InvoicePaid mirrors the invoice and re-asserts the customer's entitlement.
// The activation is an idempotent re-assertion, not a toggle, so redeliveries
// and out-of-order arrival with subscription events are harmless.
func (h *Handlers) InvoicePaid(ctx context.Context, ev *Event) error {
	inv, err := decodeObject[invoiceObject](ev)
	if err != nil {
		return err
	}
	if err := h.invoices.Upsert(ctx, h.invoiceFromObject(inv)); err != nil {
		return err
	}
	return h.entitlements.Activate(ctx, inv.Customer, "", ev.ID)
}

// InvoicePaymentFailed mirrors the invoice and notifies the user. It never
// revokes entitlement: lockout is governed by subscription status
// transitions, not by a single failed payment retry.
func (h *Handlers) InvoicePaymentFailed(ctx context.Context, ev *Event) error {
	inv, err := decodeObject[invoiceObject](ev)
	if err != nil {
		return err
	}
	if err := h.invoices.Upsert(ctx, h.invoiceFromObject(inv)); err != nil {
		return err
	}

	return h.notify(ctx, types.NotificationMessage{
		Kind:                 types.NotifyPaymentFailed,
		StripeCustomerID:     inv.Customer,
		StripeSubscriptionID: inv.Subscription,
		SourceEventID:        ev.ID,
		Payload: map[string]interface{}{
			"invoice_id":         inv.ID,
			"amount_due":         inv.AmountDue,
			"currency":           inv.Currency,
			"hosted_invoice_url": inv.HostedInvoiceURL,
		},
	})
}

// ---------------------------------------------------------------------------
// Payment methods
// ---------------------------------------------------------------------------

func (h *Handlers) paymentMethodFromObject(pm *paymentMethodObject) *types.PaymentMethod {
	out := &types.PaymentMethod{
		StripePaymentMethodID: pm.ID,
		StripeCustomerID:      pm.Customer,
		Type:                  pm.Type,
	}
	if pm.Card != nil {
		out.CardBrand = pm.Card.Brand
		out.CardLast4 = pm.Card.Last4
		out.CardExpMonth = pm.Card.ExpMonth
		out.CardExpYear = pm.Card.ExpYear
	}
	return out
}

// PaymentMethodUpsert mirrors payment_method.attached/updated. The default
// flag is owned by the customer's invoice settings (see CustomerUpsert), so
// attach never claims it.
func (h *Handlers) PaymentMethodUpsert(ctx context.Context, ev *Event) error {
	pm, err := decodeObject[paymentMethodObject](ev)
	if err != nil {
		return err
	}
	return h.paymentMethods.Upsert(ctx, h.paymentMethodFromObject(pm))
}

// PaymentMethodDetached removes the mirror row.
func (h *Handlers) PaymentMethodDetached(ctx context.Context, ev *Event) error {
	pm, err := decodeObject[paymentMethodObject](ev)
	if err != nil {
		return err
	}
	return h.paymentMethods.Delete(ctx, pm.ID)
}

// ---------------------------------------------------------------------------
// Checkout sessions
// ---------------------------------------------------------------------------

// CheckoutCompleted provisions entitlement for subscription-mode sessions and
// sends the welcome notification. Provisioning is commutative with the
// subscription webhooks: whichever arrives first activates, the other
// re-asserts.
func (h *Handlers) CheckoutCompleted(ctx context.Context, ev *Event) error {
	session, err := decodeObject[checkoutSessionObject](ev)
	if err != nil {
		return err
	}

	if session.Mode != "subscription" {
		h.logger.InfoContext(ctx, "ignoring non-subscription checkout session",
			"event_id", ev.ID,
			"session_id", session.ID,
			"mode", session.Mode,
		)
		return nil
	}

	// Async payment methods complete the session before the payment clears;
	// provisioning then waits for async_payment_succeeded.
	if session.PaymentStatus != "unpaid" {
		if err := h.entitlements.Activate(ctx, session.Customer, "", ev.ID); err != nil {
			return err
		}
	}

	return h.notify(ctx, types.NotificationMessage{
		Kind:                 types.NotifyWelcome,
		StripeCustomerID:     session.Customer,
		StripeSubscriptionID: session.Subscription,
		SourceEventID:        ev.ID,
		Payload: map[string]interface{}{
			"session_id": session.ID,
		},
	})
}

// CheckoutAsyncPaymentSucceeded provisions entitlement once a delayed payment
// clears.
func (h *Handlers) CheckoutAsyncPaymentSucceeded(ctx context.Context, ev *Event) error {
	session, err := decodeObject[checkoutSessionObject](ev)
	if err != nil {
		return err
	}
	return h.entitlements.Activate(ctx, session.Customer, "", ev.ID)
}

// CheckoutAsyncPaymentFailed notifies the user. It makes no assumption that a
// local subscription row exists yet.
func (h *Handlers) CheckoutAsyncPaymentFailed(ctx context.Context, ev *Event) error {
	session, err := decodeObject[checkoutSessionObject](ev)
	if err != nil {
		return err
	}
	return h.notify(ctx, types.NotificationMessage{
		Kind:             types.NotifyCheckoutPaymentFailed,
		StripeCustomerID: session.Customer,
		SourceEventID:    ev.ID,
		Payload: map[string]interface{}{
			"session_id": session.ID,
		},
	})
}
