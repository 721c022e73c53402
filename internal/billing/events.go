// Package billing implements the Stripe webhook processing pipeline and the
// plan catalog behind checkout.
package billing

import (
	"encoding/json"
	"time"

	"pulseboard/internal/types"
)

// Recognized Stripe event types. Every type listed here has a handler in the
// dispatch table; anything else is recorded as ignored.
const (
	EventCustomerCreated = "customer.created"
	EventCustomerUpdated = "customer.updated"
	EventCustomerDeleted = "customer.deleted"

	EventSubscriptionCreated      = "customer.subscription.created"
	EventSubscriptionUpdated      = "customer.subscription.updated"
	EventSubscriptionDeleted      = "customer.subscription.deleted"
	EventSubscriptionTrialWillEnd = "customer.subscription.trial_will_end"

	EventInvoiceCreated       = "invoice.created"
	EventInvoiceUpdated       = "invoice.updated"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventInvoiceFinalized     = "invoice.finalized"

	EventPaymentMethodAttached = "payment_method.attached"
	EventPaymentMethodDetached = "payment_method.detached"
	EventPaymentMethodUpdated  = "payment_method.updated"

	EventCheckoutCompleted             = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncPaymentFailed    = "checkout.session.async_payment_failed"
)

// Event is the verified webhook envelope. Data.Object is kept raw; each
// handler decodes only the object shape it needs, so an unrecognized field in
// one object type cannot fail an unrelated handler.
type Event struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Created  int64     `json:"created"`
	Livemode bool      `json:"livemode"`
	Data     EventData `json:"data"`
}

// EventData wraps the event's primary object.
type EventData struct {
	Object json.RawMessage `json:"object"`
}

// ParseEvent decodes and minimally validates a webhook envelope. The payload
// must already be signature-verified; this only checks structure.
func ParseEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeWebhookMalformedEvent,
			"webhook payload is not valid JSON",
			err,
		)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, types.NewAppError(
			types.ErrCodeWebhookMalformedEvent,
			"webhook payload is missing event id or type",
			nil,
		)
	}
	return &ev, nil
}

// ---------------------------------------------------------------------------
// Payload object shapes
// ---------------------------------------------------------------------------

// customerObject is the subset of the Stripe customer object the handlers use.
type customerObject struct {
	ID              string            `json:"id"`
	Email           string            `json:"email"`
	Name            string            `json:"name"`
	Metadata        map[string]string `json:"metadata"`
	InvoiceSettings struct {
		DefaultPaymentMethod string `json:"default_payment_method"`
	} `json:"invoice_settings"`
}

// subscriptionObject mirrors the fields persisted into the local subscription
// table. Period and trial bounds arrive as Unix seconds.
type subscriptionObject struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	TrialStart         *int64            `json:"trial_start"`
	TrialEnd           *int64            `json:"trial_end"`
	CancelAt           *int64            `json:"cancel_at"`
	CanceledAt         *int64            `json:"canceled_at"`
	EndedAt            *int64            `json:"ended_at"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			Price priceObject `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type priceObject struct {
	ID         string `json:"id"`
	Nickname   string `json:"nickname"`
	UnitAmount int64  `json:"unit_amount"`
	Currency   string `json:"currency"`
	Recurring  struct {
		Interval      string `json:"interval"`
		IntervalCount int    `json:"interval_count"`
	} `json:"recurring"`
}

// price returns the first line item's price, or a zero value when the
// payload carries no items (partial payloads on deletion).
func (s *subscriptionObject) price() priceObject {
	if len(s.Items.Data) == 0 {
		return priceObject{}
	}
	return s.Items.Data[0].Price
}

type invoiceObject struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Subscription     string `json:"subscription"`
	Status           string `json:"status"`
	AmountDue        int64  `json:"amount_due"`
	AmountPaid       int64  `json:"amount_paid"`
	AmountRemaining  int64  `json:"amount_remaining"`
	Currency         string `json:"currency"`
	PeriodStart      int64  `json:"period_start"`
	PeriodEnd        int64  `json:"period_end"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
	InvoicePDF       string `json:"invoice_pdf"`
}

type paymentMethodObject struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Type     string `json:"type"`
	Card     *struct {
		Brand    string `json:"brand"`
		Last4    string `json:"last4"`
		ExpMonth int    `json:"exp_month"`
		ExpYear  int    `json:"exp_year"`
	} `json:"card"`
}

type checkoutSessionObject struct {
	ID            string            `json:"id"`
	Customer      string            `json:"customer"`
	Subscription  string            `json:"subscription"`
	Mode          string            `json:"mode"`
	PaymentStatus string            `json:"payment_status"`
	Metadata      map[string]string `json:"metadata"`
}

// ---------------------------------------------------------------------------
// Time helpers
// ---------------------------------------------------------------------------

// unixTime converts Unix seconds to a UTC time. Zero maps to the zero time.
func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// unixTimePtr converts an optional Unix timestamp to *time.Time.
func unixTimePtr(sec *int64) *time.Time {
	if sec == nil || *sec == 0 {
		return nil
	}
	t := time.Unix(*sec, 0).UTC()
	return &t
}
