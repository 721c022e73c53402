package types

import "time"

// SubscriptionStatus is the provider-defined subscription lifecycle status.
// Stored as-is; the canonical set is enumerated below but unknown values are
// preserved rather than rejected, since Stripe may add statuses.
type SubscriptionStatus string

const (
	SubStatusActive            SubscriptionStatus = "active"
	SubStatusTrialing          SubscriptionStatus = "trialing"
	SubStatusPastDue           SubscriptionStatus = "past_due"
	SubStatusCanceled          SubscriptionStatus = "canceled"
	SubStatusUnpaid            SubscriptionStatus = "unpaid"
	SubStatusIncomplete        SubscriptionStatus = "incomplete"
	SubStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubStatusPaused            SubscriptionStatus = "paused"
)

// EventStatus is the processing status of a received webhook event.
//
// State machine per event ID: unseen -> pending -> {processed | failed | ignored}.
// processed and ignored are terminal; failed permits one more pending cycle per
// provider redelivery (retry_count incremented).
type EventStatus string

const (
	EventStatusPending   EventStatus = "pending"
	EventStatusProcessed EventStatus = "processed"
	EventStatusFailed    EventStatus = "failed"
	EventStatusIgnored   EventStatus = "ignored"
)

// WebhookEventRecord is the deduplication ledger row for a provider event.
// Keyed by the provider-assigned event ID.
type WebhookEventRecord struct {
	EventID      string      `json:"event_id"`
	EventType    string      `json:"event_type"`
	Status       EventStatus `json:"status"`
	ErrorMessage string      `json:"error_message,omitempty"`
	RetryCount   int         `json:"retry_count"`
	FirstSeenAt  time.Time   `json:"first_seen_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Customer is the local mirror of a Stripe customer.
// Deletion is soft (DeletedAt stamped) to preserve historical billing references.
type Customer struct {
	StripeCustomerID string     `json:"stripe_customer_id"`
	Email            string     `json:"email"`
	Name             string     `json:"name"`
	UserID           string     `json:"user_id"` // identity-provider user ID from metadata
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

// Subscription is the local mirror of a Stripe subscription, derived entirely
// from webhook payloads. All writes are upserts keyed by StripeSubscriptionID.
type Subscription struct {
	StripeSubscriptionID string             `json:"stripe_subscription_id"`
	StripeCustomerID     string             `json:"stripe_customer_id"`
	Status               SubscriptionStatus `json:"status"`
	StripePriceID        string             `json:"stripe_price_id"`
	PlanName             string             `json:"plan_name"`
	PlanAmount           int64              `json:"plan_amount"` // smallest currency unit
	PlanCurrency         string             `json:"plan_currency"`
	PlanInterval         string             `json:"plan_interval"` // "month" or "year"
	PlanIntervalCount    int                `json:"plan_interval_count"`
	CurrentPeriodStart   time.Time          `json:"current_period_start"`
	CurrentPeriodEnd     time.Time          `json:"current_period_end"`
	TrialStart           *time.Time         `json:"trial_start,omitempty"`
	TrialEnd             *time.Time         `json:"trial_end,omitempty"`
	CancelAt             *time.Time         `json:"cancel_at,omitempty"`
	CanceledAt           *time.Time         `json:"canceled_at,omitempty"`
	EndedAt              *time.Time         `json:"ended_at,omitempty"`
	Metadata             map[string]string  `json:"metadata,omitempty"`
}

// Invoice is the local mirror of a Stripe invoice.
type Invoice struct {
	StripeInvoiceID      string    `json:"stripe_invoice_id"`
	StripeCustomerID     string    `json:"stripe_customer_id"`
	StripeSubscriptionID string    `json:"stripe_subscription_id,omitempty"`
	Status               string    `json:"status"`
	AmountDue            int64     `json:"amount_due"`
	AmountPaid           int64     `json:"amount_paid"`
	AmountRemaining      int64     `json:"amount_remaining"`
	Currency             string    `json:"currency"`
	PeriodStart          time.Time `json:"period_start"`
	PeriodEnd            time.Time `json:"period_end"`
	HostedInvoiceURL     string    `json:"hosted_invoice_url,omitempty"`
	InvoicePDF           string    `json:"invoice_pdf,omitempty"`
}

// PaymentMethod is the local mirror of a Stripe payment method.
// At most one payment method per customer may be flagged default.
type PaymentMethod struct {
	StripePaymentMethodID string `json:"stripe_payment_method_id"`
	StripeCustomerID      string `json:"stripe_customer_id"`
	Type                  string `json:"type"`
	CardBrand             string `json:"card_brand,omitempty"`
	CardLast4             string `json:"card_last4,omitempty"`
	CardExpMonth          int    `json:"card_exp_month,omitempty"`
	CardExpYear           int    `json:"card_exp_year,omitempty"`
	IsDefault             bool   `json:"is_default"`
}

// RedirectURLs carries the success/cancel URLs for a Checkout session.
type RedirectURLs struct {
	Success string
	Cancel  string
}
