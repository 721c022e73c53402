package types

import "time"

// NotificationKind routes a billing notification to its email template.
type NotificationKind string

const (
	NotifyTrialWillEnd          NotificationKind = "trial_will_end"
	NotifyPaymentFailed         NotificationKind = "payment_failed"
	NotifyCheckoutPaymentFailed NotificationKind = "checkout_payment_failed"
	NotifyWelcome               NotificationKind = "welcome"
)

// NotificationMessage is the SQS payload sent from the billing service to the
// email worker. The worker owns template selection and rendering; this struct
// carries only routing identity plus a raw data snapshot for templating.
// JSON tags use snake_case to match the worker's model.
type NotificationMessage struct {
	NotificationID string           `json:"notification_id"`
	Kind           NotificationKind `json:"kind"`

	// Billing entity references (provider IDs; worker resolves recipients).
	StripeCustomerID     string `json:"stripe_customer_id"`
	StripeSubscriptionID string `json:"stripe_subscription_id,omitempty"`

	// Source webhook event, for worker-side idempotency.
	SourceEventID string `json:"source_event_id"`

	OccurredAt time.Time `json:"occurred_at"`

	// Observability
	TraceID string `json:"trace_id"`

	// Raw data snapshot for templating (amounts, trial end date, etc.).
	Payload map[string]interface{} `json:"payload,omitempty"`
}
