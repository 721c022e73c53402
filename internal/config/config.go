// Package config defines the global configuration structure for the Pulseboard
// billing service. Configuration is loaded once at process initialization and
// is immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup (fail fast).
package config

import (
	"time"

	"pulseboard/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the billing service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require
// (Least Privilege principle).
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"pulseboard-billing"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	AWS      AWSConfig
	Stripe   StripeConfig
	Identity IdentityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public base URL of the dashboard app (no trailing slash), used to derive
	// default checkout success/cancel URLs.
	AppURL string `envconfig:"APP_URL" validate:"required,url"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// Queue consumed by the external email worker.
	NotificationQueue string `envconfig:"SQS_NOTIFICATIONS" validate:"required,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// StripeConfig holds Stripe credentials, price catalog identifiers, and
// checkout behavior toggles. These map one-to-one onto the environment surface
// the dashboard deployment already defines.
type StripeConfig struct {
	SecretKey      SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	WebhookSecret  SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	PublishableKey string       `envconfig:"STRIPE_PUBLISHABLE_KEY" validate:"required"`

	// Price catalog (per plan tier and billing cycle).
	BasicPriceMonthly string `envconfig:"STRIPE_BASIC_PRICE_ID"`
	BasicPriceYearly  string `envconfig:"STRIPE_BASIC_PRICE_ID_YEARLY"`
	ProPriceMonthly   string `envconfig:"STRIPE_PRO_PRICE_ID"`
	ProPriceYearly    string `envconfig:"STRIPE_PRO_PRICE_ID_YEARLY"`

	// Checkout redirect URLs. When empty, defaults are derived from
	// Server.AppURL ("/upgrade/success" and "/upgrade").
	SuccessURL string `envconfig:"STRIPE_SUCCESS_URL"`
	CancelURL  string `envconfig:"STRIPE_CANCEL_URL"`

	// Checkout behavior toggles.
	AllowPromotionCodes      bool   `envconfig:"STRIPE_ALLOW_PROMOTION_CODES" default:"false"`
	BillingAddressCollection string `envconfig:"STRIPE_BILLING_ADDRESS_COLLECTION" default:"auto" validate:"oneof=auto required"`
	AutomaticTaxEnabled      bool   `envconfig:"STRIPE_AUTOMATIC_TAX_ENABLED" default:"false"`

	// When true, a failure to enqueue a notification fails the webhook event
	// (500, provider redelivers). Default is fire-and-forget.
	NotifyFailuresFatal bool `envconfig:"STRIPE_NOTIFY_FAILURES_FATAL" default:"false"`
}

// IdentityConfig holds the external identity provider endpoint used to resolve
// dashboard session tokens into user profiles.
type IdentityConfig struct {
	BaseURL string `envconfig:"IDENTITY_BASE_URL" validate:"required,url"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)

// CheckoutSuccessURL returns the configured success URL, falling back to the
// dashboard's upgrade success page.
func (c *Config) CheckoutSuccessURL() string {
	if c.Stripe.SuccessURL != "" {
		return c.Stripe.SuccessURL
	}
	return c.Server.AppURL + "/upgrade/success"
}

// CheckoutCancelURL returns the configured cancel URL, falling back to the
// dashboard's upgrade page.
func (c *Config) CheckoutCancelURL() string {
	if c.Stripe.CancelURL != "" {
		return c.Stripe.CancelURL
	}
	return c.Server.AppURL + "/upgrade"
}
