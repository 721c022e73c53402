package db

import (
	"context"
	"log/slog"

	"pulseboard/internal/types"
)

// PaymentMethodRepo maintains the local mirror of Stripe payment methods.
// At most one payment method per customer carries the default flag; the
// upsert enforces this in a single statement so concurrent attach events
// cannot leave two defaults behind.
type PaymentMethodRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewPaymentMethodRepo creates a new PaymentMethodRepo backed by the given
// database connection (pool or transaction).
func NewPaymentMethodRepo(db DBTX, logger *slog.Logger) *PaymentMethodRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentMethodRepo{db: db, logger: logger}
}

// upsertPaymentMethodSQL clears the customer's previous default (when the
// incoming row is the new default) and upserts the payment method in one
// atomic statement.
const upsertPaymentMethodSQL = `
WITH cleared AS (
    UPDATE payment_methods
    SET is_default = FALSE
    WHERE stripe_customer_id = $2
      AND is_default
      AND stripe_payment_method_id <> $1
      AND $8::boolean
)
INSERT INTO payment_methods (
    stripe_payment_method_id, stripe_customer_id, type,
    card_brand, card_last4, card_exp_month, card_exp_year,
    is_default, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
ON CONFLICT (stripe_payment_method_id) DO UPDATE
SET stripe_customer_id = EXCLUDED.stripe_customer_id,
    type = EXCLUDED.type,
    card_brand = EXCLUDED.card_brand,
    card_last4 = EXCLUDED.card_last4,
    card_exp_month = EXCLUDED.card_exp_month,
    card_exp_year = EXCLUDED.card_exp_year,
    is_default = EXCLUDED.is_default,
    updated_at = NOW()`

// Upsert inserts or updates the payment method mirror row. When pm.IsDefault
// is true, the customer's previous default is cleared in the same statement.
func (r *PaymentMethodRepo) Upsert(ctx context.Context, pm *types.PaymentMethod) error {
	_, err := r.db.Exec(ctx, upsertPaymentMethodSQL,
		pm.StripePaymentMethodID, pm.StripeCustomerID, pm.Type,
		pm.CardBrand, pm.CardLast4, pm.CardExpMonth, pm.CardExpYear,
		pm.IsDefault,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert payment method", err)
	}
	return nil
}

// setDefaultPaymentMethodSQL promotes one payment method and demotes the
// customer's previous default in a single statement.
const setDefaultPaymentMethodSQL = `
WITH cleared AS (
    UPDATE payment_methods
    SET is_default = FALSE
    WHERE stripe_customer_id = $1
      AND is_default
      AND stripe_payment_method_id <> $2
)
UPDATE payment_methods
SET is_default = TRUE, updated_at = NOW()
WHERE stripe_customer_id = $1
  AND stripe_payment_method_id = $2`

// SetDefault marks the given payment method as the customer's default. If the
// payment method is not mirrored locally yet (its attach event has not
// arrived), this is a no-op; the attach handler will upsert the row and a
// later customer update re-asserts the flag.
func (r *PaymentMethodRepo) SetDefault(ctx context.Context, stripeCustomerID, stripePaymentMethodID string) error {
	tag, err := r.db.Exec(ctx, setDefaultPaymentMethodSQL, stripeCustomerID, stripePaymentMethodID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set default payment method", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.Info("default payment method not mirrored yet",
			slog.String("stripe_customer_id", stripeCustomerID),
			slog.String("stripe_payment_method_id", stripePaymentMethodID),
		)
	}

	return nil
}

// Delete removes a payment method after the provider detaches it. Deleting an
// unknown payment method is a no-op so webhook redeliveries stay idempotent.
func (r *PaymentMethodRepo) Delete(ctx context.Context, stripePaymentMethodID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM payment_methods WHERE stripe_payment_method_id = $1`,
		stripePaymentMethodID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete payment method", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.Info("payment method delete was a no-op",
			slog.String("stripe_payment_method_id", stripePaymentMethodID),
		)
	}

	return nil
}
