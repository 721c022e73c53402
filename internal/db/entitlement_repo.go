package db

import (
	"context"
	"log/slog"

	"pulseboard/internal/types"
)

// EntitlementRepo tracks the dashboard access grant per Stripe customer.
//
// Entitlement provisioning must be commutative: checkout completion and
// subscription creation both assert it and may arrive in either order, and the
// provider may redeliver both. The upsert therefore converges on the same row
// regardless of ordering, and keeps an existing plan name if the caller does
// not know one.
type EntitlementRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewEntitlementRepo creates a new EntitlementRepo backed by the given
// database connection (pool or transaction).
func NewEntitlementRepo(db DBTX, logger *slog.Logger) *EntitlementRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementRepo{db: db, logger: logger}
}

// Activate asserts that the customer's entitlement is active. planName may be
// empty when the triggering event does not carry plan information; an existing
// plan name is then preserved. sourceEventID records the most recent event
// that asserted the grant, for audit.
func (r *EntitlementRepo) Activate(ctx context.Context, stripeCustomerID, planName, sourceEventID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO entitlements (stripe_customer_id, plan_name, status, source_event_id, activated_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), 'active', $3, NOW(), NOW())
		 ON CONFLICT (stripe_customer_id) DO UPDATE
		 SET plan_name = COALESCE(NULLIF(EXCLUDED.plan_name, ''), entitlements.plan_name),
		     status = 'active',
		     source_event_id = EXCLUDED.source_event_id,
		     deactivated_at = NULL,
		     updated_at = NOW()`,
		stripeCustomerID, planName, sourceEventID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to activate entitlement", err)
	}
	return nil
}

// Deactivate revokes the customer's entitlement. Revoking an unknown or
// already-inactive entitlement is a no-op.
func (r *EntitlementRepo) Deactivate(ctx context.Context, stripeCustomerID, sourceEventID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE entitlements
		 SET status = 'inactive',
		     source_event_id = $2,
		     deactivated_at = NOW(),
		     updated_at = NOW()
		 WHERE stripe_customer_id = $1
		   AND status = 'active'`,
		stripeCustomerID, sourceEventID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to deactivate entitlement", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.Info("entitlement deactivation was a no-op",
			slog.String("stripe_customer_id", stripeCustomerID),
		)
	}

	return nil
}
