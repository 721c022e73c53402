package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"pulseboard/internal/types"
)

// SubscriptionRepo maintains the local mirror of Stripe subscriptions, derived
// entirely from webhook payloads. All writes are upserts keyed by the Stripe
// subscription ID.
type SubscriptionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepo creates a new SubscriptionRepo backed by the given
// database connection (pool or transaction).
func NewSubscriptionRepo(db DBTX, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

// Upsert inserts or updates the subscription mirror row from a webhook payload.
func (r *SubscriptionRepo) Upsert(ctx context.Context, s *types.Subscription) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions (
		     stripe_subscription_id, stripe_customer_id, status, stripe_price_id,
		     plan_name, plan_amount, plan_currency, plan_interval, plan_interval_count,
		     current_period_start, current_period_end,
		     trial_start, trial_end, cancel_at, canceled_at, ended_at,
		     metadata, created_at, updated_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW())
		 ON CONFLICT (stripe_subscription_id) DO UPDATE
		 SET stripe_customer_id = EXCLUDED.stripe_customer_id,
		     status = EXCLUDED.status,
		     stripe_price_id = EXCLUDED.stripe_price_id,
		     plan_name = EXCLUDED.plan_name,
		     plan_amount = EXCLUDED.plan_amount,
		     plan_currency = EXCLUDED.plan_currency,
		     plan_interval = EXCLUDED.plan_interval,
		     plan_interval_count = EXCLUDED.plan_interval_count,
		     current_period_start = EXCLUDED.current_period_start,
		     current_period_end = EXCLUDED.current_period_end,
		     trial_start = EXCLUDED.trial_start,
		     trial_end = EXCLUDED.trial_end,
		     cancel_at = EXCLUDED.cancel_at,
		     canceled_at = EXCLUDED.canceled_at,
		     ended_at = EXCLUDED.ended_at,
		     metadata = EXCLUDED.metadata,
		     updated_at = NOW()`,
		s.StripeSubscriptionID, s.StripeCustomerID, s.Status, s.StripePriceID,
		s.PlanName, s.PlanAmount, s.PlanCurrency, s.PlanInterval, s.PlanIntervalCount,
		s.CurrentPeriodStart, s.CurrentPeriodEnd,
		s.TrialStart, s.TrialEnd, s.CancelAt, s.CanceledAt, s.EndedAt,
		s.Metadata,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert subscription", err)
	}
	return nil
}

// MarkEnded forces the subscription to canceled with ended_at stamped,
// regardless of the payload's own status field. Used for the provider's
// subscription deletion event. If the subscription was never mirrored, a
// minimal canceled row is created so later out-of-order updates cannot
// resurrect a live subscription silently.
func (r *SubscriptionRepo) MarkEnded(ctx context.Context, stripeSubscriptionID, stripeCustomerID string, endedAt time.Time) error {
	if endedAt.IsZero() {
		endedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions (
		     stripe_subscription_id, stripe_customer_id, status,
		     canceled_at, ended_at, created_at, updated_at
		 ) VALUES ($1, $2, 'canceled', $3, $3, NOW(), NOW())
		 ON CONFLICT (stripe_subscription_id) DO UPDATE
		 SET status = 'canceled',
		     canceled_at = COALESCE(subscriptions.canceled_at, EXCLUDED.canceled_at),
		     ended_at = EXCLUDED.ended_at,
		     updated_at = NOW()`,
		stripeSubscriptionID, stripeCustomerID, endedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark subscription ended", err)
	}
	return nil
}

// GetByStripeID fetches a subscription by its Stripe subscription ID.
func (r *SubscriptionRepo) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*types.Subscription, error) {
	var s types.Subscription
	err := r.db.QueryRow(ctx,
		`SELECT stripe_subscription_id, stripe_customer_id, status, stripe_price_id,
		        plan_name, plan_amount, plan_currency, plan_interval, plan_interval_count,
		        current_period_start, current_period_end,
		        trial_start, trial_end, cancel_at, canceled_at, ended_at, metadata
		 FROM subscriptions
		 WHERE stripe_subscription_id = $1`,
		stripeSubscriptionID,
	).Scan(
		&s.StripeSubscriptionID, &s.StripeCustomerID, &s.Status, &s.StripePriceID,
		&s.PlanName, &s.PlanAmount, &s.PlanCurrency, &s.PlanInterval, &s.PlanIntervalCount,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd,
		&s.TrialStart, &s.TrialEnd, &s.CancelAt, &s.CanceledAt, &s.EndedAt, &s.Metadata,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch subscription", err)
	}
	return &s, nil
}
