package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"pulseboard/internal/types"
)

// CustomerRepo maintains the local mirror of Stripe customers.
// Writes are upserts keyed by the Stripe customer ID so that webhook
// redeliveries and out-of-order events converge on the same row.
type CustomerRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewCustomerRepo creates a new CustomerRepo backed by the given database
// connection (pool or transaction).
func NewCustomerRepo(db DBTX, logger *slog.Logger) *CustomerRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &CustomerRepo{db: db, logger: logger}
}

// Upsert inserts or updates the customer mirror row.
func (r *CustomerRepo) Upsert(ctx context.Context, c *types.Customer) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO customers (stripe_customer_id, email, name, user_id, created_at, updated_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NOW(), NOW())
		 ON CONFLICT (stripe_customer_id) DO UPDATE
		 SET email = EXCLUDED.email,
		     name = EXCLUDED.name,
		     user_id = COALESCE(EXCLUDED.user_id, customers.user_id),
		     updated_at = NOW()`,
		c.StripeCustomerID, c.Email, c.Name, c.UserID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert customer", err)
	}
	return nil
}

// SoftDelete stamps deleted_at without removing the row, preserving historical
// billing references. Deleting an already-deleted or unknown customer is a
// no-op so webhook redeliveries stay idempotent.
func (r *CustomerRepo) SoftDelete(ctx context.Context, stripeCustomerID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE customers
		 SET deleted_at = NOW(),
		     updated_at = NOW()
		 WHERE stripe_customer_id = $1
		   AND deleted_at IS NULL`,
		stripeCustomerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to soft delete customer", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.Info("customer soft delete was a no-op",
			slog.String("stripe_customer_id", stripeCustomerID),
		)
	}

	return nil
}

// GetByStripeID fetches a customer by its Stripe customer ID, including
// soft-deleted rows.
func (r *CustomerRepo) GetByStripeID(ctx context.Context, stripeCustomerID string) (*types.Customer, error) {
	return r.get(ctx,
		`SELECT stripe_customer_id, email, name, COALESCE(user_id, ''), created_at, updated_at, deleted_at
		 FROM customers
		 WHERE stripe_customer_id = $1`,
		stripeCustomerID,
	)
}

// GetByUserID fetches the live (non-deleted) customer for an identity-provider
// user ID. Used by the billing portal endpoint.
func (r *CustomerRepo) GetByUserID(ctx context.Context, userID string) (*types.Customer, error) {
	return r.get(ctx,
		`SELECT stripe_customer_id, email, name, COALESCE(user_id, ''), created_at, updated_at, deleted_at
		 FROM customers
		 WHERE user_id = $1
		   AND deleted_at IS NULL
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID,
	)
}

func (r *CustomerRepo) get(ctx context.Context, sql string, arg any) (*types.Customer, error) {
	var c types.Customer
	err := r.db.QueryRow(ctx, sql, arg).Scan(
		&c.StripeCustomerID, &c.Email, &c.Name, &c.UserID,
		&c.CreatedAt, &c.UpdatedAt, &c.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundCustomer, "customer not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch customer", err)
	}
	return &c, nil
}
