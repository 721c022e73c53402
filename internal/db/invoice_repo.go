package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"pulseboard/internal/types"
)

// InvoiceRepo maintains the local mirror of Stripe invoices, keyed by the
// Stripe invoice ID.
type InvoiceRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewInvoiceRepo creates a new InvoiceRepo backed by the given database
// connection (pool or transaction).
func NewInvoiceRepo(db DBTX, logger *slog.Logger) *InvoiceRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvoiceRepo{db: db, logger: logger}
}

// Upsert inserts or updates the invoice mirror row from a webhook payload.
func (r *InvoiceRepo) Upsert(ctx context.Context, inv *types.Invoice) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO invoices (
		     stripe_invoice_id, stripe_customer_id, stripe_subscription_id, status,
		     amount_due, amount_paid, amount_remaining, currency,
		     period_start, period_end, hosted_invoice_url, invoice_pdf,
		     created_at, updated_at
		 ) VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), NULLIF($12, ''), NOW(), NOW())
		 ON CONFLICT (stripe_invoice_id) DO UPDATE
		 SET stripe_customer_id = EXCLUDED.stripe_customer_id,
		     stripe_subscription_id = EXCLUDED.stripe_subscription_id,
		     status = EXCLUDED.status,
		     amount_due = EXCLUDED.amount_due,
		     amount_paid = EXCLUDED.amount_paid,
		     amount_remaining = EXCLUDED.amount_remaining,
		     currency = EXCLUDED.currency,
		     period_start = EXCLUDED.period_start,
		     period_end = EXCLUDED.period_end,
		     hosted_invoice_url = EXCLUDED.hosted_invoice_url,
		     invoice_pdf = EXCLUDED.invoice_pdf,
		     updated_at = NOW()`,
		inv.StripeInvoiceID, inv.StripeCustomerID, inv.StripeSubscriptionID, inv.Status,
		inv.AmountDue, inv.AmountPaid, inv.AmountRemaining, inv.Currency,
		inv.PeriodStart, inv.PeriodEnd, inv.HostedInvoiceURL, inv.InvoicePDF,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert invoice", err)
	}
	return nil
}

// GetByStripeID fetches an invoice by its Stripe invoice ID.
func (r *InvoiceRepo) GetByStripeID(ctx context.Context, stripeInvoiceID string) (*types.Invoice, error) {
	var inv types.Invoice
	var subID, hostedURL, pdfURL *string

	err := r.db.QueryRow(ctx,
		`SELECT stripe_invoice_id, stripe_customer_id, stripe_subscription_id, status,
		        amount_due, amount_paid, amount_remaining, currency,
		        period_start, period_end, hosted_invoice_url, invoice_pdf
		 FROM invoices
		 WHERE stripe_invoice_id = $1`,
		stripeInvoiceID,
	).Scan(
		&inv.StripeInvoiceID, &inv.StripeCustomerID, &subID, &inv.Status,
		&inv.AmountDue, &inv.AmountPaid, &inv.AmountRemaining, &inv.Currency,
		&inv.PeriodStart, &inv.PeriodEnd, &hostedURL, &pdfURL,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundInvoice, "invoice not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch invoice", err)
	}

	if subID != nil {
		inv.StripeSubscriptionID = *subID
	}
	if hostedURL != nil {
		inv.HostedInvoiceURL = *hostedURL
	}
	if pdfURL != nil {
		inv.InvoicePDF = *pdfURL
	}

	return &inv, nil
}
