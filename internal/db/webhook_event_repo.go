package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"pulseboard/internal/types"
)

// WebhookEventRepo is the deduplication ledger for provider webhook events,
// keyed by the provider-assigned event ID.
//
// State machine per event ID: unseen -> pending -> {processed | failed | ignored}.
// processed and ignored are terminal. failed permits another pending cycle when
// the provider redelivers, with retry_count incremented.
type WebhookEventRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewWebhookEventRepo creates a new WebhookEventRepo backed by the given
// database connection (pool or transaction).
func NewWebhookEventRepo(db DBTX, logger *slog.Logger) *WebhookEventRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookEventRepo{db: db, logger: logger}
}

// checkAndReserveSQL reserves an event for processing in a single atomic
// statement. A fresh event inserts a pending row. An existing failed row is
// flipped back to pending with retry_count incremented. Any other existing
// status (pending, processed, ignored) matches neither arm, so no row is
// returned and the caller must not proceed.
const checkAndReserveSQL = `
INSERT INTO webhook_events (event_id, event_type, status, retry_count, first_seen_at, updated_at)
VALUES ($1, $2, 'pending', 0, NOW(), NOW())
ON CONFLICT (event_id) DO UPDATE
SET status = 'pending',
    error_message = NULL,
    retry_count = webhook_events.retry_count + 1,
    updated_at = NOW()
WHERE webhook_events.status = 'failed'
RETURNING retry_count`

// CheckAndReserve atomically decides whether the given event should be
// processed. It returns (true, retryCount, nil) when this call won the
// reservation; (false, 0, nil) when the event is a duplicate (already pending,
// processed, or ignored). Two concurrent deliveries of the same event ID will
// never both receive true.
func (r *WebhookEventRepo) CheckAndReserve(ctx context.Context, eventID, eventType string) (bool, int, error) {
	var retryCount int
	err := r.db.QueryRow(ctx, checkAndReserveSQL, eventID, eventType).Scan(&retryCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Row exists in a non-failed status: duplicate delivery.
			return false, 0, nil
		}
		return false, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to reserve webhook event", err)
	}

	if retryCount > 0 {
		r.logger.Info("re-attempting previously failed webhook event",
			slog.String("event_id", eventID),
			slog.Int("retry_count", retryCount),
		)
	}

	return true, retryCount, nil
}

// RecordOutcome records the terminal status for an event previously reserved
// via CheckAndReserve. Only rows still in 'pending' are updated, which makes
// the call idempotent: a second outcome for the same reservation is a no-op.
func (r *WebhookEventRepo) RecordOutcome(ctx context.Context, eventID string, status types.EventStatus, errorMessage string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE webhook_events
		 SET status = $2,
		     error_message = NULLIF($3, ''),
		     updated_at = NOW()
		 WHERE event_id = $1
		   AND status = 'pending'`,
		eventID, status, errorMessage,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record webhook event outcome", err)
	}

	if tag.RowsAffected() == 0 {
		// Reservation already resolved (or never made). Idempotent no-op.
		r.logger.Warn("webhook event outcome ignored: no pending reservation",
			slog.String("event_id", eventID),
			slog.String("status", string(status)),
		)
	}

	return nil
}

// GetByEventID fetches the ledger row for an event. Returns a not-found
// AppError when the event has never been seen.
func (r *WebhookEventRepo) GetByEventID(ctx context.Context, eventID string) (*types.WebhookEventRecord, error) {
	var rec types.WebhookEventRecord
	var errorMessage *string

	err := r.db.QueryRow(ctx,
		`SELECT event_id, event_type, status, error_message, retry_count, first_seen_at, updated_at
		 FROM webhook_events
		 WHERE event_id = $1`,
		eventID,
	).Scan(&rec.EventID, &rec.EventType, &rec.Status, &errorMessage, &rec.RetryCount, &rec.FirstSeenAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundWebhookEvent, "webhook event not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch webhook event", err)
	}

	if errorMessage != nil {
		rec.ErrorMessage = *errorMessage
	}

	return &rec, nil
}
