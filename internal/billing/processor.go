package billing

import (
	"context"
	"log/slog"

	"pulseboard/internal/types"
)

// EventLedger is the deduplication ledger contract, satisfied by
// db.WebhookEventRepo.
type EventLedger interface {
	// CheckAndReserve atomically reserves the event for processing. It
	// returns false when the event is already pending, processed, or
	// ignored; previously failed events are re-reserved with the retry
	// count incremented.
	CheckAndReserve(ctx context.Context, eventID, eventType string) (proceed bool, retryCount int, err error)

	// RecordOutcome finalizes a reserved event. Only rows still pending are
	// updated.
	RecordOutcome(ctx context.Context, eventID string, status types.EventStatus, errorMessage string) error
}

// Outcome is the result of processing one delivery.
type Outcome struct {
	Status types.EventStatus

	// Duplicate is set when the ledger refused the reservation. The caller
	// acknowledges with 2xx and no handler runs.
	Duplicate bool
}

// Processor ties the ledger and the dispatcher together: reserve, dispatch,
// record. One Processor serves concurrent requests; all state lives in the
// ledger.
type Processor struct {
	ledger     EventLedger
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(ledger EventLedger, dispatcher *Dispatcher, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{ledger: ledger, dispatcher: dispatcher, logger: logger}
}

// Process runs a verified event through the pipeline. A non-nil error means
// the caller should answer 5xx so the provider redelivers; a duplicate or an
// unrecognized type is a normal 2xx acknowledgment.
func (p *Processor) Process(ctx context.Context, ev *Event) (Outcome, error) {
	proceed, retryCount, err := p.ledger.CheckAndReserve(ctx, ev.ID, ev.Type)
	if err != nil {
		return Outcome{}, err
	}
	if !proceed {
		p.logger.InfoContext(ctx, "duplicate event delivery acknowledged",
			"event_id", ev.ID,
			"event_type", ev.Type,
		)
		return Outcome{Duplicate: true}, nil
	}

	if retryCount > 0 {
		p.logger.InfoContext(ctx, "reprocessing previously failed event",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"retry_count", retryCount,
		)
	}

	status, handlerErr := p.dispatcher.Dispatch(ctx, ev)

	errorMessage := ""
	if handlerErr != nil {
		errorMessage = handlerErr.Error()
	}
	if recErr := p.ledger.RecordOutcome(ctx, ev.ID, status, errorMessage); recErr != nil {
		p.logger.ErrorContext(ctx, "failed to record event outcome",
			"event_id", ev.ID,
			"status", string(status),
			"error", recErr,
		)
		if handlerErr == nil {
			return Outcome{Status: status}, recErr
		}
	}

	p.logger.InfoContext(ctx, "event processed",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"status", string(status),
	)

	return Outcome{Status: status}, handlerErr
}
