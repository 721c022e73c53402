// Package queue provides the SQS-based producer for dispatching billing
// notification payloads to the email worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"pulseboard/internal/config"
	"pulseboard/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Notifier serializes NotificationMessages and sends them to the
// notifications SQS queue. The email worker on the other end owns template
// selection and rendering; the Notifier only carries routing identity and a
// data snapshot.
type Notifier struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewNotifier creates a new Notifier with the given SQS client and
// configuration. It reads the queue URL from the AWSConfig.
func NewNotifier(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *Notifier {
	return &Notifier{
		client:   client,
		queueURL: awsCfg.NotificationQueue,
		logger:   logger,
	}
}

// Notify enqueues a NotificationMessage for the email worker.
//
// A zero NotificationID is assigned here, and a zero OccurredAt defaults to
// now. The TraceID is taken from the request ID in ctx when the message does
// not already carry one, so worker logs correlate back to the webhook
// delivery that triggered the notification.
func (n *Notifier) Notify(ctx context.Context, msg types.NotificationMessage) error {
	if msg.NotificationID == "" {
		msg.NotificationID = uuid.New().String()
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}
	if msg.TraceID == "" {
		msg.TraceID = types.GetRequestID(ctx)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal NotificationMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(msg.Kind)),
			},
		},
	}

	_, err = n.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("queue: failed to send NotificationMessage to %s: %w", n.queueURL, err)
	}

	n.logger.InfoContext(ctx, "notification message sent",
		"queue_url", n.queueURL,
		"notification_id", msg.NotificationID,
		"kind", string(msg.Kind),
		"stripe_customer_id", msg.StripeCustomerID,
		"source_event_id", msg.SourceEventID,
		"trace_id", msg.TraceID,
	)

	return nil
}
