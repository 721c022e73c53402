package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"pulseboard/internal/config"
	"pulseboard/internal/types"
)

// --- Mock SQS Client ---

// mockSQSSender captures SendMessage calls for test assertions.
type mockSQSSender struct {
	// calls records every SendMessageInput passed to SendMessage.
	calls []*sqs.SendMessageInput
	// err is returned by SendMessage if non-nil (simulates SQS failures).
	err error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

// --- Test Helpers ---

const testQueueURL = "https://sqs.us-east-1.amazonaws.com/123456789/billing-notifications"

func newTestNotifier(mock *mockSQSSender) *Notifier {
	awsCfg := config.AWSConfig{
		NotificationQueue: testQueueURL,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewNotifier(mock, awsCfg, logger)
}

// --- Tests ---

func TestNotify_SendsToNotificationQueue(t *testing.T) {
	mock := &mockSQSSender{}
	notifier := newTestNotifier(mock)

	err := notifier.Notify(context.Background(), types.NotificationMessage{
		Kind:             types.NotifyPaymentFailed,
		StripeCustomerID: "cus_123",
		SourceEventID:    "evt_abc",
	})
	if err != nil {
		t.Fatalf("Notify returned unexpected error: %v", err)
	}

	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 SQS call, got %d", len(mock.calls))
	}
	if *mock.calls[0].QueueUrl != testQueueURL {
		t.Errorf("expected queue URL %q, got %q", testQueueURL, *mock.calls[0].QueueUrl)
	}
}

func TestNotify_GeneratesNotificationIDAndTimestamp(t *testing.T) {
	mock := &mockSQSSender{}
	notifier := newTestNotifier(mock)

	before := time.Now().UTC()
	err := notifier.Notify(context.Background(), types.NotificationMessage{
		Kind:             types.NotifyWelcome,
		StripeCustomerID: "cus_123",
		SourceEventID:    "evt_abc",
	})
	if err != nil {
		t.Fatalf("Notify returned unexpected error: %v", err)
	}

	var msg types.NotificationMessage
	if err := json.Unmarshal([]byte(*mock.calls[0].MessageBody), &msg); err != nil {
		t.Fatalf("failed to unmarshal message body: %v", err)
	}

	if msg.NotificationID == "" {
		t.Error("expected generated notification ID")
	}
	if msg.OccurredAt.Before(before) {
		t.Errorf("expected OccurredAt >= %v, got %v", before, msg.OccurredAt)
	}
}

func TestNotify_PreservesExplicitIDs(t *testing.T) {
	mock := &mockSQSSender{}
	notifier := newTestNotifier(mock)

	occurred := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	err := notifier.Notify(context.Background(), types.NotificationMessage{
		NotificationID:   "notif_fixed",
		Kind:             types.NotifyTrialWillEnd,
		StripeCustomerID: "cus_123",
		SourceEventID:    "evt_abc",
		OccurredAt:       occurred,
		TraceID:          "trace_explicit",
	})
	if err != nil {
		t.Fatalf("Notify returned unexpected error: %v", err)
	}

	var msg types.NotificationMessage
	if err := json.Unmarshal([]byte(*mock.calls[0].MessageBody), &msg); err != nil {
		t.Fatalf("failed to unmarshal message body: %v", err)
	}

	if msg.NotificationID != "notif_fixed" {
		t.Errorf("expected notification ID notif_fixed, got %s", msg.NotificationID)
	}
	if !msg.OccurredAt.Equal(occurred) {
		t.Errorf("expected OccurredAt %v, got %v", occurred, msg.OccurredAt)
	}
	if msg.TraceID != "trace_explicit" {
		t.Errorf("expected trace ID trace_explicit, got %s", msg.TraceID)
	}
}

func TestNotify_TraceIDFromContext(t *testing.T) {
	mock := &mockSQSSender{}
	notifier := newTestNotifier(mock)

	ctx := types.WithRequestID(context.Background(), "req_789")
	err := notifier.Notify(ctx, types.NotificationMessage{
		Kind:             types.NotifyCheckoutPaymentFailed,
		StripeCustomerID: "cus_123",
		SourceEventID:    "evt_abc",
	})
	if err != nil {
		t.Fatalf("Notify returned unexpected error: %v", err)
	}

	var msg types.NotificationMessage
	if err := json.Unmarshal([]byte(*mock.calls[0].MessageBody), &msg); err != nil {
		t.Fatalf("failed to unmarshal message body: %v", err)
	}

	if msg.TraceID != "req_789" {
		t.Errorf("expected trace ID req_789 from context, got %s", msg.TraceID)
	}
}

func TestNotify_SetsKindMessageAttribute(t *testing.T) {
	mock := &mockSQSSender{}
	notifier := newTestNotifier(mock)

	err := notifier.Notify(context.Background(), types.NotificationMessage{
		Kind:             types.NotifyPaymentFailed,
		StripeCustomerID: "cus_123",
		SourceEventID:    "evt_abc",
	})
	if err != nil {
		t.Fatalf("Notify returned unexpected error: %v", err)
	}

	attr, ok := mock.calls[0].MessageAttributes["kind"]
	if !ok {
		t.Fatal("expected 'kind' message attribute")
	}
	if *attr.StringValue != string(types.NotifyPaymentFailed) {
		t.Errorf("expected kind attribute %q, got %q", types.NotifyPaymentFailed, *attr.StringValue)
	}
}

func TestNotify_SQSFailure(t *testing.T) {
	mock := &mockSQSSender{err: errors.New("sqs unavailable")}
	notifier := newTestNotifier(mock)

	err := notifier.Notify(context.Background(), types.NotificationMessage{
		Kind:             types.NotifyPaymentFailed,
		StripeCustomerID: "cus_123",
		SourceEventID:    "evt_abc",
	})
	if err == nil {
		t.Fatal("expected error when SQS send fails")
	}
	if !strings.Contains(err.Error(), "failed to send NotificationMessage") {
		t.Errorf("unexpected error message: %v", err)
	}
}
