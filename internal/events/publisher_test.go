package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/tokenmarket/pkg/ledger"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (writer *fakeWriter) WriteMessages(_ context.Context, messages ...kafka.Message) error {
	if writer.err != nil {
		return writer.err
	}
	writer.messages = append(writer.messages, messages...)
	return nil
}

func (writer *fakeWriter) Close() error {
	writer.closed = true
	return nil
}

func purchaseEntry(test *testing.T, status string) ledger.OperationLog {
	test.Helper()
	userID, err := ledger.NewUserID("buyer-1")
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return ledger.OperationLog{
		Operation:  ledger.OperationPurchase,
		UserID:     userID,
		SubjectID:  "listing-1",
		Units:      300,
		Amount:     decimal.RequireFromString("3"),
		Status:     status,
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPublisherWritesSuccessfulOperations(test *testing.T) {
	test.Parallel()
	writer := &fakeWriter{}
	publisher := NewPublisher(writer, "ledger-events", nil)

	entry := purchaseEntry(test, "ok")
	publisher.LogOperation(context.Background(), entry)
	publisher.LogOperation(context.Background(), purchaseEntry(test, "error"))

	if len(writer.messages) != 1 {
		test.Fatalf("expected 1 message, got %d", len(writer.messages))
	}
	message := writer.messages[0]
	if message.Topic != "ledger-events" || string(message.Key) != "buyer-1" {
		test.Fatalf("unexpected message routing %s/%s", message.Topic, message.Key)
	}
	var event OperationEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		test.Fatalf("decode event: %v", err)
	}
	if event.Operation != ledger.OperationPurchase || event.SubjectID != "listing-1" || event.Units != 300 || event.Amount != "3" {
		test.Fatalf("unexpected event %+v", event)
	}
	if !event.OccurredAt.Equal(entry.OccurredAt) {
		test.Fatalf("unexpected occurred at %v", event.OccurredAt)
	}
	if err := publisher.Close(); err != nil || !writer.closed {
		test.Fatalf("expected writer to be closed")
	}
}

func TestPublisherLogsWriteFailures(test *testing.T) {
	test.Parallel()
	core, logs := observer.New(zapcore.ErrorLevel)
	publisher := NewPublisher(&fakeWriter{err: errors.New("broker down")}, "ledger-events", zap.New(core))

	publisher.LogOperation(context.Background(), purchaseEntry(test, "ok"))

	if logs.Len() != 1 || logs.All()[0].Message != "publish ledger event" {
		test.Fatalf("expected one publish failure log, got %d", logs.Len())
	}
}
