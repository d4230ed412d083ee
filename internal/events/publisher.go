// Package events publishes committed ledger operations to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MarkoPoloResearchLab/tokenmarket/pkg/ledger"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// MessageWriter is the subset of *kafka.Writer used for publishing.
type MessageWriter interface {
	WriteMessages(ctx context.Context, messages ...kafka.Message) error
	Close() error
}

// OperationEvent is the JSON payload written for each committed operation.
type OperationEvent struct {
	Operation  string    `json:"operation"`
	UserID     string    `json:"userId"`
	SubjectID  string    `json:"subjectId"`
	Units      int64     `json:"units"`
	Amount     string    `json:"amount"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher implements ledger.OperationLogger by writing successful operations to a topic.
type Publisher struct {
	writer MessageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaWriter builds an asynchronous writer for brokers.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		Async:        true,
		RequiredAcks: kafka.RequireOne,
	}
}

// NewPublisher returns a Publisher writing to topic.
func NewPublisher(writer MessageWriter, topic string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{writer: writer, topic: topic, logger: logger}
}

// EncodeOperation renders entry as an OperationEvent.
func EncodeOperation(entry ledger.OperationLog) ([]byte, error) {
	return json.Marshal(OperationEvent{
		Operation:  entry.Operation,
		UserID:     entry.UserID.String(),
		SubjectID:  entry.SubjectID,
		Units:      entry.Units,
		Amount:     entry.Amount.String(),
		OccurredAt: entry.OccurredAt.UTC(),
	})
}

// LogOperation publishes committed operations keyed by user id. Failures are logged, never returned.
func (publisher *Publisher) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	if !entry.Succeeded() {
		return
	}
	payload, err := EncodeOperation(entry)
	if err != nil {
		publisher.logger.Error("encode ledger event", zap.String("operation", entry.Operation), zap.Error(err))
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	message := kafka.Message{
		Topic: publisher.topic,
		Key:   []byte(entry.UserID.String()),
		Value: payload,
	}
	if err := publisher.writer.WriteMessages(writeCtx, message); err != nil {
		publisher.logger.Error("publish ledger event",
			zap.String("topic", publisher.topic),
			zap.String("operation", entry.Operation),
			zap.Error(err))
	}
}

// Close flushes and closes the underlying writer.
func (publisher *Publisher) Close() error {
	return publisher.writer.Close()
}
