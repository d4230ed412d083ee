package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation  string
	UserID     UserID
	SubjectID  string
	Units      int64
	Amount     decimal.Decimal
	Metadata   MetadataJSON
	Status     string
	Error      error
	Duration   time.Duration
	OccurredAt time.Time
}

// Succeeded reports whether the operation committed.
func (entry OperationLog) Succeeded() bool {
	return entry.Status == operationStatusOK
}

// WithOperationLogger adds a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		if logger != nil {
			service.loggers = append(service.loggers, logger)
		}
	}
}

// WithRetryPolicy overrides the optimistic-concurrency retry policy.
func WithRetryPolicy(policy RetryPolicy) ServiceOption {
	return func(service *Service) {
		service.retryPolicy = policy
	}
}

// WithIDGenerator overrides how new entity ids are minted.
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.idFn = generate
		}
	}
}

// WithTracer overrides the tracer used for operation spans.
func WithTracer(tracer trace.Tracer) ServiceOption {
	return func(service *Service) {
		if tracer != nil {
			service.tracer = tracer
		}
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if len(service.loggers) == 0 {
		return
	}
	if entry.Error != nil {
		entry.Status = operationStatusError
	} else {
		entry.Status = operationStatusOK
	}
	for _, logger := range service.loggers {
		logger.LogOperation(ctx, entry)
	}
}
