package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Service contains the domain logic over a Store.
type Service struct {
	store       Store
	nowFn       func() time.Time
	idFn        func() string
	loggers     []OperationLogger
	retryPolicy RetryPolicy
	tracer      trace.Tracer
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:       store,
		nowFn:       now,
		idFn:        uuid.NewString,
		retryPolicy: DefaultRetryPolicy(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if err := service.retryPolicy.Validate(); err != nil {
		return nil, err
	}
	return service, nil
}

// execute runs fn atomically, replaying it on optimistic conflicts, and reports the outcome.
func (service *Service) execute(ctx context.Context, entry *OperationLog, fn func(ctx context.Context, txStore Store) error) error {
	ctx, span := service.tracer.Start(ctx, entry.Operation, trace.WithAttributes(
		attribute.String("ledger.user_id", entry.UserID.String()),
		attribute.String("ledger.subject_id", entry.SubjectID),
	))
	defer span.End()

	started := time.Now()
	err := service.retryPolicy.run(ctx, func() error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return service.store.WithTx(ctx, fn)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	entry.Error = err
	entry.Duration = time.Since(started)
	entry.OccurredAt = service.nowFn().UTC()
	service.logOperation(ctx, *entry)
	return err
}

func (service *Service) now() time.Time {
	return service.nowFn().UTC()
}

// OpenAccount returns the user's account, creating it with a zero balance if needed.
func (service *Service) OpenAccount(ctx context.Context, userID UserID) (Account, error) {
	var account Account
	entry := OperationLog{Operation: OperationOpenAccount, UserID: userID, SubjectID: userID.String()}
	err := service.execute(ctx, &entry, func(ctx context.Context, txStore Store) error {
		opened, err := txStore.GetOrCreateAccount(ctx, userID, service.now())
		if err != nil {
			return err
		}
		account = opened
		return nil
	})
	return account, err
}

// GetAccount returns the user's account. Unknown users read as an empty account.
func (service *Service) GetAccount(ctx context.Context, userID UserID) (Account, error) {
	account, err := service.store.GetAccount(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return Account{UserID: userID, CashBalance: decimal.Zero}, nil
	}
	return account, err
}

// Deposit credits the user's in-ledger cash balance.
func (service *Service) Deposit(ctx context.Context, userID UserID, amount decimal.Decimal) (Account, error) {
	depositAmount, err := NewDepositAmount(amount)
	if err != nil {
		return Account{}, err
	}
	var account Account
	entry := OperationLog{Operation: OperationDeposit, UserID: userID, SubjectID: userID.String(), Amount: depositAmount}
	err = service.execute(ctx, &entry, func(ctx context.Context, txStore Store) error {
		current, err := txStore.GetOrCreateAccount(ctx, userID, service.now())
		if err != nil {
			return err
		}
		current.CashBalance = current.CashBalance.Add(depositAmount)
		if err := txStore.UpdateAccount(ctx, current); err != nil {
			return err
		}
		current.Version++
		account = current
		return nil
	})
	return account, err
}

// RegisterCreditSource stores an already sealed provider credential with its full credit available.
func (service *Service) RegisterCreditSource(ctx context.Context, ownerID UserID, label Label, sealedSecret SealedSecret, totalCredit Units) (CreditSource, error) {
	if _, err := NewUnits(totalCredit.Int64()); err != nil {
		return CreditSource{}, err
	}
	sourceID, err := NewCreditSourceID(service.idFn())
	if err != nil {
		return CreditSource{}, err
	}
	var source CreditSource
	entry := OperationLog{Operation: OperationRegisterCreditSource, UserID: ownerID, SubjectID: sourceID.String(), Units: totalCredit.Int64()}
	err = service.execute(ctx, &entry, func(ctx context.Context, txStore Store) error {
		if _, err := txStore.GetOrCreateAccount(ctx, ownerID, service.now()); err != nil {
			return err
		}
		candidate := CreditSource{
			ID:              sourceID,
			OwnerID:         ownerID,
			Label:           label,
			SealedSecret:    sealedSecret,
			TotalCredit:     totalCredit,
			AvailableCredit: totalCredit,
			CreatedAt:       service.now(),
		}
		if err := txStore.InsertCreditSource(ctx, candidate); err != nil {
			return err
		}
		source = candidate
		return nil
	})
	return source, err
}

// RenameCreditSource relabels a source. Listings keep the label they were created with.
func (service *Service) RenameCreditSource(ctx context.Context, ownerID UserID, sourceID CreditSourceID, label Label) (CreditSource, error) {
	var source CreditSource
	entry := OperationLog{Operation: OperationRenameCreditSource, UserID: ownerID, SubjectID: sourceID.String()}
	err := service.execute(ctx, &entry, func(ctx context.Context, txStore Store) error {
		current, err := ownedCreditSource(ctx, txStore, ownerID, sourceID)
		if err != nil {
			return err
		}
		current.Label = label
		if err := txStore.UpdateCreditSource(ctx, current); err != nil {
			return err
		}
		current.Version++
		source = current
		return nil
	})
	return source, err
}

// AdjustCreditSource applies delta to both total and available credit.
func (service *Service) AdjustCreditSource(ctx context.Context, ownerID UserID, sourceID CreditSourceID, delta int64) (CreditSource, error) {
	var source CreditSource
	entry := OperationLog{Operation: OperationAdjustCreditSource, UserID: ownerID, SubjectID: sourceID.String(), Units: delta}
	err := service.execute(ctx, &entry, func(ctx context.Context, txStore Store) error {
		current, err := ownedCreditSource(ctx, txStore, ownerID, sourceID)
		if err != nil {
			return err
		}
		nextAvailable := current.AvailableCredit.Int64() + delta
		nextTotal := current.TotalCredit.Int64() + delta
		if nextAvailable < 0 || nextTotal < 0 {
			return fmt.Errorf("%w: cannot remove %d units, available %d", ErrInsufficientCredit, -delta, current.AvailableCredit)
		}
		current.AvailableCredit = Units(nextAvailable)
		current.TotalCredit = Units(nextTotal)
		if err := txStore.UpdateCreditSource(ctx, current); err != nil {
			return err
		}
		current.Version++
		source = current
		return nil
	})
	return source, err
}

// RemoveCreditSource deletes a source. Listings drawn from it stay until closed.
func (service *Service) RemoveCreditSource(ctx context.Context, ownerID UserID, sourceID CreditSourceID) error {
	entry := OperationLog{Operation: OperationRemoveCreditSource, UserID: ownerID, SubjectID: sourceID.String()}
	return service.execute(ctx, &entry, func(ctx context.Context, txStore Store) error {
		current, err := ownedCreditSource(ctx, txStore, ownerID, sourceID)
		if err != nil {
			return err
		}
		return txStore.DeleteCreditSource(ctx, current)
	})
}

// GetCreditSource returns one of the owner's sources.
func (service *Service) GetCreditSource(ctx context.Context, ownerID UserID, sourceID CreditSourceID) (CreditSource, error) {
	return ownedCreditSource(ctx, service.store, ownerID, sourceID)
}

// ListCreditSources returns the owner's sources.
func (service *Service) ListCreditSources(ctx context.Context, ownerID UserID) ([]CreditSource, error) {
	return service.store.ListCreditSources(ctx, ownerID)
}

func ownedCreditSource(ctx context.Context, store Store, ownerID UserID, sourceID CreditSourceID) (CreditSource, error) {
	source, err := store.GetCreditSource(ctx, sourceID)
	if err != nil {
		return CreditSource{}, err
	}
	if source.OwnerID != ownerID {
		return CreditSource{}, fmt.Errorf("%w: credit source %s", ErrNotFound, sourceID)
	}
	return source, nil
}
