package ledger

import (
	"errors"
	"fmt"
)

// ErrValidation marks input that is malformed or out of range. It never reaches storage.
var ErrValidation = errors.New("validation failed")

// Domain-level error values returned by the ledger service.
var (
	ErrNotFound                 = errors.New("not found")
	ErrForbidden                = errors.New("forbidden")
	ErrInsufficientCredit       = errors.New("insufficient credit")
	ErrInsufficientInventory    = errors.New("insufficient inventory")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrInsufficientGrantBalance = errors.New("insufficient grant balance")
	ErrSelfTrade                = errors.New("buyer and seller are the same user")
	ErrConcurrentUpdate         = errors.New("concurrent update")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
)

// Validation errors; each wraps ErrValidation.
var (
	ErrInvalidUserID         = fmt.Errorf("%w: invalid user id", ErrValidation)
	ErrInvalidCreditSourceID = fmt.Errorf("%w: invalid credit source id", ErrValidation)
	ErrInvalidListingID      = fmt.Errorf("%w: invalid listing id", ErrValidation)
	ErrInvalidGrantID        = fmt.Errorf("%w: invalid grant id", ErrValidation)
	ErrInvalidTransactionID  = fmt.Errorf("%w: invalid transaction id", ErrValidation)
	ErrInvalidUnits          = fmt.Errorf("%w: invalid units", ErrValidation)
	ErrInvalidPrice          = fmt.Errorf("%w: invalid price", ErrValidation)
	ErrInvalidAmount         = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrInvalidLabel          = fmt.Errorf("%w: invalid label", ErrValidation)
	ErrInvalidDescription    = fmt.Errorf("%w: invalid description", ErrValidation)
	ErrInvalidSealedSecret   = fmt.Errorf("%w: invalid sealed secret", ErrValidation)
	ErrInvalidMetadataJSON   = fmt.Errorf("%w: invalid metadata json", ErrValidation)
	ErrEmptyUpdate           = fmt.Errorf("%w: nothing to update", ErrValidation)
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// IsBusinessRule reports whether err is a recoverable rule violation the caller can act on.
func IsBusinessRule(err error) bool {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInsufficientCredit),
		errors.Is(err, ErrInsufficientInventory),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInsufficientGrantBalance),
		errors.Is(err, ErrSelfTrade),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrForbidden):
		return true
	default:
		return false
	}
}
