package broker

import (
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/tokenmarket/pkg/ledger"
)

var (
	// ErrProviderError wraps every upstream failure, including timeouts.
	ErrProviderError = errors.New("provider error")
	// ErrCredentialUnavailable hides vault failures from callers.
	ErrCredentialUnavailable = errors.New("credential could not be opened")
	// ErrCredentialExhausted is the soft stop for owned keys with no remaining credit.
	ErrCredentialExhausted = errors.New("credential has no remaining credit")
	// ErrInvalidBrokerConfig reports missing dependencies.
	ErrInvalidBrokerConfig = errors.New("invalid broker configuration")

	ErrInvalidReference = fmt.Errorf("%w: invalid credential reference", ledger.ErrValidation)
	ErrEmptyPrompt      = fmt.Errorf("%w: empty prompt", ledger.ErrValidation)
	ErrEmptyModel       = fmt.Errorf("%w: empty model id", ledger.ErrValidation)
	ErrVendorMismatch   = fmt.Errorf("%w: model not served by credential vendor", ledger.ErrValidation)
)
