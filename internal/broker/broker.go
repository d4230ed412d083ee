// Package broker resolves credentials, performs metered provider calls and bills actual usage to the ledger.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tokenmarket/internal/provider"
	"github.com/MarkoPoloResearchLab/tokenmarket/pkg/ledger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	tracerName             = "github.com/MarkoPoloResearchLab/tokenmarket/internal/broker"
	defaultProviderTimeout = 60 * time.Second
	chargeTimeout          = 15 * time.Second

	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Ledger is the subset of ledger.Service the broker drives.
type Ledger interface {
	RegisterCreditSource(ctx context.Context, ownerID ledger.UserID, label ledger.Label, sealedSecret ledger.SealedSecret, totalCredit ledger.Units) (ledger.CreditSource, error)
	GetCreditSource(ctx context.Context, ownerID ledger.UserID, sourceID ledger.CreditSourceID) (ledger.CreditSource, error)
	GetGrant(ctx context.Context, ownerID ledger.UserID, grantID ledger.GrantID) (ledger.Grant, error)
	ResolveGrantSource(ctx context.Context, ownerID ledger.UserID, grantID ledger.GrantID) (ledger.Grant, ledger.CreditSource, error)
	Consume(ctx context.Context, ownerID ledger.UserID, grantID ledger.GrantID, unitsUsed ledger.Units) (ledger.Units, error)
	ExhaustGrant(ctx context.Context, ownerID ledger.UserID, grantID ledger.GrantID) error
	ConsumeOwned(ctx context.Context, ownerID ledger.UserID, sourceID ledger.CreditSourceID, unitsUsed ledger.Units) (ledger.Units, error)
}

// Vault seals and opens provider secrets.
type Vault interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// UsageProvider performs a model call and reports its usage.
type UsageProvider interface {
	Call(ctx context.Context, secret string, modelID string, prompt string) (provider.Completion, error)
}

// ModelCatalog lists the models a credential label can reach.
type ModelCatalog interface {
	ModelsFor(label string) (provider.Vendor, []provider.Model, error)
}

// CallObserver receives one observation per provider call.
type CallObserver interface {
	ObserveProviderCall(vendor string, outcome string, duration time.Duration)
}

// ResolvedCredential is an opened secret together with its quota.
type ResolvedCredential struct {
	Ref            CredentialRef
	Secret         string
	Label          ledger.Label
	RemainingUnits ledger.Units
}

// MeteredResult is the outcome of a billed call.
type MeteredResult struct {
	Text           string
	UsageCount     int64
	RemainingUnits ledger.Units
	Exhausted      bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithProviderTimeout bounds each provider call.
func WithProviderTimeout(timeout time.Duration) Option {
	return func(broker *Broker) {
		if timeout > 0 {
			broker.providerTimeout = timeout
		}
	}
}

// WithCallObserver registers a provider call observer.
func WithCallObserver(observer CallObserver) Option {
	return func(broker *Broker) {
		if observer != nil {
			broker.observers = append(broker.observers, observer)
		}
	}
}

// WithLogger sets the logger used for server-side failure detail.
func WithLogger(logger *zap.Logger) Option {
	return func(broker *Broker) {
		if logger != nil {
			broker.logger = logger
		}
	}
}

// WithTracer overrides the tracer used for call spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(broker *Broker) {
		if tracer != nil {
			broker.tracer = tracer
		}
	}
}

// Broker meters provider access against owned keys and purchased grants.
type Broker struct {
	ledger          Ledger
	vault           Vault
	provider        UsageProvider
	catalog         ModelCatalog
	providerTimeout time.Duration
	observers       []CallObserver
	logger          *zap.Logger
	tracer          trace.Tracer
}

// New wires a Broker.
func New(ledgerService Ledger, vault Vault, usageProvider UsageProvider, catalog ModelCatalog, options ...Option) (*Broker, error) {
	if ledgerService == nil || vault == nil || usageProvider == nil || catalog == nil {
		return nil, fmt.Errorf("%w: ledger, vault, provider and catalog are required", ErrInvalidBrokerConfig)
	}
	broker := &Broker{
		ledger:          ledgerService,
		vault:           vault,
		provider:        usageProvider,
		catalog:         catalog,
		providerTimeout: defaultProviderTimeout,
		logger:          zap.NewNop(),
		tracer:          otel.Tracer(tracerName),
	}
	for _, option := range options {
		option(broker)
	}
	return broker, nil
}

// RegisterCredential seals secret and registers it as a credit source. The plaintext is never stored.
func (broker *Broker) RegisterCredential(ctx context.Context, ownerID ledger.UserID, label ledger.Label, secret string, totalCredit ledger.Units) (ledger.CreditSource, error) {
	if strings.TrimSpace(secret) == "" {
		return ledger.CreditSource{}, fmt.Errorf("%w: empty secret", ledger.ErrInvalidSealedSecret)
	}
	sealedValue, err := broker.vault.Seal(secret)
	if err != nil {
		broker.logger.Error("seal credential", zap.String("owner_id", ownerID.String()), zap.Error(err))
		return ledger.CreditSource{}, ErrCredentialUnavailable
	}
	sealed, err := ledger.NewSealedSecret(sealedValue)
	if err != nil {
		return ledger.CreditSource{}, err
	}
	return broker.ledger.RegisterCreditSource(ctx, ownerID, label, sealed, totalCredit)
}

// AvailableModels returns the vendor and models reachable through the referenced credential.
func (broker *Broker) AvailableModels(ctx context.Context, ownerID ledger.UserID, ref CredentialRef) (provider.Vendor, []provider.Model, error) {
	var label ledger.Label
	switch ref.Kind() {
	case KindOwned:
		source, err := broker.ledger.GetCreditSource(ctx, ownerID, ref.sourceID)
		if err != nil {
			return "", nil, err
		}
		label = source.Label
	case KindGrant:
		grant, err := broker.ledger.GetGrant(ctx, ownerID, ref.grantID)
		if err != nil {
			return "", nil, err
		}
		label = grant.Label
	default:
		return "", nil, ErrInvalidReference
	}
	vendor, models, err := broker.catalog.ModelsFor(label.String())
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	return vendor, models, nil
}

// ResolveCredential opens the secret behind ref. Grants open the seller's secret, which is never returned to HTTP callers.
func (broker *Broker) ResolveCredential(ctx context.Context, ownerID ledger.UserID, ref CredentialRef) (ResolvedCredential, error) {
	var (
		sealed    ledger.SealedSecret
		label     ledger.Label
		remaining ledger.Units
	)
	switch ref.Kind() {
	case KindOwned:
		source, err := broker.ledger.GetCreditSource(ctx, ownerID, ref.sourceID)
		if err != nil {
			return ResolvedCredential{}, err
		}
		if source.AvailableCredit <= 0 {
			return ResolvedCredential{}, fmt.Errorf("%w: source %s", ErrCredentialExhausted, ref.sourceID)
		}
		sealed, label, remaining = source.SealedSecret, source.Label, source.AvailableCredit
	case KindGrant:
		grant, source, err := broker.ledger.ResolveGrantSource(ctx, ownerID, ref.grantID)
		if err != nil {
			return ResolvedCredential{}, err
		}
		sealed, label, remaining = source.SealedSecret, grant.Label, grant.UnitsRemaining
	default:
		return ResolvedCredential{}, ErrInvalidReference
	}
	secret, err := broker.vault.Open(sealed.String())
	if err != nil {
		broker.logger.Error("open credential",
			zap.String("owner_id", ownerID.String()),
			zap.String("kind", string(ref.Kind())),
			zap.String("reference_id", ref.ID()),
			zap.Error(err))
		return ResolvedCredential{}, ErrCredentialUnavailable
	}
	return ResolvedCredential{Ref: ref, Secret: secret, Label: label, RemainingUnits: remaining}, nil
}

// PerformMeteredCall invokes the model with the referenced credential and bills the reported usage.
// Provider failures never touch the ledger. Usage larger than a grant's balance removes the grant
// and still returns the generated text with zero remaining units.
func (broker *Broker) PerformMeteredCall(ctx context.Context, ownerID ledger.UserID, ref CredentialRef, prompt string, modelID string) (result MeteredResult, err error) {
	if strings.TrimSpace(prompt) == "" {
		return MeteredResult{}, ErrEmptyPrompt
	}
	if strings.TrimSpace(modelID) == "" {
		return MeteredResult{}, ErrEmptyModel
	}
	ctx, span := broker.tracer.Start(ctx, "Broker.PerformMeteredCall", trace.WithAttributes(
		attribute.String("credential.kind", string(ref.Kind())),
		attribute.String("credential.id", ref.ID()),
		attribute.String("model.id", modelID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	credential, err := broker.ResolveCredential(ctx, ownerID, ref)
	if err != nil {
		return MeteredResult{}, err
	}
	if err := matchVendor(credential.Label, modelID); err != nil {
		return MeteredResult{}, err
	}
	completion, err := broker.call(ctx, credential.Secret, modelID, prompt)
	if err != nil {
		return MeteredResult{}, err
	}
	span.SetAttributes(attribute.Int64("usage.count", completion.UsageCount))

	// The provider has already spent the credit, so billing must outlive the caller.
	chargeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), chargeTimeout)
	defer cancel()
	return broker.charge(chargeCtx, ownerID, ref, credential, completion)
}

func (broker *Broker) charge(ctx context.Context, ownerID ledger.UserID, ref CredentialRef, credential ResolvedCredential, completion provider.Completion) (MeteredResult, error) {
	usage := ledger.Units(completion.UsageCount)
	result := MeteredResult{Text: completion.Text, UsageCount: completion.UsageCount}
	switch ref.Kind() {
	case KindGrant:
		remaining, err := broker.ledger.Consume(ctx, ownerID, ref.grantID, usage)
		if errors.Is(err, ledger.ErrInsufficientGrantBalance) {
			broker.logger.Warn("grant overdrawn by metered call",
				zap.String("owner_id", ownerID.String()),
				zap.String("grant_id", ref.ID()),
				zap.Int64("usage", completion.UsageCount),
				zap.Int64("remaining", credential.RemainingUnits.Int64()))
			if exhaustErr := broker.ledger.ExhaustGrant(ctx, ownerID, ref.grantID); exhaustErr != nil && !errors.Is(exhaustErr, ledger.ErrNotFound) {
				return MeteredResult{}, exhaustErr
			}
			result.RemainingUnits = 0
			result.Exhausted = true
			return result, nil
		}
		if err != nil {
			return MeteredResult{}, err
		}
		result.RemainingUnits = remaining
		result.Exhausted = remaining == 0
	case KindOwned:
		remaining, err := broker.ledger.ConsumeOwned(ctx, ownerID, ref.sourceID, usage)
		if err != nil {
			return MeteredResult{}, err
		}
		result.RemainingUnits = remaining
		result.Exhausted = remaining == 0
	}
	return result, nil
}

// matchVendor keeps a credential from being sent to another vendor's endpoint.
func matchVendor(label ledger.Label, modelID string) error {
	credentialVendor, err := provider.VendorForLabel(label.String())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVendorMismatch, err)
	}
	modelVendor, err := provider.VendorForModel(modelID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVendorMismatch, err)
	}
	if credentialVendor != modelVendor {
		return fmt.Errorf("%w: %s credential cannot call %s model %q", ErrVendorMismatch, credentialVendor, modelVendor, modelID)
	}
	return nil
}

func (broker *Broker) call(ctx context.Context, secret string, modelID string, prompt string) (provider.Completion, error) {
	vendor := "unknown"
	if resolved, err := provider.VendorForModel(modelID); err == nil {
		vendor = string(resolved)
	}
	callCtx, cancel := context.WithTimeout(ctx, broker.providerTimeout)
	defer cancel()

	started := time.Now()
	completion, err := broker.provider.Call(callCtx, secret, modelID, prompt)
	elapsed := time.Since(started)
	outcome := OutcomeSuccess
	switch {
	case err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded):
		outcome = OutcomeTimeout
		err = fmt.Errorf("%w: timed out after %s", ErrProviderError, broker.providerTimeout)
	case err != nil:
		outcome = OutcomeError
		err = fmt.Errorf("%w: %v", ErrProviderError, err)
	case completion.UsageCount < 0:
		outcome = OutcomeError
		err = fmt.Errorf("%w: negative usage %d", ErrProviderError, completion.UsageCount)
	}
	for _, observer := range broker.observers {
		observer.ObserveProviderCall(vendor, outcome, elapsed)
	}
	if err != nil {
		return provider.Completion{}, err
	}
	return completion, nil
}
