package ledger

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestIdentifierConstructorsRejectBlank(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		build   func(string) error
		wantErr error
	}{
		{name: "user", build: func(raw string) error { _, err := NewUserID(raw); return err }, wantErr: ErrInvalidUserID},
		{name: "credit source", build: func(raw string) error { _, err := NewCreditSourceID(raw); return err }, wantErr: ErrInvalidCreditSourceID},
		{name: "listing", build: func(raw string) error { _, err := NewListingID(raw); return err }, wantErr: ErrInvalidListingID},
		{name: "grant", build: func(raw string) error { _, err := NewGrantID(raw); return err }, wantErr: ErrInvalidGrantID},
		{name: "transaction", build: func(raw string) error { _, err := NewTransactionID(raw); return err }, wantErr: ErrInvalidTransactionID},
		{name: "label", build: func(raw string) error { _, err := NewLabel(raw); return err }, wantErr: ErrInvalidLabel},
		{name: "sealed secret", build: func(raw string) error { _, err := NewSealedSecret(raw); return err }, wantErr: ErrInvalidSealedSecret},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			err := testCase.build("   ")
			if !errors.Is(err, testCase.wantErr) || !errors.Is(err, ErrValidation) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
			if err := testCase.build(" value "); err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestUserIDTrims(test *testing.T) {
	test.Parallel()
	if userID := mustUserID(test, "  user-9 "); userID.String() != "user-9" {
		test.Fatalf("expected trimmed id, got %q", userID)
	}
}

func TestUnitsValidation(test *testing.T) {
	test.Parallel()
	if _, err := NewUnits(-1); !errors.Is(err, ErrInvalidUnits) {
		test.Fatalf("expected %v, got %v", ErrInvalidUnits, err)
	}
	if units, err := NewUnits(0); err != nil || units != 0 {
		test.Fatalf("expected zero units, got %d (%v)", units, err)
	}
	if _, err := NewPositiveUnits(0); !errors.Is(err, ErrInvalidUnits) {
		test.Fatalf("expected %v, got %v", ErrInvalidUnits, err)
	}
	if units := mustPositiveUnits(test, 7); units.Units() != 7 {
		test.Fatalf("expected 7 units, got %d", units.Units())
	}
}

func TestPriceValidationAndTotals(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"0", "-0.01", "abc", ""} {
		if _, err := ParsePrice(raw); !errors.Is(err, ErrInvalidPrice) {
			test.Fatalf("price %q: expected %v, got %v", raw, ErrInvalidPrice, err)
		}
	}
	price := mustPrice(test, "0.01")
	total := price.Total(mustPositiveUnits(test, 300))
	if !total.Equal(decimal.RequireFromString("3")) {
		test.Fatalf("expected 3, got %s", total)
	}
	third := mustPrice(test, "0.0333")
	if got := third.Total(mustPositiveUnits(test, 3)); got.String() != "0.0999" {
		test.Fatalf("expected exact 0.0999, got %s", got)
	}
}

func TestMoneyScaleIsBounded(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"0.0000004", "0.0000015", "1.1234567"} {
		if _, err := ParsePrice(raw); !errors.Is(err, ErrInvalidPrice) {
			test.Fatalf("price %q: expected %v, got %v", raw, ErrInvalidPrice, err)
		}
		if _, err := NewDepositAmount(decimal.RequireFromString(raw)); !errors.Is(err, ErrInvalidAmount) {
			test.Fatalf("deposit %q: expected %v, got %v", raw, ErrInvalidAmount, err)
		}
	}
	smallest := mustPrice(test, "0.000001")
	if got := smallest.Total(mustPositiveUnits(test, 3)); got.String() != "0.000003" {
		test.Fatalf("expected exact 0.000003, got %s", got)
	}
	if _, err := ParsePrice("2.500000000"); err != nil {
		test.Fatalf("trailing zeros must be accepted: %v", err)
	}
	if _, err := NewDepositAmount(decimal.RequireFromString("9.995")); err != nil {
		test.Fatalf("three decimal deposit rejected: %v", err)
	}
}

func TestLabelAndDescriptionLimits(test *testing.T) {
	test.Parallel()
	if _, err := NewLabel(strings.Repeat("k", maxLabelLength+1)); !errors.Is(err, ErrInvalidLabel) {
		test.Fatalf("expected %v, got %v", ErrInvalidLabel, err)
	}
	if _, err := NewDescription(strings.Repeat("d", maxDescriptionLength+1)); !errors.Is(err, ErrInvalidDescription) {
		test.Fatalf("expected %v, got %v", ErrInvalidDescription, err)
	}
	description, err := NewDescription("  bulk gpt credit  ")
	if err != nil || description != "bulk gpt credit" {
		test.Fatalf("expected trimmed description, got %q (%v)", description, err)
	}
}

func TestMetadataJSONDefaultsAndValidation(test *testing.T) {
	test.Parallel()
	if metadata := mustMetadata(test, " "); metadata.String() != "{}" {
		test.Fatalf("expected default metadata, got %q", metadata)
	}
	if (MetadataJSON{}).String() != "{}" {
		test.Fatalf("expected zero metadata to render as {}")
	}
	if _, err := NewMetadataJSON("{"); !errors.Is(err, ErrInvalidMetadataJSON) {
		test.Fatalf("expected %v, got %v", ErrInvalidMetadataJSON, err)
	}
}

func TestRetryPolicyValidation(test *testing.T) {
	test.Parallel()
	if err := DefaultRetryPolicy().Validate(); err != nil {
		test.Fatalf("default policy invalid: %v", err)
	}
	invalid := []RetryPolicy{
		{MaxAttempts: 0, BaseDelay: 1, MaxDelay: 1},
		{MaxAttempts: 1, BaseDelay: 0, MaxDelay: 1},
		{MaxAttempts: 1, BaseDelay: 2, MaxDelay: 1},
		{MaxAttempts: 1, BaseDelay: 1, MaxDelay: 1, RandomizationFactor: -0.1},
		{MaxAttempts: 1, BaseDelay: 1, MaxDelay: 1, RandomizationFactor: 1},
	}
	for _, policy := range invalid {
		if err := policy.Validate(); !errors.Is(err, ErrInvalidServiceConfig) {
			test.Fatalf("policy %+v: expected %v, got %v", policy, ErrInvalidServiceConfig, err)
		}
	}
}
