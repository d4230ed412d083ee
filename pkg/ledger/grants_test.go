package ledger

import (
	"context"
	"errors"
	"testing"
)

func purchasedGrant(test *testing.T, fixture marketFixture, units int64) Grant {
	test.Helper()
	receipt, err := fixture.service.Purchase(context.Background(), fixture.buyer, fixture.listing.ID, mustPositiveUnits(test, units), MetadataJSON{})
	if err != nil {
		test.Fatalf("purchase: %v", err)
	}
	return receipt.Grant
}

func TestConsumeToZeroDeletesGrant(test *testing.T) {
	test.Parallel()
	fixture := newMarketFixture(test)
	grant := purchasedGrant(test, fixture, 50)
	ctx := context.Background()

	remaining, err := fixture.service.Consume(ctx, fixture.buyer, grant.ID, 50)
	if err != nil {
		test.Fatalf("consume: %v", err)
	}
	if remaining != 0 {
		test.Fatalf("expected 0 remaining, got %d", remaining)
	}
	if _, err := fixture.service.GetGrant(ctx, fixture.buyer, grant.ID); !errors.Is(err, ErrNotFound) {
		test.Fatalf("expected grant to be gone, got %v", err)
	}
}

func TestConsumePartialPersistsDecrement(test *testing.T) {
	test.Parallel()
	fixture := newMarketFixture(test)
	grant := purchasedGrant(test, fixture, 50)
	ctx := context.Background()

	for _, used := range []Units{0, 20, 5} {
		if _, err := fixture.service.Consume(ctx, fixture.buyer, grant.ID, used); err != nil {
			test.Fatalf("consume %d: %v", used, err)
		}
	}
	stored, err := fixture.service.GetGrant(ctx, fixture.buyer, grant.ID)
	if err != nil {
		test.Fatalf("get grant: %v", err)
	}
	if stored.UnitsRemaining != 25 {
		test.Fatalf("expected 25 remaining, got %d", stored.UnitsRemaining)
	}
}

func TestConsumeOverdraftFailsWithoutMutation(test *testing.T) {
	test.Parallel()
	fixture := newMarketFixture(test)
	grant := purchasedGrant(test, fixture, 10)
	ctx := context.Background()

	_, err := fixture.service.Consume(ctx, fixture.buyer, grant.ID, 15)
	if !errors.Is(err, ErrInsufficientGrantBalance) {
		test.Fatalf("expected %v, got %v", ErrInsufficientGrantBalance, err)
	}
	stored, err := fixture.service.GetGrant(ctx, fixture.buyer, grant.ID)
	if err != nil {
		test.Fatalf("get grant: %v", err)
	}
	if stored.UnitsRemaining != 10 {
		test.Fatalf("expected grant untouched at 10, got %d", stored.UnitsRemaining)
	}
}

func TestConsumeRejections(test *testing.T) {
	test.Parallel()
	fixture := newMarketFixture(test)
	grant := purchasedGrant(test, fixture, 10)
	testCases := []struct {
		name    string
		owner   UserID
		grantID GrantID
		units   Units
		wantErr error
	}{
		{name: "other owner", owner: mustUserID(test, otherIDValue), grantID: grant.ID, units: 1, wantErr: ErrNotFound},
		{name: "missing grant", owner: fixture.buyer, grantID: GrantID{value: "missing"}, units: 1, wantErr: ErrNotFound},
		{name: "negative usage", owner: fixture.buyer, grantID: grant.ID, units: -1, wantErr: ErrValidation},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			_, err := fixture.service.Consume(context.Background(), testCase.owner, testCase.grantID, testCase.units)
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestExhaustGrantRemovesRemainingBalance(test *testing.T) {
	test.Parallel()
	fixture := newMarketFixture(test)
	grant := purchasedGrant(test, fixture, 10)
	ctx := context.Background()

	if err := fixture.service.ExhaustGrant(ctx, fixture.buyer, grant.ID); err != nil {
		test.Fatalf("exhaust: %v", err)
	}
	if _, _, err := fixture.service.ResolveGrantSource(ctx, fixture.buyer, grant.ID); !errors.Is(err, ErrNotFound) {
		test.Fatalf("expected %v, got %v", ErrNotFound, err)
	}
}

func TestResolveGrantSourceReturnsSellerSource(test *testing.T) {
	test.Parallel()
	fixture := newMarketFixture(test)
	grant := purchasedGrant(test, fixture, 10)

	resolved, source, err := fixture.service.ResolveGrantSource(context.Background(), fixture.buyer, grant.ID)
	if err != nil {
		test.Fatalf("resolve: %v", err)
	}
	if resolved.ID != grant.ID || source.ID != fixture.source.ID || source.SealedSecret.String() != sealedValue {
		test.Fatalf("unexpected resolution: %+v %+v", resolved, source)
	}
}

func TestConsumeOwnedClampsAtZero(test *testing.T) {
	test.Parallel()
	fixture := newMarketFixture(test)
	ctx := context.Background()

	remaining, err := fixture.service.ConsumeOwned(ctx, fixture.seller, fixture.source.ID, 550)
	if err != nil {
		test.Fatalf("consume owned: %v", err)
	}
	if remaining != 50 {
		test.Fatalf("expected 50 remaining, got %d", remaining)
	}
	remaining, err = fixture.service.ConsumeOwned(ctx, fixture.seller, fixture.source.ID, 80)
	if err != nil {
		test.Fatalf("consume owned overdraft: %v", err)
	}
	if remaining != 0 {
		test.Fatalf("expected clamp at 0, got %d", remaining)
	}
	source, err := fixture.service.GetCreditSource(ctx, fixture.seller, fixture.source.ID)
	if err != nil {
		test.Fatalf("source must survive exhaustion: %v", err)
	}
	if source.UsedCredit != 600 || source.AvailableCredit != 0 {
		test.Fatalf("expected used 600 and available 0, got used %d available %d", source.UsedCredit, source.AvailableCredit)
	}
	if _, err := fixture.service.ConsumeOwned(ctx, fixture.buyer, fixture.source.ID, 1); !errors.Is(err, ErrNotFound) {
		test.Fatalf("expected %v for foreign source, got %v", ErrNotFound, err)
	}
}
