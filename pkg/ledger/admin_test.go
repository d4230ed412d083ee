package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestStatsAggregatesWholeMarket(test *testing.T) {
	test.Parallel()
	fixture := newMarketFixture(test)
	ctx := context.Background()
	purchasedGrant(test, fixture, 50)
	purchasedGrant(test, fixture, 25)

	stats, err := fixture.service.Stats(ctx)
	if err != nil {
		test.Fatalf("stats: %v", err)
	}
	if stats.AccountCount != 2 || stats.ActiveListings != 1 || stats.TransactionCount != 2 {
		test.Fatalf("unexpected stats %+v", stats)
	}
	if !stats.TotalValue.Equal(mustDecimal(test, "0.75")) {
		test.Fatalf("expected total value 0.75, got %s", stats.TotalValue)
	}

	if _, err := fixture.service.CloseListing(ctx, fixture.seller, fixture.listing.ID); err != nil {
		test.Fatalf("close listing: %v", err)
	}
	stats, err = fixture.service.Stats(ctx)
	if err != nil {
		test.Fatalf("stats after close: %v", err)
	}
	if stats.ActiveListings != 0 || stats.TransactionCount != 2 {
		test.Fatalf("closed listing must leave history intact, got %+v", stats)
	}
}

func TestListAllTransactionsSpansUsers(test *testing.T) {
	test.Parallel()
	fixture := newMarketFixture(test)
	ctx := context.Background()
	other := mustUserID(test, otherIDValue)
	mustDeposit(test, fixture.service, other, "1.00")
	purchasedGrant(test, fixture, 10)
	if _, err := fixture.service.Purchase(ctx, other, fixture.listing.ID, mustPositiveUnits(test, 5), MetadataJSON{}); err != nil {
		test.Fatalf("purchase by other buyer: %v", err)
	}

	transactions, err := fixture.service.ListAllTransactions(ctx)
	if err != nil {
		test.Fatalf("list transactions: %v", err)
	}
	buyers := map[UserID]bool{}
	for _, transaction := range transactions {
		buyers[transaction.BuyerID] = true
	}
	if len(transactions) != 2 || !buyers[fixture.buyer] || !buyers[other] {
		test.Fatalf("expected one purchase per buyer, got %+v", transactions)
	}

	accounts, err := fixture.service.ListAccounts(ctx)
	if err != nil {
		test.Fatalf("list accounts: %v", err)
	}
	if len(accounts) != 3 {
		test.Fatalf("expected seller and two buyers, got %d accounts", len(accounts))
	}
	if _, err := fixture.service.FindAccount(ctx, mustUserID(test, "never-seen")); !errors.Is(err, ErrNotFound) {
		test.Fatalf("expected %v for unknown account, got %v", ErrNotFound, err)
	}
}
