package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// MarketStats summarizes the whole marketplace for operators.
type MarketStats struct {
	AccountCount     int
	ActiveListings   int
	TransactionCount int
	TotalValue       decimal.Decimal
}

// ListAccounts returns every account, newest first.
func (service *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	return service.store.ListAccounts(ctx)
}

// FindAccount returns the stored account or ErrNotFound when the user never opened one.
func (service *Service) FindAccount(ctx context.Context, userID UserID) (Account, error) {
	return service.store.GetAccount(ctx, userID)
}

// ListAllTransactions returns every recorded purchase, newest first.
func (service *Service) ListAllTransactions(ctx context.Context) ([]Transaction, error) {
	return service.store.ListTransactions(ctx, TransactionFilter{})
}

// Stats reads accounts, listings and transactions from one snapshot.
func (service *Service) Stats(ctx context.Context) (MarketStats, error) {
	var stats MarketStats
	err := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		accounts, err := txStore.ListAccounts(ctx)
		if err != nil {
			return err
		}
		listings, err := txStore.ListListings(ctx, ListingFilter{ActiveOnly: true})
		if err != nil {
			return err
		}
		transactions, err := txStore.ListTransactions(ctx, TransactionFilter{})
		if err != nil {
			return err
		}
		total := decimal.Zero
		for _, transaction := range transactions {
			total = total.Add(transaction.TotalAmount)
		}
		stats = MarketStats{
			AccountCount:     len(accounts),
			ActiveListings:   len(listings),
			TransactionCount: len(transactions),
			TotalValue:       total,
		}
		return nil
	})
	if err != nil {
		return MarketStats{}, err
	}
	return stats, nil
}
