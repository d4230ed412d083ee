package gormstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/tokenmarket/pkg/ledger"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const concurrentConnections = 8

func openSharedStore(test *testing.T) *Store {
	test.Helper()
	dsn := filepath.Join(test.TempDir(), "shared.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(concurrentConnections)
	test.Cleanup(func() { _ = sqlDB.Close() })
	store := New(db)
	if err := store.AutoMigrate(context.Background()); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	return store
}

func TestConcurrentPurchasesOnSharedDatabase(test *testing.T) {
	store := openSharedStore(test)
	service, err := ledger.NewService(store, func() time.Time { return storeNow }, ledger.WithRetryPolicy(ledger.RetryPolicy{
		MaxAttempts:         50,
		BaseDelay:           time.Millisecond,
		MaxDelay:            20 * time.Millisecond,
		RandomizationFactor: 0.5,
	}))
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	ctx := context.Background()
	seller := mustUser(test, "seller-1")
	source, err := service.RegisterCreditSource(ctx, seller, mustLabel(test, "gpt-team"), mustSealed(test, "c2VhbGVk"), 1000)
	if err != nil {
		test.Fatalf("register source: %v", err)
	}
	const listed = 100
	listing, err := service.CreateListing(ctx, seller, source.ID, listed, mustPrice(test, "0.01"), "")
	if err != nil {
		test.Fatalf("create listing: %v", err)
	}

	const buyers = 20
	buyerIDs := make([]ledger.UserID, buyers)
	for index := range buyerIDs {
		buyerIDs[index] = mustUser(test, fmt.Sprintf("buyer-%02d", index))
		if _, err := service.Deposit(ctx, buyerIDs[index], decimal.RequireFromString("1")); err != nil {
			test.Fatalf("deposit: %v", err)
		}
	}

	var (
		waitGroup  sync.WaitGroup
		mutex      sync.Mutex
		sold       int64
		successes  int
		unexpected []error
	)
	start := make(chan struct{})
	for _, buyerID := range buyerIDs {
		waitGroup.Add(1)
		go func(buyerID ledger.UserID) {
			defer waitGroup.Done()
			<-start
			receipt, err := service.Purchase(ctx, buyerID, listing.ID, 10, ledger.MetadataJSON{})
			mutex.Lock()
			defer mutex.Unlock()
			switch {
			case err == nil:
				sold += receipt.Transaction.UnitsPurchased.Int64()
				successes++
			case errors.Is(err, ledger.ErrInsufficientInventory), errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrConcurrentUpdate):
			default:
				unexpected = append(unexpected, err)
			}
		}(buyerID)
	}
	close(start)
	waitGroup.Wait()

	if len(unexpected) > 0 {
		test.Fatalf("unexpected purchase errors: %v", unexpected)
	}
	if successes == 0 || sold > listed {
		test.Fatalf("expected between 1 and %d units sold, got %d in %d purchases", listed, sold, successes)
	}

	storedListing, err := store.GetListing(ctx, listing.ID)
	if err != nil {
		test.Fatalf("get listing: %v", err)
	}
	if storedListing.UnitsForSale.Int64()+sold != listed {
		test.Fatalf("inventory leak: %d left after selling %d of %d", storedListing.UnitsForSale, sold, listed)
	}

	var granted int64
	buyerCash := decimal.Zero
	for _, buyerID := range buyerIDs {
		grants, err := store.ListGrants(ctx, buyerID)
		if err != nil {
			test.Fatalf("list grants: %v", err)
		}
		for _, grant := range grants {
			granted += grant.UnitsRemaining.Int64()
		}
		account, err := store.GetAccount(ctx, buyerID)
		if err != nil {
			test.Fatalf("get buyer: %v", err)
		}
		buyerCash = buyerCash.Add(account.CashBalance)
	}
	if granted != sold {
		test.Fatalf("expected %d granted units, got %d", sold, granted)
	}
	sellerAccount, err := store.GetAccount(ctx, seller)
	if err != nil {
		test.Fatalf("get seller: %v", err)
	}
	revenue := decimal.NewFromInt(sold).Mul(decimal.RequireFromString("0.01"))
	if !sellerAccount.CashBalance.Equal(revenue) {
		test.Fatalf("expected seller revenue %s, got %s", revenue, sellerAccount.CashBalance)
	}
	if total := buyerCash.Add(sellerAccount.CashBalance); !total.Equal(decimal.NewFromInt(buyers)) {
		test.Fatalf("cash not conserved: %s", total)
	}
	sales, err := store.ListTransactions(ctx, ledger.TransactionFilter{SellerID: &seller})
	if err != nil {
		test.Fatalf("list sales: %v", err)
	}
	if len(sales) != successes {
		test.Fatalf("expected %d transactions, got %d", successes, len(sales))
	}
}
