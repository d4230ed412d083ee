package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// stubStore keeps all state in maps. WithTx serializes callers on a single mutex and restores a
// snapshot when fn fails, which gives tests all-or-nothing semantics.
type stubStore struct {
	mutex  *sync.Mutex
	state  *stubState
	inTx   bool
	failOn map[string]error
}

type stubState struct {
	accounts     map[UserID]Account
	sources      map[CreditSourceID]CreditSource
	listings     map[ListingID]Listing
	transactions []Transaction
	grants       map[GrantID]Grant
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		mutex: &sync.Mutex{},
		state: &stubState{
			accounts: map[UserID]Account{},
			sources:  map[CreditSourceID]CreditSource{},
			listings: map[ListingID]Listing{},
			grants:   map[GrantID]Grant{},
		},
		failOn: map[string]error{},
	}
}

func (state *stubState) clone() *stubState {
	copied := &stubState{
		accounts:     make(map[UserID]Account, len(state.accounts)),
		sources:      make(map[CreditSourceID]CreditSource, len(state.sources)),
		listings:     make(map[ListingID]Listing, len(state.listings)),
		transactions: append([]Transaction(nil), state.transactions...),
		grants:       make(map[GrantID]Grant, len(state.grants)),
	}
	for key, value := range state.accounts {
		copied.accounts[key] = value
	}
	for key, value := range state.sources {
		copied.sources[key] = value
	}
	for key, value := range state.listings {
		copied.listings[key] = value
	}
	for key, value := range state.grants {
		copied.grants[key] = value
	}
	return copied
}

func (store *stubStore) fail(method string) error {
	return store.failOn[method]
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if store.inTx {
		return fn(ctx, store)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if err := store.fail("WithTx"); err != nil {
		return err
	}
	snapshot := store.state.clone()
	txStore := &stubStore{mutex: store.mutex, state: store.state, inTx: true, failOn: store.failOn}
	if err := fn(ctx, txStore); err != nil {
		*store.state = *snapshot
		return err
	}
	return nil
}

func (store *stubStore) GetOrCreateAccount(ctx context.Context, userID UserID, now time.Time) (Account, error) {
	if err := store.fail("GetOrCreateAccount"); err != nil {
		return Account{}, err
	}
	account, ok := store.state.accounts[userID]
	if !ok {
		account = Account{UserID: userID, CashBalance: decimal.Zero, CreatedAt: now}
		store.state.accounts[userID] = account
	}
	return account, nil
}

func (store *stubStore) GetAccount(ctx context.Context, userID UserID) (Account, error) {
	account, ok := store.state.accounts[userID]
	if !ok {
		return Account{}, fmt.Errorf("%w: account %s", ErrNotFound, userID)
	}
	return account, nil
}

func (store *stubStore) ListAccounts(ctx context.Context) ([]Account, error) {
	accounts := []Account{}
	for _, account := range store.state.accounts {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(left, right int) bool { return accounts[left].CreatedAt.After(accounts[right].CreatedAt) })
	return accounts, nil
}

func (store *stubStore) UpdateAccount(ctx context.Context, account Account) error {
	if err := store.fail("UpdateAccount"); err != nil {
		return err
	}
	current, ok := store.state.accounts[account.UserID]
	if !ok || current.Version != account.Version {
		return ErrConcurrentUpdate
	}
	account.Version++
	store.state.accounts[account.UserID] = account
	return nil
}

func (store *stubStore) InsertCreditSource(ctx context.Context, source CreditSource) error {
	if err := store.fail("InsertCreditSource"); err != nil {
		return err
	}
	store.state.sources[source.ID] = source
	return nil
}

func (store *stubStore) GetCreditSource(ctx context.Context, sourceID CreditSourceID) (CreditSource, error) {
	source, ok := store.state.sources[sourceID]
	if !ok {
		return CreditSource{}, fmt.Errorf("%w: credit source %s", ErrNotFound, sourceID)
	}
	return source, nil
}

func (store *stubStore) ListCreditSources(ctx context.Context, ownerID UserID) ([]CreditSource, error) {
	sources := []CreditSource{}
	for _, source := range store.state.sources {
		if source.OwnerID == ownerID {
			sources = append(sources, source)
		}
	}
	sort.Slice(sources, func(left, right int) bool { return sources[left].ID.String() < sources[right].ID.String() })
	return sources, nil
}

func (store *stubStore) UpdateCreditSource(ctx context.Context, source CreditSource) error {
	if err := store.fail("UpdateCreditSource"); err != nil {
		return err
	}
	current, ok := store.state.sources[source.ID]
	if !ok || current.Version != source.Version {
		return ErrConcurrentUpdate
	}
	source.Version++
	store.state.sources[source.ID] = source
	return nil
}

func (store *stubStore) DeleteCreditSource(ctx context.Context, source CreditSource) error {
	current, ok := store.state.sources[source.ID]
	if !ok || current.Version != source.Version {
		return ErrConcurrentUpdate
	}
	delete(store.state.sources, source.ID)
	return nil
}

func (store *stubStore) InsertListing(ctx context.Context, listing Listing) error {
	if err := store.fail("InsertListing"); err != nil {
		return err
	}
	store.state.listings[listing.ID] = listing
	return nil
}

func (store *stubStore) GetListing(ctx context.Context, listingID ListingID) (Listing, error) {
	listing, ok := store.state.listings[listingID]
	if !ok {
		return Listing{}, fmt.Errorf("%w: listing %s", ErrNotFound, listingID)
	}
	return listing, nil
}

func (store *stubStore) ListListings(ctx context.Context, filter ListingFilter) ([]Listing, error) {
	listings := []Listing{}
	for _, listing := range store.state.listings {
		if filter.ActiveOnly && !listing.Active {
			continue
		}
		if filter.SellerID != nil && listing.SellerID != *filter.SellerID {
			continue
		}
		listings = append(listings, listing)
	}
	sort.Slice(listings, func(left, right int) bool { return listings[left].CreatedAt.After(listings[right].CreatedAt) })
	return listings, nil
}

func (store *stubStore) UpdateListing(ctx context.Context, listing Listing) error {
	if err := store.fail("UpdateListing"); err != nil {
		return err
	}
	current, ok := store.state.listings[listing.ID]
	if !ok || current.Version != listing.Version {
		return ErrConcurrentUpdate
	}
	listing.Version++
	store.state.listings[listing.ID] = listing
	return nil
}

func (store *stubStore) DeleteListing(ctx context.Context, listing Listing) error {
	current, ok := store.state.listings[listing.ID]
	if !ok || current.Version != listing.Version {
		return ErrConcurrentUpdate
	}
	delete(store.state.listings, listing.ID)
	return nil
}

func (store *stubStore) InsertTransaction(ctx context.Context, transaction Transaction) error {
	if err := store.fail("InsertTransaction"); err != nil {
		return err
	}
	store.state.transactions = append(store.state.transactions, transaction)
	return nil
}

func (store *stubStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	transactions := []Transaction{}
	for index := len(store.state.transactions) - 1; index >= 0; index-- {
		transaction := store.state.transactions[index]
		if filter.BuyerID != nil && transaction.BuyerID != *filter.BuyerID {
			continue
		}
		if filter.SellerID != nil && transaction.SellerID != *filter.SellerID {
			continue
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func (store *stubStore) InsertGrant(ctx context.Context, grant Grant) error {
	if err := store.fail("InsertGrant"); err != nil {
		return err
	}
	store.state.grants[grant.ID] = grant
	return nil
}

func (store *stubStore) GetGrant(ctx context.Context, grantID GrantID) (Grant, error) {
	grant, ok := store.state.grants[grantID]
	if !ok {
		return Grant{}, fmt.Errorf("%w: grant %s", ErrNotFound, grantID)
	}
	return grant, nil
}

func (store *stubStore) ListGrants(ctx context.Context, ownerID UserID) ([]Grant, error) {
	grants := []Grant{}
	for _, grant := range store.state.grants {
		if grant.OwnerID == ownerID {
			grants = append(grants, grant)
		}
	}
	return grants, nil
}

func (store *stubStore) UpdateGrant(ctx context.Context, grant Grant) error {
	if err := store.fail("UpdateGrant"); err != nil {
		return err
	}
	current, ok := store.state.grants[grant.ID]
	if !ok || current.Version != grant.Version {
		return ErrConcurrentUpdate
	}
	grant.Version++
	store.state.grants[grant.ID] = grant
	return nil
}

func (store *stubStore) DeleteGrant(ctx context.Context, grant Grant) error {
	if err := store.fail("DeleteGrant"); err != nil {
		return err
	}
	current, ok := store.state.grants[grant.ID]
	if !ok || current.Version != grant.Version {
		return ErrConcurrentUpdate
	}
	delete(store.state.grants, grant.ID)
	return nil
}

func (store *stubStore) source(test *testing.T, sourceID CreditSourceID) CreditSource {
	test.Helper()
	store.mutex.Lock()
	defer store.mutex.Unlock()
	source, ok := store.state.sources[sourceID]
	if !ok {
		test.Fatalf("credit source %s not found", sourceID)
	}
	return source
}

func (store *stubStore) listing(test *testing.T, listingID ListingID) Listing {
	test.Helper()
	store.mutex.Lock()
	defer store.mutex.Unlock()
	listing, ok := store.state.listings[listingID]
	if !ok {
		test.Fatalf("listing %s not found", listingID)
	}
	return listing
}

func (store *stubStore) account(test *testing.T, userID UserID) Account {
	test.Helper()
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.state.accounts[userID]
}

func (store *stubStore) activeListedUnits(sourceID CreditSourceID) Units {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var total Units
	for _, listing := range store.state.listings {
		if listing.Active && listing.CreditSourceID == sourceID {
			total += listing.UnitsForSale
		}
	}
	return total
}

func (store *stubStore) soldUnits(sourceID CreditSourceID) Units {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var total Units
	for _, transaction := range store.state.transactions {
		if transaction.CreditSourceID == sourceID {
			total += transaction.UnitsPurchased.Units()
		}
	}
	return total
}

func (store *stubStore) transactionCount() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.state.transactions)
}

func (store *stubStore) grantCount() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.state.grants)
}

// conflictingStore reports ErrConcurrentUpdate for the first n listing updates.
type conflictingStore struct {
	*stubStore
	remainingConflicts *int
}

func (store conflictingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return store.stubStore.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		return fn(ctx, conflictingStore{stubStore: txStore.(*stubStore), remainingConflicts: store.remainingConflicts})
	})
}

func (store conflictingStore) UpdateListing(ctx context.Context, listing Listing) error {
	if *store.remainingConflicts > 0 {
		*store.remainingConflicts--
		return ErrConcurrentUpdate
	}
	return store.stubStore.UpdateListing(ctx, listing)
}
