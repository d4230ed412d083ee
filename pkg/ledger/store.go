package ledger

import (
	"context"
	"time"
)

// Store persists accounts, credit sources, listings, transactions and grants.
//
// Update and Delete calls are conditional on the Version of the entity passed in: the store
// applies the change only when the persisted version still matches, bumps the version, and
// returns ErrConcurrentUpdate otherwise. Lookups inside WithTx lock the row where the backend
// supports it. Missing rows are reported as ErrNotFound.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	GetOrCreateAccount(ctx context.Context, userID UserID, now time.Time) (Account, error)
	GetAccount(ctx context.Context, userID UserID) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	UpdateAccount(ctx context.Context, account Account) error

	InsertCreditSource(ctx context.Context, source CreditSource) error
	GetCreditSource(ctx context.Context, sourceID CreditSourceID) (CreditSource, error)
	ListCreditSources(ctx context.Context, ownerID UserID) ([]CreditSource, error)
	UpdateCreditSource(ctx context.Context, source CreditSource) error
	DeleteCreditSource(ctx context.Context, source CreditSource) error

	InsertListing(ctx context.Context, listing Listing) error
	GetListing(ctx context.Context, listingID ListingID) (Listing, error)
	ListListings(ctx context.Context, filter ListingFilter) ([]Listing, error)
	UpdateListing(ctx context.Context, listing Listing) error
	DeleteListing(ctx context.Context, listing Listing) error

	InsertTransaction(ctx context.Context, transaction Transaction) error
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)

	InsertGrant(ctx context.Context, grant Grant) error
	GetGrant(ctx context.Context, grantID GrantID) (Grant, error)
	ListGrants(ctx context.Context, ownerID UserID) ([]Grant, error)
	UpdateGrant(ctx context.Context, grant Grant) error
	DeleteGrant(ctx context.Context, grant Grant) error
}
