package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tokenmarket/pkg/ledger"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

const (
	pqUniqueViolation      = "23505"
	pqCheckViolation       = "23514"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	errorOperationStore    = "store"
	errorSubjectAccount    = "account"
	errorSubjectSource     = "credit_source"
	errorSubjectListing    = "listing"
	errorSubjectGrant      = "grant"
	errorSubjectTransacted = "transaction"
	errorSubjectSchema     = "schema"
	errorSubjectTx         = "tx"
	errorCodeBegin         = "begin"
	errorCodeCommit        = "commit"
	errorCodeCreate        = "create"
	errorCodeDelete        = "delete"
	errorCodeGet           = "get"
	errorCodeInsert        = "insert"
	errorCodeInvalid       = "invalid"
	errorCodeList          = "list"
	errorCodeMigrate       = "migrate"
	errorCodeUpdate        = "update"
)

const (
	accountColumns     = "user_id, cash_balance, version, created_at"
	sourceColumns      = "id, owner_id, label, sealed_secret, total_credit, available_credit, used_credit, version, created_at"
	listingColumns     = "id, seller_id, credit_source_id, credit_source_label, units_for_sale, price_per_unit, description, active, version, created_at"
	transactionColumns = "id, buyer_id, seller_id, listing_id, credit_source_id, credit_source_label, units_purchased, price_per_unit, total_amount, metadata, created_at"
	grantColumns       = "id, owner_id, origin_credit_source_id, seller_id, label, units_remaining, price_per_unit, version, purchased_at"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements ledger.Store over database/sql with the lib/pq driver.
type Store struct {
	db    *sql.DB
	query querier
	inTx  bool
	nowFn func() time.Time
}

// New returns a Store bound to db.
func New(db *sql.DB) *Store {
	return &Store{db: db, query: db, nowFn: func() time.Time { return time.Now().UTC() }}
}

// Migrate applies the embedded schema.
func (store *Store) Migrate(ctx context.Context) error {
	if _, err := store.db.ExecContext(ctx, schemaSQL); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

// Ping verifies the connection.
func (store *Store) Ping(ctx context.Context) error {
	return store.db.PingContext(ctx)
}

// WithTx executes fn within a transaction. Nested calls reuse the open transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) (err error) {
	if store.inTx {
		return fn(ctx, store)
	}
	tx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeBegin, classify(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(ctx, &Store{db: store.db, query: tx, inTx: true, nowFn: store.nowFn}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeCommit, classify(err))
	}
	return nil
}

func (store *Store) lockClause() string {
	if store.inTx {
		return " FOR UPDATE"
	}
	return ""
}

func (store *Store) GetOrCreateAccount(ctx context.Context, userID ledger.UserID, now time.Time) (ledger.Account, error) {
	_, err := store.query.ExecContext(ctx,
		`INSERT INTO accounts (user_id, cash_balance, version, created_at, updated_at) VALUES ($1, 0, 0, $2, $2) ON CONFLICT (user_id) DO NOTHING`,
		userID.String(), now)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, classify(err))
	}
	return store.GetAccount(ctx, userID)
}

func (store *Store) GetAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	row := store.query.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`+store.lockClause(), userID.String())
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, fmt.Errorf("%w: account %s", ledger.ErrNotFound, userID))
	}
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, classify(err))
	}
	return account, nil
}

func (store *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := store.query.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC, user_id DESC`)
	if err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, classify(err))
	}
	defer rows.Close()
	var accounts []ledger.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAccount, errorCodeList, classify(err))
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, classify(err))
	}
	return accounts, nil
}

func (store *Store) UpdateAccount(ctx context.Context, account ledger.Account) error {
	result, err := store.query.ExecContext(ctx,
		`UPDATE accounts SET cash_balance = $1, version = version + 1, updated_at = $2 WHERE user_id = $3 AND version = $4`,
		account.CashBalance, store.nowFn(), account.UserID.String(), account.Version)
	return checkResult(errorSubjectAccount, errorCodeUpdate, result, err)
}

func (store *Store) InsertCreditSource(ctx context.Context, source ledger.CreditSource) error {
	_, err := store.query.ExecContext(ctx,
		`INSERT INTO credit_sources (`+sourceColumns+`, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		source.ID.String(), source.OwnerID.String(), source.Label.String(), source.SealedSecret.String(),
		source.TotalCredit.Int64(), source.AvailableCredit.Int64(), source.UsedCredit.Int64(), source.Version, source.CreatedAt)
	if err != nil {
		return wrapStoreError(errorSubjectSource, errorCodeInsert, classify(err))
	}
	return nil
}

func (store *Store) GetCreditSource(ctx context.Context, sourceID ledger.CreditSourceID) (ledger.CreditSource, error) {
	row := store.query.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM credit_sources WHERE id = $1`+store.lockClause(), sourceID.String())
	source, err := scanCreditSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.CreditSource{}, wrapStoreError(errorSubjectSource, errorCodeGet, fmt.Errorf("%w: credit source %s", ledger.ErrNotFound, sourceID))
	}
	if err != nil {
		return ledger.CreditSource{}, wrapStoreError(errorSubjectSource, errorCodeGet, classify(err))
	}
	return source, nil
}

func (store *Store) ListCreditSources(ctx context.Context, ownerID ledger.UserID) ([]ledger.CreditSource, error) {
	rows, err := store.query.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM credit_sources WHERE owner_id = $1 ORDER BY created_at DESC, id`, ownerID.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectSource, errorCodeList, classify(err))
	}
	defer rows.Close()
	var sources []ledger.CreditSource
	for rows.Next() {
		source, err := scanCreditSource(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectSource, errorCodeList, classify(err))
		}
		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectSource, errorCodeList, classify(err))
	}
	return sources, nil
}

func (store *Store) UpdateCreditSource(ctx context.Context, source ledger.CreditSource) error {
	result, err := store.query.ExecContext(ctx,
		`UPDATE credit_sources SET label = $1, total_credit = $2, available_credit = $3, used_credit = $4, version = version + 1, updated_at = $5 WHERE id = $6 AND version = $7`,
		source.Label.String(), source.TotalCredit.Int64(), source.AvailableCredit.Int64(), source.UsedCredit.Int64(),
		store.nowFn(), source.ID.String(), source.Version)
	return checkResult(errorSubjectSource, errorCodeUpdate, result, err)
}

func (store *Store) DeleteCreditSource(ctx context.Context, source ledger.CreditSource) error {
	result, err := store.query.ExecContext(ctx,
		`DELETE FROM credit_sources WHERE id = $1 AND version = $2`, source.ID.String(), source.Version)
	return checkResult(errorSubjectSource, errorCodeDelete, result, err)
}

func (store *Store) InsertListing(ctx context.Context, listing ledger.Listing) error {
	_, err := store.query.ExecContext(ctx,
		`INSERT INTO listings (`+listingColumns+`, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		listing.ID.String(), listing.SellerID.String(), listing.CreditSourceID.String(), listing.CreditSourceLabel.String(),
		listing.UnitsForSale.Int64(), listing.PricePerUnit.Decimal(), listing.Description, listing.Active, listing.Version, listing.CreatedAt)
	if err != nil {
		return wrapStoreError(errorSubjectListing, errorCodeInsert, classify(err))
	}
	return nil
}

func (store *Store) GetListing(ctx context.Context, listingID ledger.ListingID) (ledger.Listing, error) {
	row := store.query.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`+store.lockClause(), listingID.String())
	listing, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Listing{}, wrapStoreError(errorSubjectListing, errorCodeGet, fmt.Errorf("%w: listing %s", ledger.ErrNotFound, listingID))
	}
	if err != nil {
		return ledger.Listing{}, wrapStoreError(errorSubjectListing, errorCodeGet, classify(err))
	}
	return listing, nil
}

func (store *Store) ListListings(ctx context.Context, filter ledger.ListingFilter) ([]ledger.Listing, error) {
	var conditions []string
	var args []any
	if filter.ActiveOnly {
		conditions = append(conditions, "active = TRUE")
	}
	if filter.SellerID != nil {
		args = append(args, filter.SellerID.String())
		conditions = append(conditions, fmt.Sprintf("seller_id = $%d", len(args)))
	}
	rows, err := store.query.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings`+whereClause(conditions)+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectListing, errorCodeList, classify(err))
	}
	defer rows.Close()
	var listings []ledger.Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectListing, errorCodeList, classify(err))
		}
		listings = append(listings, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectListing, errorCodeList, classify(err))
	}
	return listings, nil
}

func (store *Store) UpdateListing(ctx context.Context, listing ledger.Listing) error {
	result, err := store.query.ExecContext(ctx,
		`UPDATE listings SET units_for_sale = $1, price_per_unit = $2, description = $3, active = $4, version = version + 1, updated_at = $5 WHERE id = $6 AND version = $7`,
		listing.UnitsForSale.Int64(), listing.PricePerUnit.Decimal(), listing.Description, listing.Active,
		store.nowFn(), listing.ID.String(), listing.Version)
	return checkResult(errorSubjectListing, errorCodeUpdate, result, err)
}

func (store *Store) DeleteListing(ctx context.Context, listing ledger.Listing) error {
	result, err := store.query.ExecContext(ctx,
		`DELETE FROM listings WHERE id = $1 AND version = $2`, listing.ID.String(), listing.Version)
	return checkResult(errorSubjectListing, errorCodeDelete, result, err)
}

func (store *Store) InsertTransaction(ctx context.Context, transaction ledger.Transaction) error {
	_, err := store.query.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		transaction.ID.String(), transaction.BuyerID.String(), transaction.SellerID.String(), transaction.ListingID.String(),
		transaction.CreditSourceID.String(), transaction.CreditSourceLabel.String(), transaction.UnitsPurchased.Int64(),
		transaction.PricePerUnit.Decimal(), transaction.TotalAmount, transaction.Metadata.String(), transaction.CreatedAt)
	if err != nil {
		return wrapStoreError(errorSubjectTransacted, errorCodeInsert, classify(err))
	}
	return nil
}

func (store *Store) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	var conditions []string
	var args []any
	if filter.BuyerID != nil {
		args = append(args, filter.BuyerID.String())
		conditions = append(conditions, fmt.Sprintf("buyer_id = $%d", len(args)))
	}
	if filter.SellerID != nil {
		args = append(args, filter.SellerID.String())
		conditions = append(conditions, fmt.Sprintf("seller_id = $%d", len(args)))
	}
	rows, err := store.query.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions`+whereClause(conditions)+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransacted, errorCodeList, classify(err))
	}
	defer rows.Close()
	var transactions []ledger.Transaction
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransacted, errorCodeList, classify(err))
		}
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTransacted, errorCodeList, classify(err))
	}
	return transactions, nil
}

func (store *Store) InsertGrant(ctx context.Context, grant ledger.Grant) error {
	_, err := store.query.ExecContext(ctx,
		`INSERT INTO grants (`+grantColumns+`, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		grant.ID.String(), grant.OwnerID.String(), grant.OriginCreditSourceID.String(), grant.SellerID.String(),
		grant.Label.String(), grant.UnitsRemaining.Int64(), grant.PricePerUnit.Decimal(), grant.Version, grant.PurchasedAt)
	if err != nil {
		return wrapStoreError(errorSubjectGrant, errorCodeInsert, classify(err))
	}
	return nil
}

func (store *Store) GetGrant(ctx context.Context, grantID ledger.GrantID) (ledger.Grant, error) {
	row := store.query.QueryRowContext(ctx,
		`SELECT `+grantColumns+` FROM grants WHERE id = $1`+store.lockClause(), grantID.String())
	grant, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Grant{}, wrapStoreError(errorSubjectGrant, errorCodeGet, fmt.Errorf("%w: grant %s", ledger.ErrNotFound, grantID))
	}
	if err != nil {
		return ledger.Grant{}, wrapStoreError(errorSubjectGrant, errorCodeGet, classify(err))
	}
	return grant, nil
}

func (store *Store) ListGrants(ctx context.Context, ownerID ledger.UserID) ([]ledger.Grant, error) {
	rows, err := store.query.QueryContext(ctx,
		`SELECT `+grantColumns+` FROM grants WHERE owner_id = $1 ORDER BY purchased_at DESC, id`, ownerID.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectGrant, errorCodeList, classify(err))
	}
	defer rows.Close()
	var grants []ledger.Grant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectGrant, errorCodeList, classify(err))
		}
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectGrant, errorCodeList, classify(err))
	}
	return grants, nil
}

func (store *Store) UpdateGrant(ctx context.Context, grant ledger.Grant) error {
	result, err := store.query.ExecContext(ctx,
		`UPDATE grants SET units_remaining = $1, version = version + 1, updated_at = $2 WHERE id = $3 AND version = $4`,
		grant.UnitsRemaining.Int64(), store.nowFn(), grant.ID.String(), grant.Version)
	return checkResult(errorSubjectGrant, errorCodeUpdate, result, err)
}

func (store *Store) DeleteGrant(ctx context.Context, grant ledger.Grant) error {
	result, err := store.query.ExecContext(ctx,
		`DELETE FROM grants WHERE id = $1 AND version = $2`, grant.ID.String(), grant.Version)
	return checkResult(errorSubjectGrant, errorCodeDelete, result, err)
}

func whereClause(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}

func checkResult(subject string, code string, result sql.Result, err error) error {
	if err != nil {
		return wrapStoreError(subject, code, classify(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapStoreError(subject, code, err)
	}
	if affected == 0 {
		return wrapStoreError(subject, code, ledger.ErrConcurrentUpdate)
	}
	return nil
}

func classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch string(pqErr.Code) {
	case pqUniqueViolation:
		return fmt.Errorf("%w: %s", ledger.ErrConcurrentUpdate, pqErr.Constraint)
	case pqSerializationFailure, pqDeadlockDetected:
		return fmt.Errorf("%w: %s", ledger.ErrConcurrentUpdate, pqErr.Message)
	case pqCheckViolation:
		return fmt.Errorf("%w: %s", ledger.ErrValidation, pqErr.Constraint)
	default:
		return err
	}
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}
