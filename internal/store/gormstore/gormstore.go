package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tokenmarket/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	dialectPostgres        = "postgres"
	pgUniqueViolationCode  = "23505"
	pgCheckViolationCode   = "23514"
	pgSerializationCode    = "40001"
	pgDeadlockCode         = "40P01"
	sqliteBusyCode         = 5
	sqliteLockedCode       = 6
	sqliteConstraintCode   = 19
	sqliteCheckCode        = 275
	sqlitePrimaryKeyCode   = 1555
	sqliteUniqueCode       = 2067
	errorOperationStore    = "store"
	errorSubjectAccount    = "account"
	errorSubjectSource     = "credit_source"
	errorSubjectListing    = "listing"
	errorSubjectGrant      = "grant"
	errorSubjectTransacted = "transaction"
	errorSubjectSchema     = "schema"
	errorCodeCreate        = "create"
	errorCodeDelete        = "delete"
	errorCodeGet           = "get"
	errorCodeInsert        = "insert"
	errorCodeInvalid       = "invalid"
	errorCodeList          = "list"
	errorCodeMigrate       = "migrate"
	errorCodeUpdate        = "update"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db       *gorm.DB
	lockRows bool
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction, lockRows: transaction.Dialector.Name() == dialectPostgres})
	})
	if err == nil || errors.Is(err, ledger.ErrConcurrentUpdate) {
		return err
	}
	return classify(err)
}

// AutoMigrate creates or updates every table the store uses.
func (store *Store) AutoMigrate(ctx context.Context) error {
	if err := store.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

// Ping verifies the underlying connection.
func (store *Store) Ping(ctx context.Context) error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (store *Store) query(ctx context.Context) *gorm.DB {
	db := store.db.WithContext(ctx)
	if store.lockRows {
		db = db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	}
	return db
}

func (store *Store) GetOrCreateAccount(ctx context.Context, userID ledger.UserID, now time.Time) (ledger.Account, error) {
	candidate := Account{UserID: userID.String(), CreatedAt: now, UpdatedAt: now}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&candidate).Error
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, classify(err))
	}
	return store.GetAccount(ctx, userID)
}

func (store *Store) GetAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	var account Account
	err := store.query(ctx).Where("user_id = ?", userID.String()).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, fmt.Errorf("%w: account %s", ledger.ErrNotFound, userID))
	}
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, classify(err))
	}
	return accountToDomain(account)
}

func (store *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	var models []Account
	if err := store.db.WithContext(ctx).Order("created_at desc, user_id desc").Find(&models).Error; err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, classify(err))
	}
	accounts := make([]ledger.Account, 0, len(models))
	for _, model := range models {
		account, err := accountToDomain(model)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (store *Store) UpdateAccount(ctx context.Context, account ledger.Account) error {
	result := store.db.WithContext(ctx).Model(&Account{}).
		Where("user_id = ? AND version = ?", account.UserID.String(), account.Version).
		Updates(map[string]any{
			"cash_balance": account.CashBalance,
			"version":      gorm.Expr("version + 1"),
			"updated_at":   time.Now().UTC(),
		})
	return checkUpdate(errorSubjectAccount, errorCodeUpdate, result)
}

func (store *Store) InsertCreditSource(ctx context.Context, source ledger.CreditSource) error {
	model := CreditSource{
		ID:              source.ID.String(),
		OwnerID:         source.OwnerID.String(),
		Label:           source.Label.String(),
		SealedSecret:    source.SealedSecret.String(),
		TotalCredit:     source.TotalCredit.Int64(),
		AvailableCredit: source.AvailableCredit.Int64(),
		UsedCredit:      source.UsedCredit.Int64(),
		CreatedAt:       source.CreatedAt,
		UpdatedAt:       source.CreatedAt,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectSource, errorCodeInsert, classify(err))
	}
	return nil
}

func (store *Store) GetCreditSource(ctx context.Context, sourceID ledger.CreditSourceID) (ledger.CreditSource, error) {
	var model CreditSource
	err := store.query(ctx).Where("id = ?", sourceID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.CreditSource{}, wrapStoreError(errorSubjectSource, errorCodeGet, fmt.Errorf("%w: credit source %s", ledger.ErrNotFound, sourceID))
	}
	if err != nil {
		return ledger.CreditSource{}, wrapStoreError(errorSubjectSource, errorCodeGet, classify(err))
	}
	return creditSourceToDomain(model)
}

func (store *Store) ListCreditSources(ctx context.Context, ownerID ledger.UserID) ([]ledger.CreditSource, error) {
	var models []CreditSource
	err := store.db.WithContext(ctx).Where("owner_id = ?", ownerID.String()).Order("created_at desc, id").Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectSource, errorCodeList, classify(err))
	}
	sources := make([]ledger.CreditSource, 0, len(models))
	for _, model := range models {
		source, err := creditSourceToDomain(model)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	return sources, nil
}

func (store *Store) UpdateCreditSource(ctx context.Context, source ledger.CreditSource) error {
	result := store.db.WithContext(ctx).Model(&CreditSource{}).
		Where("id = ? AND version = ?", source.ID.String(), source.Version).
		Updates(map[string]any{
			"label":            source.Label.String(),
			"total_credit":     source.TotalCredit.Int64(),
			"available_credit": source.AvailableCredit.Int64(),
			"used_credit":      source.UsedCredit.Int64(),
			"version":          gorm.Expr("version + 1"),
			"updated_at":       time.Now().UTC(),
		})
	return checkUpdate(errorSubjectSource, errorCodeUpdate, result)
}

func (store *Store) DeleteCreditSource(ctx context.Context, source ledger.CreditSource) error {
	result := store.db.WithContext(ctx).
		Where("id = ? AND version = ?", source.ID.String(), source.Version).
		Delete(&CreditSource{})
	return checkUpdate(errorSubjectSource, errorCodeDelete, result)
}

func (store *Store) InsertListing(ctx context.Context, listing ledger.Listing) error {
	model := Listing{
		ID:                listing.ID.String(),
		SellerID:          listing.SellerID.String(),
		CreditSourceID:    listing.CreditSourceID.String(),
		CreditSourceLabel: listing.CreditSourceLabel.String(),
		UnitsForSale:      listing.UnitsForSale.Int64(),
		PricePerUnit:      listing.PricePerUnit.Decimal(),
		Description:       listing.Description,
		Active:            listing.Active,
		CreatedAt:         listing.CreatedAt,
		UpdatedAt:         listing.CreatedAt,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectListing, errorCodeInsert, classify(err))
	}
	return nil
}

func (store *Store) GetListing(ctx context.Context, listingID ledger.ListingID) (ledger.Listing, error) {
	var model Listing
	err := store.query(ctx).Where("id = ?", listingID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Listing{}, wrapStoreError(errorSubjectListing, errorCodeGet, fmt.Errorf("%w: listing %s", ledger.ErrNotFound, listingID))
	}
	if err != nil {
		return ledger.Listing{}, wrapStoreError(errorSubjectListing, errorCodeGet, classify(err))
	}
	return listingToDomain(model)
}

func (store *Store) ListListings(ctx context.Context, filter ledger.ListingFilter) ([]ledger.Listing, error) {
	query := store.db.WithContext(ctx).Model(&Listing{})
	if filter.ActiveOnly {
		query = query.Where("active = ?", true)
	}
	if filter.SellerID != nil {
		query = query.Where("seller_id = ?", filter.SellerID.String())
	}
	var models []Listing
	if err := query.Order("created_at desc, id desc").Find(&models).Error; err != nil {
		return nil, wrapStoreError(errorSubjectListing, errorCodeList, classify(err))
	}
	listings := make([]ledger.Listing, 0, len(models))
	for _, model := range models {
		listing, err := listingToDomain(model)
		if err != nil {
			return nil, err
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

func (store *Store) UpdateListing(ctx context.Context, listing ledger.Listing) error {
	result := store.db.WithContext(ctx).Model(&Listing{}).
		Where("id = ? AND version = ?", listing.ID.String(), listing.Version).
		Updates(map[string]any{
			"units_for_sale": listing.UnitsForSale.Int64(),
			"price_per_unit": listing.PricePerUnit.Decimal(),
			"description":    listing.Description,
			"active":         listing.Active,
			"version":        gorm.Expr("version + 1"),
			"updated_at":     time.Now().UTC(),
		})
	return checkUpdate(errorSubjectListing, errorCodeUpdate, result)
}

func (store *Store) DeleteListing(ctx context.Context, listing ledger.Listing) error {
	result := store.db.WithContext(ctx).
		Where("id = ? AND version = ?", listing.ID.String(), listing.Version).
		Delete(&Listing{})
	return checkUpdate(errorSubjectListing, errorCodeDelete, result)
}

func (store *Store) InsertTransaction(ctx context.Context, transaction ledger.Transaction) error {
	model := Transaction{
		ID:                transaction.ID.String(),
		BuyerID:           transaction.BuyerID.String(),
		SellerID:          transaction.SellerID.String(),
		ListingID:         transaction.ListingID.String(),
		CreditSourceID:    transaction.CreditSourceID.String(),
		CreditSourceLabel: transaction.CreditSourceLabel.String(),
		UnitsPurchased:    transaction.UnitsPurchased.Int64(),
		PricePerUnit:      transaction.PricePerUnit.Decimal(),
		TotalAmount:       transaction.TotalAmount,
		Metadata:          datatypes.JSON([]byte(transaction.Metadata.String())),
		CreatedAt:         transaction.CreatedAt,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectTransacted, errorCodeInsert, classify(err))
	}
	return nil
}

func (store *Store) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	query := store.db.WithContext(ctx).Model(&Transaction{})
	if filter.BuyerID != nil {
		query = query.Where("buyer_id = ?", filter.BuyerID.String())
	}
	if filter.SellerID != nil {
		query = query.Where("seller_id = ?", filter.SellerID.String())
	}
	var models []Transaction
	if err := query.Order("created_at desc, id desc").Find(&models).Error; err != nil {
		return nil, wrapStoreError(errorSubjectTransacted, errorCodeList, classify(err))
	}
	transactions := make([]ledger.Transaction, 0, len(models))
	for _, model := range models {
		transaction, err := transactionToDomain(model)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func (store *Store) InsertGrant(ctx context.Context, grant ledger.Grant) error {
	model := Grant{
		ID:                   grant.ID.String(),
		OwnerID:              grant.OwnerID.String(),
		OriginCreditSourceID: grant.OriginCreditSourceID.String(),
		SellerID:             grant.SellerID.String(),
		Label:                grant.Label.String(),
		UnitsRemaining:       grant.UnitsRemaining.Int64(),
		PricePerUnit:         grant.PricePerUnit.Decimal(),
		PurchasedAt:          grant.PurchasedAt,
		UpdatedAt:            grant.PurchasedAt,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectGrant, errorCodeInsert, classify(err))
	}
	return nil
}

func (store *Store) GetGrant(ctx context.Context, grantID ledger.GrantID) (ledger.Grant, error) {
	var model Grant
	err := store.query(ctx).Where("id = ?", grantID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Grant{}, wrapStoreError(errorSubjectGrant, errorCodeGet, fmt.Errorf("%w: grant %s", ledger.ErrNotFound, grantID))
	}
	if err != nil {
		return ledger.Grant{}, wrapStoreError(errorSubjectGrant, errorCodeGet, classify(err))
	}
	return grantToDomain(model)
}

func (store *Store) ListGrants(ctx context.Context, ownerID ledger.UserID) ([]ledger.Grant, error) {
	var models []Grant
	err := store.db.WithContext(ctx).Where("owner_id = ?", ownerID.String()).Order("purchased_at desc, id").Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectGrant, errorCodeList, classify(err))
	}
	grants := make([]ledger.Grant, 0, len(models))
	for _, model := range models {
		grant, err := grantToDomain(model)
		if err != nil {
			return nil, err
		}
		grants = append(grants, grant)
	}
	return grants, nil
}

func (store *Store) UpdateGrant(ctx context.Context, grant ledger.Grant) error {
	result := store.db.WithContext(ctx).Model(&Grant{}).
		Where("id = ? AND version = ?", grant.ID.String(), grant.Version).
		Updates(map[string]any{
			"units_remaining": grant.UnitsRemaining.Int64(),
			"version":         gorm.Expr("version + 1"),
			"updated_at":      time.Now().UTC(),
		})
	return checkUpdate(errorSubjectGrant, errorCodeUpdate, result)
}

func (store *Store) DeleteGrant(ctx context.Context, grant ledger.Grant) error {
	result := store.db.WithContext(ctx).
		Where("id = ? AND version = ?", grant.ID.String(), grant.Version).
		Delete(&Grant{})
	return checkUpdate(errorSubjectGrant, errorCodeDelete, result)
}

func checkUpdate(subject string, code string, result *gorm.DB) error {
	if result.Error != nil {
		return wrapStoreError(subject, code, classify(result.Error))
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(subject, code, ledger.ErrConcurrentUpdate)
	}
	return nil
}

// classify maps constraint violations and lock conflicts onto domain errors so the service can retry or reject.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolationCode:
			return fmt.Errorf("%w: %s", ledger.ErrConcurrentUpdate, pgErr.ConstraintName)
		case pgSerializationCode, pgDeadlockCode:
			return fmt.Errorf("%w: %s", ledger.ErrConcurrentUpdate, pgErr.Message)
		case pgCheckViolationCode:
			return fmt.Errorf("%w: %s", ledger.ErrValidation, pgErr.ConstraintName)
		}
		return err
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return classifySQLite(err, sqliteErr.Code(), sqliteErr.Error())
	}
	return err
}

func classifySQLite(err error, code int, message string) error {
	switch {
	case code == sqliteUniqueCode || code == sqlitePrimaryKeyCode:
		return fmt.Errorf("%w: %s", ledger.ErrConcurrentUpdate, message)
	case code == sqliteCheckCode:
		return fmt.Errorf("%w: %s", ledger.ErrValidation, message)
	case code&0xFF == sqliteBusyCode || code&0xFF == sqliteLockedCode:
		return fmt.Errorf("%w: %s", ledger.ErrConcurrentUpdate, message)
	case code == sqliteConstraintCode:
		// Connections without extended result codes only report the primary code.
		switch {
		case strings.Contains(message, "UNIQUE constraint failed"):
			return fmt.Errorf("%w: %s", ledger.ErrConcurrentUpdate, message)
		case strings.Contains(message, "CHECK constraint failed"):
			return fmt.Errorf("%w: %s", ledger.ErrValidation, message)
		}
	}
	return err
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}
