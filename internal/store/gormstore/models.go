package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table.
type Account struct {
	UserID      string          `gorm:"primaryKey"`
	CashBalance decimal.Decimal `gorm:"type:numeric(20,6);not null;check:chk_accounts_cash,cash_balance >= 0"`
	Version     int64           `gorm:"not null;default:0"`
	CreatedAt   time.Time       `gorm:"not null"`
	UpdatedAt   time.Time       `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// CreditSource mirrors the credit_sources table.
type CreditSource struct {
	ID              string    `gorm:"primaryKey"`
	OwnerID         string    `gorm:"not null;index:idx_credit_sources_owner"`
	Label           string    `gorm:"not null"`
	SealedSecret    string    `gorm:"not null"`
	TotalCredit     int64     `gorm:"not null;check:chk_credit_sources_total,total_credit >= 0"`
	AvailableCredit int64     `gorm:"not null;check:chk_credit_sources_available,available_credit >= 0 AND available_credit <= total_credit"`
	UsedCredit      int64     `gorm:"not null;default:0"`
	Version         int64     `gorm:"not null;default:0"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (CreditSource) TableName() string { return "credit_sources" }

func (source *CreditSource) BeforeCreate(tx *gorm.DB) error {
	if source.ID == "" {
		source.ID = uuid.NewString()
	}
	return nil
}

// Listing mirrors the listings table.
type Listing struct {
	ID                string          `gorm:"primaryKey"`
	SellerID          string          `gorm:"not null;index:idx_listings_seller"`
	CreditSourceID    string          `gorm:"not null;index:idx_listings_source"`
	CreditSourceLabel string          `gorm:"not null"`
	UnitsForSale      int64           `gorm:"not null;check:chk_listings_units,units_for_sale >= 0"`
	PricePerUnit      decimal.Decimal `gorm:"type:numeric(20,6);not null;check:chk_listings_price,price_per_unit > 0"`
	Description       string          `gorm:"not null;default:''"`
	Active            bool            `gorm:"not null;index:idx_listings_active_created,priority:1"`
	Version           int64           `gorm:"not null;default:0"`
	CreatedAt         time.Time       `gorm:"not null;index:idx_listings_active_created,priority:2"`
	UpdatedAt         time.Time       `gorm:"not null"`
}

func (Listing) TableName() string { return "listings" }

func (listing *Listing) BeforeCreate(tx *gorm.DB) error {
	if listing.ID == "" {
		listing.ID = uuid.NewString()
	}
	return nil
}

// Transaction mirrors the append-only transactions table.
type Transaction struct {
	ID                string          `gorm:"primaryKey"`
	BuyerID           string          `gorm:"not null;index:idx_transactions_buyer_created,priority:1"`
	SellerID          string          `gorm:"not null;index:idx_transactions_seller_created,priority:1"`
	ListingID         string          `gorm:"not null"`
	CreditSourceID    string          `gorm:"not null"`
	CreditSourceLabel string          `gorm:"not null"`
	UnitsPurchased    int64           `gorm:"not null"`
	PricePerUnit      decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	TotalAmount       decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	Metadata          datatypes.JSON  `gorm:"type:jsonb;not null"`
	CreatedAt         time.Time       `gorm:"not null;index:idx_transactions_buyer_created,priority:2;index:idx_transactions_seller_created,priority:2"`
}

func (Transaction) TableName() string { return "transactions" }

func (transaction *Transaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.ID == "" {
		transaction.ID = uuid.NewString()
	}
	return nil
}

// Grant mirrors the grants table.
type Grant struct {
	ID                   string          `gorm:"primaryKey"`
	OwnerID              string          `gorm:"not null;index:idx_grants_owner"`
	OriginCreditSourceID string          `gorm:"not null"`
	SellerID             string          `gorm:"not null"`
	Label                string          `gorm:"not null"`
	UnitsRemaining       int64           `gorm:"not null;check:chk_grants_units,units_remaining >= 0"`
	PricePerUnit         decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	Version              int64           `gorm:"not null;default:0"`
	PurchasedAt          time.Time       `gorm:"not null"`
	UpdatedAt            time.Time       `gorm:"not null"`
}

func (Grant) TableName() string { return "grants" }

func (grant *Grant) BeforeCreate(tx *gorm.DB) error {
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	return nil
}

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&Account{}, &CreditSource{}, &Listing{}, &Transaction{}, &Grant{}}
}
