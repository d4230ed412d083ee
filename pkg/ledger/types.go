package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	maxLabelLength       = 100
	maxDescriptionLength = 500
	// MoneyScale is the number of decimal places every stored amount carries.
	MoneyScale = 6
)

// Units counts provider credit. Never negative.
type Units int64

// PositiveUnits is a strictly positive quantity.
type PositiveUnits int64

// UserID identifies an account owner.
type UserID struct {
	value string
}

// CreditSourceID identifies a registered provider credential.
type CreditSourceID struct {
	value string
}

// ListingID identifies a sale listing.
type ListingID struct {
	value string
}

// GrantID identifies a buyer-owned metered grant.
type GrantID struct {
	value string
}

// TransactionID identifies a recorded sale.
type TransactionID struct {
	value string
}

// Price is a strictly positive fixed-point price per unit.
type Price struct {
	value decimal.Decimal
}

// Label names a credit source.
type Label struct {
	value string
}

// SealedSecret is an opaque vault-sealed provider secret.
type SealedSecret struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewCreditSourceID validates and normalizes a credit source id.
func NewCreditSourceID(raw string) (CreditSourceID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CreditSourceID{}, fmt.Errorf("%w: empty value", ErrInvalidCreditSourceID)
	}
	return CreditSourceID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id CreditSourceID) String() string {
	return id.value
}

// NewListingID validates and normalizes a listing id.
func NewListingID(raw string) (ListingID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ListingID{}, fmt.Errorf("%w: empty value", ErrInvalidListingID)
	}
	return ListingID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ListingID) String() string {
	return id.value
}

// NewGrantID validates and normalizes a grant id.
func NewGrantID(raw string) (GrantID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return GrantID{}, fmt.Errorf("%w: empty value", ErrInvalidGrantID)
	}
	return GrantID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id GrantID) String() string {
	return id.value
}

// NewTransactionID validates and normalizes a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TransactionID) String() string {
	return id.value
}

// NewUnits validates a non-negative quantity.
func NewUnits(raw int64) (Units, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidUnits)
	}
	return Units(raw), nil
}

// Int64 exposes the raw quantity.
func (units Units) Int64() int64 {
	return int64(units)
}

// NewPositiveUnits validates a strictly positive quantity.
func NewPositiveUnits(raw int64) (PositiveUnits, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidUnits)
	}
	return PositiveUnits(raw), nil
}

// Units converts to the non-negative representation.
func (units PositiveUnits) Units() Units {
	return Units(units)
}

// Int64 exposes the raw quantity.
func (units PositiveUnits) Int64() int64 {
	return int64(units)
}

// NewPrice validates a price per unit.
func NewPrice(value decimal.Decimal) (Price, error) {
	if !value.IsPositive() {
		return Price{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPrice)
	}
	if exceedsMoneyScale(value) {
		return Price{}, fmt.Errorf("%w: more than %d decimal places", ErrInvalidPrice, MoneyScale)
	}
	return Price{value: value}, nil
}

// ParsePrice parses a decimal string such as "0.01".
func ParsePrice(raw string) (Price, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Price{}, fmt.Errorf("%w: %v", ErrInvalidPrice, err)
	}
	return NewPrice(value)
}

// Decimal exposes the underlying fixed-point value.
func (price Price) Decimal() decimal.Decimal {
	return price.value
}

// String renders the price without exponent notation.
func (price Price) String() string {
	return price.value.String()
}

// Total returns price multiplied by units without rounding.
func (price Price) Total(units PositiveUnits) decimal.Decimal {
	return price.value.Mul(decimal.NewFromInt(units.Int64()))
}

// NewLabel validates a credit source label.
func NewLabel(raw string) (Label, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Label{}, fmt.Errorf("%w: empty value", ErrInvalidLabel)
	}
	if utf8.RuneCountInString(trimmed) > maxLabelLength {
		return Label{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidLabel, maxLabelLength)
	}
	return Label{value: trimmed}, nil
}

// String returns the normalized label.
func (label Label) String() string {
	return label.value
}

// NewDescription validates a free-form listing description.
func NewDescription(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if utf8.RuneCountInString(trimmed) > maxDescriptionLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidDescription, maxDescriptionLength)
	}
	return trimmed, nil
}

// NewSealedSecret wraps an already sealed secret.
func NewSealedSecret(raw string) (SealedSecret, error) {
	if strings.TrimSpace(raw) == "" {
		return SealedSecret{}, fmt.Errorf("%w: empty value", ErrInvalidSealedSecret)
	}
	return SealedSecret{value: raw}, nil
}

// String returns the sealed form.
func (secret SealedSecret) String() string {
	return secret.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// NewDepositAmount validates a cash deposit.
func NewDepositAmount(value decimal.Decimal) (decimal.Decimal, error) {
	if !value.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: deposit must be greater than zero", ErrInvalidAmount)
	}
	if exceedsMoneyScale(value) {
		return decimal.Zero, fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, MoneyScale)
	}
	return value, nil
}

func exceedsMoneyScale(value decimal.Decimal) bool {
	return !value.Equal(value.Truncate(MoneyScale))
}

// Account is a user's cash position.
type Account struct {
	UserID      UserID
	CashBalance decimal.Decimal
	Version     int64
	CreatedAt   time.Time
}

// CreditSource is a registered provider credential with its credit counters.
type CreditSource struct {
	ID              CreditSourceID
	OwnerID         UserID
	Label           Label
	SealedSecret    SealedSecret
	TotalCredit     Units
	AvailableCredit Units
	UsedCredit      Units
	Version         int64
	CreatedAt       time.Time
}

// Listing is a seller's offer of credit from one source.
type Listing struct {
	ID                ListingID
	SellerID          UserID
	CreditSourceID    CreditSourceID
	CreditSourceLabel Label
	UnitsForSale      Units
	PricePerUnit      Price
	Description       string
	Active            bool
	Version           int64
	CreatedAt         time.Time
}

// Transaction is an immutable record of a completed purchase.
type Transaction struct {
	ID                TransactionID
	BuyerID           UserID
	SellerID          UserID
	ListingID         ListingID
	CreditSourceID    CreditSourceID
	CreditSourceLabel Label
	UnitsPurchased    PositiveUnits
	PricePerUnit      Price
	TotalAmount       decimal.Decimal
	Metadata          MetadataJSON
	CreatedAt         time.Time
}

// Grant is buyer-owned metered credit drawn from a seller's source.
type Grant struct {
	ID                   GrantID
	OwnerID              UserID
	OriginCreditSourceID CreditSourceID
	SellerID             UserID
	Label                Label
	UnitsRemaining       Units
	PricePerUnit         Price
	Version              int64
	PurchasedAt          time.Time
}

// PurchaseReceipt is the outcome of a successful purchase.
type PurchaseReceipt struct {
	Transaction Transaction
	Grant       Grant
}

// ListingUpdate carries optional listing changes.
type ListingUpdate struct {
	PricePerUnit *Price
	Description  *string
}

// ListingFilter narrows ListListings.
type ListingFilter struct {
	ActiveOnly bool
	SellerID   *UserID
}

// TransactionFilter narrows ListTransactions. At least one field should be set.
type TransactionFilter struct {
	BuyerID  *UserID
	SellerID *UserID
}
