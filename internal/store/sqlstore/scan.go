package sqlstore

import (
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/tokenmarket/pkg/ledger"
	"github.com/shopspring/decimal"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (ledger.Account, error) {
	var (
		userIDValue string
		cashBalance decimal.Decimal
		version     int64
		createdAt   time.Time
	)
	if err := row.Scan(&userIDValue, &cashBalance, &version, &createdAt); err != nil {
		return ledger.Account{}, err
	}
	userID, err := ledger.NewUserID(userIDValue)
	if err != nil {
		return ledger.Account{}, invalidRow(errorSubjectAccount, err)
	}
	return ledger.Account{UserID: userID, CashBalance: cashBalance, Version: version, CreatedAt: createdAt.UTC()}, nil
}

func scanCreditSource(row rowScanner) (ledger.CreditSource, error) {
	var (
		idValue, ownerValue, labelValue, sealedValue string
		total, available, used, version              int64
		createdAt                                    time.Time
	)
	if err := row.Scan(&idValue, &ownerValue, &labelValue, &sealedValue, &total, &available, &used, &version, &createdAt); err != nil {
		return ledger.CreditSource{}, err
	}
	sourceID, err := ledger.NewCreditSourceID(idValue)
	if err != nil {
		return ledger.CreditSource{}, invalidRow(errorSubjectSource, err)
	}
	ownerID, err := ledger.NewUserID(ownerValue)
	if err != nil {
		return ledger.CreditSource{}, invalidRow(errorSubjectSource, err)
	}
	label, err := ledger.NewLabel(labelValue)
	if err != nil {
		return ledger.CreditSource{}, invalidRow(errorSubjectSource, err)
	}
	sealed, err := ledger.NewSealedSecret(sealedValue)
	if err != nil {
		return ledger.CreditSource{}, invalidRow(errorSubjectSource, err)
	}
	return ledger.CreditSource{
		ID:              sourceID,
		OwnerID:         ownerID,
		Label:           label,
		SealedSecret:    sealed,
		TotalCredit:     ledger.Units(total),
		AvailableCredit: ledger.Units(available),
		UsedCredit:      ledger.Units(used),
		Version:         version,
		CreatedAt:       createdAt.UTC(),
	}, nil
}

func scanListing(row rowScanner) (ledger.Listing, error) {
	var (
		idValue, sellerValue, sourceValue, labelValue, description string
		unitsForSale, version                                      int64
		priceValue                                                 decimal.Decimal
		active                                                     bool
		createdAt                                                  time.Time
	)
	if err := row.Scan(&idValue, &sellerValue, &sourceValue, &labelValue, &unitsForSale, &priceValue, &description, &active, &version, &createdAt); err != nil {
		return ledger.Listing{}, err
	}
	listingID, err := ledger.NewListingID(idValue)
	if err != nil {
		return ledger.Listing{}, invalidRow(errorSubjectListing, err)
	}
	sellerID, err := ledger.NewUserID(sellerValue)
	if err != nil {
		return ledger.Listing{}, invalidRow(errorSubjectListing, err)
	}
	sourceID, err := ledger.NewCreditSourceID(sourceValue)
	if err != nil {
		return ledger.Listing{}, invalidRow(errorSubjectListing, err)
	}
	label, err := ledger.NewLabel(labelValue)
	if err != nil {
		return ledger.Listing{}, invalidRow(errorSubjectListing, err)
	}
	price, err := ledger.NewPrice(priceValue)
	if err != nil {
		return ledger.Listing{}, invalidRow(errorSubjectListing, err)
	}
	return ledger.Listing{
		ID:                listingID,
		SellerID:          sellerID,
		CreditSourceID:    sourceID,
		CreditSourceLabel: label,
		UnitsForSale:      ledger.Units(unitsForSale),
		PricePerUnit:      price,
		Description:       description,
		Active:            active,
		Version:           version,
		CreatedAt:         createdAt.UTC(),
	}, nil
}

func scanTransaction(row rowScanner) (ledger.Transaction, error) {
	var (
		idValue, buyerValue, sellerValue, listingValue string
		sourceValue, labelValue, metadataValue         string
		unitsPurchased                                 int64
		priceValue, totalAmount                        decimal.Decimal
		createdAt                                      time.Time
	)
	if err := row.Scan(&idValue, &buyerValue, &sellerValue, &listingValue, &sourceValue, &labelValue, &unitsPurchased, &priceValue, &totalAmount, &metadataValue, &createdAt); err != nil {
		return ledger.Transaction{}, err
	}
	transactionID, err := ledger.NewTransactionID(idValue)
	if err != nil {
		return ledger.Transaction{}, invalidRow(errorSubjectTransacted, err)
	}
	buyerID, err := ledger.NewUserID(buyerValue)
	if err != nil {
		return ledger.Transaction{}, invalidRow(errorSubjectTransacted, err)
	}
	sellerID, err := ledger.NewUserID(sellerValue)
	if err != nil {
		return ledger.Transaction{}, invalidRow(errorSubjectTransacted, err)
	}
	listingID, err := ledger.NewListingID(listingValue)
	if err != nil {
		return ledger.Transaction{}, invalidRow(errorSubjectTransacted, err)
	}
	sourceID, err := ledger.NewCreditSourceID(sourceValue)
	if err != nil {
		return ledger.Transaction{}, invalidRow(errorSubjectTransacted, err)
	}
	label, err := ledger.NewLabel(labelValue)
	if err != nil {
		return ledger.Transaction{}, invalidRow(errorSubjectTransacted, err)
	}
	units, err := ledger.NewPositiveUnits(unitsPurchased)
	if err != nil {
		return ledger.Transaction{}, invalidRow(errorSubjectTransacted, err)
	}
	price, err := ledger.NewPrice(priceValue)
	if err != nil {
		return ledger.Transaction{}, invalidRow(errorSubjectTransacted, err)
	}
	metadata, err := ledger.NewMetadataJSON(metadataValue)
	if err != nil {
		return ledger.Transaction{}, invalidRow(errorSubjectTransacted, err)
	}
	return ledger.Transaction{
		ID:                transactionID,
		BuyerID:           buyerID,
		SellerID:          sellerID,
		ListingID:         listingID,
		CreditSourceID:    sourceID,
		CreditSourceLabel: label,
		UnitsPurchased:    units,
		PricePerUnit:      price,
		TotalAmount:       totalAmount,
		Metadata:          metadata,
		CreatedAt:         createdAt.UTC(),
	}, nil
}

func scanGrant(row rowScanner) (ledger.Grant, error) {
	var (
		idValue, ownerValue, sourceValue, sellerValue, labelValue string
		unitsRemaining, version                                   int64
		priceValue                                                decimal.Decimal
		purchasedAt                                               time.Time
	)
	if err := row.Scan(&idValue, &ownerValue, &sourceValue, &sellerValue, &labelValue, &unitsRemaining, &priceValue, &version, &purchasedAt); err != nil {
		return ledger.Grant{}, err
	}
	grantID, err := ledger.NewGrantID(idValue)
	if err != nil {
		return ledger.Grant{}, invalidRow(errorSubjectGrant, err)
	}
	ownerID, err := ledger.NewUserID(ownerValue)
	if err != nil {
		return ledger.Grant{}, invalidRow(errorSubjectGrant, err)
	}
	sourceID, err := ledger.NewCreditSourceID(sourceValue)
	if err != nil {
		return ledger.Grant{}, invalidRow(errorSubjectGrant, err)
	}
	sellerID, err := ledger.NewUserID(sellerValue)
	if err != nil {
		return ledger.Grant{}, invalidRow(errorSubjectGrant, err)
	}
	label, err := ledger.NewLabel(labelValue)
	if err != nil {
		return ledger.Grant{}, invalidRow(errorSubjectGrant, err)
	}
	price, err := ledger.NewPrice(priceValue)
	if err != nil {
		return ledger.Grant{}, invalidRow(errorSubjectGrant, err)
	}
	return ledger.Grant{
		ID:                   grantID,
		OwnerID:              ownerID,
		OriginCreditSourceID: sourceID,
		SellerID:             sellerID,
		Label:                label,
		UnitsRemaining:       ledger.Units(unitsRemaining),
		PricePerUnit:         price,
		Version:              version,
		PurchasedAt:          purchasedAt.UTC(),
	}, nil
}

func invalidRow(subject string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, errorCodeInvalid, fmt.Errorf("stored row failed validation: %w", err))
}
