package gormstore

import (
	"fmt"

	"github.com/MarkoPoloResearchLab/tokenmarket/pkg/ledger"
)

func accountToDomain(model Account) (ledger.Account, error) {
	userID, err := ledger.NewUserID(model.UserID)
	if err != nil {
		return ledger.Account{}, invalidRow(errorSubjectAccount, err)
	}
	return ledger.Account{
		UserID:      userID,
		CashBalance: model.CashBalance,
		Version:     model.Version,
		CreatedAt:   model.CreatedAt.UTC(),
	}, nil
}

func creditSourceToDomain(model CreditSource) (ledger.CreditSource, error) {
	sourceID, err := ledger.NewCreditSourceID(model.ID)
	if err != nil {
		return ledger.CreditSource{}, invalidRow(errorSubjectSource, err)
	}
	ownerID, err := ledger.NewUserID(model.OwnerID)
	if err != nil {
		return ledger.CreditSource{}, invalidRow(errorSubjectSource, err)
	}
	label, err := ledger.NewLabel(model.Label)
	if err != nil {
		return ledger.CreditSource{}, invalidRow(errorSubjectSource, err)
	}
	sealed, err := ledger.NewSealedSecret(model.SealedSecret)
	if err != nil {
		return ledger.CreditSource{}, invalidRow(errorSubjectSource, err)
	}
	return ledger.CreditSource{
		ID:              sourceID,
		OwnerID:         ownerID,
		Label:           label,
		SealedSecret:    sealed,
		TotalCredit:     ledger.Units(model.TotalCredit),
		AvailableCredit: ledger.Units(model.AvailableCredit),
		UsedCredit:      ledger.Units(model.UsedCredit),
		Version:         model.Version,
		CreatedAt:       model.CreatedAt.UTC(),
	}, nil
}

func listingToDomain(model Listing) (ledger.Listing, error) {
	listingID, err := ledger.NewListingID(model.ID)
	if err != nil {
		return ledger.Listing{}, invalidRow(errorSubjectListing, err)
	}
	sellerID, err := ledger.NewUserID(model.SellerID)
	if err != nil {
		return ledger.Listing{}, invalidRow(errorSubjectListing, err)
	}
	sourceID, err := ledger.NewCreditSourceID(model.CreditSourceID)
	if err != nil {
		return ledger.Listing{}, invalidRow(errorSubjectListing, err)
	}
	label, err := ledger.NewLabel(model.CreditSourceLabel)
	if err != nil {
		return ledger.Listing{}, invalidRow(errorSubjectListing, err)
	}
	price, err := ledger.NewPrice(model.PricePerUnit)
	if err != nil {
		return ledger.Listing{}, invalidRow(errorSubjectListing, err)
	}
	return ledger.Listing{
		ID:                listingID,
		SellerID:          sellerID,
		CreditSourceID:    sourceID,
		CreditSourceLabel: label,
		UnitsForSale:      ledger.Units(model.UnitsForSale),
		PricePerUnit:      price,
		Description:       model.Description,
		Active:            model.Active,
		Version:           model.Version,
		CreatedAt:         model.CreatedAt.UTC(),
	}, nil
}

func transactionToDomain(model Transaction) (ledger.Transaction, error) {
	transactionID, err := ledger.NewTransactionID(model.ID)
	if err != nil {
		return ledger.Transaction{}, invalidRow(errorSubjectTransacted, err)
	}
	buyerID, err := ledger.NewUserID(model.BuyerID)
	if err != nil {
		return ledger.Transaction{}, invalidRow(errorSubjectTransacted, err)
	}
	sellerID, err := ledger.NewUserID(model.SellerID)
	if err != nil {
		return ledger.Transaction{}, invalidRow(errorSubjectTransacted, err)
	}
	listingID, err := ledger.NewListingID(model.ListingID)
	if err != nil {
		return ledger.Transaction{}, invalidRow(errorSubjectTransacted, err)
	}
	sourceID, err := ledger.NewCreditSourceID(model.CreditSourceID)
	if err != nil {
		return ledger.Transaction{}, invalidRow(errorSubjectTransacted, err)
	}
	label, err := ledger.NewLabel(model.CreditSourceLabel)
	if err != nil {
		return ledger.Transaction{}, invalidRow(errorSubjectTransacted, err)
	}
	units, err := ledger.NewPositiveUnits(model.UnitsPurchased)
	if err != nil {
		return ledger.Transaction{}, invalidRow(errorSubjectTransacted, err)
	}
	price, err := ledger.NewPrice(model.PricePerUnit)
	if err != nil {
		return ledger.Transaction{}, invalidRow(errorSubjectTransacted, err)
	}
	metadata, err := ledger.NewMetadataJSON(string(model.Metadata))
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
		TotalAmount:       model.TotalAmount,
		Metadata:          metadata,
		CreatedAt:         model.CreatedAt.UTC(),
	}, nil
}

func grantToDomain(model Grant) (ledger.Grant, error) {
	grantID, err := ledger.NewGrantID(model.ID)
	if err != nil {
		return ledger.Grant{}, invalidRow(errorSubjectGrant, err)
	}
	ownerID, err := ledger.NewUserID(model.OwnerID)
	if err != nil {
		return ledger.Grant{}, invalidRow(errorSubjectGrant, err)
	}
	sourceID, err := ledger.NewCreditSourceID(model.OriginCreditSourceID)
	if err != nil {
		return ledger.Grant{}, invalidRow(errorSubjectGrant, err)
	}
	sellerID, err := ledger.NewUserID(model.SellerID)
	if err != nil {
		return ledger.Grant{}, invalidRow(errorSubjectGrant, err)
	}
	label, err := ledger.NewLabel(model.Label)
	if err != nil {
		return ledger.Grant{}, invalidRow(errorSubjectGrant, err)
	}
	price, err := ledger.NewPrice(model.PricePerUnit)
	if err != nil {
		return ledger.Grant{}, invalidRow(errorSubjectGrant, err)
	}
	return ledger.Grant{
		ID:                   grantID,
		OwnerID:              ownerID,
		OriginCreditSourceID: sourceID,
		SellerID:             sellerID,
		Label:                label,
		UnitsRemaining:       ledger.Units(model.UnitsRemaining),
		PricePerUnit:         price,
		Version:              model.Version,
		PurchasedAt:          model.PurchasedAt.UTC(),
	}, nil
}

func invalidRow(subject string, err error) error {
	return wrapStoreError(subject, errorCodeInvalid, fmt.Errorf("stored row failed validation: %w", err))
}
