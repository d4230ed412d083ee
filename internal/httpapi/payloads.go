package httpapi

import (
	"encoding/json"
	"time"

	"github.com/MarkoPoloResearchLab/tokenmarket/internal/broker"
	"github.com/MarkoPoloResearchLab/tokenmarket/internal/provider"
	"github.com/MarkoPoloResearchLab/tokenmarket/pkg/ledger"
	"github.com/shopspring/decimal"
)

type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type registerSourceRequest struct {
	Label       string `json:"label"`
	Secret      string `json:"secret"`
	TotalCredit int64  `json:"totalCredit"`
}

type updateSourceRequest struct {
	Label *string `json:"label"`
	Delta *int64  `json:"delta"`
}

type createListingRequest struct {
	CreditSourceID string          `json:"creditSourceId"`
	Units          int64           `json:"units"`
	PricePerUnit   decimal.Decimal `json:"pricePerUnit"`
	Description    string          `json:"description"`
}

type updateListingRequest struct {
	PricePerUnit *decimal.Decimal `json:"pricePerUnit"`
	Description  *string          `json:"description"`
}

type purchaseRequest struct {
	Units    int64           `json:"units"`
	Metadata json.RawMessage `json:"metadata"`
}

type chatRequest struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

type accountPayload struct {
	UserID      string `json:"userId"`
	CashBalance string `json:"cashBalance"`
	CreatedAt   int64  `json:"createdAt"`
}

type creditSourcePayload struct {
	ID              string `json:"id"`
	Label           string `json:"label"`
	TotalCredit     int64  `json:"totalCredit"`
	AvailableCredit int64  `json:"availableCredit"`
	UsedCredit      int64  `json:"usedCredit"`
	CreatedAt       int64  `json:"createdAt"`
}

type listingPayload struct {
	ID                string `json:"id"`
	SellerID          string `json:"sellerId"`
	CreditSourceID    string `json:"creditSourceId"`
	CreditSourceLabel string `json:"creditSourceLabel"`
	UnitsForSale      int64  `json:"unitsForSale"`
	PricePerUnit      string `json:"pricePerUnit"`
	Description       string `json:"description"`
	Active            bool   `json:"active"`
	CreatedAt         int64  `json:"createdAt"`
}

type transactionPayload struct {
	ID                string          `json:"id"`
	BuyerID           string          `json:"buyerId"`
	SellerID          string          `json:"sellerId"`
	ListingID         string          `json:"listingId"`
	CreditSourceLabel string          `json:"creditSourceLabel"`
	UnitsPurchased    int64           `json:"unitsPurchased"`
	PricePerUnit      string          `json:"pricePerUnit"`
	TotalAmount       string          `json:"totalAmount"`
	Metadata          json.RawMessage `json:"metadata"`
	CreatedAt         int64           `json:"createdAt"`
}

type grantPayload struct {
	ID             string `json:"id"`
	SellerID       string `json:"sellerId"`
	Label          string `json:"label"`
	UnitsRemaining int64  `json:"unitsRemaining"`
	PricePerUnit   string `json:"pricePerUnit"`
	PurchasedAt    int64  `json:"purchasedAt"`
}

type modelsPayload struct {
	Vendor string           `json:"vendor"`
	Models []provider.Model `json:"models"`
}

type chatPayload struct {
	Text           string `json:"text"`
	UsageCount     int64  `json:"usageCount"`
	RemainingUnits int64  `json:"remainingUnits"`
	Exhausted      bool   `json:"exhausted"`
}

func unixUTC(moment time.Time) int64 {
	return moment.UTC().Unix()
}

func toAccountPayload(account ledger.Account) accountPayload {
	return accountPayload{
		UserID:      account.UserID.String(),
		CashBalance: account.CashBalance.String(),
		CreatedAt:   unixUTC(account.CreatedAt),
	}
}

func toCreditSourcePayload(source ledger.CreditSource) creditSourcePayload {
	return creditSourcePayload{
		ID:              source.ID.String(),
		Label:           source.Label.String(),
		TotalCredit:     source.TotalCredit.Int64(),
		AvailableCredit: source.AvailableCredit.Int64(),
		UsedCredit:      source.UsedCredit.Int64(),
		CreatedAt:       unixUTC(source.CreatedAt),
	}
}

func toListingPayload(listing ledger.Listing) listingPayload {
	return listingPayload{
		ID:                listing.ID.String(),
		SellerID:          listing.SellerID.String(),
		CreditSourceID:    listing.CreditSourceID.String(),
		CreditSourceLabel: listing.CreditSourceLabel.String(),
		UnitsForSale:      listing.UnitsForSale.Int64(),
		PricePerUnit:      listing.PricePerUnit.String(),
		Description:       listing.Description,
		Active:            listing.Active,
		CreatedAt:         unixUTC(listing.CreatedAt),
	}
}

func toTransactionPayload(transaction ledger.Transaction) transactionPayload {
	return transactionPayload{
		ID:                transaction.ID.String(),
		BuyerID:           transaction.BuyerID.String(),
		SellerID:          transaction.SellerID.String(),
		ListingID:         transaction.ListingID.String(),
		CreditSourceLabel: transaction.CreditSourceLabel.String(),
		UnitsPurchased:    transaction.UnitsPurchased.Int64(),
		PricePerUnit:      transaction.PricePerUnit.String(),
		TotalAmount:       transaction.TotalAmount.String(),
		Metadata:          json.RawMessage(transaction.Metadata.String()),
		CreatedAt:         unixUTC(transaction.CreatedAt),
	}
}

func toGrantPayload(grant ledger.Grant) grantPayload {
	return grantPayload{
		ID:             grant.ID.String(),
		SellerID:       grant.SellerID.String(),
		Label:          grant.Label.String(),
		UnitsRemaining: grant.UnitsRemaining.Int64(),
		PricePerUnit:   grant.PricePerUnit.String(),
		PurchasedAt:    unixUTC(grant.PurchasedAt),
	}
}

func toChatPayload(result broker.MeteredResult) chatPayload {
	return chatPayload{
		Text:           result.Text,
		UsageCount:     result.UsageCount,
		RemainingUnits: result.RemainingUnits.Int64(),
		Exhausted:      result.Exhausted,
	}
}

func mapSlice[In any, Out any](items []In, convert func(In) Out) []Out {
	converted := make([]Out, 0, len(items))
	for _, item := range items {
		converted = append(converted, convert(item))
	}
	return converted
}
