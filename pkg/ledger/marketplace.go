package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CreateListing moves units from a source's available credit into a new active listing.
func (service *Service) CreateListing(ctx context.Context, sellerID UserID, sourceID CreditSourceID, units PositiveUnits, price Price, description string) (Listing, error) {
	normalizedDescription, err := NewDescription(description)
	if err != nil {
		return Listing{}, err
	}
	listingID, err := NewListingID(service.idFn())
	if err != nil {
		return Listing{}, err
	}
	var listing Listing
	entry := OperationLog{
		Operation: OperationCreateListing,
		UserID:    sellerID,
		SubjectID: listingID.String(),
		Units:     units.Int64(),
		Amount:    price.Decimal(),
	}
	err = service.execute(ctx, &entry, func(ctx context.Context, txStore Store) error {
		source, err := ownedCreditSource(ctx, txStore, sellerID, sourceID)
		if err != nil {
			return err
		}
		if source.AvailableCredit < units.Units() {
			return fmt.Errorf("%w: requested %d, available %d", ErrInsufficientCredit, units, source.AvailableCredit)
		}
		source.AvailableCredit -= units.Units()
		if err := txStore.UpdateCreditSource(ctx, source); err != nil {
			return err
		}
		candidate := Listing{
			ID:                listingID,
			SellerID:          sellerID,
			CreditSourceID:    source.ID,
			CreditSourceLabel: source.Label,
			UnitsForSale:      units.Units(),
			PricePerUnit:      price,
			Description:       normalizedDescription,
			Active:            true,
			CreatedAt:         service.now(),
		}
		if err := txStore.InsertListing(ctx, candidate); err != nil {
			return err
		}
		listing = candidate
		return nil
	})
	return listing, err
}

// UpdateListing changes price or description. Only the seller may update.
func (service *Service) UpdateListing(ctx context.Context, callerID UserID, listingID ListingID, update ListingUpdate) (Listing, error) {
	if update.PricePerUnit == nil && update.Description == nil {
		return Listing{}, ErrEmptyUpdate
	}
	var normalizedDescription string
	if update.Description != nil {
		described, err := NewDescription(*update.Description)
		if err != nil {
			return Listing{}, err
		}
		normalizedDescription = described
	}
	var listing Listing
	entry := OperationLog{Operation: OperationUpdateListing, UserID: callerID, SubjectID: listingID.String()}
	err := service.execute(ctx, &entry, func(ctx context.Context, txStore Store) error {
		current, err := txStore.GetListing(ctx, listingID)
		if err != nil {
			return err
		}
		if current.SellerID != callerID {
			return fmt.Errorf("%w: only the seller may update listing %s", ErrForbidden, listingID)
		}
		if update.PricePerUnit != nil {
			current.PricePerUnit = *update.PricePerUnit
		}
		if update.Description != nil {
			current.Description = normalizedDescription
		}
		if err := txStore.UpdateListing(ctx, current); err != nil {
			return err
		}
		current.Version++
		listing = current
		return nil
	})
	return listing, err
}

// CloseListing returns unsold units to the originating source, if it still exists, and
// deletes the listing. Only the seller may close.
func (service *Service) CloseListing(ctx context.Context, callerID UserID, listingID ListingID) (Units, error) {
	var returned Units
	entry := OperationLog{Operation: OperationCloseListing, UserID: callerID, SubjectID: listingID.String()}
	err := service.execute(ctx, &entry, func(ctx context.Context, txStore Store) error {
		returned = 0
		listing, err := txStore.GetListing(ctx, listingID)
		if err != nil {
			return err
		}
		if listing.SellerID != callerID {
			return fmt.Errorf("%w: only the seller may close listing %s", ErrForbidden, listingID)
		}
		if listing.Active && listing.UnitsForSale > 0 {
			source, err := txStore.GetCreditSource(ctx, listing.CreditSourceID)
			switch {
			case errors.Is(err, ErrNotFound):
			case err != nil:
				return err
			default:
				source.AvailableCredit += listing.UnitsForSale
				if err := txStore.UpdateCreditSource(ctx, source); err != nil {
					return err
				}
				returned = listing.UnitsForSale
			}
		}
		entry.Units = returned.Int64()
		return txStore.DeleteListing(ctx, listing)
	})
	return returned, err
}

// GetListing returns a listing by id.
func (service *Service) GetListing(ctx context.Context, listingID ListingID) (Listing, error) {
	return service.store.GetListing(ctx, listingID)
}

// ListListings returns listings newest first.
func (service *Service) ListListings(ctx context.Context, filter ListingFilter) ([]Listing, error) {
	return service.store.ListListings(ctx, filter)
}

// Purchase atomically moves units from a listing into a new grant for the buyer, settles cash
// between buyer and seller, and records the transaction.
func (service *Service) Purchase(ctx context.Context, buyerID UserID, listingID ListingID, units PositiveUnits, metadata MetadataJSON) (PurchaseReceipt, error) {
	transactionID, err := NewTransactionID(service.idFn())
	if err != nil {
		return PurchaseReceipt{}, err
	}
	grantID, err := NewGrantID(service.idFn())
	if err != nil {
		return PurchaseReceipt{}, err
	}
	var receipt PurchaseReceipt
	entry := OperationLog{
		Operation: OperationPurchase,
		UserID:    buyerID,
		SubjectID: listingID.String(),
		Units:     units.Int64(),
		Metadata:  metadata,
	}
	err = service.execute(ctx, &entry, func(ctx context.Context, txStore Store) error {
		listing, err := txStore.GetListing(ctx, listingID)
		if err != nil {
			return err
		}
		if !listing.Active {
			return fmt.Errorf("%w: listing %s is no longer active", ErrNotFound, listingID)
		}
		if listing.SellerID == buyerID {
			return ErrSelfTrade
		}
		if listing.UnitsForSale < units.Units() {
			return fmt.Errorf("%w: requested %d, available %d", ErrInsufficientInventory, units, listing.UnitsForSale)
		}
		totalAmount := listing.PricePerUnit.Total(units)
		entry.Amount = totalAmount

		buyer, seller, err := lockAccountPair(ctx, txStore, buyerID, listing.SellerID, service.now())
		if err != nil {
			return err
		}
		if buyer.CashBalance.LessThan(totalAmount) {
			return fmt.Errorf("%w: total %s, balance %s", ErrInsufficientFunds, totalAmount.String(), buyer.CashBalance.String())
		}

		listing.UnitsForSale -= units.Units()
		if listing.UnitsForSale == 0 {
			listing.Active = false
		}
		if err := txStore.UpdateListing(ctx, listing); err != nil {
			return err
		}
		buyer.CashBalance = buyer.CashBalance.Sub(totalAmount)
		if err := txStore.UpdateAccount(ctx, buyer); err != nil {
			return err
		}
		seller.CashBalance = seller.CashBalance.Add(totalAmount)
		if err := txStore.UpdateAccount(ctx, seller); err != nil {
			return err
		}

		purchasedAt := service.now()
		transaction := Transaction{
			ID:                transactionID,
			BuyerID:           buyerID,
			SellerID:          listing.SellerID,
			ListingID:         listing.ID,
			CreditSourceID:    listing.CreditSourceID,
			CreditSourceLabel: listing.CreditSourceLabel,
			UnitsPurchased:    units,
			PricePerUnit:      listing.PricePerUnit,
			TotalAmount:       totalAmount,
			Metadata:          metadata,
			CreatedAt:         purchasedAt,
		}
		if err := txStore.InsertTransaction(ctx, transaction); err != nil {
			return err
		}
		grant := Grant{
			ID:                   grantID,
			OwnerID:              buyerID,
			OriginCreditSourceID: listing.CreditSourceID,
			SellerID:             listing.SellerID,
			Label:                listing.CreditSourceLabel,
			UnitsRemaining:       units.Units(),
			PricePerUnit:         listing.PricePerUnit,
			PurchasedAt:          purchasedAt,
		}
		if err := txStore.InsertGrant(ctx, grant); err != nil {
			return err
		}
		receipt = PurchaseReceipt{Transaction: transaction, Grant: grant}
		return nil
	})
	return receipt, err
}

// lockAccountPair loads two accounts in user id order so opposing trades take row locks in the same sequence.
func lockAccountPair(ctx context.Context, txStore Store, first UserID, second UserID, now time.Time) (Account, Account, error) {
	if second.String() < first.String() {
		secondAccount, firstAccount, err := lockAccountPair(ctx, txStore, second, first, now)
		return firstAccount, secondAccount, err
	}
	firstAccount, err := txStore.GetOrCreateAccount(ctx, first, now)
	if err != nil {
		return Account{}, Account{}, err
	}
	secondAccount, err := txStore.GetOrCreateAccount(ctx, second, now)
	if err != nil {
		return Account{}, Account{}, err
	}
	return firstAccount, secondAccount, nil
}
