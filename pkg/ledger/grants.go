package ledger

import (
	"context"
	"fmt"
)

// Consume deducts unitsUsed from the owner's grant and returns what remains. A grant that
// reaches zero is deleted. Deductions larger than the balance fail without any mutation.
func (service *Service) Consume(ctx context.Context, ownerID UserID, grantID GrantID, unitsUsed Units) (Units, error) {
	if unitsUsed < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidUnits)
	}
	var remaining Units
	entry := OperationLog{Operation: OperationConsume, UserID: ownerID, SubjectID: grantID.String(), Units: unitsUsed.Int64()}
	err := service.execute(ctx, &entry, func(ctx context.Context, txStore Store) error {
		grant, err := ownedGrant(ctx, txStore, ownerID, grantID)
		if err != nil {
			return err
		}
		if unitsUsed > grant.UnitsRemaining {
			return fmt.Errorf("%w: used %d, remaining %d", ErrInsufficientGrantBalance, unitsUsed, grant.UnitsRemaining)
		}
		grant.UnitsRemaining -= unitsUsed
		remaining = grant.UnitsRemaining
		if grant.UnitsRemaining == 0 {
			return txStore.DeleteGrant(ctx, grant)
		}
		return txStore.UpdateGrant(ctx, grant)
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// ExhaustGrant deletes the owner's grant regardless of its remaining balance.
func (service *Service) ExhaustGrant(ctx context.Context, ownerID UserID, grantID GrantID) error {
	entry := OperationLog{Operation: OperationExhaustGrant, UserID: ownerID, SubjectID: grantID.String()}
	return service.execute(ctx, &entry, func(ctx context.Context, txStore Store) error {
		grant, err := ownedGrant(ctx, txStore, ownerID, grantID)
		if err != nil {
			return err
		}
		entry.Units = grant.UnitsRemaining.Int64()
		return txStore.DeleteGrant(ctx, grant)
	})
}

// ConsumeOwned meters the owner's personal use of their own source. Available credit is
// clamped at zero and the source is never removed; a drained source blocks further use.
func (service *Service) ConsumeOwned(ctx context.Context, ownerID UserID, sourceID CreditSourceID, unitsUsed Units) (Units, error) {
	if unitsUsed < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidUnits)
	}
	var remaining Units
	entry := OperationLog{Operation: OperationConsumeOwned, UserID: ownerID, SubjectID: sourceID.String(), Units: unitsUsed.Int64()}
	err := service.execute(ctx, &entry, func(ctx context.Context, txStore Store) error {
		source, err := ownedCreditSource(ctx, txStore, ownerID, sourceID)
		if err != nil {
			return err
		}
		charged := min(unitsUsed, source.AvailableCredit)
		source.AvailableCredit -= charged
		source.UsedCredit += charged
		remaining = source.AvailableCredit
		if charged == 0 {
			return nil
		}
		return txStore.UpdateCreditSource(ctx, source)
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// ResolveGrantSource returns a spendable grant together with the seller's source it draws on.
func (service *Service) ResolveGrantSource(ctx context.Context, ownerID UserID, grantID GrantID) (Grant, CreditSource, error) {
	grant, err := ownedGrant(ctx, service.store, ownerID, grantID)
	if err != nil {
		return Grant{}, CreditSource{}, err
	}
	if grant.UnitsRemaining <= 0 {
		return Grant{}, CreditSource{}, fmt.Errorf("%w: grant %s has no remaining units", ErrNotFound, grantID)
	}
	source, err := service.store.GetCreditSource(ctx, grant.OriginCreditSourceID)
	if err != nil {
		return Grant{}, CreditSource{}, err
	}
	return grant, source, nil
}

// GetGrant returns one of the owner's grants.
func (service *Service) GetGrant(ctx context.Context, ownerID UserID, grantID GrantID) (Grant, error) {
	return ownedGrant(ctx, service.store, ownerID, grantID)
}

// ListGrants returns the owner's grants.
func (service *Service) ListGrants(ctx context.Context, ownerID UserID) ([]Grant, error) {
	return service.store.ListGrants(ctx, ownerID)
}

// ListPurchases returns transactions where the user was the buyer, newest first.
func (service *Service) ListPurchases(ctx context.Context, buyerID UserID) ([]Transaction, error) {
	return service.store.ListTransactions(ctx, TransactionFilter{BuyerID: &buyerID})
}

// ListSales returns transactions where the user was the seller, newest first.
func (service *Service) ListSales(ctx context.Context, sellerID UserID) ([]Transaction, error) {
	return service.store.ListTransactions(ctx, TransactionFilter{SellerID: &sellerID})
}

func ownedGrant(ctx context.Context, store Store, ownerID UserID, grantID GrantID) (Grant, error) {
	grant, err := store.GetGrant(ctx, grantID)
	if err != nil {
		return Grant{}, err
	}
	if grant.OwnerID != ownerID {
		return Grant{}, fmt.Errorf("%w: grant %s", ErrNotFound, grantID)
	}
	return grant, nil
}
