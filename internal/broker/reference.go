package broker

import (
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/tokenmarket/pkg/ledger"
)

// CredentialKind selects between an owner's own key and a purchased grant.
type CredentialKind string

const (
	KindOwned CredentialKind = "owned"
	KindGrant CredentialKind = "grant"
)

// CredentialRef identifies the credential a metered call draws from.
type CredentialRef struct {
	kind     CredentialKind
	sourceID ledger.CreditSourceID
	grantID  ledger.GrantID
}

// ParseCredentialRef validates a kind/id pair. "user" and "temp" are accepted as aliases.
func ParseCredentialRef(kind string, id string) (CredentialRef, error) {
	switch CredentialKind(strings.ToLower(strings.TrimSpace(kind))) {
	case KindOwned, "user":
		sourceID, err := ledger.NewCreditSourceID(id)
		if err != nil {
			return CredentialRef{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
		}
		return OwnedRef(sourceID), nil
	case KindGrant, "temp":
		grantID, err := ledger.NewGrantID(id)
		if err != nil {
			return CredentialRef{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
		}
		return GrantRef(grantID), nil
	default:
		return CredentialRef{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidReference, kind)
	}
}

// OwnedRef references a credit source owned by the caller.
func OwnedRef(sourceID ledger.CreditSourceID) CredentialRef {
	return CredentialRef{kind: KindOwned, sourceID: sourceID}
}

// GrantRef references a purchased grant.
func GrantRef(grantID ledger.GrantID) CredentialRef {
	return CredentialRef{kind: KindGrant, grantID: grantID}
}

func (ref CredentialRef) Kind() CredentialKind {
	return ref.kind
}

// ID returns the referenced source or grant id.
func (ref CredentialRef) ID() string {
	if ref.kind == KindGrant {
		return ref.grantID.String()
	}
	return ref.sourceID.String()
}
