package httpapi

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signRoleToken(test *testing.T, subject string, role string) string {
	test.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	if err != nil {
		test.Fatalf("sign token: %v", err)
	}
	return token
}

func TestAdminRoutesRequireAdminRole(test *testing.T) {
	test.Parallel()
	fixture := newAPIFixture(test)
	testCases := []struct {
		name  string
		token string
	}{
		{name: "no role", token: signToken(test, "buyer-1", testIssuer, testSigningKey)},
		{name: "user role", token: signRoleToken(test, "buyer-1", "user")},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			for _, path := range []string{"/api/admin/stats", "/api/admin/accounts", "/api/admin/transactions", "/api/admin/listings", "/api/admin/accounts/seller-1"} {
				recorder := doRequest(test, fixture.router, http.MethodGet, path, testCase.token, nil, nil)
				expectStatus(test, recorder, http.StatusForbidden)
			}
		})
	}
	unauthenticated := doRequest(test, fixture.router, http.MethodGet, "/api/admin/stats", "", nil, nil)
	expectStatus(test, unauthenticated, http.StatusUnauthorized)
}

func TestAdminSeesWholeMarket(test *testing.T) {
	test.Parallel()
	fixture := newAPIFixture(test)
	sellerToken := signToken(test, "seller-1", testIssuer, testSigningKey)
	buyerToken := signToken(test, "buyer-1", testIssuer, testSigningKey)
	adminToken := signRoleToken(test, "operator-1", RoleAdmin)

	registered := doRequest(test, fixture.router, http.MethodPost, "/api/credit-sources", sellerToken,
		map[string]any{"label": "team gpt key", "secret": sellerSecret, "totalCredit": 1000}, nil)
	expectStatus(test, registered, http.StatusCreated)
	source := decodeBody[struct {
		CreditSource struct {
			ID string `json:"id"`
		} `json:"creditSource"`
	}](test, registered)

	listingIDs := make([]string, 0, 2)
	for _, units := range []int{100, 50} {
		created := doRequest(test, fixture.router, http.MethodPost, "/api/listings", sellerToken,
			map[string]any{"creditSourceId": source.CreditSource.ID, "units": units, "pricePerUnit": "0.01"}, nil)
		expectStatus(test, created, http.StatusCreated)
		listing := decodeBody[struct {
			Listing struct {
				ID string `json:"id"`
			} `json:"listing"`
		}](test, created)
		listingIDs = append(listingIDs, listing.Listing.ID)
	}
	expectStatus(test, doRequest(test, fixture.router, http.MethodDelete, "/api/listings/"+listingIDs[1], sellerToken, nil, nil), http.StatusOK)

	expectStatus(test, doRequest(test, fixture.router, http.MethodPost, "/api/account/deposit", buyerToken,
		map[string]any{"amount": "5"}, nil), http.StatusOK)
	expectStatus(test, doRequest(test, fixture.router, http.MethodPost, "/api/listings/"+listingIDs[0]+"/purchase", buyerToken,
		map[string]any{"units": 10}, nil), http.StatusCreated)

	stats := doRequest(test, fixture.router, http.MethodGet, "/api/admin/stats", adminToken, nil, nil)
	expectStatus(test, stats, http.StatusOK)
	decodedStats := decodeBody[statsPayload](test, stats)
	if decodedStats.AccountCount != 2 || decodedStats.ActiveListings != 1 || decodedStats.TransactionCount != 1 || decodedStats.TotalValue != "0.1" {
		test.Fatalf("unexpected stats %+v", decodedStats)
	}

	listings := doRequest(test, fixture.router, http.MethodGet, "/api/admin/listings", adminToken, nil, nil)
	expectStatus(test, listings, http.StatusOK)
	if got := len(decodeBody[struct {
		Listings []listingPayload `json:"listings"`
	}](test, listings).Listings); got != 2 {
		test.Fatalf("admin must see closed listings too, got %d", got)
	}

	transactions := doRequest(test, fixture.router, http.MethodGet, "/api/admin/transactions", adminToken, nil, nil)
	expectStatus(test, transactions, http.StatusOK)
	if got := len(decodeBody[struct {
		Transactions []transactionPayload `json:"transactions"`
	}](test, transactions).Transactions); got != 1 {
		test.Fatalf("expected 1 transaction, got %d", got)
	}

	buyer := doRequest(test, fixture.router, http.MethodGet, "/api/admin/accounts/buyer-1", adminToken, nil, nil)
	expectStatus(test, buyer, http.StatusOK)
	buyerBody := decodeBody[struct {
		Account accountPayload   `json:"account"`
		Grants  []grantPayload   `json:"grants"`
		Sources []map[string]any `json:"creditSources"`
	}](test, buyer)
	if buyerBody.Account.CashBalance != "4.9" || len(buyerBody.Grants) != 1 || len(buyerBody.Sources) != 0 {
		test.Fatalf("unexpected buyer detail %+v", buyerBody)
	}

	missing := doRequest(test, fixture.router, http.MethodGet, "/api/admin/accounts/nobody", adminToken, nil, nil)
	expectStatus(test, missing, http.StatusNotFound)
}

func TestDepositHonorsMoneyScale(test *testing.T) {
	test.Parallel()
	fixture := newAPIFixture(test)
	token := signToken(test, "buyer-1", testIssuer, testSigningKey)

	accepted := doRequest(test, fixture.router, http.MethodPost, "/api/account/deposit", token, map[string]any{"amount": "9.995"}, nil)
	expectStatus(test, accepted, http.StatusOK)
	body := decodeBody[struct {
		Account accountPayload `json:"account"`
	}](test, accepted)
	if body.Account.CashBalance != "9.995" {
		test.Fatalf("expected exact balance 9.995, got %q", body.Account.CashBalance)
	}

	rejected := doRequest(test, fixture.router, http.MethodPost, "/api/account/deposit", token, map[string]any{"amount": "0.0000001"}, nil)
	expectStatus(test, rejected, http.StatusBadRequest)
}
