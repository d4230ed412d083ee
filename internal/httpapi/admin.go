package httpapi

import (
	"net/http"

	"github.com/MarkoPoloResearchLab/tokenmarket/pkg/ledger"
	"github.com/gin-gonic/gin"
)

type statsPayload struct {
	AccountCount     int    `json:"accountCount"`
	ActiveListings   int    `json:"activeListings"`
	TransactionCount int    `json:"totalTransactions"`
	TotalValue       string `json:"totalValue"`
}

func (handler *httpHandler) handleAdminListAccounts(ctx *gin.Context) {
	accounts, err := handler.ledger.ListAccounts(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"accounts": mapSlice(accounts, toAccountPayload)})
}

func (handler *httpHandler) handleAdminGetAccount(ctx *gin.Context) {
	userID, err := ledger.NewUserID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx := ctx.Request.Context()
	account, err := handler.ledger.FindAccount(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	sources, err := handler.ledger.ListCreditSources(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	listings, err := handler.ledger.ListListings(requestCtx, ledger.ListingFilter{SellerID: &userID})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	grants, err := handler.ledger.ListGrants(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"account":       toAccountPayload(account),
		"creditSources": mapSlice(sources, toCreditSourcePayload),
		"listings":      mapSlice(listings, toListingPayload),
		"grants":        mapSlice(grants, toGrantPayload),
	})
}

func (handler *httpHandler) handleAdminListListings(ctx *gin.Context) {
	listings, err := handler.ledger.ListListings(ctx.Request.Context(), ledger.ListingFilter{})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"listings": mapSlice(listings, toListingPayload)})
}

func (handler *httpHandler) handleAdminListTransactions(ctx *gin.Context) {
	transactions, err := handler.ledger.ListAllTransactions(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": mapSlice(transactions, toTransactionPayload)})
}

func (handler *httpHandler) handleAdminStats(ctx *gin.Context) {
	stats, err := handler.ledger.Stats(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, statsPayload{
		AccountCount:     stats.AccountCount,
		ActiveListings:   stats.ActiveListings,
		TransactionCount: stats.TransactionCount,
		TotalValue:       stats.TotalValue.String(),
	})
}
