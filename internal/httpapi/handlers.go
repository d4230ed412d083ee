package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/tokenmarket/internal/broker"
	"github.com/MarkoPoloResearchLab/tokenmarket/internal/provider"
	"github.com/MarkoPoloResearchLab/tokenmarket/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const idempotencyHeader = "Idempotency-Key"

// Ledger is the part of ledger.Service exposed over HTTP.
type Ledger interface {
	OpenAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error)
	FindAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error)
	ListAccounts(ctx context.Context) ([]ledger.Account, error)
	Deposit(ctx context.Context, userID ledger.UserID, amount decimal.Decimal) (ledger.Account, error)
	RenameCreditSource(ctx context.Context, ownerID ledger.UserID, sourceID ledger.CreditSourceID, label ledger.Label) (ledger.CreditSource, error)
	AdjustCreditSource(ctx context.Context, ownerID ledger.UserID, sourceID ledger.CreditSourceID, delta int64) (ledger.CreditSource, error)
	RemoveCreditSource(ctx context.Context, ownerID ledger.UserID, sourceID ledger.CreditSourceID) error
	ListCreditSources(ctx context.Context, ownerID ledger.UserID) ([]ledger.CreditSource, error)
	CreateListing(ctx context.Context, sellerID ledger.UserID, sourceID ledger.CreditSourceID, units ledger.PositiveUnits, price ledger.Price, description string) (ledger.Listing, error)
	UpdateListing(ctx context.Context, callerID ledger.UserID, listingID ledger.ListingID, update ledger.ListingUpdate) (ledger.Listing, error)
	CloseListing(ctx context.Context, callerID ledger.UserID, listingID ledger.ListingID) (ledger.Units, error)
	GetListing(ctx context.Context, listingID ledger.ListingID) (ledger.Listing, error)
	ListListings(ctx context.Context, filter ledger.ListingFilter) ([]ledger.Listing, error)
	Purchase(ctx context.Context, buyerID ledger.UserID, listingID ledger.ListingID, units ledger.PositiveUnits, metadata ledger.MetadataJSON) (ledger.PurchaseReceipt, error)
	ListGrants(ctx context.Context, ownerID ledger.UserID) ([]ledger.Grant, error)
	ListPurchases(ctx context.Context, buyerID ledger.UserID) ([]ledger.Transaction, error)
	ListSales(ctx context.Context, sellerID ledger.UserID) ([]ledger.Transaction, error)
	ListAllTransactions(ctx context.Context) ([]ledger.Transaction, error)
	Stats(ctx context.Context) (ledger.MarketStats, error)
}

// Broker is the part of broker.Broker exposed over HTTP.
type Broker interface {
	RegisterCredential(ctx context.Context, ownerID ledger.UserID, label ledger.Label, secret string, totalCredit ledger.Units) (ledger.CreditSource, error)
	AvailableModels(ctx context.Context, ownerID ledger.UserID, ref broker.CredentialRef) (provider.Vendor, []provider.Model, error)
	PerformMeteredCall(ctx context.Context, ownerID ledger.UserID, ref broker.CredentialRef, prompt string, modelID string) (broker.MeteredResult, error)
}

// RequestGuard rejects replayed purchase requests.
type RequestGuard interface {
	Claim(ctx context.Context, scope string, key string) error
	Release(ctx context.Context, scope string, key string) error
}

type httpHandler struct {
	logger *zap.Logger
	ledger Ledger
	broker Broker
	guard  RequestGuard
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	status, code, visible := statusFor(err)
	message := err.Error()
	if !visible {
		handler.logger.Error("request failed",
			zap.String("method", ctx.Request.Method),
			zap.String("route", ctx.FullPath()),
			zap.Error(err),
		)
		message = internalErrorMessage
	}
	ctx.JSON(status, errorResponse(code, message))
}

func (handler *httpHandler) bindJSON(ctx *gin.Context, target any) bool {
	if err := ctx.ShouldBindJSON(target); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return false
	}
	return true
}

func (handler *httpHandler) caller(ctx *gin.Context) (ledger.UserID, bool) {
	userID, ok := callerID(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing caller"))
	}
	return userID, ok
}

func (handler *httpHandler) handleListListings(ctx *gin.Context) {
	filter := ledger.ListingFilter{ActiveOnly: true}
	if rawSeller := ctx.Query("seller"); rawSeller != "" {
		sellerID, err := ledger.NewUserID(rawSeller)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		filter.SellerID = &sellerID
	}
	listings, err := handler.ledger.ListListings(ctx.Request.Context(), filter)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"listings": mapSlice(listings, toListingPayload)})
}

func (handler *httpHandler) handleGetListing(ctx *gin.Context) {
	listingID, err := ledger.NewListingID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	listing, err := handler.ledger.GetListing(ctx.Request.Context(), listingID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"listing": toListingPayload(listing)})
}

func (handler *httpHandler) handleCreateListing(ctx *gin.Context) {
	sellerID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	var request createListingRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	sourceID, err := ledger.NewCreditSourceID(request.CreditSourceID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	units, err := ledger.NewPositiveUnits(request.Units)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	price, err := ledger.NewPrice(request.PricePerUnit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	listing, err := handler.ledger.CreateListing(ctx.Request.Context(), sellerID, sourceID, units, price, request.Description)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"listing": toListingPayload(listing)})
}

func (handler *httpHandler) handleUpdateListing(ctx *gin.Context) {
	callerID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	listingID, err := ledger.NewListingID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var request updateListingRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	update := ledger.ListingUpdate{Description: request.Description}
	if request.PricePerUnit != nil {
		price, err := ledger.NewPrice(*request.PricePerUnit)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		update.PricePerUnit = &price
	}
	listing, err := handler.ledger.UpdateListing(ctx.Request.Context(), callerID, listingID, update)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"listing": toListingPayload(listing)})
}

func (handler *httpHandler) handleCloseListing(ctx *gin.Context) {
	callerID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	listingID, err := ledger.NewListingID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	returned, err := handler.ledger.CloseListing(ctx.Request.Context(), callerID, listingID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "listing closed", "unitsReturned": returned.Int64()})
}

func (handler *httpHandler) handlePurchase(ctx *gin.Context) {
	buyerID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	listingID, err := ledger.NewListingID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var request purchaseRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	units, err := ledger.NewPositiveUnits(request.Units)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	metadata, err := ledger.NewMetadataJSON(string(request.Metadata))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}

	requestCtx := ctx.Request.Context()
	idempotencyKey := strings.TrimSpace(ctx.GetHeader(idempotencyHeader))
	claimed := false
	if idempotencyKey != "" && handler.guard != nil {
		if err := handler.guard.Claim(requestCtx, buyerID.String(), idempotencyKey); err != nil {
			handler.respondError(ctx, err)
			return
		}
		claimed = true
	}

	receipt, err := handler.ledger.Purchase(requestCtx, buyerID, listingID, units, metadata)
	if err != nil {
		if claimed {
			if releaseErr := handler.guard.Release(context.WithoutCancel(requestCtx), buyerID.String(), idempotencyKey); releaseErr != nil {
				handler.logger.Warn("release idempotency key", zap.String("key", idempotencyKey), zap.Error(releaseErr))
			}
		}
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"transaction": toTransactionPayload(receipt.Transaction),
		"grant":       toGrantPayload(receipt.Grant),
	})
}

func (handler *httpHandler) handleGetAccount(ctx *gin.Context) {
	userID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	requestCtx := ctx.Request.Context()
	account, err := handler.ledger.OpenAccount(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	sources, err := handler.ledger.ListCreditSources(requestCtx, userID)
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
		"grants":        mapSlice(grants, toGrantPayload),
	})
}

func (handler *httpHandler) handleDeposit(ctx *gin.Context) {
	userID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	var request depositRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	account, err := handler.ledger.Deposit(ctx.Request.Context(), userID, request.Amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"account": toAccountPayload(account)})
}

func (handler *httpHandler) handleListCreditSources(ctx *gin.Context) {
	ownerID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	sources, err := handler.ledger.ListCreditSources(ctx.Request.Context(), ownerID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"creditSources": mapSlice(sources, toCreditSourcePayload)})
}

func (handler *httpHandler) handleRegisterCreditSource(ctx *gin.Context) {
	ownerID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	var request registerSourceRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	label, err := ledger.NewLabel(request.Label)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	totalCredit, err := ledger.NewUnits(request.TotalCredit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	source, err := handler.broker.RegisterCredential(ctx.Request.Context(), ownerID, label, request.Secret, totalCredit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"creditSource": toCreditSourcePayload(source)})
}

func (handler *httpHandler) handleUpdateCreditSource(ctx *gin.Context) {
	ownerID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	sourceID, err := ledger.NewCreditSourceID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var request updateSourceRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	if request.Label == nil && request.Delta == nil {
		handler.respondError(ctx, ledger.ErrEmptyUpdate)
		return
	}

	requestCtx := ctx.Request.Context()
	var source ledger.CreditSource
	if request.Label != nil {
		label, err := ledger.NewLabel(*request.Label)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		if source, err = handler.ledger.RenameCreditSource(requestCtx, ownerID, sourceID, label); err != nil {
			handler.respondError(ctx, err)
			return
		}
	}
	if request.Delta != nil {
		if source, err = handler.ledger.AdjustCreditSource(requestCtx, ownerID, sourceID, *request.Delta); err != nil {
			handler.respondError(ctx, err)
			return
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"creditSource": toCreditSourcePayload(source)})
}

func (handler *httpHandler) handleRemoveCreditSource(ctx *gin.Context) {
	ownerID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	sourceID, err := ledger.NewCreditSourceID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if err := handler.ledger.RemoveCreditSource(ctx.Request.Context(), ownerID, sourceID); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "credit source removed"})
}

func (handler *httpHandler) handleListGrants(ctx *gin.Context) {
	ownerID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	grants, err := handler.ledger.ListGrants(ctx.Request.Context(), ownerID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"grants": mapSlice(grants, toGrantPayload)})
}

func (handler *httpHandler) handleListPurchases(ctx *gin.Context) {
	buyerID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	transactions, err := handler.ledger.ListPurchases(ctx.Request.Context(), buyerID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": mapSlice(transactions, toTransactionPayload)})
}

func (handler *httpHandler) handleListSales(ctx *gin.Context) {
	sellerID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	transactions, err := handler.ledger.ListSales(ctx.Request.Context(), sellerID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": mapSlice(transactions, toTransactionPayload)})
}

func (handler *httpHandler) handleModels(ctx *gin.Context) {
	ownerID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	ref, err := broker.ParseCredentialRef(ctx.Query("kind"), ctx.Query("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	vendor, models, err := handler.broker.AvailableModels(ctx.Request.Context(), ownerID, ref)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, modelsPayload{Vendor: string(vendor), Models: models})
}

func (handler *httpHandler) handleChat(ctx *gin.Context) {
	ownerID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	var request chatRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		if errors.Is(err, io.EOF) {
			handler.respondError(ctx, broker.ErrEmptyPrompt)
			return
		}
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	ref, err := broker.ParseCredentialRef(request.Kind, request.ID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	result, err := handler.broker.PerformMeteredCall(ctx.Request.Context(), ownerID, ref, request.Prompt, request.Model)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, toChatPayload(result))
}
