package httpapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/tokenmarket/internal/broker"
	"github.com/MarkoPoloResearchLab/tokenmarket/internal/idempotency"
	"github.com/MarkoPoloResearchLab/tokenmarket/pkg/ledger"
	"github.com/gin-gonic/gin"
)

const internalErrorMessage = "internal error"

type errorMapping struct {
	target error
	status int
	code   string
}

// Ordered: more specific sentinels first.
var errorMappings = []errorMapping{
	{target: idempotency.ErrDuplicateRequest, status: http.StatusConflict, code: "duplicate_request"},
	{target: idempotency.ErrEmptyKey, status: http.StatusBadRequest, code: "invalid_idempotency_key"},
	{target: ledger.ErrConcurrentUpdate, status: http.StatusConflict, code: "concurrent_update"},
	{target: broker.ErrProviderError, status: http.StatusBadGateway, code: "provider_error"},
	{target: ledger.ErrNotFound, status: http.StatusNotFound, code: "not_found"},
	{target: ledger.ErrForbidden, status: http.StatusForbidden, code: "forbidden"},
	{target: ledger.ErrValidation, status: http.StatusBadRequest, code: "invalid_request"},
	{target: ledger.ErrInsufficientCredit, status: http.StatusBadRequest, code: "insufficient_credit"},
	{target: ledger.ErrInsufficientInventory, status: http.StatusBadRequest, code: "insufficient_inventory"},
	{target: ledger.ErrInsufficientFunds, status: http.StatusBadRequest, code: "insufficient_funds"},
	{target: ledger.ErrInsufficientGrantBalance, status: http.StatusBadRequest, code: "insufficient_grant_balance"},
	{target: ledger.ErrSelfTrade, status: http.StatusBadRequest, code: "self_trade"},
	{target: broker.ErrCredentialExhausted, status: http.StatusBadRequest, code: "credential_exhausted"},
}

// statusFor maps err onto an HTTP status, an error code and whether the message may be shown.
func statusFor(err error) (int, string, bool) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			return mapping.status, mapping.code, true
		}
	}
	return http.StatusInternalServerError, "internal_error", false
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
