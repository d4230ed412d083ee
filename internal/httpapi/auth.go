package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/tokenmarket/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	contextKeyUserID = "tokenmarket_user_id"
	contextKeyRole   = "tokenmarket_role"
	bearerPrefix     = "Bearer "

	// RoleAdmin grants access to the /api/admin routes.
	RoleAdmin = "admin"
)

// Claims are the registered JWT claims plus the caller's role.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// BearerMiddleware verifies HS256 bearer tokens and stores the subject as the caller's user id.
func BearerMiddleware(signingKey string, issuer string) gin.HandlerFunc {
	parserOptions := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(parserOptions...)
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		return []byte(signingKey), nil
	}

	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing bearer token"))
			return
		}
		claims := &Claims{}
		token, err := parser.ParseWithClaims(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)), claims, keyFunc)
		if err != nil || !token.Valid {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid token"))
			return
		}
		userID, err := ledger.NewUserID(claims.Subject)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "token has no subject"))
			return
		}
		ctx.Set(contextKeyUserID, userID)
		ctx.Set(contextKeyRole, strings.TrimSpace(claims.Role))
		ctx.Next()
	}
}

// RequireRole rejects callers whose token does not carry role. It must run after BearerMiddleware.
func RequireRole(role string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.GetString(contextKeyRole) != role {
			ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", role+" role required"))
			return
		}
		ctx.Next()
	}
}

func callerID(ctx *gin.Context) (ledger.UserID, bool) {
	value, ok := ctx.Get(contextKeyUserID)
	if !ok {
		return ledger.UserID{}, false
	}
	userID, ok := value.(ledger.UserID)
	return userID, ok
}
