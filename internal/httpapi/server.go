// Package httpapi exposes the marketplace ledger and the access broker over JSON HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// ErrInvalidServerConfig reports missing settings or dependencies.
var ErrInvalidServerConfig = errors.New("invalid http server configuration")

// Config carries the HTTP facade settings.
type Config struct {
	ListenAddr     string
	SigningKey     string
	Issuer         string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// MetricsExporter instruments requests and serves the scrape endpoint.
type MetricsExporter interface {
	GinMiddleware() gin.HandlerFunc
	Handler() http.Handler
}

// Dependencies are the collaborators behind the routes. Guard and Metrics are optional.
type Dependencies struct {
	Ledger  Ledger
	Broker  Broker
	Guard   RequestGuard
	Metrics MetricsExporter
	Logger  *zap.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(cfg Config, deps Dependencies) (*gin.Engine, error) {
	if cfg.SigningKey == "" {
		return nil, fmt.Errorf("%w: signing key is required", ErrInvalidServerConfig)
	}
	if deps.Ledger == nil || deps.Broker == nil {
		return nil, fmt.Errorf("%w: ledger and broker are required", ErrInvalidServerConfig)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := &httpHandler{
		logger: logger,
		ledger: deps.Ledger,
		broker: deps.Broker,
		guard:  deps.Guard,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if deps.Metrics != nil {
		router.Use(deps.Metrics.GinMiddleware())
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type", "Origin", "Accept", idempotencyHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(BearerMiddleware(cfg.SigningKey, cfg.Issuer))

	marketplace := api.Group("")
	if cfg.RequestTimeout > 0 {
		marketplace.Use(requestTimeout(cfg.RequestTimeout))
	}
	marketplace.GET("/listings", handler.handleListListings)
	marketplace.GET("/listings/:id", handler.handleGetListing)
	marketplace.POST("/listings", handler.handleCreateListing)
	marketplace.PUT("/listings/:id", handler.handleUpdateListing)
	marketplace.DELETE("/listings/:id", handler.handleCloseListing)
	marketplace.POST("/listings/:id/purchase", handler.handlePurchase)
	marketplace.GET("/account", handler.handleGetAccount)
	marketplace.POST("/account/deposit", handler.handleDeposit)
	marketplace.GET("/credit-sources", handler.handleListCreditSources)
	marketplace.POST("/credit-sources", handler.handleRegisterCreditSource)
	marketplace.PUT("/credit-sources/:id", handler.handleUpdateCreditSource)
	marketplace.DELETE("/credit-sources/:id", handler.handleRemoveCreditSource)
	marketplace.GET("/grants", handler.handleListGrants)
	marketplace.GET("/transactions/purchases", handler.handleListPurchases)
	marketplace.GET("/transactions/sales", handler.handleListSales)

	admin := marketplace.Group("/admin")
	admin.Use(RequireRole(RoleAdmin))
	admin.GET("/accounts", handler.handleAdminListAccounts)
	admin.GET("/accounts/:id", handler.handleAdminGetAccount)
	admin.GET("/listings", handler.handleAdminListListings)
	admin.GET("/transactions", handler.handleAdminListTransactions)
	admin.GET("/stats", handler.handleAdminStats)

	// Provider calls carry their own timeout inside the broker.
	llm := api.Group("/llm")
	llm.GET("/models", handler.handleModels)
	llm.POST("/chat", handler.handleChat)

	return router, nil
}

func requestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), timeout)
		defer cancel()
		ctx.Request = ctx.Request.WithContext(requestCtx)
		ctx.Next()
	}
}

// Run serves handler on cfg.ListenAddr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg Config, handler http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("http server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
