package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/tokenmarket/internal/broker"
	"github.com/MarkoPoloResearchLab/tokenmarket/internal/config"
	"github.com/MarkoPoloResearchLab/tokenmarket/internal/events"
	"github.com/MarkoPoloResearchLab/tokenmarket/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/tokenmarket/internal/httpapi"
	"github.com/MarkoPoloResearchLab/tokenmarket/internal/idempotency"
	"github.com/MarkoPoloResearchLab/tokenmarket/internal/observability"
	"github.com/MarkoPoloResearchLab/tokenmarket/internal/provider"
	"github.com/MarkoPoloResearchLab/tokenmarket/internal/vault"
	"github.com/MarkoPoloResearchLab/tokenmarket/pkg/ledger"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const (
	ledgerTracerName = "tokenmarket/ledger"
	brokerTracerName = "tokenmarket/broker"
	flushTimeout     = 5 * time.Second
)

func runServe(ctx context.Context, cfg config.Config) error {
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint, cfg.OTLPInsecure)
	if err != nil {
		return fmt.Errorf("tracing init: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	handle, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = handle.close() }()
	if cfg.AutoMigrate || handle.driver == driverSQLite {
		if err := handle.migrate(ctx); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}

	metrics := observability.NewMetrics()
	retryPolicy := ledger.DefaultRetryPolicy()
	retryPolicy.MaxAttempts = uint32(cfg.RetryAttempts)
	serviceOptions := []ledger.ServiceOption{
		ledger.WithOperationLogger(observability.NewZapOperationLogger(logger)),
		ledger.WithOperationLogger(metrics),
		ledger.WithRetryPolicy(retryPolicy),
		ledger.WithTracer(otel.Tracer(ledgerTracerName)),
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewPublisher(events.NewKafkaWriter(cfg.KafkaBrokers), cfg.KafkaTopic, logger)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("close event publisher", zap.Error(err))
			}
		}()
		serviceOptions = append(serviceOptions, ledger.WithOperationLogger(publisher))
	}
	service, err := ledger.NewService(handle.store, func() time.Time { return time.Now().UTC() }, serviceOptions...)
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}

	vaultKey, err := cfg.VaultKeyBytes()
	if err != nil {
		return err
	}
	secretVault, err := vault.New(vaultKey)
	if err != nil {
		return fmt.Errorf("vault init: %w", err)
	}
	providerRouter := provider.NewRouter(map[provider.Vendor]string{
		provider.VendorOpenAI:    cfg.OpenAIBaseURL,
		provider.VendorAnthropic: cfg.AnthropicBaseURL,
		provider.VendorGemini:    cfg.GeminiBaseURL,
	}, &http.Client{})
	accessBroker, err := broker.New(service, secretVault, providerRouter, providerRouter,
		broker.WithProviderTimeout(cfg.ProviderTimeout),
		broker.WithCallObserver(metrics),
		broker.WithLogger(logger),
		broker.WithTracer(otel.Tracer(brokerTracerName)),
	)
	if err != nil {
		return fmt.Errorf("broker init: %w", err)
	}

	deps := httpapi.Dependencies{
		Ledger:  service,
		Broker:  accessBroker,
		Metrics: metrics,
		Logger:  logger,
	}
	if cfg.RedisAddr != "" {
		redisClient := idempotency.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer func() { _ = redisClient.Close() }()
		deps.Guard = idempotency.NewGuard(redisClient, "", cfg.IdempotencyTTL)
	}
	httpConfig := httpapi.Config{
		ListenAddr:     cfg.ListenAddr,
		SigningKey:     cfg.JWTSigningKey,
		Issuer:         cfg.JWTIssuer,
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: cfg.RequestTimeout,
	}
	router, err := httpapi.NewRouter(httpConfig, deps)
	if err != nil {
		return err
	}
	healthServer, err := grpcserver.New(handle, grpcserver.WithLogger(logger))
	if err != nil {
		return err
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)
	go func() { errCh <- httpapi.Run(serveCtx, httpConfig, router, logger) }()
	go func() { errCh <- healthServer.ListenAndServe(serveCtx, cfg.GRPCListenAddr) }()

	var firstErr error
	for range 2 {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
		// Either server stopping takes the other one down with it.
		cancel()
	}
	if firstErr != nil && !errors.Is(firstErr, context.Canceled) {
		return firstErr
	}
	logger.Info("shutdown complete")
	return nil
}
