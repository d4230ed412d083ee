package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/tokenmarket/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagListenAddr       = "listen-addr"
	flagGRPCListenAddr   = "grpc-listen-addr"
	flagDatabaseURL      = "database-url"
	flagStoreDriver      = "store-driver"
	flagAutoMigrate      = "auto-migrate"
	flagVaultKey         = "vault-key"
	flagJWTSigningKey    = "jwt-signing-key"
	flagJWTIssuer        = "jwt-issuer"
	flagAllowedOrigins   = "allowed-origins"
	flagOpenAIBaseURL    = "openai-base-url"
	flagAnthropicBaseURL = "anthropic-base-url"
	flagGeminiBaseURL    = "gemini-base-url"
	flagProviderTimeout  = "provider-timeout"
	flagRequestTimeout   = "request-timeout"
	flagRedisAddr        = "redis-addr"
	flagRedisPassword    = "redis-password"
	flagRedisDB          = "redis-db"
	flagIdempotencyTTL   = "idempotency-ttl"
	flagKafkaBrokers     = "kafka-brokers"
	flagKafkaTopic       = "kafka-topic"
	flagOTLPEndpoint     = "otlp-endpoint"
	flagOTLPInsecure     = "otlp-insecure"
	flagServiceName      = "service-name"
	flagLogLevel         = "log-level"
	flagRetryAttempts    = "retry-attempts"
	envPrefix            = "TOKENMARKET"
)

var allFlags = []string{
	flagListenAddr, flagGRPCListenAddr, flagDatabaseURL, flagStoreDriver, flagAutoMigrate,
	flagVaultKey, flagJWTSigningKey, flagJWTIssuer, flagAllowedOrigins,
	flagOpenAIBaseURL, flagAnthropicBaseURL, flagGeminiBaseURL, flagProviderTimeout, flagRequestTimeout,
	flagRedisAddr, flagRedisPassword, flagRedisDB, flagIdempotencyTTL,
	flagKafkaBrokers, flagKafkaTopic, flagOTLPEndpoint, flagOTLPInsecure,
	flagServiceName, flagLogLevel, flagRetryAttempts,
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tokenmarketd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	serve := func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, *cfg)
	}

	cmd := &cobra.Command{
		Use:           "tokenmarketd",
		Short:         "Token credit marketplace and metered access broker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: serve,
	}

	flags := cmd.PersistentFlags()
	flags.String(flagListenAddr, "", "HTTP listen address (default :8080)")
	flags.String(flagGRPCListenAddr, "", "gRPC health listen address (default :7000)")
	flags.String(flagDatabaseURL, "", "postgres:// or sqlite:// database url")
	flags.String(flagStoreDriver, config.StoreDriverGorm, "store implementation: gorm or sql")
	flags.Bool(flagAutoMigrate, false, "apply the schema on startup (always on for sqlite)")
	flags.String(flagVaultKey, "", "base64 encoded 32-byte key sealing provider secrets (required)")
	flags.String(flagJWTSigningKey, "", "HS256 key verifying bearer tokens (required)")
	flags.String(flagJWTIssuer, "", "expected JWT issuer")
	flags.String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	flags.String(flagOpenAIBaseURL, "", "override for the OpenAI base url")
	flags.String(flagAnthropicBaseURL, "", "override for the Anthropic base url")
	flags.String(flagGeminiBaseURL, "", "override for the Gemini base url")
	flags.Duration(flagProviderTimeout, 0, "timeout for each provider call (default 60s)")
	flags.Duration(flagRequestTimeout, 0, "timeout for marketplace requests (default 10s)")
	flags.String(flagRedisAddr, "", "redis address for purchase idempotency; empty disables it")
	flags.String(flagRedisPassword, "", "redis password")
	flags.Int(flagRedisDB, 0, "redis database number")
	flags.Duration(flagIdempotencyTTL, 0, "how long idempotency keys are held (default 24h)")
	flags.String(flagKafkaBrokers, "", "comma-separated kafka brokers for ledger events; empty disables publishing")
	flags.String(flagKafkaTopic, "", "kafka topic for ledger events")
	flags.String(flagOTLPEndpoint, "", "OTLP/HTTP trace endpoint; empty disables tracing")
	flags.Bool(flagOTLPInsecure, false, "send traces without TLS")
	flags.String(flagServiceName, "", "service name reported to tracing")
	flags.String(flagLogLevel, "", "log level (debug, info, warn, error)")
	flags.Int(flagRetryAttempts, 0, "attempts per ledger operation on concurrent updates (default 5)")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and gRPC health endpoint",
		RunE:  serve,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.ValidateStore(); err != nil {
				return err
			}
			return runMigrate(cmd.Context(), *cfg)
		},
	})

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range allFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.GRPCListenAddr = strings.TrimSpace(v.GetString(flagGRPCListenAddr))
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.StoreDriver = strings.TrimSpace(v.GetString(flagStoreDriver))
	cfg.AutoMigrate = v.GetBool(flagAutoMigrate)
	cfg.VaultKey = strings.TrimSpace(v.GetString(flagVaultKey))
	cfg.JWTSigningKey = v.GetString(flagJWTSigningKey)
	cfg.JWTIssuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.AllowedOrigins = config.ParseList(v.GetString(flagAllowedOrigins))
	cfg.OpenAIBaseURL = strings.TrimSpace(v.GetString(flagOpenAIBaseURL))
	cfg.AnthropicBaseURL = strings.TrimSpace(v.GetString(flagAnthropicBaseURL))
	cfg.GeminiBaseURL = strings.TrimSpace(v.GetString(flagGeminiBaseURL))
	cfg.ProviderTimeout = v.GetDuration(flagProviderTimeout)
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)
	cfg.RedisAddr = strings.TrimSpace(v.GetString(flagRedisAddr))
	cfg.RedisPassword = v.GetString(flagRedisPassword)
	cfg.RedisDB = v.GetInt(flagRedisDB)
	cfg.IdempotencyTTL = v.GetDuration(flagIdempotencyTTL)
	cfg.KafkaBrokers = config.ParseList(v.GetString(flagKafkaBrokers))
	cfg.KafkaTopic = strings.TrimSpace(v.GetString(flagKafkaTopic))
	cfg.OTLPEndpoint = strings.TrimSpace(v.GetString(flagOTLPEndpoint))
	cfg.OTLPInsecure = v.GetBool(flagOTLPInsecure)
	cfg.ServiceName = strings.TrimSpace(v.GetString(flagServiceName))
	cfg.LogLevel = strings.TrimSpace(v.GetString(flagLogLevel))
	cfg.RetryAttempts = v.GetInt(flagRetryAttempts)
	return nil
}
