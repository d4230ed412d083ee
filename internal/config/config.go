// Package config holds runtime settings for tokenmarketd.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tokenmarket/internal/vault"
)

const (
	StoreDriverGorm = "gorm"
	StoreDriverSQL  = "sql"

	defaultListenAddr      = ":8080"
	defaultGRPCListenAddr  = ":7000"
	defaultDatabaseURL     = "sqlite:///tmp/tokenmarket.db"
	defaultAllowedOrigin   = "http://localhost:5173"
	defaultJWTIssuer       = "tokenmarket"
	defaultKafkaTopic      = "tokenmarket.ledger-events"
	defaultServiceName     = "tokenmarketd"
	defaultLogLevel        = "info"
	defaultProviderTimeout = 60 * time.Second
	defaultRequestTimeout  = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultRetryAttempts   = 5
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config aggregates runtime settings.
type Config struct {
	ListenAddr       string
	GRPCListenAddr   string
	DatabaseURL      string
	StoreDriver      string
	VaultKey         string
	JWTSigningKey    string
	JWTIssuer        string
	AllowedOrigins   []string
	OpenAIBaseURL    string
	AnthropicBaseURL string
	GeminiBaseURL    string
	ProviderTimeout  time.Duration
	RequestTimeout   time.Duration
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	IdempotencyTTL   time.Duration
	KafkaBrokers     []string
	KafkaTopic       string
	OTLPEndpoint     string
	OTLPInsecure     bool
	ServiceName      string
	LogLevel         string
	RetryAttempts    int
	AutoMigrate      bool
}

// ValidateStore fills and checks the database settings only.
func (cfg *Config) ValidateStore() error {
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.StoreDriver = strings.ToLower(defaultIfEmpty(cfg.StoreDriver, StoreDriverGorm))
	if cfg.StoreDriver != StoreDriverGorm && cfg.StoreDriver != StoreDriverSQL {
		return fmt.Errorf("%w: store driver must be %q or %q, got %q", ErrInvalidConfig, StoreDriverGorm, StoreDriverSQL, cfg.StoreDriver)
	}
	if cfg.StoreDriver == StoreDriverSQL && !IsPostgresURL(cfg.DatabaseURL) {
		return fmt.Errorf("%w: the sql store driver requires a postgres database url", ErrInvalidConfig)
	}
	return nil
}

// Validate fills defaults and ensures required values are present.
func (cfg *Config) Validate() error {
	if err := cfg.ValidateStore(); err != nil {
		return err
	}
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	cfg.JWTIssuer = defaultIfEmpty(cfg.JWTIssuer, defaultJWTIssuer)
	cfg.KafkaTopic = defaultIfEmpty(cfg.KafkaTopic, defaultKafkaTopic)
	cfg.ServiceName = defaultIfEmpty(cfg.ServiceName, defaultServiceName)
	cfg.LogLevel = defaultIfEmpty(cfg.LogLevel, defaultLogLevel)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = defaultIdempotencyTTL
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}

	if strings.TrimSpace(cfg.JWTSigningKey) == "" {
		return fmt.Errorf("%w: jwt signing key is required", ErrInvalidConfig)
	}
	if _, err := cfg.VaultKeyBytes(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// VaultKeyBytes decodes the configured vault key.
func (cfg Config) VaultKeyBytes() ([]byte, error) {
	if strings.TrimSpace(cfg.VaultKey) == "" {
		return nil, errors.New("vault key is required")
	}
	return vault.DecodeKey(cfg.VaultKey)
}

// IsPostgresURL reports whether dsn targets PostgreSQL.
func IsPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// ParseList splits a comma-delimited value into trimmed, non-empty parts.
func ParseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
