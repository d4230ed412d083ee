package config

import (
	"bytes"
	"encoding/base64"
	"errors"
	"reflect"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		JWTSigningKey: "secret",
		VaultKey:      base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 32)),
	}
}

func TestValidateFillsDefaults(test *testing.T) {
	test.Parallel()
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.ListenAddr != defaultListenAddr || cfg.GRPCListenAddr != defaultGRPCListenAddr {
		test.Fatalf("unexpected listen addresses %q %q", cfg.ListenAddr, cfg.GRPCListenAddr)
	}
	if cfg.StoreDriver != StoreDriverGorm || cfg.DatabaseURL != defaultDatabaseURL {
		test.Fatalf("unexpected store defaults %q %q", cfg.StoreDriver, cfg.DatabaseURL)
	}
	if cfg.ProviderTimeout != 60*time.Second || cfg.RequestTimeout != defaultRequestTimeout || cfg.IdempotencyTTL != defaultIdempotencyTTL {
		test.Fatalf("unexpected timeouts %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{defaultAllowedOrigin}) {
		test.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.RetryAttempts != defaultRetryAttempts {
		test.Fatalf("unexpected retry attempts %d", cfg.RetryAttempts)
	}
}

func TestValidateRejections(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{name: "missing jwt key", mutate: func(cfg *Config) { cfg.JWTSigningKey = " " }},
		{name: "missing vault key", mutate: func(cfg *Config) { cfg.VaultKey = "" }},
		{name: "short vault key", mutate: func(cfg *Config) { cfg.VaultKey = base64.StdEncoding.EncodeToString([]byte("short")) }},
		{name: "unknown driver", mutate: func(cfg *Config) { cfg.StoreDriver = "mongo" }},
		{name: "sql driver on sqlite", mutate: func(cfg *Config) { cfg.StoreDriver = StoreDriverSQL }},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			cfg := validConfig()
			testCase.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				test.Fatalf("expected %v, got %v", ErrInvalidConfig, err)
			}
		})
	}
}

func TestValidateAcceptsSQLDriverOnPostgres(test *testing.T) {
	test.Parallel()
	cfg := validConfig()
	cfg.StoreDriver = "SQL"
	cfg.DatabaseURL = "postgres://localhost/tokenmarket"
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.StoreDriver != StoreDriverSQL {
		test.Fatalf("expected normalized driver, got %q", cfg.StoreDriver)
	}
}

func TestParseList(test *testing.T) {
	test.Parallel()
	if got := ParseList(" a, ,b ,"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		test.Fatalf("unexpected list %v", got)
	}
	if got := ParseList("  "); len(got) != 0 {
		test.Fatalf("expected empty list, got %v", got)
	}
}

func TestValidateStoreIgnoresServeSettings(test *testing.T) {
	test.Parallel()
	cfg := Config{}
	if err := cfg.ValidateStore(); err != nil {
		test.Fatalf("validate store: %v", err)
	}
	if cfg.DatabaseURL != defaultDatabaseURL || cfg.StoreDriver != StoreDriverGorm {
		test.Fatalf("unexpected store defaults %q %q", cfg.DatabaseURL, cfg.StoreDriver)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		test.Fatalf("expected full validation to require keys, got %v", err)
	}
}
