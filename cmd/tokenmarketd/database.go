package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/tokenmarket/internal/config"
	"github.com/MarkoPoloResearchLab/tokenmarket/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/tokenmarket/internal/store/sqlstore"
	"github.com/MarkoPoloResearchLab/tokenmarket/pkg/ledger"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	driverPostgres      = "postgres"
	driverSQLite        = "sqlite"
	defaultSQLiteFile   = "tokenmarket.db"
	sqliteMemoryAddress = ":memory:"
)

type storeHandle struct {
	store   ledger.Store
	ping    func(ctx context.Context) error
	migrate func(ctx context.Context) error
	driver  string
	close   func() error
}

func (handle storeHandle) Ping(ctx context.Context) error {
	return handle.ping(ctx)
}

func openStore(ctx context.Context, cfg config.Config) (storeHandle, error) {
	if cfg.StoreDriver == config.StoreDriverSQL {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return storeHandle{}, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return storeHandle{}, fmt.Errorf("ping postgres: %w", err)
		}
		store := sqlstore.New(db)
		return storeHandle{store: store, ping: store.Ping, migrate: store.Migrate, driver: driverPostgres, close: db.Close}, nil
	}

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return storeHandle{}, fmt.Errorf("database open: %w", err)
	}
	store := gormstore.New(gormDB)
	return storeHandle{store: store, ping: store.Ping, migrate: store.AutoMigrate, driver: driver, close: cleanup}, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	if driver == driverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	return db.WithContext(ctx), sqlDB.Close, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if config.IsPostgresURL(dsn) {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = defaultSQLiteFile
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	// Anything else is a plain sqlite file path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == sqliteMemoryAddress {
		return path, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(".", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func runMigrate(ctx context.Context, cfg config.Config) error {
	handle, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = handle.close() }()
	if err := handle.migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintf(os.Stdout, "schema applied (%s, %s store)\n", handle.driver, cfg.StoreDriver)
	return nil
}
