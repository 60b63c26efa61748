package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage owns the SQLite database shared by the ledger, the inventory and the
// listing repository. A single writer connection makes every transaction atomic
// with respect to the others.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database at path. An empty path resolves to the
// per-user data directory.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		p, err := getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
		path = p
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path+"?_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger:         newGormLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn)),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&BalanceRecord{},
		&BalanceEntryRecord{},
		&CreditLotRecord{},
		&InventoryEntryRecord{},
		&ListingRecord{},
		&BidRecord{},
		&OutboxRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// newGormLogger reports slow queries and real errors through w. Lookups that miss
// are expected on every new correlation id and stay silent.
func newGormLogger(w logger.Writer) logger.Interface {
	return logger.New(w, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "CreditMarket", "data", "market.db"), nil
}

// WithTx runs fn inside a single database transaction.
func (s *Storage) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// DB returns a context-bound handle for reads outside a transaction.
func (s *Storage) DB(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
