// Package storage is the repository layer for the five liquidation entities.
// All cross-request mutable state (provider liquidity, snapshot consumption,
// request status) is updated through conditional UPDATEs checked via
// RowsAffected, so lost races surface to callers instead of corrupting state.
package storage

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/assetflow/liquidation-engine/pkg/models"
)

// Store wraps the database handle for all entity repositories.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New builds a store on an existing gorm handle.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// OpenPostgres connects to postgres and returns a store.
func OpenPostgres(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return New(db, logger), nil
}

// OpenSQLite opens a sqlite database. Used for local development and tests;
// an in-memory DSN such as "file:x?mode=memory&cache=shared" works.
func OpenSQLite(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return New(db, logger), nil
}

// AutoMigrate creates the entity tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&models.LiquidationRequest{},
		&models.ComplianceCheck{},
		&models.LiquidityProvider{},
		&models.MarketPriceSnapshot{},
		&models.LiquidationTransaction{},
		&models.AssetRule{},
	)
}

// DB exposes the underlying handle for transactional composition.
func (s *Store) DB() *gorm.DB { return s.db }
