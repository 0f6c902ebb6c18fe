package database

import (
	"errors"
	"fmt"

	"epex-trade-report/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrLedgerMissing is returned when the configured ledger table does not exist.
var ErrLedgerMissing = errors.New("trade ledger table not found")

// NewDatabase opens the SQLite database behind dsn.
// gorm pings on open, so a missing or unreadable file fails here rather than
// on the first query.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// CheckLedger verifies that the ledger table is present.
func CheckLedger(db *gorm.DB, table string) error {
	if !db.Migrator().HasTable(table) {
		return fmt.Errorf("%w: %s", ErrLedgerMissing, table)
	}
	return nil
}

// CreateLedger creates an empty ledger table with the trade columns.
// Only used to build fixtures; real ledgers are produced elsewhere.
func CreateLedger(db *gorm.DB, table string) error {
	if err := db.Table(table).AutoMigrate(&models.Trade{}); err != nil {
		return fmt.Errorf("failed to create ledger %s: %w", table, err)
	}
	return nil
}

// InsertTrades appends trades to the ledger table.
func InsertTrades(db *gorm.DB, table string, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	if err := db.Table(table).Create(&trades).Error; err != nil {
		return fmt.Errorf("failed to insert %d trades into %s: %w", len(trades), table, err)
	}
	return nil
}
