package migrations

import (
	"github.com/ksred/daytrader-api/internal/types"
	"gorm.io/gorm"
)

// CreateLedgerTables creates the account and position tables
func CreateLedgerTables(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Account{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&types.Position{}); err != nil {
		return err
	}

	return nil
}
