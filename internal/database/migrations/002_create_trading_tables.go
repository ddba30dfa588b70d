package migrations

import (
	"github.com/ksred/daytrader-api/internal/types"
	"gorm.io/gorm"
)

// CreateTradingTables creates the reservation and trigger tables and the
// indexes used by trigger evaluation
func CreateTradingTables(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&types.PendingBuy{},
		&types.PendingSell{},
		&types.BuyTrigger{},
		&types.SellTrigger{},
	); err != nil {
		return err
	}

	// Raw SQL so the symbol lookups stay independent of the unique keys
	indexes := []string{
		// Evaluation loads every trigger on the quoted symbol
		`CREATE INDEX IF NOT EXISTS idx_buy_triggers_symbol
		 ON buy_triggers(symbol)`,

		`CREATE INDEX IF NOT EXISTS idx_sell_triggers_symbol
		 ON sell_triggers(symbol)`,

		// Position listing for GetUser
		`CREATE INDEX IF NOT EXISTS idx_positions_username
		 ON positions(username)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
