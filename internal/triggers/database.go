package triggers

import (
	"context"
	"errors"
	"fmt"

	"github.com/ksred/daytrader-api/internal/ledger"
	"github.com/ksred/daytrader-api/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Database is the trigger store. Every write moves the held cash or shares
// in the same transaction as the trigger row.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func lockBuy(tx *gorm.DB, username, symbol string) (*types.BuyTrigger, error) {
	var trigger types.BuyTrigger
	err := tx.Clauses(ledger.ForUpdate).
		Where("username = ? AND symbol = ?", username, symbol).
		First(&trigger).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load buy trigger: %w", err)
	}
	return &trigger, nil
}

func lockSell(tx *gorm.DB, username, symbol string) (*types.SellTrigger, error) {
	var trigger types.SellTrigger
	err := tx.Clauses(ledger.ForUpdate).
		Where("username = ? AND symbol = ?", username, symbol).
		First(&trigger).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sell trigger: %w", err)
	}
	return &trigger, nil
}

// SetBuy applies hold to the user's buy trigger on symbol and returns the
// trigger with the balance left. Changing the quantity refunds the old hold
// and takes the new one. Without a quantity the trigger must already exist.
func (d *Database) SetBuy(ctx context.Context, username, symbol string, hold Hold) (*types.BuyTrigger, decimal.Decimal, error) {
	var trigger *types.BuyTrigger
	var balance decimal.Decimal
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := lockBuy(tx, username, symbol)
		if err != nil {
			return err
		}
		if existing == nil {
			if hold.Quantity == nil {
				return ErrNoTrigger
			}
			existing = &types.BuyTrigger{Username: username, Symbol: symbol}
		}

		delta := decimal.Zero
		if hold.Quantity != nil {
			delta = existing.Amount.Sub(*hold.Quantity)
			existing.Amount = *hold.Quantity
		}
		account, err := ledger.AdjustBalance(tx, username, delta)
		if err != nil {
			return err
		}

		if hold.Price != nil {
			existing.TriggerPrice = decimal.NewNullDecimal(*hold.Price)
		}
		if err := tx.Save(existing).Error; err != nil {
			return fmt.Errorf("save buy trigger: %w", err)
		}

		trigger = existing
		balance = account.Balance
		return nil
	})
	if err != nil {
		return nil, decimal.Zero, err
	}
	return trigger, balance, nil
}

// SetSell applies hold to the user's sell trigger on symbol and returns the
// trigger with the shares left in the position.
func (d *Database) SetSell(ctx context.Context, username, symbol string, hold Hold) (*types.SellTrigger, decimal.Decimal, error) {
	var trigger *types.SellTrigger
	var owned decimal.Decimal
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Rows are locked trigger, account, position, the same order FireSell takes
		existing, err := lockSell(tx, username, symbol)
		if err != nil {
			return err
		}
		// An unknown user reports as such even without a trigger
		if _, err := ledger.AdjustBalance(tx, username, decimal.Zero); err != nil {
			return err
		}
		if existing == nil {
			if hold.Quantity == nil {
				return ErrNoTrigger
			}
			existing = &types.SellTrigger{Username: username, Symbol: symbol}
		}

		delta := decimal.Zero
		if hold.Quantity != nil {
			delta = existing.Shares.Sub(*hold.Quantity)
			existing.Shares = *hold.Quantity
		}
		owned, err = ledger.AdjustShares(tx, username, symbol, delta)
		if err != nil {
			return err
		}

		if hold.Price != nil {
			existing.TriggerPrice = decimal.NewNullDecimal(*hold.Price)
		}
		if err := tx.Save(existing).Error; err != nil {
			return fmt.Errorf("save sell trigger: %w", err)
		}

		trigger = existing
		return nil
	})
	if err != nil {
		return nil, decimal.Zero, err
	}
	return trigger, owned, nil
}

// CancelBuy refunds the held cash and removes the trigger. It returns nil
// when no trigger was set.
func (d *Database) CancelBuy(ctx context.Context, username, symbol string) (*types.BuyTrigger, error) {
	var removed *types.BuyTrigger
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := lockBuy(tx, username, symbol)
		if err != nil || existing == nil {
			return err
		}
		if _, err := ledger.AdjustBalance(tx, username, existing.Amount); err != nil {
			return err
		}
		if err := tx.Delete(existing).Error; err != nil {
			return fmt.Errorf("delete buy trigger: %w", err)
		}
		removed = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// CancelSell returns the held shares to the position and removes the
// trigger. It returns nil when no trigger was set.
func (d *Database) CancelSell(ctx context.Context, username, symbol string) (*types.SellTrigger, error) {
	var removed *types.SellTrigger
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := lockSell(tx, username, symbol)
		if err != nil || existing == nil {
			return err
		}
		if _, err := ledger.AdjustShares(tx, username, symbol, existing.Shares); err != nil {
			return err
		}
		if err := tx.Delete(existing).Error; err != nil {
			return fmt.Errorf("delete sell trigger: %w", err)
		}
		removed = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (d *Database) ArmedBuys(ctx context.Context, symbol string) ([]types.BuyTrigger, error) {
	var triggers []types.BuyTrigger
	err := d.db.WithContext(ctx).
		Where("symbol = ? AND trigger_price IS NOT NULL", symbol).
		Order("id").
		Find(&triggers).Error
	return triggers, err
}

func (d *Database) ArmedSells(ctx context.Context, symbol string) ([]types.SellTrigger, error) {
	var triggers []types.SellTrigger
	err := d.db.WithContext(ctx).
		Where("symbol = ? AND trigger_price IS NOT NULL", symbol).
		Order("id").
		Find(&triggers).Error
	return triggers, err
}

// ArmedSymbols maps every symbol with at least one armed trigger to one of
// the users holding such a trigger
func (d *Database) ArmedSymbols(ctx context.Context) (map[string]string, error) {
	type row struct {
		Symbol   string
		Username string
	}

	symbols := make(map[string]string)
	for _, model := range []interface{}{&types.BuyTrigger{}, &types.SellTrigger{}} {
		var rows []row
		err := d.db.WithContext(ctx).
			Model(model).
			Select("symbol, MIN(username) AS username").
			Where("trigger_price IS NOT NULL").
			Group("symbol").
			Scan(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if _, ok := symbols[r.Symbol]; !ok {
				symbols[r.Symbol] = r.Username
			}
		}
	}
	return symbols, nil
}

// FireBuy executes buy trigger id at price: the row is deleted and
// amount/price shares credited in one transaction. The held cash pays for
// them. It returns nil when the trigger is gone or no longer crosses price,
// which is what keeps a trigger from firing twice.
func (d *Database) FireBuy(ctx context.Context, id uint, price decimal.Decimal) (*Firing, error) {
	var firing *Firing
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var trigger types.BuyTrigger
		if err := tx.Clauses(ledger.ForUpdate).First(&trigger, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("load buy trigger: %w", err)
		}
		if !trigger.Crossed(price) {
			return nil
		}

		result := tx.Delete(&trigger)
		if result.Error != nil {
			return fmt.Errorf("delete buy trigger: %w", result.Error)
		}
		if result.RowsAffected != 1 {
			return nil
		}

		cash, shares := decimal.Zero, trigger.Amount.DivRound(price, types.ShareScale)
		if !shares.IsPositive() {
			// Too little cash for any shares; the hold goes back
			cash, shares = trigger.Amount, decimal.Zero
		}
		trade, err := ledger.ApplyTrade(tx, trigger.Username, trigger.Symbol, cash, shares)
		if err != nil {
			return err
		}

		firing = &Firing{
			Side:     SideBuy,
			Username: trigger.Username,
			Symbol:   trigger.Symbol,
			Price:    price,
			Amount:   trigger.Amount.Sub(cash),
			Shares:   shares,
			Trade:    trade,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return firing, nil
}

// FireSell executes sell trigger id at price: the row is deleted and
// shares*price credited to the balance. The held shares are what is sold.
func (d *Database) FireSell(ctx context.Context, id uint, price decimal.Decimal) (*Firing, error) {
	var firing *Firing
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var trigger types.SellTrigger
		if err := tx.Clauses(ledger.ForUpdate).First(&trigger, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("load sell trigger: %w", err)
		}
		if !trigger.Crossed(price) {
			return nil
		}

		result := tx.Delete(&trigger)
		if result.Error != nil {
			return fmt.Errorf("delete sell trigger: %w", result.Error)
		}
		if result.RowsAffected != 1 {
			return nil
		}

		proceeds := trigger.Shares.Mul(price)
		trade, err := ledger.ApplyTrade(tx, trigger.Username, trigger.Symbol, proceeds, decimal.Zero)
		if err != nil {
			return err
		}

		firing = &Firing{
			Side:     SideSell,
			Username: trigger.Username,
			Symbol:   trigger.Symbol,
			Price:    price,
			Amount:   proceeds,
			Shares:   trigger.Shares,
			Trade:    trade,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return firing, nil
}
