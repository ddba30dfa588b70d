package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ksred/daytrader-api/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountExists      = errors.New("account already exists")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
)

// ForUpdate locks the selected row until the transaction ends. SQLite
// ignores the clause and serializes writers instead.
var ForUpdate = clause.Locking{Strength: "UPDATE"}

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetAccount returns nil when the account does not exist
func (d *Database) GetAccount(ctx context.Context, username string) (*types.Account, error) {
	var account types.Account
	if err := d.db.WithContext(ctx).Where("username = ?", username).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// CreateAccount inserts an empty account
func (d *Database) CreateAccount(ctx context.Context, username string) (*types.Account, error) {
	account := types.Account{
		Username: username,
		Balance:  decimal.Zero,
		Role:     "user",
	}
	if err := d.db.WithContext(ctx).Create(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAccountExists
		}
		return nil, err
	}
	return &account, nil
}

// AddFunds credits amount to the account, creating it first if needed
func (d *Database) AddFunds(ctx context.Context, username string, amount decimal.Decimal) (*types.Account, error) {
	var account *types.Account
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&types.Account{
			Username: username,
			Balance:  decimal.Zero,
			Role:     "user",
		}).Error; err != nil {
			return fmt.Errorf("ensure account: %w", err)
		}

		var err error
		account, err = AdjustBalance(tx, username, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetPosition returns nil when the user holds no shares of symbol
func (d *Database) GetPosition(ctx context.Context, username, symbol string) (*types.Position, error) {
	var position types.Position
	err := d.db.WithContext(ctx).
		Where("username = ? AND symbol = ?", username, symbol).
		First(&position).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &position, nil
}

func (d *Database) ListPositions(ctx context.Context, username string) ([]types.Position, error) {
	var positions []types.Position
	err := d.db.WithContext(ctx).
		Where("username = ?", username).
		Order("symbol").
		Find(&positions).Error
	return positions, err
}

func (d *Database) ListBuyTriggers(ctx context.Context, username string) ([]types.BuyTrigger, error) {
	var triggers []types.BuyTrigger
	err := d.db.WithContext(ctx).
		Where("username = ?", username).
		Order("symbol").
		Find(&triggers).Error
	return triggers, err
}

func (d *Database) ListSellTriggers(ctx context.Context, username string) ([]types.SellTrigger, error) {
	var triggers []types.SellTrigger
	err := d.db.WithContext(ctx).
		Where("username = ?", username).
		Order("symbol").
		Find(&triggers).Error
	return triggers, err
}

// AdjustBalance adds delta to the balance inside tx. A result below zero
// fails with ErrInsufficientFunds and writes nothing.
func AdjustBalance(tx *gorm.DB, username string, delta decimal.Decimal) (*types.Account, error) {
	var account types.Account
	if err := tx.Clauses(ForUpdate).Where("username = ?", username).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}

	next := account.Balance.Add(delta)
	if next.IsNegative() {
		return nil, ErrInsufficientFunds
	}
	if delta.IsZero() {
		return &account, nil
	}

	if err := tx.Model(&account).Update("balance", next).Error; err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}
	account.Balance = next
	return &account, nil
}

// AdjustShares adds delta to the user's position in symbol inside tx and
// returns the shares left. The row is created on first credit and removed
// when it reaches zero. A result below zero fails with ErrInsufficientShares.
func AdjustShares(tx *gorm.DB, username, symbol string, delta decimal.Decimal) (decimal.Decimal, error) {
	var position types.Position
	err := tx.Clauses(ForUpdate).
		Where("username = ? AND symbol = ?", username, symbol).
		First(&position).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if delta.IsNegative() {
			return decimal.Zero, ErrInsufficientShares
		}
		if delta.IsZero() {
			return decimal.Zero, nil
		}
		position = types.Position{
			Username: username,
			Symbol:   symbol,
			Shares:   delta,
		}
		if err := tx.Create(&position).Error; err != nil {
			return decimal.Zero, fmt.Errorf("create position: %w", err)
		}
		return delta, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("load position: %w", err)
	}

	next := position.Shares.Add(delta)
	switch {
	case next.IsNegative():
		return decimal.Zero, ErrInsufficientShares
	case next.IsZero():
		if err := tx.Delete(&position).Error; err != nil {
			return decimal.Zero, fmt.Errorf("delete position: %w", err)
		}
	default:
		if err := tx.Model(&position).Update("shares", next).Error; err != nil {
			return decimal.Zero, fmt.Errorf("update position: %w", err)
		}
	}
	return next, nil
}

// Trade is the result of ApplyTrade
type Trade struct {
	Balance     decimal.Decimal
	SharesOwned decimal.Decimal
}

// ApplyTrade moves cash and shares for one user in the caller's
// transaction. The account is locked first so both adjustments see a
// consistent view.
func ApplyTrade(tx *gorm.DB, username, symbol string, cashDelta, sharesDelta decimal.Decimal) (*Trade, error) {
	account, err := AdjustBalance(tx, username, cashDelta)
	if err != nil {
		return nil, err
	}

	shares, err := AdjustShares(tx, username, symbol, sharesDelta)
	if err != nil {
		return nil, err
	}

	return &Trade{
		Balance:     account.Balance,
		SharesOwned: shares,
	}, nil
}
