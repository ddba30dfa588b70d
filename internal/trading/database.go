package trading

import (
	"context"
	"errors"
	"time"

	"github.com/ksred/daytrader-api/internal/ledger"
	"github.com/ksred/daytrader-api/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Database is the reservation store
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// upsertOnUser replaces the caller's previous reservation, if any
var upsertOnUser = clause.OnConflict{
	Columns:   []clause.Column{{Name: "username"}},
	DoUpdates: clause.AssignmentColumns([]string{"symbol", "amount", "shares", "price", "expires_at", "updated_at"}),
}

func (d *Database) UpsertPendingBuy(ctx context.Context, pending *types.PendingBuy) error {
	return d.db.WithContext(ctx).Clauses(upsertOnUser).Create(pending).Error
}

func (d *Database) UpsertPendingSell(ctx context.Context, pending *types.PendingSell) error {
	return d.db.WithContext(ctx).Clauses(upsertOnUser).Create(pending).Error
}

func (d *Database) GetPendingBuy(ctx context.Context, username string) (*types.PendingBuy, error) {
	var pending types.PendingBuy
	if err := d.db.WithContext(ctx).Where("username = ?", username).First(&pending).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pending, nil
}

func (d *Database) GetPendingSell(ctx context.Context, username string) (*types.PendingSell, error) {
	var pending types.PendingSell
	if err := d.db.WithContext(ctx).Where("username = ?", username).First(&pending).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pending, nil
}

// DeletePendingBuy reports whether a reservation was removed
func (d *Database) DeletePendingBuy(ctx context.Context, username string) (bool, error) {
	result := d.db.WithContext(ctx).Where("username = ?", username).Delete(&types.PendingBuy{})
	return result.RowsAffected > 0, result.Error
}

func (d *Database) DeletePendingSell(ctx context.Context, username string) (bool, error) {
	result := d.db.WithContext(ctx).Where("username = ?", username).Delete(&types.PendingSell{})
	return result.RowsAffected > 0, result.Error
}

// CommitBuy debits the reserved amount and credits the reserved shares
func (d *Database) CommitBuy(ctx context.Context, username string, now time.Time) (*Commit, error) {
	var pending types.PendingBuy
	return d.commit(ctx, &pending, &pending.Reservation, username, now, func(r *types.Reservation) (decimal.Decimal, decimal.Decimal) {
		return r.Amount.Neg(), r.Shares
	})
}

// CommitSell debits the reserved shares and credits the reserved amount
func (d *Database) CommitSell(ctx context.Context, username string, now time.Time) (*Commit, error) {
	var pending types.PendingSell
	return d.commit(ctx, &pending, &pending.Reservation, username, now, func(r *types.Reservation) (decimal.Decimal, decimal.Decimal) {
		return r.Amount, r.Shares.Neg()
	})
}

// commit loads the reservation into model, applies the trade and deletes the
// reservation in one transaction. An expired reservation is deleted and the
// deletion committed before ErrReservationExpired is returned.
func (d *Database) commit(
	ctx context.Context,
	model interface{},
	reservation *types.Reservation,
	username string,
	now time.Time,
	deltas func(r *types.Reservation) (cash, shares decimal.Decimal),
) (*Commit, error) {
	// Begin transaction
	tx := d.db.WithContext(ctx).Begin()
	if err := tx.Error; err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := tx.Clauses(ledger.ForUpdate).Where("username = ?", username).First(model).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoPending
		}
		return nil, err
	}

	if reservation.Expired(now) {
		if err := tx.Delete(model).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.Commit().Error; err != nil {
			return nil, err
		}
		return &Commit{Reservation: *reservation}, ErrReservationExpired
	}

	cash, shares := deltas(reservation)
	trade, err := ledger.ApplyTrade(tx, username, reservation.Symbol, cash, shares)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Delete(model).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return &Commit{Reservation: *reservation, Trade: trade}, nil
}

// DeleteExpired removes every reservation that expired before now
func (d *Database) DeleteExpired(ctx context.Context, now time.Time) (buys, sells int64, err error) {
	result := d.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&types.PendingBuy{})
	if result.Error != nil {
		return 0, 0, result.Error
	}
	buys = result.RowsAffected

	result = d.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&types.PendingSell{})
	if result.Error != nil {
		return buys, 0, result.Error
	}
	return buys, result.RowsAffected, nil
}
