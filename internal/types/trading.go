package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShareScale is the number of decimal places kept for share quantities
// derived from a cash amount.
const ShareScale int32 = 8

// Account holds a user's available cash. Cash held by buy triggers is not
// part of Balance.
type Account struct {
	ID        uint            `gorm:"primaryKey" json:"-"`
	Username  string          `gorm:"uniqueIndex;not null" json:"username"`
	Balance   decimal.Decimal `gorm:"type:numeric;not null;default:0" json:"balance"`
	Role      string          `gorm:"not null;default:user" json:"role"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Position is the number of shares a user owns of one symbol. A row only
// exists while Shares is positive.
type Position struct {
	ID        uint            `gorm:"primaryKey" json:"-"`
	Username  string          `gorm:"uniqueIndex:idx_positions_user_symbol;not null" json:"username"`
	Symbol    string          `gorm:"uniqueIndex:idx_positions_user_symbol;not null" json:"symbol"`
	Shares    decimal.Decimal `gorm:"type:numeric;not null" json:"shares"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Reservation is a quoted, uncommitted trade. A user holds at most one
// pending buy and one pending sell at a time.
type Reservation struct {
	ID        uint            `gorm:"primaryKey" json:"-"`
	Username  string          `gorm:"uniqueIndex;not null" json:"username"`
	Symbol    string          `gorm:"not null" json:"symbol"`
	Amount    decimal.Decimal `gorm:"type:numeric;not null" json:"amount"`
	Shares    decimal.Decimal `gorm:"type:numeric;not null" json:"shares"`
	Price     decimal.Decimal `gorm:"type:numeric;not null" json:"price"`
	ExpiresAt time.Time       `gorm:"index;not null" json:"expires_at"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Expired reports whether the reservation can no longer be committed at now.
func (r Reservation) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

type PendingBuy struct {
	Reservation
}

type PendingSell struct {
	Reservation
}

// BuyTrigger holds Amount cash out of the user's balance until the quoted
// price falls to TriggerPrice. A trigger without a price is not armed.
type BuyTrigger struct {
	ID           uint                `gorm:"primaryKey" json:"-"`
	Username     string              `gorm:"uniqueIndex:idx_buy_triggers_user_symbol;not null" json:"username"`
	Symbol       string              `gorm:"uniqueIndex:idx_buy_triggers_user_symbol;not null" json:"symbol"`
	Amount       decimal.Decimal     `gorm:"type:numeric;not null" json:"amount"`
	TriggerPrice decimal.NullDecimal `gorm:"type:numeric" json:"trigger_price"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Armed reports whether the trigger has a threshold.
func (t BuyTrigger) Armed() bool {
	return t.TriggerPrice.Valid
}

// Crossed reports whether a quote at price fires the trigger.
func (t BuyTrigger) Crossed(price decimal.Decimal) bool {
	return t.Armed() && price.LessThanOrEqual(t.TriggerPrice.Decimal)
}

// SellTrigger holds Shares out of the user's position until the quoted
// price rises to TriggerPrice.
type SellTrigger struct {
	ID           uint                `gorm:"primaryKey" json:"-"`
	Username     string              `gorm:"uniqueIndex:idx_sell_triggers_user_symbol;not null" json:"username"`
	Symbol       string              `gorm:"uniqueIndex:idx_sell_triggers_user_symbol;not null" json:"symbol"`
	Shares       decimal.Decimal     `gorm:"type:numeric;not null" json:"shares"`
	TriggerPrice decimal.NullDecimal `gorm:"type:numeric" json:"trigger_price"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

func (t SellTrigger) Armed() bool {
	return t.TriggerPrice.Valid
}

func (t SellTrigger) Crossed(price decimal.Decimal) bool {
	return t.Armed() && price.GreaterThanOrEqual(t.TriggerPrice.Decimal)
}
