package types

import "github.com/shopspring/decimal"

// BuyResponse is returned by Buy
type BuyResponse struct {
	Shares  decimal.Decimal `json:"shares"`
	Price   decimal.Decimal `json:"price"`
	Success bool            `json:"success"`
}

// SellResponse is returned by Sell
type SellResponse struct {
	Amount  decimal.Decimal `json:"amount"`
	Shares  decimal.Decimal `json:"shares"`
	Price   decimal.Decimal `json:"price"`
	Success bool            `json:"success"`
}

// CommitResponse is returned by CommitBuy and CommitSell
type CommitResponse struct {
	SharesOwned decimal.Decimal `json:"shares_owned"`
	Balance     decimal.Decimal `json:"balance"`
	Success     bool            `json:"success"`
}

// SuccessResponse is returned by operations with no other payload
type SuccessResponse struct {
	Success bool `json:"success"`
}

type CreateUserResponse struct {
	Username string `json:"username"`
	Success  bool   `json:"success"`
}

type AddFundsResponse struct {
	Username string          `json:"username"`
	Balance  decimal.Decimal `json:"balance"`
	Success  bool            `json:"success"`
}

// UserResponse is the full view of an account returned by GetUser
type UserResponse struct {
	Username     string          `json:"username"`
	Balance      decimal.Decimal `json:"balance"`
	Role         string          `json:"role"`
	OwnedStock   []Position      `json:"owned_stock"`
	BuyTriggers  []BuyTrigger    `json:"buy_triggers"`
	SellTriggers []SellTrigger   `json:"sell_triggers"`
	Success      bool            `json:"success"`
}

type QuoteResponse struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
	Success   bool            `json:"success"`
}

// BuyTriggerResponse is returned by the buy trigger setters. Balance is the
// cash left after the hold.
type BuyTriggerResponse struct {
	Trigger BuyTrigger      `json:"trigger"`
	Balance decimal.Decimal `json:"balance"`
	Success bool            `json:"success"`
}

// SellTriggerResponse is returned by the sell trigger setters. SharesOwned
// is what remains in the position after the hold.
type SellTriggerResponse struct {
	Trigger     SellTrigger     `json:"trigger"`
	SharesOwned decimal.Decimal `json:"shares_owned"`
	Success     bool            `json:"success"`
}
