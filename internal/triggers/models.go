package triggers

import (
	"errors"

	"github.com/ksred/daytrader-api/internal/ledger"
	"github.com/shopspring/decimal"
)

var ErrNoTrigger = errors.New("no trigger set")

// Side names which kind of trigger fired
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Hold is an update to a trigger. A nil Quantity keeps the held cash or
// shares and a nil Price keeps the threshold.
type Hold struct {
	Quantity *decimal.Decimal
	Price    *decimal.Decimal
}

// Firing records one executed trigger
type Firing struct {
	Side     Side
	Username string
	Symbol   string
	Price    decimal.Decimal
	Amount   decimal.Decimal // cash spent by a buy or received by a sell
	Shares   decimal.Decimal // shares received by a buy or sold by a sell
	Trade    *ledger.Trade
}

type buyAmountRequest struct {
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
}

type buyTriggerRequest struct {
	Symbol       string          `json:"symbol"`
	TriggerPrice decimal.Decimal `json:"trigger_price"`
	Amount       decimal.Decimal `json:"amount"`
}

type sellAmountRequest struct {
	Symbol string          `json:"symbol"`
	Shares decimal.Decimal `json:"shares"`
}

type sellTriggerRequest struct {
	Symbol       string          `json:"symbol"`
	TriggerPrice decimal.Decimal `json:"trigger_price"`
	Shares       decimal.Decimal `json:"shares"`
}
