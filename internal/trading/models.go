package trading

import (
	"errors"

	"github.com/ksred/daytrader-api/internal/ledger"
	"github.com/ksred/daytrader-api/internal/types"
	"github.com/shopspring/decimal"
)

var (
	ErrNoPending          = errors.New("no pending reservation")
	ErrReservationExpired = errors.New("reservation expired")
)

// Commit is the outcome of committing a reservation
type Commit struct {
	Reservation types.Reservation
	Trade       *ledger.Trade // nil when the reservation had expired
}

type tradeRequest struct {
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
}
