// Package quotetest provides a scripted quote oracle for tests.
package quotetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ksred/daytrader-api/internal/quote"
)

// Oracle answers with fixed per-symbol prices
type Oracle struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	calls  int
	err    error
}

func NewOracle() *Oracle {
	return &Oracle{prices: make(map[string]decimal.Decimal)}
}

// SetPrice fixes the price returned for symbol
func (o *Oracle) SetPrice(symbol, price string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[symbol] = decimal.RequireFromString(price)
}

// Fail makes every subsequent quote return err; nil restores normal answers
func (o *Oracle) Fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func (o *Oracle) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func (o *Oracle) Quote(_ context.Context, username, symbol string) (quote.Quote, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return quote.Quote{}, o.err
	}

	price, ok := o.prices[symbol]
	if !ok {
		return quote.Quote{}, fmt.Errorf("no price scripted for %s", symbol)
	}
	return quote.Quote{
		Symbol:    symbol,
		Price:     price,
		Username:  username,
		Timestamp: time.Now().UnixMilli(),
		CryptoKey: "test-key",
	}, nil
}
