package quote

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrMalformedResponse = errors.New("malformed quote server response")

// Quote is one price observation from the quote server
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Username  string          `json:"username"`
	Timestamp int64           `json:"timestamp"`
	CryptoKey string          `json:"crypto_key"`
}

// Oracle fetches live quotes
type Oracle interface {
	Quote(ctx context.Context, username, symbol string) (Quote, error)
}

// Listener is notified of every quote served. Trigger evaluation hangs off
// this hook.
type Listener interface {
	OnQuote(ctx context.Context, q Quote)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(ctx context.Context, q Quote)

func (f ListenerFunc) OnQuote(ctx context.Context, q Quote) {
	f(ctx, q)
}

// FormatRequest renders the quote server request line
func FormatRequest(username, symbol string) string {
	return username + "," + symbol + "\n"
}

// ParseResponse parses "price,symbol,username,timestamp,cryptokey"
func ParseResponse(line string) (Quote, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 5 {
		return Quote{}, fmt.Errorf("%w: expected 5 fields, got %d", ErrMalformedResponse, len(fields))
	}

	price, err := decimal.NewFromString(strings.TrimSpace(fields[0]))
	if err != nil {
		return Quote{}, fmt.Errorf("%w: price %q", ErrMalformedResponse, fields[0])
	}
	if !price.IsPositive() {
		return Quote{}, fmt.Errorf("%w: non-positive price %s", ErrMalformedResponse, price)
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(fields[3]), 10, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: timestamp %q", ErrMalformedResponse, fields[3])
	}

	return Quote{
		Price:     price,
		Symbol:    strings.TrimSpace(fields[1]),
		Username:  strings.TrimSpace(fields[2]),
		Timestamp: ts,
		CryptoKey: strings.TrimSpace(fields[4]),
	}, nil
}
