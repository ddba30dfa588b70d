package quote

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const cryptoKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/="

// FakeOracle simulates the quote server for local development
type FakeOracle struct {
	MinLatency int // in milliseconds
	MaxLatency int
	MinPrice   int64 // whole dollars
	MaxPrice   int64
}

func NewFakeOracle() *FakeOracle {
	return &FakeOracle{
		MinLatency: 5,
		MaxLatency: 50,
		MinPrice:   50,
		MaxPrice:   300,
	}
}

func (f *FakeOracle) Quote(ctx context.Context, username, symbol string) (Quote, error) {
	logger := log.With().
		Str("component", "fake_quote_server").
		Str("username", username).
		Str("symbol", symbol).
		Logger()

	// Simulate random latency
	if f.MaxLatency > 0 {
		latency := f.MinLatency
		if f.MaxLatency > f.MinLatency {
			latency += rand.Intn(f.MaxLatency - f.MinLatency + 1)
		}
		logger.Debug().Int("latency_ms", latency).Msg("simulated quote server latency")

		select {
		case <-ctx.Done():
			return Quote{}, ctx.Err()
		case <-time.After(time.Duration(latency) * time.Millisecond):
		}
	}

	// Price in cents within [MinPrice, MaxPrice)
	span := (f.MaxPrice - f.MinPrice) * 100
	cents := f.MinPrice * 100
	if span > 0 {
		cents += rand.Int63n(span)
	}

	return Quote{
		Symbol:    symbol,
		Price:     decimal.New(cents, -2),
		Username:  username,
		Timestamp: time.Now().UnixMilli(),
		CryptoKey: randomKey(57),
	}, nil
}

func randomKey(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = cryptoKeyAlphabet[rand.Intn(len(cryptoKeyAlphabet))]
	}
	return string(b)
}
