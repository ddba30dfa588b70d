package triggers

import (
	"context"
	"sort"
	"time"

	"github.com/ksred/daytrader-api/internal/quote"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// DefaultSweepInterval is the time between trigger sweeps
const DefaultSweepInterval = 5 * time.Minute

// Quoter requests a quote. Quotes served through it reach the Evaluator.
type Quoter interface {
	Quote(ctx context.Context, username, symbol string) (quote.Quote, error)
}

// Reaper drops reservations whose commit window has passed
type Reaper interface {
	ReapExpired(ctx context.Context) (int64, error)
}

type Processor struct {
	db           *Database
	quotes       Quoter
	reaper       Reaper
	processDelay time.Duration // Time between sweeps
}

func NewProcessor(gormDB *gorm.DB, quotes Quoter, reaper Reaper, interval time.Duration) *Processor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Processor{
		db:           NewDatabase(gormDB),
		quotes:       quotes,
		reaper:       reaper,
		processDelay: interval,
	}
}

// Start runs a sweep on every tick until ctx is done
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "trigger_processor").Logger()
	logger.Info().Dur("interval", p.processDelay).Msg("starting trigger processor")

	ticker := time.NewTicker(p.processDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down trigger processor")
			return
		case <-ticker.C:
			if err := p.Sweep(ctx); err != nil {
				logger.Error().Err(err).Msg("trigger sweep failed")
			}
		}
	}
}

// Sweep quotes every symbol that has an armed trigger, which fires the
// triggers the price crosses, and then reaps expired reservations. A failed
// quote skips that symbol only.
func (p *Processor) Sweep(ctx context.Context) error {
	logger := log.With().Str("component", "trigger_processor").Logger()

	symbols, err := p.db.ArmedSymbols(ctx)
	if err != nil {
		return err
	}

	ordered := make([]string, 0, len(symbols))
	for symbol := range symbols {
		ordered = append(ordered, symbol)
	}
	sort.Strings(ordered)

	logger.Debug().Int("symbols", len(ordered)).Msg("sweeping armed triggers")

	for _, symbol := range ordered {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := p.quotes.Quote(ctx, symbols[symbol], symbol); err != nil {
			logger.Warn().
				Err(err).
				Str("symbol", symbol).
				Msg("failed to quote symbol during sweep")
		}
	}

	if p.reaper != nil {
		if _, err := p.reaper.ReapExpired(ctx); err != nil {
			return err
		}
	}
	return nil
}
