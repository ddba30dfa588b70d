package triggers

import (
	"context"
	"fmt"

	"github.com/ksred/daytrader-api/internal/audit"
	"github.com/ksred/daytrader-api/internal/metrics"
	"github.com/ksred/daytrader-api/internal/quote"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Evaluator fires armed triggers when a quote crosses their threshold. It
// is subscribed to the quote service, so every served quote is evaluated.
type Evaluator struct {
	db      *Database
	audit   audit.Log
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewEvaluator(gormDB *gorm.DB, auditLog audit.Log, m *metrics.Metrics) *Evaluator {
	return &Evaluator{
		db:      NewDatabase(gormDB),
		audit:   auditLog,
		metrics: m,
		logger:  log.With().Str("component", "trigger_evaluator").Logger(),
	}
}

// OnQuote implements quote.Listener
func (e *Evaluator) OnQuote(ctx context.Context, q quote.Quote) {
	if _, err := e.Evaluate(ctx, q.Symbol, q.Price); err != nil {
		e.logger.Error().Err(err).Str("symbol", q.Symbol).Msg("failed to evaluate triggers")
	}
}

// Evaluate fires every armed trigger on symbol that price crosses: sell
// triggers at or above their threshold, buy triggers at or below it. A
// trigger that fails to fire is logged and skipped.
func (e *Evaluator) Evaluate(ctx context.Context, symbol string, price decimal.Decimal) ([]Firing, error) {
	sells, err := e.db.ArmedSells(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("list sell triggers: %w", err)
	}
	buys, err := e.db.ArmedBuys(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("list buy triggers: %w", err)
	}

	var fired []Firing
	for _, trigger := range sells {
		if !trigger.Crossed(price) {
			continue
		}
		firing, err := e.db.FireSell(ctx, trigger.ID, price)
		if e.handle(ctx, SideSell, trigger.Username, symbol, firing, err) {
			fired = append(fired, *firing)
		}
	}
	for _, trigger := range buys {
		if !trigger.Crossed(price) {
			continue
		}
		firing, err := e.db.FireBuy(ctx, trigger.ID, price)
		if e.handle(ctx, SideBuy, trigger.Username, symbol, firing, err) {
			fired = append(fired, *firing)
		}
	}
	return fired, nil
}

// handle records the outcome of one firing attempt and reports whether the
// trigger fired
func (e *Evaluator) handle(ctx context.Context, side Side, username, symbol string, firing *Firing, err error) bool {
	if err != nil {
		e.logger.Error().
			Err(err).
			Str("side", string(side)).
			Str("username", username).
			Str("symbol", symbol).
			Msg("failed to fire trigger")
		e.audit.InsertErrorEvent(ctx, audit.CmdExecuteTrigger, username, symbol, decimal.Zero, err.Error())
		return false
	}
	if firing == nil {
		// Fired or changed by someone else first
		return false
	}

	action := audit.ActionAdd
	if side == SideBuy {
		action = audit.ActionRemove
	}
	e.audit.InsertSystemEvent(ctx, audit.CmdExecuteTrigger, firing.Username, firing.Symbol, firing.Amount)
	e.audit.InsertAccountTransaction(ctx, action, firing.Username, firing.Amount)
	e.metrics.IncTriggerFired(string(side))

	e.logger.Info().
		Str("side", string(side)).
		Str("username", firing.Username).
		Str("symbol", firing.Symbol).
		Str("price", firing.Price.String()).
		Str("shares", firing.Shares.String()).
		Str("amount", firing.Amount.String()).
		Msg("trigger fired")
	return true
}
