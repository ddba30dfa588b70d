package audit

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes events to a zerolog logger. Used when no broker is configured.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "audit").Logger()}
}

func (s *LogSink) Write(_ context.Context, event Event) error {
	s.logger.Info().
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Int64("timestamp", event.Timestamp).
		Str("server", event.Server).
		Str("transaction_num", event.TransactionNum).
		Str("command", string(event.Command)).
		Str("username", event.Username).
		Str("stock_symbol", event.StockSymbol).
		Str("funds", event.Funds).
		Str("action", event.Action).
		Str("price", event.Price).
		Str("error_message", event.ErrorMessage).
		Msg("audit event")
	return nil
}

func (s *LogSink) Close() error {
	return nil
}
