package audit

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// EventType is the kind of record written to the audit trail
type EventType string

const (
	UserCommandEvent        EventType = "userCommand"
	AccountTransactionEvent EventType = "accountTransaction"
	SystemEventEvent        EventType = "systemEvent"
	QuoteServerEvent        EventType = "quoteServer"
	ErrorEventEvent         EventType = "errorEvent"
)

// Command names follow the legacy workload vocabulary
type Command string

const (
	CmdAdd            Command = "ADD"
	CmdCreateUser     Command = "CREATE_USER"
	CmdQuote          Command = "QUOTE"
	CmdBuy            Command = "BUY"
	CmdCommitBuy      Command = "COMMIT_BUY"
	CmdCancelBuy      Command = "CANCEL_BUY"
	CmdSell           Command = "SELL"
	CmdCommitSell     Command = "COMMIT_SELL"
	CmdCancelSell     Command = "CANCEL_SELL"
	CmdSetBuyAmount   Command = "SET_BUY_AMOUNT"
	CmdCancelSetBuy   Command = "CANCEL_SET_BUY"
	CmdSetBuyTrigger  Command = "SET_BUY_TRIGGER"
	CmdSetSellAmount  Command = "SET_SELL_AMOUNT"
	CmdSetSellTrigger Command = "SET_SELL_TRIGGER"
	CmdCancelSetSell  Command = "CANCEL_SET_SELL"
	CmdDisplaySummary Command = "DISPLAY_SUMMARY"
	CmdExecuteTrigger Command = "EXECUTE_TRIGGER"
	CmdReap           Command = "REAP_RESERVATIONS"
)

// Account transaction actions
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
)

// Event is one audit record. Fields that do not apply to a type are empty.
type Event struct {
	ID              string    `json:"id"`
	Type            EventType `json:"type"`
	Timestamp       int64     `json:"timestamp"`
	Server          string    `json:"server"`
	TransactionNum  string    `json:"transaction_num,omitempty"`
	Command         Command   `json:"command,omitempty"`
	Username        string    `json:"username,omitempty"`
	StockSymbol     string    `json:"stock_symbol,omitempty"`
	Funds           string    `json:"funds,omitempty"`
	Action          string    `json:"action,omitempty"`
	Price           string    `json:"price,omitempty"`
	QuoteServerTime int64     `json:"quote_server_time,omitempty"`
	CryptoKey       string    `json:"crypto_key,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// Log records audit events. Implementations never block the caller on the
// underlying transport and never fail the operation being audited.
type Log interface {
	InsertUserCommand(ctx context.Context, cmd Command, username, symbol string, funds decimal.Decimal)
	InsertAccountTransaction(ctx context.Context, action, username string, funds decimal.Decimal)
	InsertSystemEvent(ctx context.Context, cmd Command, username, symbol string, funds decimal.Decimal)
	InsertQuoteServer(ctx context.Context, username, symbol string, price decimal.Decimal, quoteServerTime int64, cryptoKey string)
	InsertErrorEvent(ctx context.Context, cmd Command, username, symbol string, funds decimal.Decimal, message string)
}

// Sink delivers events to a transport
type Sink interface {
	Write(ctx context.Context, event Event) error
	Close() error
}

// Logger builds events and hands them to a Sink
type Logger struct {
	server string
	sink   Sink
	now    func() time.Time
}

// New creates a Logger that stamps every event with server
func New(server string, sink Sink) *Logger {
	return &Logger{
		server: server,
		sink:   sink,
		now:    time.Now,
	}
}

func (l *Logger) InsertUserCommand(ctx context.Context, cmd Command, username, symbol string, funds decimal.Decimal) {
	l.write(ctx, Event{
		Type:        UserCommandEvent,
		Command:     cmd,
		Username:    username,
		StockSymbol: symbol,
		Funds:       formatFunds(funds),
	})
}

func (l *Logger) InsertAccountTransaction(ctx context.Context, action, username string, funds decimal.Decimal) {
	l.write(ctx, Event{
		Type:     AccountTransactionEvent,
		Action:   action,
		Username: username,
		Funds:    formatFunds(funds),
	})
}

func (l *Logger) InsertSystemEvent(ctx context.Context, cmd Command, username, symbol string, funds decimal.Decimal) {
	l.write(ctx, Event{
		Type:        SystemEventEvent,
		Command:     cmd,
		Username:    username,
		StockSymbol: symbol,
		Funds:       formatFunds(funds),
	})
}

func (l *Logger) InsertQuoteServer(ctx context.Context, username, symbol string, price decimal.Decimal, quoteServerTime int64, cryptoKey string) {
	l.write(ctx, Event{
		Type:            QuoteServerEvent,
		Command:         CmdQuote,
		Username:        username,
		StockSymbol:     symbol,
		Price:           price.String(),
		QuoteServerTime: quoteServerTime,
		CryptoKey:       cryptoKey,
	})
}

func (l *Logger) InsertErrorEvent(ctx context.Context, cmd Command, username, symbol string, funds decimal.Decimal, message string) {
	l.write(ctx, Event{
		Type:         ErrorEventEvent,
		Command:      cmd,
		Username:     username,
		StockSymbol:  symbol,
		Funds:        formatFunds(funds),
		ErrorMessage: message,
	})
}

func (l *Logger) write(ctx context.Context, event Event) {
	now := l.now()
	event.ID = ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	event.Timestamp = now.UnixMilli()
	event.Server = l.server
	event.TransactionNum = TransactionNum(ctx)

	if err := l.sink.Write(ctx, event); err != nil {
		log.Warn().
			Err(err).
			Str("component", "audit").
			Str("event_type", string(event.Type)).
			Str("command", string(event.Command)).
			Msg("failed to write audit event")
	}
}

// Close flushes and closes the sink
func (l *Logger) Close() error {
	return l.sink.Close()
}

func formatFunds(funds decimal.Decimal) string {
	if funds.IsZero() {
		return ""
	}
	return funds.StringFixed(2)
}

type transactionNumKey struct{}

// WithTransactionNum attaches the workload transaction number to ctx
func WithTransactionNum(ctx context.Context, num string) context.Context {
	return context.WithValue(ctx, transactionNumKey{}, num)
}

// TransactionNum returns the transaction number carried by ctx, if any
func TransactionNum(ctx context.Context) string {
	num, _ := ctx.Value(transactionNumKey{}).(string)
	return num
}

// Nop discards every event
type Nop struct{}

func (Nop) InsertUserCommand(context.Context, Command, string, string, decimal.Decimal) {}

func (Nop) InsertAccountTransaction(context.Context, string, string, decimal.Decimal) {}

func (Nop) InsertSystemEvent(context.Context, Command, string, string, decimal.Decimal) {}

func (Nop) InsertQuoteServer(context.Context, string, string, decimal.Decimal, int64, string) {}

func (Nop) InsertErrorEvent(context.Context, Command, string, string, decimal.Decimal, string) {}
