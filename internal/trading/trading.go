package trading

import (
	"context"
	"errors"
	"time"

	"github.com/ksred/daytrader-api/internal/audit"
	"github.com/ksred/daytrader-api/internal/ledger"
	"github.com/ksred/daytrader-api/internal/metrics"
	"github.com/ksred/daytrader-api/internal/quote"
	"github.com/ksred/daytrader-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
)

// DefaultReservationTTL is how long a quoted buy or sell can be committed
const DefaultReservationTTL = 60 * time.Second

// QuoteSource prices a symbol for a user
type QuoteSource interface {
	Quote(ctx context.Context, username, symbol string) (quote.Quote, error)
}

// Service handles the reserve, commit and cancel trade protocol
type Service struct {
	db      *Database
	ledger  *ledger.Database
	quotes  QuoteSource
	audit   audit.Log
	metrics *metrics.Metrics
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

type Option func(*Service)

// WithReservationTTL overrides DefaultReservationTTL
func WithReservationTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, mainly for expiry tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a new trading service with the given database connection
func NewService(gormDB *gorm.DB, quotes QuoteSource, auditLog audit.Log, opts ...Option) *Service {
	s := &Service{
		db:     NewDatabase(gormDB),
		ledger: ledger.NewDatabase(gormDB),
		quotes: quotes,
		audit:  auditLog,
		ttl:    DefaultReservationTTL,
		now:    time.Now,
		logger: log.With().Str("service", "trading").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// Buy quotes symbol and reserves amount worth of shares for the user.
// The balance is checked but not debited; a later Buy replaces the
// reservation.
// Parameters:
//   - username: Account owner
//   - symbol: Stock symbol
//   - amount: Cash to spend, must be positive
func (s *Service) Buy(ctx context.Context, username, symbol string, amount decimal.Decimal) (*types.BuyResponse, error) {
	s.audit.InsertUserCommand(ctx, audit.CmdBuy, username, symbol, amount)

	username, symbol, err := validateTrade(username, symbol, amount)
	if err != nil {
		return nil, s.fail(ctx, audit.CmdBuy, username, symbol, amount, err)
	}

	account, err := s.ledger.GetAccount(ctx, username)
	if err != nil {
		return nil, s.internal(ctx, audit.CmdBuy, username, symbol, amount, err, "failed to load account")
	}
	if account == nil {
		return nil, s.fail(ctx, audit.CmdBuy, username, symbol, amount, status.Error(codes.NotFound, "user not found"))
	}
	if amount.GreaterThan(account.Balance) {
		return nil, s.fail(ctx, audit.CmdBuy, username, symbol, amount, status.Error(codes.FailedPrecondition, "insufficient funds"))
	}

	q, err := s.quotes.Quote(ctx, username, symbol)
	if err != nil {
		return nil, s.internal(ctx, audit.CmdBuy, username, symbol, amount, err, "failed to get quote")
	}

	shares := amount.DivRound(q.Price, types.ShareScale)
	if !shares.IsPositive() {
		return nil, s.fail(ctx, audit.CmdBuy, username, symbol, amount, status.Error(codes.FailedPrecondition, "amount buys no shares at current price"))
	}

	pending := &types.PendingBuy{Reservation: types.Reservation{
		Username:  username,
		Symbol:    symbol,
		Amount:    amount,
		Shares:    shares,
		Price:     q.Price,
		ExpiresAt: s.clock().Add(s.ttl),
	}}
	if err := s.db.UpsertPendingBuy(ctx, pending); err != nil {
		return nil, s.internal(ctx, audit.CmdBuy, username, symbol, amount, err, "failed to save pending buy")
	}

	s.metrics.IncTrade(string(audit.CmdBuy), codes.OK.String())
	return &types.BuyResponse{
		Shares:  shares,
		Price:   q.Price,
		Success: true,
	}, nil
}

// Sell quotes symbol and reserves amount worth of the user's shares.
// Shares are checked but not debited until CommitSell.
func (s *Service) Sell(ctx context.Context, username, symbol string, amount decimal.Decimal) (*types.SellResponse, error) {
	s.audit.InsertUserCommand(ctx, audit.CmdSell, username, symbol, amount)

	username, symbol, err := validateTrade(username, symbol, amount)
	if err != nil {
		return nil, s.fail(ctx, audit.CmdSell, username, symbol, amount, err)
	}

	account, err := s.ledger.GetAccount(ctx, username)
	if err != nil {
		return nil, s.internal(ctx, audit.CmdSell, username, symbol, amount, err, "failed to load account")
	}
	if account == nil {
		return nil, s.fail(ctx, audit.CmdSell, username, symbol, amount, status.Error(codes.NotFound, "user not found"))
	}

	position, err := s.ledger.GetPosition(ctx, username, symbol)
	if err != nil {
		return nil, s.internal(ctx, audit.CmdSell, username, symbol, amount, err, "failed to load position")
	}
	if position == nil {
		return nil, s.fail(ctx, audit.CmdSell, username, symbol, amount, status.Error(codes.FailedPrecondition, "user does not own stock"))
	}

	q, err := s.quotes.Quote(ctx, username, symbol)
	if err != nil {
		return nil, s.internal(ctx, audit.CmdSell, username, symbol, amount, err, "failed to get quote")
	}

	shares := amount.DivRound(q.Price, types.ShareScale)
	if !shares.IsPositive() {
		return nil, s.fail(ctx, audit.CmdSell, username, symbol, amount, status.Error(codes.FailedPrecondition, "amount sells no shares at current price"))
	}
	if position.Shares.LessThan(shares) {
		return nil, s.fail(ctx, audit.CmdSell, username, symbol, amount, status.Error(codes.FailedPrecondition, "insufficient shares"))
	}

	pending := &types.PendingSell{Reservation: types.Reservation{
		Username:  username,
		Symbol:    symbol,
		Amount:    amount,
		Shares:    shares,
		Price:     q.Price,
		ExpiresAt: s.clock().Add(s.ttl),
	}}
	if err := s.db.UpsertPendingSell(ctx, pending); err != nil {
		return nil, s.internal(ctx, audit.CmdSell, username, symbol, amount, err, "failed to save pending sell")
	}

	s.metrics.IncTrade(string(audit.CmdSell), codes.OK.String())
	return &types.SellResponse{
		Amount:  amount,
		Shares:  shares,
		Price:   q.Price,
		Success: true,
	}, nil
}

// CommitBuy applies the user's pending buy atomically: the balance is
// debited, the shares credited and the reservation removed
func (s *Service) CommitBuy(ctx context.Context, username string) (*types.CommitResponse, error) {
	s.audit.InsertUserCommand(ctx, audit.CmdCommitBuy, username, "", decimal.Zero)

	username, err := types.NormalizeUsername(username)
	if err != nil {
		return nil, s.fail(ctx, audit.CmdCommitBuy, username, "", decimal.Zero, status.Error(codes.InvalidArgument, err.Error()))
	}

	commit, err := s.db.CommitBuy(ctx, username, s.clock())
	if err != nil {
		return nil, s.commitError(ctx, audit.CmdCommitBuy, username, commit, err)
	}

	s.audit.InsertAccountTransaction(ctx, audit.ActionRemove, username, commit.Reservation.Amount)
	s.metrics.IncTrade(string(audit.CmdCommitBuy), codes.OK.String())

	return &types.CommitResponse{
		SharesOwned: commit.Trade.SharesOwned,
		Balance:     commit.Trade.Balance,
		Success:     true,
	}, nil
}

// CommitSell applies the user's pending sell atomically. A position that
// reaches zero shares is removed.
func (s *Service) CommitSell(ctx context.Context, username string) (*types.CommitResponse, error) {
	s.audit.InsertUserCommand(ctx, audit.CmdCommitSell, username, "", decimal.Zero)

	username, err := types.NormalizeUsername(username)
	if err != nil {
		return nil, s.fail(ctx, audit.CmdCommitSell, username, "", decimal.Zero, status.Error(codes.InvalidArgument, err.Error()))
	}

	commit, err := s.db.CommitSell(ctx, username, s.clock())
	if err != nil {
		return nil, s.commitError(ctx, audit.CmdCommitSell, username, commit, err)
	}

	s.audit.InsertAccountTransaction(ctx, audit.ActionAdd, username, commit.Reservation.Amount)
	s.metrics.IncTrade(string(audit.CmdCommitSell), codes.OK.String())

	return &types.CommitResponse{
		SharesOwned: commit.Trade.SharesOwned,
		Balance:     commit.Trade.Balance,
		Success:     true,
	}, nil
}

func (s *Service) commitError(ctx context.Context, cmd audit.Command, username string, commit *Commit, err error) error {
	var symbol string
	var amount decimal.Decimal
	if commit != nil {
		symbol = commit.Reservation.Symbol
		amount = commit.Reservation.Amount
	}

	noun := "buy"
	if cmd == audit.CmdCommitSell {
		noun = "sell"
	}

	switch {
	case errors.Is(err, ErrNoPending):
		return s.fail(ctx, cmd, username, symbol, amount, status.Errorf(codes.FailedPrecondition, "no pending %s", noun))
	case errors.Is(err, ErrReservationExpired):
		return s.fail(ctx, cmd, username, symbol, amount, status.Errorf(codes.DeadlineExceeded, "pending %s expired", noun))
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return s.fail(ctx, cmd, username, symbol, amount, status.Error(codes.FailedPrecondition, "insufficient funds"))
	case errors.Is(err, ledger.ErrInsufficientShares):
		return s.fail(ctx, cmd, username, symbol, amount, status.Error(codes.FailedPrecondition, "insufficient shares"))
	case errors.Is(err, ledger.ErrAccountNotFound):
		return s.fail(ctx, cmd, username, symbol, amount, status.Error(codes.NotFound, "user not found"))
	default:
		return s.internal(ctx, cmd, username, symbol, amount, err, "failed to commit "+noun)
	}
}

// CancelBuy drops the user's pending buy
func (s *Service) CancelBuy(ctx context.Context, username string) (*types.SuccessResponse, error) {
	return s.cancel(ctx, audit.CmdCancelBuy, username, s.db.DeletePendingBuy, "no pending buy")
}

// CancelSell drops the user's pending sell
func (s *Service) CancelSell(ctx context.Context, username string) (*types.SuccessResponse, error) {
	return s.cancel(ctx, audit.CmdCancelSell, username, s.db.DeletePendingSell, "no pending sell")
}

func (s *Service) cancel(
	ctx context.Context,
	cmd audit.Command,
	username string,
	remove func(ctx context.Context, username string) (bool, error),
	missing string,
) (*types.SuccessResponse, error) {
	s.audit.InsertUserCommand(ctx, cmd, username, "", decimal.Zero)

	username, err := types.NormalizeUsername(username)
	if err != nil {
		return nil, s.fail(ctx, cmd, username, "", decimal.Zero, status.Error(codes.InvalidArgument, err.Error()))
	}

	removed, err := remove(ctx, username)
	if err != nil {
		return nil, s.internal(ctx, cmd, username, "", decimal.Zero, err, "failed to cancel reservation")
	}
	if !removed {
		return nil, s.fail(ctx, cmd, username, "", decimal.Zero, status.Error(codes.NotFound, missing))
	}

	s.metrics.IncTrade(string(cmd), codes.OK.String())
	return &types.SuccessResponse{Success: true}, nil
}

// ReapExpired deletes every reservation whose commit window has passed
func (s *Service) ReapExpired(ctx context.Context) (int64, error) {
	buys, sells, err := s.db.DeleteExpired(ctx, s.clock())
	if err != nil {
		return 0, err
	}

	s.metrics.AddReaped("buy", buys)
	s.metrics.AddReaped("sell", sells)
	if buys+sells > 0 {
		s.logger.Info().
			Int64("pending_buys", buys).
			Int64("pending_sells", sells).
			Msg("reaped expired reservations")
		s.audit.InsertSystemEvent(ctx, audit.CmdReap, "", "", decimal.Zero)
	}
	return buys + sells, nil
}

func validateTrade(username, symbol string, amount decimal.Decimal) (string, string, error) {
	username, err := types.NormalizeUsername(username)
	if err != nil {
		return username, symbol, status.Error(codes.InvalidArgument, err.Error())
	}
	symbol, err = types.NormalizeSymbol(symbol)
	if err != nil {
		return username, symbol, status.Error(codes.InvalidArgument, err.Error())
	}
	if !amount.IsPositive() {
		return username, symbol, status.Error(codes.InvalidArgument, "amount must be positive")
	}
	return username, symbol, nil
}

// fail records err in the audit log and returns it unchanged
func (s *Service) fail(ctx context.Context, cmd audit.Command, username, symbol string, amount decimal.Decimal, err error) error {
	st := status.Convert(err)
	s.audit.InsertErrorEvent(ctx, cmd, username, symbol, amount, st.Message())
	s.metrics.IncTrade(string(cmd), st.Code().String())
	return err
}

// internal logs the cause and returns a generic Internal error
func (s *Service) internal(ctx context.Context, cmd audit.Command, username, symbol string, amount decimal.Decimal, cause error, msg string) error {
	s.logger.Error().
		Err(cause).
		Str("command", string(cmd)).
		Str("username", username).
		Str("symbol", symbol).
		Str("amount", amount.String()).
		Msg(msg)
	return s.fail(ctx, cmd, username, symbol, amount, status.Error(codes.Internal, msg))
}
