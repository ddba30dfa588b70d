package triggers

import (
	"context"
	"errors"

	"github.com/ksred/daytrader-api/internal/audit"
	"github.com/ksred/daytrader-api/internal/ledger"
	"github.com/ksred/daytrader-api/internal/metrics"
	"github.com/ksred/daytrader-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
)

// Service manages buy and sell triggers. Setting a quantity holds the cash
// or shares immediately; cancelling returns them.
type Service struct {
	db      *Database
	audit   audit.Log
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewService creates a trigger service on top of the given database connection
func NewService(gormDB *gorm.DB, auditLog audit.Log, m *metrics.Metrics) *Service {
	return &Service{
		db:      NewDatabase(gormDB),
		audit:   auditLog,
		metrics: m,
		logger:  log.With().Str("service", "triggers").Logger(),
	}
}

// SetBuyAmount holds amount cash for a buy trigger on symbol. The trigger
// stays unarmed until SetBuyTrigger gives it a price.
func (s *Service) SetBuyAmount(ctx context.Context, username, symbol string, amount decimal.Decimal) (*types.BuyTriggerResponse, error) {
	cmd := audit.CmdSetBuyAmount
	s.audit.InsertUserCommand(ctx, cmd, username, symbol, amount)

	username, symbol, err := normalize(username, symbol)
	if err != nil {
		return nil, s.fail(ctx, cmd, username, symbol, amount, err)
	}
	if !amount.IsPositive() {
		return nil, s.fail(ctx, cmd, username, symbol, amount, status.Error(codes.InvalidArgument, "amount must be positive"))
	}

	trigger, balance, err := s.db.SetBuy(ctx, username, symbol, Hold{Quantity: &amount})
	if err != nil {
		return nil, s.storeError(ctx, cmd, username, symbol, amount, err)
	}

	s.metrics.IncTrade(string(cmd), codes.OK.String())
	return &types.BuyTriggerResponse{Trigger: *trigger, Balance: balance, Success: true}, nil
}

// SetBuyTrigger arms a buy trigger at triggerPrice. A positive amount
// (re)sets the held cash in the same call; a zero amount arms the existing
// trigger and fails with NotFound when there is none.
func (s *Service) SetBuyTrigger(ctx context.Context, username, symbol string, triggerPrice, amount decimal.Decimal) (*types.BuyTriggerResponse, error) {
	cmd := audit.CmdSetBuyTrigger
	s.audit.InsertUserCommand(ctx, cmd, username, symbol, triggerPrice)

	username, symbol, err := normalize(username, symbol)
	if err != nil {
		return nil, s.fail(ctx, cmd, username, symbol, triggerPrice, err)
	}
	if !triggerPrice.IsPositive() {
		return nil, s.fail(ctx, cmd, username, symbol, triggerPrice, status.Error(codes.InvalidArgument, "trigger price must be positive"))
	}
	if amount.IsNegative() {
		return nil, s.fail(ctx, cmd, username, symbol, triggerPrice, status.Error(codes.InvalidArgument, "amount must not be negative"))
	}

	hold := Hold{Price: &triggerPrice}
	if amount.IsPositive() {
		hold.Quantity = &amount
	}
	trigger, balance, err := s.db.SetBuy(ctx, username, symbol, hold)
	if err != nil {
		return nil, s.storeError(ctx, cmd, username, symbol, triggerPrice, err)
	}

	s.metrics.IncTrade(string(cmd), codes.OK.String())
	return &types.BuyTriggerResponse{Trigger: *trigger, Balance: balance, Success: true}, nil
}

// CancelSetBuy refunds and removes the buy trigger on symbol. Cancelling a
// trigger that does not exist succeeds.
func (s *Service) CancelSetBuy(ctx context.Context, username, symbol string) (*types.SuccessResponse, error) {
	cmd := audit.CmdCancelSetBuy
	s.audit.InsertUserCommand(ctx, cmd, username, symbol, decimal.Zero)

	username, symbol, err := normalize(username, symbol)
	if err != nil {
		return nil, s.fail(ctx, cmd, username, symbol, decimal.Zero, err)
	}

	removed, err := s.db.CancelBuy(ctx, username, symbol)
	if err != nil {
		return nil, s.storeError(ctx, cmd, username, symbol, decimal.Zero, err)
	}
	if removed != nil {
		s.logger.Debug().
			Str("username", username).
			Str("symbol", symbol).
			Str("refund", removed.Amount.String()).
			Msg("buy trigger cancelled")
	}

	s.metrics.IncTrade(string(cmd), codes.OK.String())
	return &types.SuccessResponse{Success: true}, nil
}

// SetSellAmount holds shares of symbol out of the user's position for a
// sell trigger
func (s *Service) SetSellAmount(ctx context.Context, username, symbol string, shares decimal.Decimal) (*types.SellTriggerResponse, error) {
	cmd := audit.CmdSetSellAmount
	s.audit.InsertUserCommand(ctx, cmd, username, symbol, shares)

	username, symbol, err := normalize(username, symbol)
	if err != nil {
		return nil, s.fail(ctx, cmd, username, symbol, shares, err)
	}
	if !shares.IsPositive() {
		return nil, s.fail(ctx, cmd, username, symbol, shares, status.Error(codes.InvalidArgument, "shares must be positive"))
	}

	trigger, owned, err := s.db.SetSell(ctx, username, symbol, Hold{Quantity: &shares})
	if err != nil {
		return nil, s.storeError(ctx, cmd, username, symbol, shares, err)
	}

	s.metrics.IncTrade(string(cmd), codes.OK.String())
	return &types.SellTriggerResponse{Trigger: *trigger, SharesOwned: owned, Success: true}, nil
}

// SetSellTrigger arms a sell trigger at triggerPrice, with the same
// quantity rules as SetBuyTrigger
func (s *Service) SetSellTrigger(ctx context.Context, username, symbol string, triggerPrice, shares decimal.Decimal) (*types.SellTriggerResponse, error) {
	cmd := audit.CmdSetSellTrigger
	s.audit.InsertUserCommand(ctx, cmd, username, symbol, triggerPrice)

	username, symbol, err := normalize(username, symbol)
	if err != nil {
		return nil, s.fail(ctx, cmd, username, symbol, triggerPrice, err)
	}
	if !triggerPrice.IsPositive() {
		return nil, s.fail(ctx, cmd, username, symbol, triggerPrice, status.Error(codes.InvalidArgument, "trigger price must be positive"))
	}
	if shares.IsNegative() {
		return nil, s.fail(ctx, cmd, username, symbol, triggerPrice, status.Error(codes.InvalidArgument, "shares must not be negative"))
	}

	hold := Hold{Price: &triggerPrice}
	if shares.IsPositive() {
		hold.Quantity = &shares
	}
	trigger, owned, err := s.db.SetSell(ctx, username, symbol, hold)
	if err != nil {
		return nil, s.storeError(ctx, cmd, username, symbol, triggerPrice, err)
	}

	s.metrics.IncTrade(string(cmd), codes.OK.String())
	return &types.SellTriggerResponse{Trigger: *trigger, SharesOwned: owned, Success: true}, nil
}

// CancelSetSell returns the held shares and removes the sell trigger
func (s *Service) CancelSetSell(ctx context.Context, username, symbol string) (*types.SuccessResponse, error) {
	cmd := audit.CmdCancelSetSell
	s.audit.InsertUserCommand(ctx, cmd, username, symbol, decimal.Zero)

	username, symbol, err := normalize(username, symbol)
	if err != nil {
		return nil, s.fail(ctx, cmd, username, symbol, decimal.Zero, err)
	}

	removed, err := s.db.CancelSell(ctx, username, symbol)
	if err != nil {
		return nil, s.storeError(ctx, cmd, username, symbol, decimal.Zero, err)
	}
	if removed != nil {
		s.logger.Debug().
			Str("username", username).
			Str("symbol", symbol).
			Str("shares", removed.Shares.String()).
			Msg("sell trigger cancelled")
	}

	s.metrics.IncTrade(string(cmd), codes.OK.String())
	return &types.SuccessResponse{Success: true}, nil
}

func normalize(username, symbol string) (string, string, error) {
	username, err := types.NormalizeUsername(username)
	if err != nil {
		return username, symbol, status.Error(codes.InvalidArgument, err.Error())
	}
	symbol, err = types.NormalizeSymbol(symbol)
	if err != nil {
		return username, symbol, status.Error(codes.InvalidArgument, err.Error())
	}
	return username, symbol, nil
}

func (s *Service) storeError(ctx context.Context, cmd audit.Command, username, symbol string, funds decimal.Decimal, err error) error {
	switch {
	case errors.Is(err, ErrNoTrigger):
		return s.fail(ctx, cmd, username, symbol, funds, status.Error(codes.NotFound, "no trigger set for symbol"))
	case errors.Is(err, ledger.ErrAccountNotFound):
		return s.fail(ctx, cmd, username, symbol, funds, status.Error(codes.NotFound, "user not found"))
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return s.fail(ctx, cmd, username, symbol, funds, status.Error(codes.FailedPrecondition, "insufficient funds"))
	case errors.Is(err, ledger.ErrInsufficientShares):
		return s.fail(ctx, cmd, username, symbol, funds, status.Error(codes.FailedPrecondition, "insufficient shares"))
	default:
		s.logger.Error().
			Err(err).
			Str("command", string(cmd)).
			Str("username", username).
			Str("symbol", symbol).
			Msg("trigger update failed")
		return s.fail(ctx, cmd, username, symbol, funds, status.Error(codes.Internal, "failed to update trigger"))
	}
}

// fail records err in the audit log and returns it unchanged
func (s *Service) fail(ctx context.Context, cmd audit.Command, username, symbol string, funds decimal.Decimal, err error) error {
	st := status.Convert(err)
	s.audit.InsertErrorEvent(ctx, cmd, username, symbol, funds, st.Message())
	s.metrics.IncTrade(string(cmd), st.Code().String())
	return err
}
