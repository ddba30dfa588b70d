package ledger

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/ksred/daytrader-api/internal/audit"
	"github.com/ksred/daytrader-api/internal/types"
	"github.com/ksred/daytrader-api/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
)

// Service manages accounts and exposes the read side of positions and triggers
type Service struct {
	db    *Database
	audit audit.Log
}

// NewService creates a ledger service on top of the given database connection
func NewService(gormDB *gorm.DB, auditLog audit.Log) *Service {
	return &Service{
		db:    NewDatabase(gormDB),
		audit: auditLog,
	}
}

// AddFunds credits amount to the user's balance, creating the account on
// first use. An amount of zero only ensures the account exists.
// Parameters:
//   - username: Account owner
//   - amount: Non-negative cash amount
func (s *Service) AddFunds(ctx context.Context, username string, amount decimal.Decimal) (*types.AddFundsResponse, error) {
	s.audit.InsertUserCommand(ctx, audit.CmdAdd, username, "", amount)

	username, err := types.NormalizeUsername(username)
	if err != nil {
		return nil, s.fail(ctx, audit.CmdAdd, username, amount, status.Error(codes.InvalidArgument, err.Error()))
	}
	if amount.IsNegative() {
		return nil, s.fail(ctx, audit.CmdAdd, username, amount, status.Error(codes.InvalidArgument, "amount must not be negative"))
	}

	account, err := s.db.AddFunds(ctx, username, amount)
	if err != nil {
		log.Error().Err(err).Str("username", username).Msg("failed to add funds")
		return nil, s.fail(ctx, audit.CmdAdd, username, amount, status.Error(codes.Internal, "failed to add funds"))
	}

	s.audit.InsertAccountTransaction(ctx, audit.ActionAdd, username, amount)

	return &types.AddFundsResponse{
		Username: account.Username,
		Balance:  account.Balance,
		Success:  true,
	}, nil
}

// CreateUser creates an account with a zero balance
func (s *Service) CreateUser(ctx context.Context, username string) (*types.CreateUserResponse, error) {
	s.audit.InsertUserCommand(ctx, audit.CmdCreateUser, username, "", decimal.Zero)

	username, err := types.NormalizeUsername(username)
	if err != nil {
		return nil, s.fail(ctx, audit.CmdCreateUser, username, decimal.Zero, status.Error(codes.InvalidArgument, err.Error()))
	}

	if _, err := s.db.CreateAccount(ctx, username); err != nil {
		if errors.Is(err, ErrAccountExists) {
			return nil, s.fail(ctx, audit.CmdCreateUser, username, decimal.Zero, status.Error(codes.AlreadyExists, "user already exists"))
		}
		log.Error().Err(err).Str("username", username).Msg("failed to create user")
		return nil, s.fail(ctx, audit.CmdCreateUser, username, decimal.Zero, status.Error(codes.Internal, "failed to create user"))
	}

	return &types.CreateUserResponse{
		Username: username,
		Success:  true,
	}, nil
}

// GetUser returns the account with its positions and triggers
func (s *Service) GetUser(ctx context.Context, username string) (*types.UserResponse, error) {
	s.audit.InsertUserCommand(ctx, audit.CmdDisplaySummary, username, "", decimal.Zero)

	username, err := types.NormalizeUsername(username)
	if err != nil {
		return nil, s.fail(ctx, audit.CmdDisplaySummary, username, decimal.Zero, status.Error(codes.InvalidArgument, err.Error()))
	}

	account, err := s.db.GetAccount(ctx, username)
	if err != nil {
		log.Error().Err(err).Str("username", username).Msg("failed to load account")
		return nil, s.fail(ctx, audit.CmdDisplaySummary, username, decimal.Zero, status.Error(codes.Internal, "failed to load user"))
	}
	if account == nil {
		return nil, s.fail(ctx, audit.CmdDisplaySummary, username, decimal.Zero, status.Error(codes.NotFound, "user not found"))
	}

	positions, err := s.db.ListPositions(ctx, username)
	if err != nil {
		log.Error().Err(err).Str("username", username).Msg("failed to load positions")
		return nil, s.fail(ctx, audit.CmdDisplaySummary, username, decimal.Zero, status.Error(codes.Internal, "failed to load user"))
	}
	buyTriggers, err := s.db.ListBuyTriggers(ctx, username)
	if err != nil {
		log.Error().Err(err).Str("username", username).Msg("failed to load buy triggers")
		return nil, s.fail(ctx, audit.CmdDisplaySummary, username, decimal.Zero, status.Error(codes.Internal, "failed to load user"))
	}
	sellTriggers, err := s.db.ListSellTriggers(ctx, username)
	if err != nil {
		log.Error().Err(err).Str("username", username).Msg("failed to load sell triggers")
		return nil, s.fail(ctx, audit.CmdDisplaySummary, username, decimal.Zero, status.Error(codes.Internal, "failed to load user"))
	}

	return &types.UserResponse{
		Username:     account.Username,
		Balance:      account.Balance,
		Role:         account.Role,
		OwnedStock:   positions,
		BuyTriggers:  buyTriggers,
		SellTriggers: sellTriggers,
		Success:      true,
	}, nil
}

func (s *Service) fail(ctx context.Context, cmd audit.Command, username string, amount decimal.Decimal, err error) error {
	s.audit.InsertErrorEvent(ctx, cmd, username, "", amount, status.Convert(err).Message())
	return err
}

// GinHandlers contains HTTP handlers for account endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

type createUserRequest struct {
	UserID string `json:"user_id"`
}

type addFundsRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// CreateUserHandler handles POST /users
func (h *GinHandlers) CreateUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		resp, err := h.service.CreateUser(c.Request.Context(), req.UserID)
		response.Handle(c, resp, err)
	}
}

// GetUserHandler handles GET /users/:user_id
func (h *GinHandlers) GetUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := h.service.GetUser(c.Request.Context(), c.Param("user_id"))
		response.Handle(c, resp, err)
	}
}

// AddFundsHandler handles POST /users/:user_id/funds
func (h *GinHandlers) AddFundsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addFundsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		resp, err := h.service.AddFunds(c.Request.Context(), c.Param("user_id"), req.Amount)
		response.Handle(c, resp, err)
	}
}
