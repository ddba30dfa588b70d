package quote

import (
	"context"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ksred/daytrader-api/internal/audit"
	"github.com/ksred/daytrader-api/internal/metrics"
	"github.com/ksred/daytrader-api/internal/types"
	"github.com/ksred/daytrader-api/pkg/response"
)

// Cache keeps recent quotes. A nil Cache disables caching.
type Cache interface {
	Get(ctx context.Context, symbol string) (Quote, bool, error)
	Set(ctx context.Context, q Quote) error
}

// Service is the single quote path: cache, oracle, audit and listeners
type Service struct {
	oracle  Oracle
	cache   Cache
	audit   audit.Log
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu        sync.RWMutex
	listeners []Listener
}

func NewService(oracle Oracle, cache Cache, auditLog audit.Log, m *metrics.Metrics) *Service {
	return &Service{
		oracle:  oracle,
		cache:   cache,
		audit:   auditLog,
		metrics: m,
		logger:  log.With().Str("service", "quote").Logger(),
	}
}

// Subscribe registers l to be called synchronously after every quote
func (s *Service) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Quote returns the current price of symbol. Every served quote, cached or
// fresh, is passed to the listeners before Quote returns.
func (s *Service) Quote(ctx context.Context, username, symbol string) (Quote, error) {
	symbol, err := types.NormalizeSymbol(symbol)
	if err != nil {
		return Quote{}, status.Error(codes.InvalidArgument, err.Error())
	}

	q, ok := s.fromCache(ctx, symbol)
	if !ok {
		q, err = s.oracle.Quote(ctx, username, symbol)
		if err != nil {
			s.metrics.IncQuote("oracle", "error")
			s.logger.Error().
				Err(err).
				Str("username", username).
				Str("symbol", symbol).
				Msg("quote server request failed")
			return Quote{}, status.Error(codes.Internal, "quote unavailable")
		}
		s.metrics.IncQuote("oracle", "ok")
		s.audit.InsertQuoteServer(ctx, username, symbol, q.Price, q.Timestamp, q.CryptoKey)

		if s.cache != nil {
			if err := s.cache.Set(ctx, q); err != nil {
				s.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to cache quote")
			}
		}
	}

	s.notify(ctx, q)
	return q, nil
}

func (s *Service) fromCache(ctx context.Context, symbol string) (Quote, bool) {
	if s.cache == nil {
		return Quote{}, false
	}

	q, ok, err := s.cache.Get(ctx, symbol)
	if err != nil {
		// Fall through to the oracle
		s.metrics.IncQuote("cache", "error")
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("quote cache unavailable")
		return Quote{}, false
	}
	if !ok {
		s.metrics.IncQuote("cache", "miss")
		return Quote{}, false
	}
	s.metrics.IncQuote("cache", "hit")
	return q, true
}

func (s *Service) notify(ctx context.Context, q Quote) {
	s.mu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, l := range listeners {
		l.OnQuote(ctx, q)
	}
}

// GetQuote is the user facing QUOTE command
func (s *Service) GetQuote(ctx context.Context, username, symbol string) (*types.QuoteResponse, error) {
	s.audit.InsertUserCommand(ctx, audit.CmdQuote, username, symbol, decimal.Zero)

	username, err := types.NormalizeUsername(username)
	if err != nil {
		s.audit.InsertErrorEvent(ctx, audit.CmdQuote, username, symbol, decimal.Zero, err.Error())
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	q, err := s.Quote(ctx, username, symbol)
	if err != nil {
		s.audit.InsertErrorEvent(ctx, audit.CmdQuote, username, symbol, decimal.Zero, status.Convert(err).Message())
		return nil, err
	}

	return &types.QuoteResponse{
		Symbol:    q.Symbol,
		Price:     q.Price,
		Timestamp: q.Timestamp,
		Success:   true,
	}, nil
}

// GinHandlers contains HTTP handlers for quote endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetQuoteHandler handles GET /quotes/:symbol?user_id=
func (h *GinHandlers) GetQuoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := h.service.GetQuote(c.Request.Context(), c.Query("user_id"), c.Param("symbol"))
		response.Handle(c, resp, err)
	}
}
