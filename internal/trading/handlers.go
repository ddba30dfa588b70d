package trading

import (
	"github.com/gin-gonic/gin"
	"github.com/ksred/daytrader-api/pkg/response"
)

// GinHandlers contains HTTP handlers for trading endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for trading endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// BuyHandler handles POST /users/:user_id/buy
// Request body: {"symbol": "ABC", "amount": "100.00"}
func (h *GinHandlers) BuyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req tradeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		resp, err := h.service.Buy(c.Request.Context(), c.Param("user_id"), req.Symbol, req.Amount)
		response.Handle(c, resp, err)
	}
}

// SellHandler handles POST /users/:user_id/sell
func (h *GinHandlers) SellHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req tradeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		resp, err := h.service.Sell(c.Request.Context(), c.Param("user_id"), req.Symbol, req.Amount)
		response.Handle(c, resp, err)
	}
}

func (h *GinHandlers) CommitBuyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := h.service.CommitBuy(c.Request.Context(), c.Param("user_id"))
		response.Handle(c, resp, err)
	}
}

func (h *GinHandlers) CommitSellHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := h.service.CommitSell(c.Request.Context(), c.Param("user_id"))
		response.Handle(c, resp, err)
	}
}

func (h *GinHandlers) CancelBuyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := h.service.CancelBuy(c.Request.Context(), c.Param("user_id"))
		response.Handle(c, resp, err)
	}
}

func (h *GinHandlers) CancelSellHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := h.service.CancelSell(c.Request.Context(), c.Param("user_id"))
		response.Handle(c, resp, err)
	}
}
