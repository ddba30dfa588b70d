package triggers

import (
	"github.com/gin-gonic/gin"
	"github.com/ksred/daytrader-api/pkg/response"
)

// GinHandlers contains HTTP handlers for trigger endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// SetBuyAmountHandler handles POST /users/:user_id/triggers/buy/amount
// Request body: {"symbol": "ABC", "amount": "200.00"}
func (h *GinHandlers) SetBuyAmountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req buyAmountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		resp, err := h.service.SetBuyAmount(c.Request.Context(), c.Param("user_id"), req.Symbol, req.Amount)
		response.Handle(c, resp, err)
	}
}

// SetBuyTriggerHandler handles POST /users/:user_id/triggers/buy
// Request body: {"symbol": "ABC", "trigger_price": "48.00", "amount": "200.00"}
// amount may be omitted to arm a trigger whose amount is already set.
func (h *GinHandlers) SetBuyTriggerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req buyTriggerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		resp, err := h.service.SetBuyTrigger(c.Request.Context(), c.Param("user_id"), req.Symbol, req.TriggerPrice, req.Amount)
		response.Handle(c, resp, err)
	}
}

// CancelSetBuyHandler handles DELETE /users/:user_id/triggers/buy/:symbol
func (h *GinHandlers) CancelSetBuyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := h.service.CancelSetBuy(c.Request.Context(), c.Param("user_id"), c.Param("symbol"))
		response.Handle(c, resp, err)
	}
}

func (h *GinHandlers) SetSellAmountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sellAmountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		resp, err := h.service.SetSellAmount(c.Request.Context(), c.Param("user_id"), req.Symbol, req.Shares)
		response.Handle(c, resp, err)
	}
}

func (h *GinHandlers) SetSellTriggerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sellTriggerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		resp, err := h.service.SetSellTrigger(c.Request.Context(), c.Param("user_id"), req.Symbol, req.TriggerPrice, req.Shares)
		response.Handle(c, resp, err)
	}
}

func (h *GinHandlers) CancelSetSellHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := h.service.CancelSetSell(c.Request.Context(), c.Param("user_id"), c.Param("symbol"))
		response.Handle(c, resp, err)
	}
}
