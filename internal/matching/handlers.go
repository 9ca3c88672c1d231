package matching

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/meridianex/exchange-core/internal/audit"
	"github.com/meridianex/exchange-core/internal/types"
	"github.com/meridianex/exchange-core/pkg/response"
)

// GinHandlers contains HTTP handlers for order endpoints.
type GinHandlers struct {
	engine *Engine
	audit  *audit.Service
}

func NewGinHandlers(engine *Engine, auditService *audit.Service) *GinHandlers {
	return &GinHandlers{
		engine: engine,
		audit:  auditService,
	}
}

// SubmitOrderHandler handles POST requests to submit new orders. The
// broker identity comes from the authenticated session, never from the
// request body.
func (h *GinHandlers) SubmitOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if brokerID := c.GetString("clientID"); brokerID != "" {
			req.BrokerID = brokerID
		}

		order, err := h.engine.SubmitOrder(req)
		if err != nil {
			var verr *types.ValidationError
			if errors.As(err, &verr) {
				response.BadRequest(c, verr.Error())
				return
			}
			var rejection *types.RiskRejectionError
			if errors.As(err, &rejection) ||
				errors.Is(err, types.ErrInsufficientFunds) ||
				errors.Is(err, types.ErrInsufficientSecurities) {
				// The order exists in REJECTED state; return it with the reason.
				response.UnprocessableEntity(c, err.Error(), order)
				return
			}
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, order)
	}
}

// CancelOrderHandler handles POST requests to cancel an order.
// URL parameter: order_id.
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")

		var body struct {
			Reason string `json:"reason"`
		}
		// Body is optional; a missing reason is fine.
		_ = c.ShouldBindJSON(&body)

		actor := c.GetString("clientID")
		if actor == "" {
			actor = "api"
		}

		order, err := h.engine.CancelOrder(orderID, actor, body.Reason)
		response.Handle(c, order, err)
	}
}

// GetOrderStatusHandler handles GET requests for an order snapshot.
// URL parameter: order_id.
func (h *GinHandlers) GetOrderStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.engine.GetOrder(c.Param("order_id"))
		response.Handle(c, order, err)
	}
}

// ListAuditTrailHandler handles GET requests for an order's audit trail.
// URL parameter: order_id.
func (h *GinHandlers) ListAuditTrailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := h.audit.ListByOrder(c.Param("order_id"))
		response.Handle(c, entries, err)
	}
}

// ListTradesHandler handles GET requests for an order's trades.
// URL parameter: order_id.
func (h *GinHandlers) ListTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		trades, err := h.engine.ListTrades(c.Param("order_id"))
		response.Handle(c, trades, err)
	}
}
