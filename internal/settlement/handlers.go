package settlement

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/meridianex/exchange-core/internal/types"
	"github.com/meridianex/exchange-core/pkg/response"
)

// GinHandlers contains HTTP handlers for settlement endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// SettleTradeHandler handles POST requests to finalize a trade's
// settlement. A recorded failure is still a settlement outcome and is
// returned as such, not as a transport error.
// URL parameter: trade_id.
func (h *GinHandlers) SettleTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		settlement, err := h.service.SettleTrade(c.Param("trade_id"))

		var failed *types.SettlementFailedError
		if errors.As(err, &failed) {
			response.Success(c, settlement)
			return
		}
		response.Handle(c, settlement, err)
	}
}

// GetSettlementHandler handles GET requests for a trade's settlement.
// URL parameter: trade_id.
func (h *GinHandlers) GetSettlementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		settlement, err := h.service.GetByTradeID(c.Param("trade_id"))
		response.Handle(c, settlement, err)
	}
}
