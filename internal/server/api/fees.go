package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"

	"github.com/looplj/agentpay/internal/server/biz"
)

type FeeHandlersParams struct {
	fx.In

	Signer *biz.SignerService
}

func NewFeeHandlers(params FeeHandlersParams) *FeeHandlers {
	return &FeeHandlers{Signer: params.Signer}
}

type FeeHandlers struct {
	Signer *biz.SignerService
}

type EstimateFeeRequest struct {
	To     string          `json:"to"     binding:"required"`
	Amount decimal.Decimal `json:"amount"`
	Token  string          `json:"token"`
}

func (h *FeeHandlers) EstimateFee(c *gin.Context) {
	var req EstimateFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, fmt.Errorf("invalid request format: %w", err))
		return
	}

	estimate, err := h.Signer.EstimateFee(c.Request.Context(), req.To, req.Amount, req.Token)
	if err != nil {
		Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, estimate)
}
