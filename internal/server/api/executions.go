package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/looplj/agentpay/internal/objects"
	"github.com/looplj/agentpay/internal/server/biz"
)

type ExecutionHandlersParams struct {
	fx.In

	Coordinator *biz.Coordinator
}

func NewExecutionHandlers(params ExecutionHandlersParams) *ExecutionHandlers {
	return &ExecutionHandlers{Coordinator: params.Coordinator}
}

type ExecutionHandlers struct {
	Coordinator *biz.Coordinator
}

// ExecuteResponse carries the written record even when the execution failed.
type ExecuteResponse struct {
	*biz.ExecuteResult

	Error *objects.Error `json:"error,omitempty"`
}

// Execute runs one agent action against the grant. 200 on success, 202 while the
// transaction is pending, and the mapped error status otherwise.
func (h *ExecutionHandlers) Execute(c *gin.Context) {
	userID, ok := principal(c)
	if !ok {
		return
	}

	var req biz.ExecuteInput
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, fmt.Errorf("invalid request format: %w", err))
		return
	}

	req.GrantID = c.Param("id")

	result, err := h.Coordinator.Execute(c.Request.Context(), userID, req)

	switch {
	case err == nil && result.Pending():
		c.JSON(http.StatusAccepted, ExecuteResponse{ExecuteResult: result})
	case err == nil:
		c.JSON(http.StatusOK, ExecuteResponse{ExecuteResult: result})
	case result == nil:
		Fail(c, err)
	default:
		status := StatusFor(err)
		body := errorResponse(status, err).Error

		if status == http.StatusInternalServerError {
			body.Message = biz.ErrInternal.Error()
		}

		_ = c.Error(err)
		c.JSON(status, ExecuteResponse{ExecuteResult: result, Error: &body})
	}
}
