package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/looplj/agentpay/internal/chain"
	"github.com/looplj/agentpay/internal/log"
	"github.com/looplj/agentpay/internal/objects"
	"github.com/looplj/agentpay/internal/server/biz"
	"github.com/looplj/agentpay/internal/shard"
)

// JSONError returns a JSON error response and adds the error to gin context for access logging.
func JSONError(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.JSON(status, errorResponse(status, err))
}

// Fail maps a biz error onto its HTTP status. Unclassified errors are logged and hidden.
func Fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error(c.Request.Context(), "request failed", log.Cause(err))

		_ = c.Error(err)
		c.JSON(status, objects.ErrorResponse{
			Error: objects.Error{
				Type:    http.StatusText(status),
				Code:    biz.ErrorCode(err),
				Message: biz.ErrInternal.Error(),
			},
		})

		return
	}

	JSONError(c, status, err)
}

func errorResponse(status int, err error) objects.ErrorResponse {
	return objects.ErrorResponse{
		Error: objects.Error{
			Type:    http.StatusText(status),
			Code:    biz.ErrorCode(err),
			Message: err.Error(),
		},
	}
}

func StatusFor(err error) int {
	var (
		cryptoErr *shard.CryptoError
		chainErr  *chain.Error
	)

	switch {
	case errors.Is(err, biz.ErrInvalidJWT):
		return http.StatusUnauthorized
	case errors.As(err, &cryptoErr):
		if cryptoErr.Kind == shard.KindAddressMismatch {
			return http.StatusForbidden
		}

		return http.StatusBadRequest
	case errors.Is(err, biz.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, biz.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, biz.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, biz.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, biz.ErrLimitExceeded), errors.Is(err, biz.ErrPolicyDenied):
		return http.StatusUnprocessableEntity
	case errors.As(err, &chainErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
