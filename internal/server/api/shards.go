package api

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/looplj/agentpay/internal/server/biz"
)

type ShardHandlersParams struct {
	fx.In

	Vault *biz.ShardVaultService
}

func NewShardHandlers(params ShardHandlersParams) *ShardHandlers {
	return &ShardHandlers{Vault: params.Vault}
}

type ShardHandlers struct {
	Vault *biz.ShardVaultService
}

type ProvisionShardRequest struct {
	// ServerShard is shard B, hex encoded.
	ServerShard string `json:"server_shard" binding:"required"`
}

type ProvisionShardResponse struct {
	// Salt is the per-user salt the client must use when sealing shard A.
	Salt string `json:"salt"`
}

// ProvisionShard stores the caller's server shard, replacing any previous one.
func (h *ShardHandlers) ProvisionShard(c *gin.Context) {
	userID, ok := principal(c)
	if !ok {
		return
	}

	var req ProvisionShardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, fmt.Errorf("invalid request format: %w", err))
		return
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(req.ServerShard, "0x"))
	if err != nil {
		JSONError(c, http.StatusBadRequest, fmt.Errorf("%w: server_shard is not hex", biz.ErrValidation))
		return
	}

	salt, err := h.Vault.Provision(c.Request.Context(), userID, raw)
	if err != nil {
		Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, ProvisionShardResponse{Salt: salt})
}
