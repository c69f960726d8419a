package api

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/looplj/agentpay/internal/contexts"
	"github.com/looplj/agentpay/internal/server/biz"
)

var errNoPrincipal = errors.New("no authenticated principal")

func principal(c *gin.Context) (string, bool) {
	userID, ok := contexts.GetPrincipal(c.Request.Context())
	if !ok || userID == "" {
		JSONError(c, http.StatusUnauthorized, errNoPrincipal)
		return "", false
	}

	return userID, true
}

// ownerAddress resolves the wallet bound to the authenticated principal.
func ownerAddress(c *gin.Context, wallets *biz.WalletBindingService) (string, common.Address, bool) {
	userID, ok := principal(c)
	if !ok {
		return "", common.Address{}, false
	}

	owner, err := wallets.ResolveOwnerAddress(c.Request.Context(), userID)
	if err != nil {
		Fail(c, err)
		return "", common.Address{}, false
	}

	c.Request = c.Request.WithContext(contexts.WithOwnerAddress(c.Request.Context(), owner.Hex()))

	return userID, owner, true
}
