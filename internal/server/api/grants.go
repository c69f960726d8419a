package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/looplj/agentpay/internal/objects"
	"github.com/looplj/agentpay/internal/server/biz"
)

type GrantHandlersParams struct {
	fx.In

	Grants   *biz.GrantService
	Wallets  *biz.WalletBindingService
	Policies *biz.StrategyPolicyService
	Log      *biz.ExecutionLog
}

func NewGrantHandlers(params GrantHandlersParams) *GrantHandlers {
	return &GrantHandlers{
		Grants:   params.Grants,
		Wallets:  params.Wallets,
		Policies: params.Policies,
		Log:      params.Log,
	}
}

type GrantHandlers struct {
	Grants   *biz.GrantService
	Wallets  *biz.WalletBindingService
	Policies *biz.StrategyPolicyService
	Log      *biz.ExecutionLog
}

// CreateGrant registers a grant for the caller's wallet. The owner address defaults to the
// bound wallet and may not name any other.
func (h *GrantHandlers) CreateGrant(c *gin.Context) {
	_, owner, ok := ownerAddress(c, h.Wallets)
	if !ok {
		return
	}

	var req biz.CreateGrantInput
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, fmt.Errorf("invalid request format: %w", err))
		return
	}

	if req.OwnerAddress == "" {
		req.OwnerAddress = owner.Hex()
	} else if !strings.EqualFold(req.OwnerAddress, owner.Hex()) {
		JSONError(c, http.StatusForbidden, fmt.Errorf("%w: owner_address is not the wallet bound to this user", biz.ErrForbidden))
		return
	}

	grant, err := h.Grants.CreateGrant(c.Request.Context(), req)
	if err != nil {
		Fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, grant)
}

func (h *GrantHandlers) ListGrants(c *gin.Context) {
	_, owner, ok := ownerAddress(c, h.Wallets)
	if !ok {
		return
	}

	grants, err := h.Grants.ListGrants(c.Request.Context(), owner.Hex())
	if err != nil {
		Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"grants": grants})
}

func (h *GrantHandlers) GetActiveGrant(c *gin.Context) {
	_, owner, ok := ownerAddress(c, h.Wallets)
	if !ok {
		return
	}

	grant, err := h.Grants.GetActiveGrant(c.Request.Context(), owner.Hex())
	if err != nil {
		Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, grant)
}

func (h *GrantHandlers) RevokeGrant(c *gin.Context) {
	_, owner, ok := ownerAddress(c, h.Wallets)
	if !ok {
		return
	}

	result, err := h.Grants.RevokeGrant(c.Request.Context(), owner.Hex(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// UpsertStrategy replaces the permission named by the path; path values win over the body.
func (h *GrantHandlers) UpsertStrategy(c *gin.Context) {
	_, owner, ok := ownerAddress(c, h.Wallets)
	if !ok {
		return
	}

	var req biz.UpsertPermissionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, fmt.Errorf("invalid request format: %w", err))
		return
	}

	req.GrantID = c.Param("id")
	req.StrategyType = c.Param("strategy")

	perm, err := h.Policies.UpsertPermission(c.Request.Context(), owner.Hex(), req)
	if err != nil {
		Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, perm)
}

func (h *GrantHandlers) ListStrategies(c *gin.Context) {
	grant, ok := h.ownedGrant(c)
	if !ok {
		return
	}

	perms, err := h.Policies.ListPermissions(c.Request.Context(), grant.ID)
	if err != nil {
		Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"strategies": perms})
}

// ListExecutions returns the grant's audit trail, newest first. ?limit caps the page.
func (h *GrantHandlers) ListExecutions(c *gin.Context) {
	grant, ok := h.ownedGrant(c)
	if !ok {
		return
	}

	limit := 0

	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			JSONError(c, http.StatusBadRequest, fmt.Errorf("%w: limit must be a non-negative integer", biz.ErrValidation))
			return
		}

		limit = n
	}

	records, err := h.Log.ListByGrant(c.Request.Context(), grant.ID, limit)
	if err != nil {
		Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"executions": records})
}

func (h *GrantHandlers) ownedGrant(c *gin.Context) (*objects.CapabilityGrant, bool) {
	_, owner, ok := ownerAddress(c, h.Wallets)
	if !ok {
		return nil, false
	}

	grant, err := h.Grants.GetGrant(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return nil, false
	}

	if grant.OwnerAddress != owner.Hex() {
		Fail(c, fmt.Errorf("%w: grant %s belongs to another owner", biz.ErrForbidden, grant.ID))
		return nil, false
	}

	return grant, true
}
