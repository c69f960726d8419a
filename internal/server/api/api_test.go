package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/agentpay/internal/chain"
	"github.com/looplj/agentpay/internal/chain/chaintest"
	"github.com/looplj/agentpay/internal/objects"
	"github.com/looplj/agentpay/internal/server/biz"
	"github.com/looplj/agentpay/internal/server/db/dbtest"
	"github.com/looplj/agentpay/internal/server/middleware"
)

type harness struct {
	svc    *biz.Services
	chain  *chaintest.Client
	engine *gin.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	gin.SetMode(gin.TestMode)

	fake := chaintest.New()

	sessions, err := chain.NewSessionManager(fake, chain.SessionManagerConfig{})
	require.NoError(t, err)

	gdb := dbtest.New(t)
	svc := biz.NewServicesForTest(gdb, fake, sessions, nil)

	grants := NewGrantHandlers(GrantHandlersParams{Grants: svc.Grants, Wallets: svc.Wallets, Policies: svc.Policies, Log: svc.Log})
	executions := NewExecutionHandlers(ExecutionHandlersParams{Coordinator: svc.Coordinator})
	fees := NewFeeHandlers(FeeHandlersParams{Signer: svc.Signer})
	shards := NewShardHandlers(ShardHandlersParams{Vault: svc.Vault})
	system := NewSystemHandlers(SystemHandlersParams{DB: gdb})

	engine := gin.New()
	engine.GET("/health", system.Health)

	v1 := engine.Group("/v1", middleware.WithJWTAuth(svc.Auth))
	v1.POST("/grants", grants.CreateGrant)
	v1.GET("/grants", grants.ListGrants)
	v1.GET("/grants/active", grants.GetActiveGrant)
	v1.POST("/grants/:id/revoke", grants.RevokeGrant)
	v1.PUT("/grants/:id/strategies/:strategy", grants.UpsertStrategy)
	v1.GET("/grants/:id/strategies", grants.ListStrategies)
	v1.GET("/grants/:id/executions", grants.ListExecutions)
	v1.POST("/grants/:id/execute", executions.Execute)
	v1.POST("/fees/estimate", fees.EstimateFee)
	v1.PUT("/shards", shards.ProvisionShard)

	return &harness{svc: svc, chain: fake, engine: engine}
}

func (h *harness) token(t *testing.T, userID string) string {
	t.Helper()

	token, err := h.svc.Auth.GenerateJWTToken(context.Background(), userID)
	require.NoError(t, err)

	return token
}

func (h *harness) do(t *testing.T, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)

	return w
}

func (h *harness) createGrant(t *testing.T, wallet *biz.TestWallet, single, daily string) *objects.CapabilityGrant {
	t.Helper()

	signer, err := crypto.GenerateKey()
	require.NoError(t, err)

	in := biz.CreateGrantInput{
		OwnerAddress:  wallet.Address.Hex(),
		SignerAddress: crypto.PubkeyToAddress(signer.PublicKey).Hex(),
		SingleLimit:   decimal.RequireFromString(single),
		DailyLimit:    decimal.RequireFromString(daily),
		ExpiryDays:    7,
		IssuedAt:      time.Now().UTC().Truncate(time.Second),
	}
	in.OwnerSignature, err = biz.SignGrantAuthorization(wallet.Key, in)
	require.NoError(t, err)

	w := h.do(t, h.token(t, wallet.UserID), http.MethodPost, "/v1/grants", in)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var grant objects.CapabilityGrant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &grant))

	return &grant
}

func executeBody(wallet *biz.TestWallet, amount string) biz.ExecuteInput {
	return biz.ExecuteInput{
		Tx: objects.TxRequest{
			Kind:   objects.TxKindTransfer,
			To:     "0x000000000000000000000000000000000000dEaD",
			Amount: decimal.RequireFromString(amount),
		},
		ClientShard:         wallet.ClientShard,
		ClientShardPassword: wallet.Password,
	}
}

func decodeExecute(t *testing.T, w *httptest.ResponseRecorder) ExecuteResponse {
	t.Helper()

	var resp ExecuteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())

	return resp
}

func TestGrantLifecycle(t *testing.T) {
	h := newHarness(t)

	wallet, err := h.svc.ProvisionWalletForTest(context.Background(), "u1", "pw")
	require.NoError(t, err)

	token := h.token(t, "u1")
	grant := h.createGrant(t, wallet, "100", "150")

	assert.Equal(t, objects.GrantStatusActive, grant.Status)
	assert.True(t, grant.UsedToday.IsZero())

	w := h.do(t, token, http.MethodGet, "/v1/grants/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), grant.ID)

	w = h.do(t, token, http.MethodPut, "/v1/grants/"+grant.ID+"/strategies/rebalance", map[string]any{
		"allowed":    true,
		"max_amount": "50",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = h.do(t, token, http.MethodGet, "/v1/grants/"+grant.ID+"/strategies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"strategy_type":"rebalance"`)

	body := executeBody(wallet, "40")
	body.StrategyType = "rebalance"

	w = h.do(t, token, http.MethodPost, "/v1/grants/"+grant.ID+"/execute", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeExecute(t, w)
	assert.Equal(t, objects.ExecutionStatusSuccess, resp.Record.Status)
	assert.NotEmpty(t, resp.TxHash)

	body.Tx.Amount = decimal.NewFromInt(60)
	w = h.do(t, token, http.MethodPost, "/v1/grants/"+grant.ID+"/execute", body)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	resp = decodeExecute(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "policy_denied.amount_exceeds_strategy_cap", resp.Error.Code)
	assert.Equal(t, objects.ExecutionStatusRejected, resp.Record.Status)

	w = h.do(t, token, http.MethodGet, "/v1/grants/"+grant.ID+"/executions?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Executions []objects.ExecutionRecord `json:"executions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Executions, 2)

	w = h.do(t, token, http.MethodPost, "/v1/grants/"+grant.ID+"/revoke", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"revoked"`)

	w = h.do(t, token, http.MethodPost, "/v1/grants/"+grant.ID+"/execute", executeBody(wallet, "1"))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(t, token, http.MethodGet, "/v1/grants/active", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(t, token, http.MethodGet, "/v1/grants", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), grant.ID)
}

func TestExecute_PendingIsAccepted(t *testing.T) {
	h := newHarness(t)

	wallet, err := h.svc.ProvisionWalletForTest(context.Background(), "u1", "pw")
	require.NoError(t, err)

	grant := h.createGrant(t, wallet, "100", "150")

	h.chain.SendHook = func(context.Context, *types.Transaction) error {
		return chain.Classify("send", context.DeadlineExceeded)
	}

	w := h.do(t, h.token(t, "u1"), http.MethodPost, "/v1/grants/"+grant.ID+"/execute", executeBody(wallet, "10"))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	resp := decodeExecute(t, w)
	assert.Equal(t, objects.ExecutionStatusPending, resp.Record.Status)
	assert.Nil(t, resp.Error)
}

func TestExecute_WrongPasswordIsBadRequest(t *testing.T) {
	h := newHarness(t)

	wallet, err := h.svc.ProvisionWalletForTest(context.Background(), "u1", "pw")
	require.NoError(t, err)

	grant := h.createGrant(t, wallet, "100", "150")

	body := executeBody(wallet, "10")
	body.ClientShardPassword = "wrong"

	w := h.do(t, h.token(t, "u1"), http.MethodPost, "/v1/grants/"+grant.ID+"/execute", body)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	resp := decodeExecute(t, w)
	assert.Equal(t, objects.ExecutionStatusFailed, resp.Record.Status)
	assert.Equal(t, "crypto.corrupt", resp.Error.Code)
}

func TestAccessControl(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	alice, err := h.svc.ProvisionWalletForTest(ctx, "alice", "pw")
	require.NoError(t, err)

	_, err = h.svc.ProvisionWalletForTest(ctx, "bob", "pw")
	require.NoError(t, err)

	grant := h.createGrant(t, alice, "100", "150")
	bob := h.token(t, "bob")

	w := h.do(t, "", http.MethodGet, "/v1/grants", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(t, bob, http.MethodPost, "/v1/grants/"+grant.ID+"/revoke", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, bob, http.MethodGet, "/v1/grants/"+grant.ID+"/executions", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, bob, http.MethodPost, "/v1/grants/"+grant.ID+"/execute", executeBody(alice, "1"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, bob, http.MethodGet, "/v1/grants/unknown/strategies", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// A user without a bound wallet.
	w = h.do(t, h.token(t, "carol"), http.MethodGet, "/v1/grants", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Owner address naming a wallet other than the caller's.
	w = h.do(t, bob, http.MethodPost, "/v1/grants", map[string]any{"owner_address": alice.Address.Hex()})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreateGrant_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.ProvisionWalletForTest(context.Background(), "u1", "pw")
	require.NoError(t, err)

	w := h.do(t, h.token(t, "u1"), http.MethodPost, "/v1/grants", map[string]any{
		"signer_address": "nope",
		"single_limit":   "1",
		"daily_limit":    "1",
		"expiry_days":    1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"validation"`)
}

func TestEstimateFee(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, h.token(t, "u1"), http.MethodPost, "/v1/fees/estimate", map[string]any{
		"to":     "0x000000000000000000000000000000000000dEaD",
		"amount": "1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var fee biz.FeeEstimate
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fee))
	assert.Equal(t, chain.NativeTransferGas, fee.GasLimit)
	assert.True(t, fee.TotalCost.IsPositive())

	h.chain.FeeErr = chain.Classify("fee", context.DeadlineExceeded)

	w = h.do(t, h.token(t, "u1"), http.MethodPost, "/v1/fees/estimate", map[string]any{
		"to":     "0x000000000000000000000000000000000000dEaD",
		"amount": "1",
	})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestProvisionShard(t *testing.T) {
	h := newHarness(t)
	token := h.token(t, "u1")

	w := h.do(t, token, http.MethodPut, "/v1/shards", ProvisionShardRequest{ServerShard: "0x0102030405"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ProvisionShardResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Salt, 32)

	rec, err := h.svc.Vault.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, resp.Salt, rec.Salt)

	w = h.do(t, token, http.MethodPut, "/v1/shards", ProvisionShardRequest{ServerShard: "zz"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, "", http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}
