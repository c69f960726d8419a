package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/looplj/agentpay/internal/log"
	"github.com/looplj/agentpay/internal/pkg/xcache"
)

// FeeData is the node's current fee suggestion. BaseFee is nil on chains without EIP-1559.
type FeeData struct {
	GasPrice  *big.Int
	GasTipCap *big.Int
	BaseFee   *big.Int
}

func (f FeeData) Dynamic() bool {
	return f.BaseFee != nil && f.GasTipCap != nil
}

// MaxFeePerGas is the per-gas price a transaction built from f may pay at most.
func (f FeeData) MaxFeePerGas() *big.Int {
	if !f.Dynamic() {
		return new(big.Int).Set(f.GasPrice)
	}

	fee := new(big.Int).Mul(f.BaseFee, big.NewInt(2))

	return fee.Add(fee, f.GasTipCap)
}

// Client is the subset of chain RPC the service consumes.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	FeeData(ctx context.Context) (FeeData, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
}

type Config struct {
	RPCURL string `conf:"rpc_url" yaml:"rpc_url" json:"rpc_url"`

	// ChainID pins the expected chain; 0 trusts the node.
	ChainID int64 `conf:"chain_id" yaml:"chain_id" json:"chain_id"`

	DialTimeout time.Duration `conf:"dial_timeout" yaml:"dial_timeout" json:"dial_timeout"`

	// TokenGasLimit is used for ERC-20 transfers.
	TokenGasLimit uint64 `conf:"token_gas_limit" yaml:"token_gas_limit" json:"token_gas_limit"`

	SessionManager SessionManagerConfig `conf:"session_manager" yaml:"session_manager" json:"session_manager"`

	TokenCache xcache.Config `conf:"token_cache" yaml:"token_cache" json:"token_cache"`
}

type rpcClient struct {
	eth      *ethclient.Client
	chainID  *big.Int
	decimals xcache.Cache[uint8]
}

// Dial connects to the configured RPC endpoint and verifies the chain id when pinned.
func Dial(ctx context.Context, cfg Config) (Client, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("chain: rpc_url is required")
	}

	dialCtx := ctx

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc

		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	eth, err := ethclient.DialContext(dialCtx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	id, err := eth.ChainID(dialCtx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: read chain id: %w", err)
	}

	if cfg.ChainID != 0 && id.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("chain: node reports chain id %s, expected %d", id, cfg.ChainID)
	}

	decimals, err := xcache.NewFromConfig[uint8](cfg.TokenCache, "agentpay:erc20:decimals:")
	if err != nil {
		eth.Close()
		return nil, err
	}

	log.Info(ctx, "connected to chain rpc", log.String("chain_id", id.String()))

	return &rpcClient{eth: eth, chainID: id, decimals: decimals}, nil
}

func (c *rpcClient) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

func (c *rpcClient) FeeData(ctx context.Context) (FeeData, error) {
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return FeeData{}, Classify("suggest gas price", err)
	}

	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return FeeData{}, Classify("latest header", err)
	}

	if head.BaseFee == nil {
		return FeeData{GasPrice: gasPrice}, nil
	}

	tip, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return FeeData{}, Classify("suggest gas tip", err)
	}

	return FeeData{GasPrice: gasPrice, GasTipCap: tip, BaseFee: head.BaseFee}, nil
}

func (c *rpcClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, account)
	return nonce, Classify("pending nonce", err)
}

func (c *rpcClient) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	out, err := c.eth.CallContract(ctx, msg, nil)
	return out, Classify("call contract", err)
}

func (c *rpcClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return Classify("send transaction", c.eth.SendTransaction(ctx, tx))
}

func (c *rpcClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrNotFound
	}

	return receipt, Classify("transaction receipt", err)
}

func (c *rpcClient) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	tx, pending, err := c.eth.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, false, ErrNotFound
	}

	return tx, pending, Classify("transaction by hash", err)
}

func (c *rpcClient) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	key := c.chainID.String() + ":" + token.Hex()

	if d, err := c.decimals.Get(ctx, key); err == nil {
		return d, nil
	}

	d, err := CallDecimals(ctx, c, token)
	if err != nil {
		return 0, err
	}

	if err := c.decimals.Set(ctx, key, d); err != nil {
		log.Warn(ctx, "failed to cache token decimals", log.String("token", token.Hex()), log.Cause(err))
	}

	return d, nil
}

func (c *rpcClient) Close() {
	c.eth.Close()
}
