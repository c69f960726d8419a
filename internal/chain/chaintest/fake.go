// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/samber/lo"

	"github.com/looplj/agentpay/internal/chain"
)

// Client records broadcasts and serves canned answers. The zero value is not usable; use New.
type Client struct {
	mu sync.Mutex

	ID       *big.Int
	Fee      chain.FeeData
	Decimals map[common.Address]uint8

	// SendErrors are returned by successive SendTransaction calls; nil entries succeed.
	SendErrors []error
	// SendHook, when set, runs before a broadcast is accepted and may block or fail it.
	SendHook func(ctx context.Context, tx *types.Transaction) error
	// CallFunc answers CallContract.
	CallFunc func(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	FeeErr   error

	// AutoMine gives every accepted transaction a receipt with Status.
	AutoMine     bool
	MinedStatus  uint64
	Receipts     map[common.Hash]*types.Receipt
	Known        map[common.Hash]bool
	Sent         []*types.Transaction
	SendAttempts int
	nonces       map[common.Address]uint64
}

func New() *Client {
	return &Client{
		ID: big.NewInt(1337),
		Fee: chain.FeeData{
			GasPrice:  big.NewInt(2_000_000_000),
			GasTipCap: big.NewInt(1_000_000_000),
			BaseFee:   big.NewInt(1_000_000_000),
		},
		Decimals:    map[common.Address]uint8{},
		Receipts:    map[common.Hash]*types.Receipt{},
		Known:       map[common.Hash]bool{},
		nonces:      map[common.Address]uint64{},
		AutoMine:    true,
		MinedStatus: types.ReceiptStatusSuccessful,
	}
}

func (c *Client) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.ID), nil
}

func (c *Client) FeeData(context.Context) (chain.FeeData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FeeErr != nil {
		return chain.FeeData{}, c.FeeErr
	}

	return c.Fee, nil
}

func (c *Client) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.nonces[account], nil
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	if c.CallFunc == nil {
		return nil, &chain.Error{Kind: chain.KindRPC, Op: "call contract"}
	}

	return c.CallFunc(ctx, msg)
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if c.SendHook != nil {
		if err := c.SendHook(ctx, tx); err != nil {
			c.mu.Lock()
			c.SendAttempts++
			c.mu.Unlock()

			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.SendAttempts++

	if len(c.SendErrors) > 0 {
		err := c.SendErrors[0]
		c.SendErrors = c.SendErrors[1:]

		if err != nil {
			return err
		}
	}

	if c.Known[tx.Hash()] {
		return nil
	}

	c.Sent = append(c.Sent, tx)
	c.Known[tx.Hash()] = true

	if from, err := types.Sender(types.LatestSignerForChainID(c.ID), tx); err == nil {
		c.nonces[from] = tx.Nonce() + 1
	}

	if c.AutoMine {
		c.Receipts[tx.Hash()] = &types.Receipt{Status: c.MinedStatus, TxHash: tx.Hash()}
	}

	return nil
}

func (c *Client) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.Receipts[hash]; ok {
		return r, nil
	}

	return nil, chain.ErrNotFound
}

func (c *Client) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tx := range c.Sent {
		if tx.Hash() == hash {
			_, mined := c.Receipts[hash]
			return tx, !mined, nil
		}
	}

	return nil, false, chain.ErrNotFound
}

func (c *Client) TokenDecimals(_ context.Context, token common.Address) (uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.Decimals[token]
	if !ok {
		return 0, &chain.Error{Kind: chain.KindReverted, Op: "decimals"}
	}

	return d, nil
}

// Mine sets the receipt status for a previously sent transaction.
func (c *Client) Mine(hash common.Hash, status uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Receipts[hash] = &types.Receipt{Status: status, TxHash: hash}
}

// Forget drops all knowledge of a transaction, as if it fell out of the mempool.
func (c *Client) Forget(hash common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.Receipts, hash)
	delete(c.Known, hash)

	c.Sent = lo.Filter(c.Sent, func(tx *types.Transaction, _ int) bool { return tx.Hash() != hash })
}

func (c *Client) SentTransactions() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]*types.Transaction(nil), c.Sent...)
}

var _ chain.Client = (*Client)(nil)
