package chain

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// NewTransaction builds an unsigned transaction priced from fee: a dynamic-fee transaction
// when the chain reports a base fee, otherwise a legacy one.
func NewTransaction(chainID *big.Int, nonce uint64, to common.Address, value *big.Int, gas uint64, fee FeeData, data []byte) *types.Transaction {
	if value == nil {
		value = new(big.Int)
	}

	if fee.Dynamic() {
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: fee.GasTipCap,
			GasFeeCap: fee.MaxFeePerGas(),
			Gas:       gas,
			To:        &to,
			Value:     value,
			Data:      data,
		})
	}

	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: fee.GasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
	})
}

// WaitForReceipt polls until the transaction is mined or ctx ends. A mined transaction with
// status 0 is returned as a reverted error alongside its receipt.
func WaitForReceipt(ctx context.Context, c Client, hash common.Hash, interval time.Duration) (*types.Receipt, error) {
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := c.TransactionReceipt(ctx, hash)

		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, &Error{Kind: KindReverted, Op: "receipt", Broadcast: true, TxHash: hash.Hex()}
			}

			return receipt, nil
		case errors.Is(err, ErrNotFound):
		case ctx.Err() != nil:
		default:
			return nil, AfterBroadcast(err, hash.Hex())
		}

		select {
		case <-ctx.Done():
			return nil, &Error{Kind: KindTimeout, Op: "wait receipt", Broadcast: true, TxHash: hash.Hex(), Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}
