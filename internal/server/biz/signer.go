package biz

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"

	"github.com/looplj/agentpay/internal/chain"
	"github.com/looplj/agentpay/internal/log"
	"github.com/looplj/agentpay/internal/metrics"
	"github.com/looplj/agentpay/internal/objects"
	"github.com/looplj/agentpay/internal/shard"
)

const nativeDecimals = 18

type SignRequest struct {
	OwnerUserID         string
	OwnerAddress        common.Address
	Tx                  objects.TxRequest
	ClientShard         string
	ClientShardPassword string
}

// SignResult carries TxHash and RawTx for transfers, Signature for message and typed-data requests.
type SignResult struct {
	TxHash    string `json:"tx_hash,omitempty"`
	RawTx     string `json:"raw_tx,omitempty"`
	Signature string `json:"signature,omitempty"`
	Nonce     uint64 `json:"nonce,omitempty"`
}

type FeeEstimate struct {
	GasLimit  uint64          `json:"gas_limit"`
	GasPrice  decimal.Decimal `json:"gas_price"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

type SignerServiceParams struct {
	fx.In

	Config     SignerConfig
	Chain      chain.Client
	ShardVault *ShardVaultService
	Metrics    *metrics.Recorder `optional:"true"`
}

// SignerService reconstructs a user's key from both shards for the duration of one
// signature and wipes every copy before returning.
type SignerService struct {
	config  SignerConfig
	chain   chain.Client
	vault   *ShardVaultService
	metrics *metrics.Recorder
}

func NewSignerService(params SignerServiceParams) *SignerService {
	return &SignerService{
		config:  params.Config.withDefaults(),
		chain:   params.Chain,
		vault:   params.ShardVault,
		metrics: params.Metrics,
	}
}

// preparedAction is everything needed to sign, computed before any key material is touched.
type preparedAction struct {
	tx      *types.Transaction
	chainID *big.Int
	digest  []byte
}

// SignAndSend performs the one signing action of req and, for transfers, broadcasts it.
// Chain errors before the broadcast carry Broadcast=false and are safe to retry.
func (s *SignerService) SignAndSend(ctx context.Context, req SignRequest) (*SignResult, error) {
	if err := validateTxRequest(req.Tx); err != nil {
		return nil, err
	}

	rec, err := s.vault.Load(ctx, req.OwnerUserID)
	if err != nil {
		return nil, err
	}

	action, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	var (
		signed    *types.Transaction
		signature []byte
	)

	err = s.withSigningKey(ctx, rec, req, func(key signingKey) error {
		if action.tx != nil {
			var err error

			signed, err = types.SignTx(action.tx, types.LatestSignerForChainID(action.chainID), key.priv)

			return err
		}

		sig, err := crypto.Sign(action.digest, key.priv)
		if err != nil {
			return err
		}

		sig[crypto.RecoveryIDOffset] += 27
		signature = sig

		return nil
	})
	if err != nil {
		return nil, err
	}

	if signed == nil {
		return &SignResult{Signature: hexutil.Encode(signature)}, nil
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode signed transaction: %w", err)
	}

	result := &SignResult{
		TxHash: signed.Hash().Hex(),
		RawTx:  hexutil.Encode(raw),
		Nonce:  signed.Nonce(),
	}

	if err := s.broadcast(ctx, signed); err != nil {
		return result, err
	}

	return result, nil
}

// signingKey is the reconstructed key handed to a signing callback. Both fields are
// wiped once the callback returns.
type signingKey struct {
	priv     *ecdsa.PrivateKey
	combined *shard.Secret
}

// withSigningKey decrypts both shards, combines them, checks the key controls the owner
// address and hands it to fn. All intermediate buffers and the scalar are wiped on every
// path, panics included. A panic or an error from fn surfaces as SigningAbortedError.
func (s *SignerService) withSigningKey(
	ctx context.Context,
	rec *objects.ShardRecord,
	req SignRequest,
	fn func(key signingKey) error,
) (err error) {
	var (
		server, client, combined *shard.Secret
		priv                     *ecdsa.PrivateKey
	)

	defer func() {
		shard.WipePrivateKey(priv)
		combined.Wipe()
		client.Wipe()
		server.Wipe()

		if r := recover(); r != nil {
			log.Error(ctx, "signing aborted by panic", log.String("user_id", req.OwnerUserID))

			err = &SigningAbortedError{Cause: r}
		}
	}()

	server, err = decryptServerShard(rec)
	if err != nil {
		return err
	}

	client, err = decryptClientShard(rec, req.ClientShard, req.ClientShardPassword)
	if err != nil {
		return err
	}

	combined, err = shard.Combine(client, server)
	if err != nil {
		return err
	}

	priv, err = shard.PrivateKey(combined, req.OwnerAddress)
	if err != nil {
		if errors.Is(err, shard.ErrAddressMismatch) {
			s.metrics.AddressMismatch(ctx)
			log.Error(ctx, "reconstructed key does not control owner address",
				log.Bool("security_alert", true),
				log.String("user_id", req.OwnerUserID),
				log.String("owner_address", req.OwnerAddress.Hex()),
			)
		}

		return err
	}

	if err := fn(signingKey{priv: priv, combined: combined}); err != nil {
		log.Error(ctx, "signing failed", log.String("user_id", req.OwnerUserID), log.Cause(err))

		return &SigningAbortedError{Cause: err}
	}

	return nil
}

func (s *SignerService) prepare(ctx context.Context, req SignRequest) (*preparedAction, error) {
	switch req.Tx.Kind {
	case objects.TxKindMessage:
		return &preparedAction{digest: accounts.TextHash([]byte(req.Tx.Message))}, nil
	case objects.TxKindTypedData:
		var typed apitypes.TypedData
		if err := json.Unmarshal(req.Tx.TypedData, &typed); err != nil {
			return nil, invalid("typed_data", "%v", err)
		}

		digest, _, err := apitypes.TypedDataAndHash(typed)
		if err != nil {
			return nil, invalid("typed_data", "%v", err)
		}

		return &preparedAction{digest: digest}, nil
	default:
		return s.prepareTransfer(ctx, req)
	}
}

func (s *SignerService) prepareTransfer(ctx context.Context, req SignRequest) (*preparedAction, error) {
	chainID, err := s.chain.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	nonce, err := s.chain.PendingNonceAt(ctx, req.OwnerAddress)
	if err != nil {
		return nil, err
	}

	fee, err := s.chain.FeeData(ctx)
	if err != nil {
		return nil, err
	}

	to := common.HexToAddress(req.Tx.To)

	if req.Tx.Token == "" {
		value, err := chain.ToBaseUnits(req.Tx.Amount, nativeDecimals)
		if err != nil {
			return nil, invalid("amount", "%v", err)
		}

		return &preparedAction{
			tx:      chain.NewTransaction(chainID, nonce, to, value, chain.NativeTransferGas, fee, nil),
			chainID: chainID,
		}, nil
	}

	token := common.HexToAddress(req.Tx.Token)

	decimals, err := s.chain.TokenDecimals(ctx, token)
	if err != nil {
		return nil, err
	}

	value, err := chain.ToBaseUnits(req.Tx.Amount, decimals)
	if err != nil {
		return nil, invalid("amount", "%v", err)
	}

	data, err := chain.TransferCalldata(to, value)
	if err != nil {
		return nil, fmt.Errorf("encode transfer: %w", err)
	}

	return &preparedAction{
		tx:      chain.NewTransaction(chainID, nonce, token, nil, s.config.TokenTransferGasLimit, fee, data),
		chainID: chainID,
	}, nil
}

// broadcast sends signed, resending the identical bytes on transport failures. Once the first
// attempt has gone out, every failure is reported with Broadcast=true since the transaction
// may be in a mempool.
func (s *SignerService) broadcast(ctx context.Context, signed *types.Transaction) error {
	hash := signed.Hash().Hex()

	bctx, cancel := context.WithTimeout(ctx, s.config.BroadcastTimeout)
	defer cancel()

	attempts := 0
	ambiguous := false

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.config.RebroadcastInterval

	_, err := backoff.Retry(bctx, func() (struct{}, error) {
		if attempts > 0 {
			s.metrics.BroadcastRetry(bctx)
		}

		attempts++

		err := s.chain.SendTransaction(bctx, signed)
		if err == nil || chain.IsAlreadyKnown(err) {
			return struct{}{}, nil
		}

		var ce *chain.Error
		if errors.As(err, &ce) && (ce.Rejected || ce.Kind == chain.KindReverted) {
			return struct{}{}, backoff.Permanent(err)
		}

		ambiguous = true

		log.Warn(bctx, "broadcast attempt failed", log.String("tx_hash", hash), log.Int("attempt", attempts), log.Cause(err))

		return struct{}{}, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(s.config.RebroadcastMaxTries))
	if err != nil {
		if bctx.Err() != nil && ctx.Err() == nil {
			return &chain.Error{Kind: chain.KindTimeout, Op: "broadcast", Broadcast: true, TxHash: hash, Err: bctx.Err()}
		}

		out := chain.AfterBroadcast(err, hash)

		// A rejection that follows an attempt with unknown outcome may be the node seeing
		// the earlier copy, so it cannot prove the transaction was dropped.
		var ce *chain.Error
		if ambiguous && errors.As(out, &ce) {
			ce.Rejected = false
		}

		return out
	}

	log.Info(ctx, "transaction broadcast", log.String("tx_hash", hash), log.Int("attempts", attempts))

	if !s.config.WaitForReceipt {
		return nil
	}

	rctx, rcancel := context.WithTimeout(ctx, s.config.ReceiptTimeout)
	defer rcancel()

	_, err = chain.WaitForReceipt(rctx, s.chain, signed.Hash(), s.config.ReceiptPollInterval)

	// The broadcast itself was accepted, so a node error while polling says nothing
	// about whether the transaction lands.
	var ce *chain.Error
	if errors.As(err, &ce) && ce.Kind != chain.KindReverted {
		ce.Rejected = false
	}

	return err
}

// EstimateFee prices a transfer without touching key material.
func (s *SignerService) EstimateFee(ctx context.Context, to string, amount decimal.Decimal, token string) (*FeeEstimate, error) {
	req := objects.TxRequest{Kind: objects.TxKindTransfer, To: to, Amount: amount, Token: token}
	if err := validateTxRequest(req); err != nil {
		return nil, err
	}

	gas := chain.NativeTransferGas

	if token != "" {
		decimals, err := s.chain.TokenDecimals(ctx, common.HexToAddress(token))
		if err != nil {
			return nil, err
		}

		if _, err := chain.ToBaseUnits(amount, decimals); err != nil {
			return nil, invalid("amount", "%v", err)
		}

		gas = s.config.TokenTransferGasLimit
	}

	fee, err := s.chain.FeeData(ctx)
	if err != nil {
		return nil, err
	}

	price := fee.MaxFeePerGas()
	total := new(big.Int).Mul(price, new(big.Int).SetUint64(gas))

	return &FeeEstimate{
		GasLimit:  gas,
		GasPrice:  decimal.NewFromBigInt(price, 0),
		TotalCost: chain.FromBaseUnits(total, nativeDecimals),
	}, nil
}

func validateTxRequest(tx objects.TxRequest) error {
	switch tx.Kind {
	case objects.TxKindTransfer:
		if !common.IsHexAddress(tx.To) {
			return invalid("tx.to", "%q is not a hex address", tx.To)
		}

		if tx.Token != "" && !common.IsHexAddress(tx.Token) {
			return invalid("tx.token", "%q is not a hex address", tx.Token)
		}

		if !tx.Amount.IsPositive() {
			return invalid("tx.amount", "must be positive")
		}
	case objects.TxKindMessage:
		if tx.Message == "" {
			return invalid("tx.message", "is required")
		}
	case objects.TxKindTypedData:
		if len(tx.TypedData) == 0 {
			return invalid("tx.typed_data", "is required")
		}
	default:
		return invalid("tx.kind", "unknown kind %q", tx.Kind)
	}

	return nil
}
