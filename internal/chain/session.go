package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=session.go -destination=mock_session_manager.go -package=chain

type SessionManagerConfig struct {
	Address string `conf:"address" yaml:"address" json:"address"`

	// OperatorKey signs revokeSession calls. Empty disables on-chain revocation.
	OperatorKey string `conf:"operator_key" yaml:"-" json:"-"`

	// LimitDecimals scales the contract's integer limits into token units.
	LimitDecimals uint8 `conf:"limit_decimals" yaml:"limit_decimals" json:"limit_decimals"`

	RevokeGasLimit uint64 `conf:"revoke_gas_limit" yaml:"revoke_gas_limit" json:"revoke_gas_limit"`
}

// Session mirrors the session manager contract's view of a session, limits in token units.
type Session struct {
	ID          common.Hash
	Owner       common.Address
	Signer      common.Address
	SingleLimit decimal.Decimal
	DailyLimit  decimal.Decimal
	UsedToday   decimal.Decimal
	Expiry      time.Time
	Active      bool
}

type SessionManager interface {
	GetSession(ctx context.Context, id common.Hash) (*Session, error)
	RevokeSession(ctx context.Context, id common.Hash) (common.Hash, error)
}

var (
	ErrSessionManagerDisabled = errors.New("chain: session manager not configured")
	ErrSessionNotFound        = errors.New("chain: session not found")
	ErrRevokeDisabled         = errors.New("chain: no operator key for revokeSession")
)

const sessionManagerABIJSON = `[
	{"type":"function","name":"getSession","stateMutability":"view","inputs":[{"name":"sessionId","type":"bytes32"}],"outputs":[
		{"name":"owner","type":"address"},
		{"name":"signer","type":"address"},
		{"name":"singleLimit","type":"uint256"},
		{"name":"dailyLimit","type":"uint256"},
		{"name":"usedToday","type":"uint256"},
		{"name":"expiry","type":"uint64"},
		{"name":"active","type":"bool"}
	]},
	{"type":"function","name":"revokeSession","stateMutability":"nonpayable","inputs":[{"name":"sessionId","type":"bytes32"}],"outputs":[]}
]`

var sessionManagerABI = mustParseABI(sessionManagerABIJSON)

type contractSessionManager struct {
	client   Client
	address  common.Address
	operator *ecdsa.PrivateKey
	decimals uint8
	gasLimit uint64
}

// NewSessionManager binds the session manager contract. Without an address every call
// returns ErrSessionManagerDisabled.
func NewSessionManager(client Client, cfg SessionManagerConfig) (SessionManager, error) {
	if cfg.Address == "" {
		return disabledSessionManager{}, nil
	}

	if !common.IsHexAddress(cfg.Address) {
		return nil, fmt.Errorf("chain: invalid session manager address %q", cfg.Address)
	}

	m := &contractSessionManager{
		client:   client,
		address:  common.HexToAddress(cfg.Address),
		decimals: cfg.LimitDecimals,
		gasLimit: cfg.RevokeGasLimit,
	}

	if m.gasLimit == 0 {
		m.gasLimit = 100000
	}

	if cfg.OperatorKey != "" {
		key, err := crypto.HexToECDSA(trimHexPrefix(cfg.OperatorKey))
		if err != nil {
			return nil, fmt.Errorf("chain: invalid operator key: %w", err)
		}

		m.operator = key
	}

	return m, nil
}

func (m *contractSessionManager) GetSession(ctx context.Context, id common.Hash) (*Session, error) {
	data, err := sessionManagerABI.Pack("getSession", id)
	if err != nil {
		return nil, err
	}

	out, err := m.client.CallContract(ctx, ethereum.CallMsg{To: &m.address, Data: data})
	if err != nil {
		return nil, err
	}

	values, err := sessionManagerABI.Unpack("getSession", out)
	if err != nil {
		return nil, Classify("decode getSession", err)
	}

	s, err := m.decodeSession(id, values)
	if err != nil {
		return nil, Classify("decode getSession", err)
	}

	if s.Owner == (common.Address{}) {
		return nil, ErrSessionNotFound
	}

	return s, nil
}

func (m *contractSessionManager) decodeSession(id common.Hash, values []any) (*Session, error) {
	if len(values) != 7 {
		return nil, fmt.Errorf("expected 7 values, got %d", len(values))
	}

	owner, ok1 := values[0].(common.Address)
	signer, ok2 := values[1].(common.Address)
	single, ok3 := values[2].(*big.Int)
	daily, ok4 := values[3].(*big.Int)
	used, ok5 := values[4].(*big.Int)
	expiry, ok6 := values[5].(uint64)
	active, ok7 := values[6].(bool)

	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 || !ok7 {
		return nil, errors.New("unexpected getSession output types")
	}

	return &Session{
		ID:          id,
		Owner:       owner,
		Signer:      signer,
		SingleLimit: FromBaseUnits(single, m.decimals),
		DailyLimit:  FromBaseUnits(daily, m.decimals),
		UsedToday:   FromBaseUnits(used, m.decimals),
		Expiry:      time.Unix(int64(expiry), 0).UTC(),
		Active:      active,
	}, nil
}

func (m *contractSessionManager) RevokeSession(ctx context.Context, id common.Hash) (common.Hash, error) {
	if m.operator == nil {
		return common.Hash{}, ErrRevokeDisabled
	}

	data, err := sessionManagerABI.Pack("revokeSession", id)
	if err != nil {
		return common.Hash{}, err
	}

	chainID, err := m.client.ChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	nonce, err := m.client.PendingNonceAt(ctx, crypto.PubkeyToAddress(m.operator.PublicKey))
	if err != nil {
		return common.Hash{}, err
	}

	fee, err := m.client.FeeData(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	tx := NewTransaction(chainID, nonce, m.address, nil, m.gasLimit, fee, data)

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), m.operator)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: sign revokeSession: %w", err)
	}

	if err := m.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, AfterBroadcast(err, signed.Hash().Hex())
	}

	return signed.Hash(), nil
}

type disabledSessionManager struct{}

func (disabledSessionManager) GetSession(context.Context, common.Hash) (*Session, error) {
	return nil, ErrSessionManagerDisabled
}

func (disabledSessionManager) RevokeSession(context.Context, common.Hash) (common.Hash, error) {
	return common.Hash{}, ErrSessionManagerDisabled
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}

	return s
}
