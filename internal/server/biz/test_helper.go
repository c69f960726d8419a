package biz

import (
	"context"
	"crypto/ecdsa"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"gorm.io/gorm"

	"github.com/looplj/agentpay/internal/chain"
	"github.com/looplj/agentpay/internal/pkg/keylock"
	"github.com/looplj/agentpay/internal/shard"
)

// Services is every biz service wired together, as the fx module would.
type Services struct {
	Clock       *Clock
	Auth        *AuthService
	Wallets     *WalletBindingService
	Vault       *ShardVaultService
	Grants      *GrantService
	Policies    *StrategyPolicyService
	Ledger      *SpendLedger
	Log         *ExecutionLog
	Signer      *SignerService
	Coordinator *Coordinator
	Locker      keylock.Locker
}

// NewServicesForTest wires the services against gdb and chainClient with short retry
// intervals and a process-local lock.
func NewServicesForTest(gdb *gorm.DB, chainClient chain.Client, sessions chain.SessionManager, clock *Clock) *Services {
	if clock == nil {
		clock = &Clock{Location: time.UTC}
	}

	locker := keylock.NewMemory()

	auth, err := NewAuthService(AuthServiceParams{Config: AuthConfig{JWTSecret: "test-secret", Issuer: "agentpay-test"}, Clock: clock})
	if err != nil {
		panic(err)
	}

	wallets := NewWalletBindingService(WalletBindingServiceParams{DB: gdb})
	vault := NewShardVaultService(ShardVaultServiceParams{DB: gdb, Clock: clock})
	grants := NewGrantService(GrantServiceParams{DB: gdb, Clock: clock, SessionManager: sessions})
	policies := NewStrategyPolicyService(StrategyPolicyServiceParams{DB: gdb, Clock: clock})
	ledger := NewSpendLedger(SpendLedgerParams{Config: LedgerConfig{MaxCASAttempts: 50}, DB: gdb, Clock: clock})
	execLog := NewExecutionLog(ExecutionLogParams{DB: gdb, Clock: clock})
	signer := NewSignerService(SignerServiceParams{
		Config: SignerConfig{
			BroadcastTimeout:    2 * time.Second,
			RebroadcastInterval: time.Millisecond,
			ReceiptPollInterval: time.Millisecond,
			ReceiptTimeout:      100 * time.Millisecond,
		},
		Chain:      chainClient,
		ShardVault: vault,
	})

	coordinator := NewCoordinator(CoordinatorParams{
		Config:   CoordinatorConfig{RetryInitialInterval: time.Millisecond, LockTimeout: 5 * time.Second},
		Clock:    clock,
		Locker:   locker,
		Wallets:  wallets,
		Grants:   grants,
		Policies: policies,
		Ledger:   ledger,
		Log:      execLog,
		Signer:   signer,
	})

	return &Services{
		Clock:       clock,
		Auth:        auth,
		Wallets:     wallets,
		Vault:       vault,
		Grants:      grants,
		Policies:    policies,
		Ledger:      ledger,
		Log:         execLog,
		Signer:      signer,
		Coordinator: coordinator,
		Locker:      locker,
	}
}

// TestWallet is a user whose key has been split, with the server half provisioned and
// the client half sealed under Password.
type TestWallet struct {
	UserID      string
	Key         *ecdsa.PrivateKey
	Address     common.Address
	Password    string
	ClientShard string
}

func (s *Services) ProvisionWalletForTest(ctx context.Context, userID, password string) (*TestWallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}

	a, b, err := shard.Split(crypto.FromECDSA(key))
	if err != nil {
		return nil, err
	}

	salt, err := s.Vault.Provision(ctx, userID, b)
	if err != nil {
		return nil, err
	}

	clientShard, err := SealClientShard(a, password, salt)
	if err != nil {
		return nil, err
	}

	address := crypto.PubkeyToAddress(key.PublicKey)

	if _, err := s.Wallets.Bind(ctx, userID, address.Hex()); err != nil {
		return nil, err
	}

	return &TestWallet{
		UserID:      userID,
		Key:         key,
		Address:     address,
		Password:    password,
		ClientShard: clientShard,
	}, nil
}
