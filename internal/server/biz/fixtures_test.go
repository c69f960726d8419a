package biz

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/looplj/agentpay/internal/chain"
	"github.com/looplj/agentpay/internal/chain/chaintest"
	"github.com/looplj/agentpay/internal/objects"
	"github.com/looplj/agentpay/internal/server/db/dbtest"
)

// manualClock is a settable time source shared by the services under test.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type testEnv struct {
	*Services

	chain *chaintest.Client
	clock *manualClock
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithSessions(t, nil)
}

func newTestEnvWithSessions(t *testing.T, sessions chain.SessionManager) *testEnv {
	t.Helper()

	fake := chaintest.New()

	if sessions == nil {
		var err error

		sessions, err = chain.NewSessionManager(fake, chain.SessionManagerConfig{})
		require.NoError(t, err)
	}

	mc := &manualClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	clock := &Clock{Now: mc.Now, Location: time.UTC}

	return &testEnv{
		Services: NewServicesForTest(dbtest.New(t), fake, sessions, clock),
		chain:    fake,
		clock:    mc,
	}
}

func (e *testEnv) wallet(t *testing.T, userID string) *TestWallet {
	t.Helper()

	w, err := e.ProvisionWalletForTest(context.Background(), userID, "pw-"+userID)
	require.NoError(t, err)

	return w
}

func (e *testEnv) grantInput(t *testing.T, w *TestWallet, single, daily string) CreateGrantInput {
	t.Helper()

	signer, err := crypto.GenerateKey()
	require.NoError(t, err)

	in := CreateGrantInput{
		OwnerAddress:  w.Address.Hex(),
		SignerAddress: crypto.PubkeyToAddress(signer.PublicKey).Hex(),
		SingleLimit:   decimal.RequireFromString(single),
		DailyLimit:    decimal.RequireFromString(daily),
		ExpiryDays:    7,
		IssuedAt:      e.clock.Now(),
	}

	in.OwnerSignature, err = SignGrantAuthorization(w.Key, in)
	require.NoError(t, err)

	return in
}

func (e *testEnv) grant(t *testing.T, w *TestWallet, single, daily string) *objects.CapabilityGrant {
	t.Helper()

	g, err := e.Grants.CreateGrant(context.Background(), e.grantInput(t, w, single, daily))
	require.NoError(t, err)

	return g
}

func (e *testEnv) reload(t *testing.T, id string) *objects.CapabilityGrant {
	t.Helper()

	g, err := e.Grants.GetGrant(context.Background(), id)
	require.NoError(t, err)

	return g
}

func transfer(amount string) objects.TxRequest {
	return objects.TxRequest{
		Kind:   objects.TxKindTransfer,
		To:     "0x000000000000000000000000000000000000dEaD",
		Amount: decimal.RequireFromString(amount),
	}
}
