package biz

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestSpendLedger_CheckAndReserve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.wallet(t, "u1")
	g := env.grant(t, w, "100", "150")

	res, err := env.Ledger.CheckAndReserve(ctx, g.ID, decimal.NewFromInt(80))
	require.NoError(t, err)
	assert.Equal(t, "2025-03-10", res.Period)
	assert.True(t, env.reload(t, g.ID).UsedToday.Equal(decimal.NewFromInt(80)))

	_, err = env.Ledger.CheckAndReserve(ctx, g.ID, decimal.NewFromInt(80))
	require.ErrorIs(t, err, &LimitExceededError{Kind: LimitDaily})
	assert.True(t, env.reload(t, g.ID).UsedToday.Equal(decimal.NewFromInt(80)))

	_, err = env.Ledger.CheckAndReserve(ctx, g.ID, decimal.RequireFromString("100.01"))
	require.ErrorIs(t, err, &LimitExceededError{Kind: LimitSingle})

	_, err = env.Ledger.CheckAndReserve(ctx, g.ID, decimal.NewFromInt(70))
	require.NoError(t, err)
	assert.True(t, env.reload(t, g.ID).UsedToday.Equal(decimal.NewFromInt(150)))

	_, err = env.Ledger.CheckAndReserve(ctx, g.ID, decimal.Zero)
	require.ErrorIs(t, err, ErrValidation)
}

func TestSpendLedger_LazyReset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.wallet(t, "u1")
	g := env.grant(t, w, "100", "100")

	_, err := env.Ledger.CheckAndReserve(ctx, g.ID, decimal.NewFromInt(100))
	require.NoError(t, err)

	// Nothing changes on disk until the next reservation.
	env.clock.Advance(13 * time.Hour)
	assert.True(t, env.reload(t, g.ID).UsedToday.Equal(decimal.NewFromInt(100)))

	_, err = env.Ledger.CheckAndReserve(ctx, g.ID, decimal.NewFromInt(30))
	require.NoError(t, err)

	stored := env.reload(t, g.ID)
	assert.True(t, stored.UsedToday.Equal(decimal.NewFromInt(30)))
	assert.Equal(t, "2025-03-11", stored.LastResetDate)
}

func TestSpendLedger_Timezone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	env.Clock.Location = tokyo

	w := env.wallet(t, "u1")
	g := env.grant(t, w, "100", "100")

	// 12:00 UTC is 21:00 in Tokyo, three hours before its midnight.
	res, err := env.Ledger.CheckAndReserve(ctx, g.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, "2025-03-10", res.Period)

	env.clock.Advance(3 * time.Hour)

	res, err = env.Ledger.CheckAndReserve(ctx, g.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, "2025-03-11", res.Period)
}

func TestSpendLedger_Rollback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.wallet(t, "u1")
	g := env.grant(t, w, "100", "150")

	res, err := env.Ledger.CheckAndReserve(ctx, g.ID, decimal.NewFromInt(80))
	require.NoError(t, err)

	require.NoError(t, env.Ledger.Rollback(ctx, res))
	assert.True(t, env.reload(t, g.ID).UsedToday.IsZero())

	// A second release of the same reservation never drives usage negative.
	require.NoError(t, env.Ledger.Rollback(ctx, res))
	assert.True(t, env.reload(t, g.ID).UsedToday.IsZero())

	require.NoError(t, env.Ledger.Rollback(ctx, Reservation{GrantID: g.ID}))
}

func TestSpendLedger_RollbackAfterPeriodRollover(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.wallet(t, "u1")
	g := env.grant(t, w, "100", "150")

	yesterday, err := env.Ledger.CheckAndReserve(ctx, g.ID, decimal.NewFromInt(80))
	require.NoError(t, err)

	env.clock.Advance(24 * time.Hour)

	_, err = env.Ledger.CheckAndReserve(ctx, g.ID, decimal.NewFromInt(40))
	require.NoError(t, err)

	require.NoError(t, env.Ledger.Rollback(ctx, yesterday))
	assert.True(t, env.reload(t, g.ID).UsedToday.Equal(decimal.NewFromInt(40)))
}

func TestSpendLedger_RejectsInactiveGrants(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.wallet(t, "u1")

	revoked := env.grant(t, w, "100", "150")
	_, err := env.Grants.RevokeGrant(ctx, w.Address.Hex(), revoked.ID)
	require.NoError(t, err)

	_, err = env.Ledger.CheckAndReserve(ctx, revoked.ID, decimal.NewFromInt(1))
	require.ErrorIs(t, err, &ConflictError{Reason: ConflictRevoked})

	expiring := env.grant(t, w, "100", "150")
	env.clock.Advance(8 * 24 * time.Hour)

	_, err = env.Ledger.CheckAndReserve(ctx, expiring.ID, decimal.NewFromInt(1))
	require.ErrorIs(t, err, &ConflictError{Reason: ConflictExpired})

	_, err = env.Ledger.CheckAndReserve(ctx, "0xmissing", decimal.NewFromInt(1))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSpendLedger_ConcurrentReservationsNeverExceedDailyLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.wallet(t, "u1")
	g := env.grant(t, w, "10", "95")

	var (
		granted  atomic.Int64
		rejected atomic.Int64
	)

	var eg errgroup.Group

	for range 40 {
		eg.Go(func() error {
			_, err := env.Ledger.CheckAndReserve(ctx, g.ID, decimal.NewFromInt(5))

			switch {
			case err == nil:
				granted.Add(1)
			case errors.Is(err, ErrLimitExceeded), errors.Is(err, ErrConflict):
				rejected.Add(1)
			default:
				return err
			}

			return nil
		})
	}

	require.NoError(t, eg.Wait())

	used := env.reload(t, g.ID).UsedToday
	assert.True(t, used.LessThanOrEqual(decimal.NewFromInt(95)), "used %s", used)
	assert.True(t, used.Equal(decimal.NewFromInt(5*granted.Load())), "used %s for %d grants", used, granted.Load())
	assert.Equal(t, int64(40), granted.Load()+rejected.Load())
}
